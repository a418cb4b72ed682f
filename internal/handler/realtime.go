package handler

import (
    "context"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"
    "golang.org/x/net/websocket"

    "github.com/iliyamo/seat-reservation-engine/internal/middleware"
    "github.com/iliyamo/seat-reservation-engine/internal/model"
    "github.com/iliyamo/seat-reservation-engine/internal/realtime"
    "github.com/iliyamo/seat-reservation-engine/internal/utils"
)

// RealtimeHandler upgrades authenticated clients to the seat-map
// WebSocket protocol.
type RealtimeHandler struct {
    Coord               realtime.Coordinator
    Hub                 *realtime.Hub
    JWTSecret           string
    ReleaseOnDisconnect bool
    Logger              *log.Logger

    // Base bounds every session; cancelling it closes all sockets.
    Base context.Context
    // AfterFunc schedules the per-hold expiry hints; nil means
    // time.AfterFunc.
    AfterFunc func(time.Duration, func()) *time.Timer
}

// Connect handles GET /v1/events/:event_id/ws.  Browsers cannot set
// headers on a WebSocket handshake, so the access token may also come
// as ?token=.  The event in the path is joined right away.
func (h *RealtimeHandler) Connect(c echo.Context) error {
    raw := strings.TrimSpace(c.QueryParam("token"))
    if raw == "" {
        raw = middleware.BearerToken(c)
    }
    if raw == "" {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing token"})
    }
    userID, role, err := utils.ParseAccessToken(h.JWTSecret, raw)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
    }
    // Same gate as the HTTP lock routes.
    if role != model.RoleCustomer {
        return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
    }
    eventID, ok := pathID(c, "event_id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }

    base := h.Base
    if base == nil {
        base = context.Background()
    }
    srv := websocket.Server{
        // Origin checks are left to the edge proxy.
        Handshake: func(*websocket.Config, *http.Request) error { return nil },
        Handler: func(ws *websocket.Conn) {
            ctx, cancel := context.WithCancel(base)
            defer cancel()
            stop := context.AfterFunc(c.Request().Context(), cancel)
            defer stop()

            sess := realtime.NewSession(realtime.NewWSConn(ws), h.Coord, h.Hub, realtime.SessionOptions{
                UserID:              userID,
                EventID:             eventID,
                ReleaseOnDisconnect: h.ReleaseOnDisconnect,
                AfterFunc:           h.AfterFunc,
                Logger:              h.Logger,
            })
            if err := sess.Run(ctx); err != nil && h.Logger != nil {
                h.Logger.Warnf("session id=%s user=%d closed: %v", sess.ID(), userID, err)
            }
        },
    }
    srv.ServeHTTP(c.Response(), c.Request())
    return nil
}
