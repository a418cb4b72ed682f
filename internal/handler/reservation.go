package handler

import (
    "context"
    "errors"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
    "github.com/iliyamo/seat-reservation-engine/internal/reservation"
)

// ReservationHandler exposes checkout holds over HTTP.  All methods
// assume JWTAuth and RequireRole already ran.
type ReservationHandler struct {
    Coord *reservation.Coordinator
}

func NewReservationHandler(coord *reservation.Coordinator) *ReservationHandler {
    if coord == nil {
        panic("nil coordinator passed to NewReservationHandler")
    }
    return &ReservationHandler{Coord: coord}
}

// seatRoute reads the caller and the :event_id/:seat_id pair.  When ok
// is false the error response has already been written and err is the
// result of writing it.
func seatRoute(c echo.Context) (userID, eventID, seatID uint64, ok bool, err error) {
    if userID, err = getUserID(c); err != nil {
        return 0, 0, 0, false, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    if eventID, ok = pathID(c, "event_id"); !ok {
        return 0, 0, 0, false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    if seatID, ok = pathID(c, "seat_id"); !ok {
        return 0, 0, 0, false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
    }
    return userID, eventID, seatID, true, nil
}

// Lock handles POST /v1/events/:event_id/seats/:seat_id/lock.  A new
// hold answers 201, a hold the caller already had answers 200 and a
// seat held by anyone else answers 409 with the reason.
func (h *ReservationHandler) Lock(c echo.Context) error {
    userID, eventID, seatID, ok, err := seatRoute(c)
    if !ok {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    res, err := h.Coord.Lock(ctx, seatID, userID, eventID)
    var conflict *model.SeatConflictError
    if errors.As(err, &conflict) {
        return c.JSON(http.StatusConflict, res)
    }
    if err != nil {
        return writeError(c, err)
    }
    if res.Status == reservation.StatusLocked {
        return c.JSON(http.StatusCreated, res)
    }
    return c.JSON(http.StatusOK, res)
}

// Unlock handles DELETE /v1/events/:event_id/seats/:seat_id/lock.
func (h *ReservationHandler) Unlock(c echo.Context) error {
    userID, eventID, seatID, ok, err := seatRoute(c)
    if !ok {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    res, err := h.Coord.Unlock(ctx, seatID, userID, eventID)
    var conflict *model.SeatConflictError
    if errors.As(err, &conflict) {
        return c.JSON(http.StatusConflict, res)
    }
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

// Mine handles GET /v1/events/:event_id/locks/mine.
func (h *ReservationHandler) Mine(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    eventID, ok := pathID(c, "event_id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    holds, err := h.Coord.ListMine(c.Request().Context(), eventID, userID)
    if err != nil {
        return writeError(c, err)
    }
    if holds == nil {
        holds = []reservation.Hold{}
    }
    return c.JSON(http.StatusOK, holds)
}

// UnlockAll handles DELETE /v1/events/:event_id/locks.
func (h *ReservationHandler) UnlockAll(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    eventID, ok := pathID(c, "event_id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
    defer cancel()

    n, err := h.Coord.UnlockAll(ctx, userID, eventID)
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"released_count": n})
}

// Snapshot handles GET /v1/events/:event_id/snapshot.
func (h *ReservationHandler) Snapshot(c echo.Context) error {
    eventID, ok := pathID(c, "event_id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    snap, err := h.Coord.Snapshot(c.Request().Context(), eventID)
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, snap)
}
