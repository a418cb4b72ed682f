package handler_test

import (
    "bytes"
    "context"
    "encoding/json"
    "io"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "golang.org/x/net/websocket"

    "github.com/iliyamo/seat-reservation-engine/internal/booking"
    "github.com/iliyamo/seat-reservation-engine/internal/config"
    "github.com/iliyamo/seat-reservation-engine/internal/handler"
    "github.com/iliyamo/seat-reservation-engine/internal/holdstore"
    "github.com/iliyamo/seat-reservation-engine/internal/model"
    "github.com/iliyamo/seat-reservation-engine/internal/realtime"
    "github.com/iliyamo/seat-reservation-engine/internal/repository"
    "github.com/iliyamo/seat-reservation-engine/internal/reservation"
    "github.com/iliyamo/seat-reservation-engine/internal/router"
    "github.com/iliyamo/seat-reservation-engine/internal/utils"
)

const (
    jwtSecret     = "handler-secret"
    webhookSecret = "hook-secret"
    eventID       = uint64(1)
)

type app struct {
    e      *echo.Echo
    ledger *repository.MemoryLedger
    hub    *realtime.Hub
    cancel context.CancelFunc
}

func quiet() *log.Logger {
    l := log.New("test")
    l.SetOutput(io.Discard)
    return l
}

func newApp(t *testing.T) *app {
    t.Helper()
    ledger := repository.NewMemoryLedger(nil)
    repository.SeedDemo(ledger, time.Now().Add(48*time.Hour))
    store := holdstore.NewMemoryStore(nil)
    hub := realtime.NewHub()

    coord := reservation.NewCoordinator(store, ledger, hub, reservation.Options{HoldTTL: 5 * time.Minute, Logger: quiet()})
    fin := booking.NewFinalizer(ledger, store, hub, nil, booking.Options{PendingTTL: 15 * time.Minute, Logger: quiet()})

    cfg := config.Config{JWTSecret: jwtSecret, AccessTTLMin: 15, BcryptCost: 4, WebhookSecret: webhookSecret}
    base, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)

    e := echo.New()
    e.Logger.SetOutput(io.Discard)
    router.RegisterRoutes(e, handler.Health(store, false))
    router.RegisterAuth(e, handler.NewAuthHandler(cfg, ledger.Users()), jwtSecret)
    router.RegisterPublic(e, handler.NewPublicHandler(ledger))
    router.RegisterCustomer(e, handler.NewReservationHandler(coord), handler.NewOrderHandler(fin), jwtSecret, nil)
    router.RegisterPayments(e, handler.NewPaymentHandler(fin, webhookSecret))
    router.RegisterRealtime(e, &handler.RealtimeHandler{
        Coord:               coord,
        Hub:                 hub,
        JWTSecret:           jwtSecret,
        ReleaseOnDisconnect: true,
        Logger:              quiet(),
        Base:                base,
    })
    return &app{e: e, ledger: ledger, hub: hub, cancel: cancel}
}

// customer creates a buyer directly in the ledger and returns its id
// and a token.
func (a *app) customer(t *testing.T, email string) (uint64, string) {
    t.Helper()
    uid := a.ledger.AddUser(model.User{Email: email, Role: model.RoleCustomer, IsActive: true})
    tok, err := utils.NewAccessToken(jwtSecret, uid, model.RoleCustomer, 15)
    require.NoError(t, err)
    return uid, tok.Token
}

func (a *app) do(t *testing.T, method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
    t.Helper()
    var r io.Reader
    if body != nil {
        b, err := json.Marshal(body)
        require.NoError(t, err)
        r = bytes.NewReader(b)
    }
    req := httptest.NewRequest(method, path, r)
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    if token != "" {
        req.Header.Set("Authorization", "Bearer "+token)
    }
    for i := 0; i+1 < len(headers); i += 2 {
        req.Header.Set(headers[i], headers[i+1])
    }
    rec := httptest.NewRecorder()
    a.e.ServeHTTP(rec, req)
    return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
    t.Helper()
    var m map[string]interface{}
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
    return m
}

func TestHealth(t *testing.T) {
    a := newApp(t)
    rec := a.do(t, http.MethodGet, "/healthz", "", nil)
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "memory", decode(t, rec)["store_mode"])
}

func TestPublicSeatMap(t *testing.T) {
    a := newApp(t)
    _, alice := a.customer(t, "alice@example.com")
    require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/events/1/seats/1001/lock", alice, nil).Code)

    rec := a.do(t, http.MethodGet, "/v1/events/1/seats", "", nil)
    require.Equal(t, http.StatusOK, rec.Code)
    var ev handler.PublicEvent
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
    assert.Equal(t, "Demo Night", ev.Title)
    require.Len(t, ev.Categories, 2)
    assert.Equal(t, uint32(30), ev.Categories[0].Remaining)
    require.Len(t, ev.Seats, 50)
    assert.Equal(t, uint64(1001), ev.Seats[0].ID)
    assert.Equal(t, model.SeatReserved, ev.Seats[0].Status)
    assert.Equal(t, model.SeatAvailable, ev.Seats[1].Status)

    assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/events/9/seats", "", nil).Code)
}

func TestAuthFlow(t *testing.T) {
    a := newApp(t)
    creds := map[string]string{"email": "Buyer@Example.com", "password": "correct-horse"}

    rec := a.do(t, http.MethodPost, "/v1/auth/register", "", creds)
    require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

    rec = a.do(t, http.MethodPost, "/v1/auth/register", "", creds)
    assert.Equal(t, http.StatusConflict, rec.Code)

    rec = a.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "buyer@example.com", "password": "wrong-horse"})
    assert.Equal(t, http.StatusUnauthorized, rec.Code)

    rec = a.do(t, http.MethodPost, "/v1/auth/login", "", creds)
    require.Equal(t, http.StatusOK, rec.Code)
    var resp struct {
        User   struct{ ID uint64 } `json:"user"`
        Access struct{ Token string } `json:"access"`
    }
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

    rec = a.do(t, http.MethodGet, "/v1/me", resp.Access.Token, nil)
    require.Equal(t, http.StatusOK, rec.Code)
    me := decode(t, rec)
    assert.EqualValues(t, resp.User.ID, me["user_id"])
    assert.Equal(t, model.RoleCustomer, me["role"])

    assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/v1/me", "", nil).Code)
}

func TestLockEndpoints(t *testing.T) {
    a := newApp(t)
    _, alice := a.customer(t, "alice@example.com")
    _, bob := a.customer(t, "bob@example.com")
    lock := "/v1/events/1/seats/1001/lock"

    rec := a.do(t, http.MethodPost, lock, alice, nil)
    require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
    body := decode(t, rec)
    assert.Equal(t, "locked", body["status"])
    assert.NotEmpty(t, body["expires_at"])

    rec = a.do(t, http.MethodPost, lock, alice, nil)
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "already_locked_by_you", decode(t, rec)["status"])

    rec = a.do(t, http.MethodPost, lock, bob, nil)
    assert.Equal(t, http.StatusConflict, rec.Code)
    body = decode(t, rec)
    assert.Equal(t, "conflict", body["status"])
    assert.Equal(t, model.ReasonHeldByOther, body["reason"])

    rec = a.do(t, http.MethodDelete, lock, bob, nil)
    assert.Equal(t, http.StatusConflict, rec.Code)

    rec = a.do(t, http.MethodGet, "/v1/events/1/locks/mine", alice, nil)
    require.Equal(t, http.StatusOK, rec.Code)
    var mine []reservation.Hold
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
    require.Len(t, mine, 1)
    assert.Equal(t, uint64(1001), mine[0].SeatID)

    rec = a.do(t, http.MethodGet, "/v1/events/1/snapshot", bob, nil)
    require.Equal(t, http.StatusOK, rec.Code)
    var snap reservation.Snapshot
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
    require.Len(t, snap.Holds, 1)
    assert.Equal(t, uint64(1001), snap.Holds[0].SeatID)

    rec = a.do(t, http.MethodDelete, lock, alice, nil)
    require.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "released", decode(t, rec)["status"])

    rec = a.do(t, http.MethodDelete, lock, alice, nil)
    require.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "not_found", decode(t, rec)["status"])

    a.do(t, http.MethodPost, "/v1/events/1/seats/1002/lock", alice, nil)
    a.do(t, http.MethodPost, "/v1/events/1/seats/1003/lock", alice, nil)
    rec = a.do(t, http.MethodDelete, "/v1/events/1/locks", alice, nil)
    require.Equal(t, http.StatusOK, rec.Code)
    assert.EqualValues(t, 2, decode(t, rec)["released_count"])
}

func TestLockEndpoints_Errors(t *testing.T) {
    a := newApp(t)
    _, alice := a.customer(t, "alice@example.com")

    cases := []struct {
        name   string
        path   string
        token  string
        status int
    }{
        {"no token", "/v1/events/1/seats/1001/lock", "", http.StatusUnauthorized},
        {"bad seat id", "/v1/events/1/seats/abc/lock", alice, http.StatusBadRequest},
        {"unknown seat", "/v1/events/1/seats/9999/lock", alice, http.StatusNotFound},
        {"unknown event", "/v1/events/77/seats/1001/lock", alice, http.StatusNotFound},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            rec := a.do(t, http.MethodPost, tc.path, tc.token, nil)
            assert.Equal(t, tc.status, rec.Code, rec.Body.String())
        })
    }

    organizer, err := utils.NewAccessToken(jwtSecret, 1, model.RoleOrganizer, 15)
    require.NoError(t, err)
    rec := a.do(t, http.MethodPost, "/v1/events/1/seats/1001/lock", organizer.Token, nil)
    assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOrderAndWebhook(t *testing.T) {
    a := newApp(t)
    _, alice := a.customer(t, "alice@example.com")
    _, bob := a.customer(t, "bob@example.com")

    require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/events/1/seats/1001/lock", alice, nil).Code)
    require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/events/1/seats/2001/lock", bob, nil).Code)

    rec := a.do(t, http.MethodPost, "/v1/events/1/orders", alice, map[string]interface{}{"seat_ids": []uint64{1001, 2001}})
    assert.Equal(t, http.StatusConflict, rec.Code)
    body := decode(t, rec)
    assert.EqualValues(t, 2001, body["seat_id"])
    assert.Equal(t, model.ReasonHeldByOther, body["reason"])

    rec = a.do(t, http.MethodPost, "/v1/events/1/orders", alice, map[string]interface{}{"seat_ids": []uint64{1001, 1002}})
    require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
    var order model.Order
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
    assert.Equal(t, model.OrderPending, order.Status)
    assert.Equal(t, uint64(9000), order.TotalAmountCents)

    assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/orders/"+order.ID, bob, nil).Code)
    assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/orders/"+order.ID, alice, nil).Code)

    hook := map[string]interface{}{"order_id": order.ID, "success": true, "payment_ref": "pay_1"}
    rec = a.do(t, http.MethodPost, "/v1/payments/webhook", "", hook)
    assert.Equal(t, http.StatusUnauthorized, rec.Code)
    rec = a.do(t, http.MethodPost, "/v1/payments/webhook", "", hook, handler.WebhookSecretHeader, "wrong")
    assert.Equal(t, http.StatusUnauthorized, rec.Code)

    rec = a.do(t, http.MethodPost, "/v1/payments/webhook", "", hook, handler.WebhookSecretHeader, webhookSecret)
    require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
    body = decode(t, rec)
    assert.Equal(t, "PAID", body["status"])
    assert.Equal(t, false, body["already_final"])

    rec = a.do(t, http.MethodPost, "/v1/payments/webhook", "", hook, handler.WebhookSecretHeader, webhookSecret)
    require.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, true, decode(t, rec)["already_final"])

    rec = a.do(t, http.MethodDelete, "/v1/orders/"+order.ID, alice, nil)
    assert.Equal(t, http.StatusConflict, rec.Code, "paid orders cannot be cancelled")

    seat, err := a.ledger.Seat(context.Background(), 1001)
    require.NoError(t, err)
    assert.Equal(t, model.SeatBooked, seat.Status)
}

func TestOrderCancel(t *testing.T) {
    a := newApp(t)
    _, alice := a.customer(t, "alice@example.com")

    rec := a.do(t, http.MethodPost, "/v1/events/1/orders", alice, map[string]interface{}{"seat_ids": []uint64{2005}})
    require.Equal(t, http.StatusCreated, rec.Code)
    var order model.Order
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))

    rec = a.do(t, http.MethodDelete, "/v1/orders/"+order.ID, alice, nil)
    require.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "CANCELLED", decode(t, rec)["status"])

    rec = a.do(t, http.MethodPost, "/v1/events/1/orders", alice, map[string]interface{}{"seat_ids": []uint64{}})
    assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRealtimeConnect(t *testing.T) {
    a := newApp(t)
    _, alice := a.customer(t, "alice@example.com")
    srv := httptest.NewServer(a.e)
    defer srv.Close()

    wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/1/ws?token=" + alice

    resp, err := http.Get(srv.URL + "/v1/events/1/ws")
    require.NoError(t, err)
    resp.Body.Close()
    assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

    organizer, err := utils.NewAccessToken(jwtSecret, 1, model.RoleOrganizer, 15)
    require.NoError(t, err)
    resp, err = http.Get(srv.URL + "/v1/events/1/ws?token=" + organizer.Token)
    require.NoError(t, err)
    resp.Body.Close()
    assert.Equal(t, http.StatusForbidden, resp.StatusCode)
    _, err = websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events/1/ws?token="+organizer.Token, "", srv.URL)
    assert.Error(t, err, "organizers cannot hold seats over the socket")

    ws, err := websocket.Dial(wsURL, "", srv.URL)
    require.NoError(t, err)
    defer ws.Close()
    require.NoError(t, ws.SetDeadline(time.Now().Add(5*time.Second)))

    var msg realtime.ServerMessage
    require.NoError(t, websocket.JSON.Receive(ws, &msg))
    assert.Equal(t, realtime.MsgRoomSnapshot, msg.Type)
    assert.Equal(t, eventID, msg.EventID)

    require.NoError(t, websocket.JSON.Send(ws, realtime.ClientMessage{Type: realtime.MsgLockSeat, RequestID: "r1", SeatID: 1010}))

    // The room broadcast and the unicast confirmation may arrive in
    // either order.
    seen := map[string]bool{}
    for i := 0; i < 2; i++ {
        var m realtime.ServerMessage
        require.NoError(t, websocket.JSON.Receive(ws, &m))
        seen[m.Type] = true
    }
    assert.True(t, seen[realtime.MsgSeatLockConfirmed], "%v", seen)
    assert.True(t, seen[string(model.EventSeatLocked)], "%v", seen)
}
