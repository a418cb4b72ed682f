package realtime

import (
    "context"
    "io"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/seat-reservation-engine/internal/clock"
    "github.com/iliyamo/seat-reservation-engine/internal/holdstore"
    "github.com/iliyamo/seat-reservation-engine/internal/model"
    "github.com/iliyamo/seat-reservation-engine/internal/repository"
    "github.com/iliyamo/seat-reservation-engine/internal/reservation"
)

var epoch = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

// pipeConn is an in-memory Conn.  The test writes client frames to in
// and reads server frames from out.
type pipeConn struct {
    in     chan ClientMessage
    out    chan ServerMessage
    closed chan struct{}
    once   sync.Once
}

func newPipeConn() *pipeConn {
    return &pipeConn{in: make(chan ClientMessage, 16), out: make(chan ServerMessage, 64), closed: make(chan struct{})}
}

func (c *pipeConn) Receive(m *ClientMessage) error {
    select {
    case msg, ok := <-c.in:
        if !ok {
            return io.EOF
        }
        *m = msg
        return nil
    case <-c.closed:
        return io.EOF
    }
}

func (c *pipeConn) Send(m ServerMessage) error {
    select {
    case c.out <- m:
        return nil
    case <-c.closed:
        return io.ErrClosedPipe
    }
}

func (c *pipeConn) Close() error {
    c.once.Do(func() { close(c.closed) })
    return nil
}

// expect reads frames until one of type typ arrives.
func (c *pipeConn) expect(t *testing.T, typ string) ServerMessage {
    t.Helper()
    deadline := time.After(2 * time.Second)
    for {
        select {
        case msg := <-c.out:
            if msg.Type == typ {
                return msg
            }
        case <-deadline:
            t.Fatalf("no %s frame", typ)
        }
    }
}

// expectNone fails if a frame of type typ arrives within a short wait.
func (c *pipeConn) expectNone(t *testing.T, typ string) {
    t.Helper()
    deadline := time.After(100 * time.Millisecond)
    for {
        select {
        case msg := <-c.out:
            if msg.Type == typ {
                t.Fatalf("unexpected %s frame: %+v", typ, msg)
            }
        case <-deadline:
            return
        }
    }
}

// manualTimers records timer callbacks so tests decide when they fire.
type manualTimers struct {
    mu  sync.Mutex
    fns []func()
}

func (m *manualTimers) afterFunc(_ time.Duration, f func()) *time.Timer {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.fns = append(m.fns, f)
    return time.NewTimer(time.Hour)
}

func (m *manualTimers) fireLast() {
    m.mu.Lock()
    f := m.fns[len(m.fns)-1]
    m.mu.Unlock()
    f()
}

type env struct {
    clk    *clock.Fake
    ledger *repository.MemoryLedger
    hub    *Hub
    coord  *reservation.Coordinator
    timers *manualTimers
}

func newEnv(t *testing.T) *env {
    t.Helper()
    clk := clock.NewFake(epoch)
    ledger := repository.NewMemoryLedger(clk.Now)
    ledger.AddEvent(model.Event{ID: 7, Title: "Gig"})
    ledger.AddCategory(model.Category{ID: 3, EventID: 7, PriceCents: 1000, Capacity: 10})
    for _, id := range []uint64{12, 13} {
        ledger.AddSeat(model.Seat{ID: id, CategoryID: 3, Label: "S"})
    }
    ledger.AddUser(model.User{ID: 1, IsActive: true})
    ledger.AddUser(model.User{ID: 2, IsActive: true})
    hub := NewHub()
    coord := reservation.NewCoordinator(holdstore.NewMemoryStore(clk.Now), ledger, hub, reservation.Options{
        HoldTTL: 5 * time.Minute,
        Now:     clk.Now,
        Logger:  quietLogger(),
    })
    return &env{clk: clk, ledger: ledger, hub: hub, coord: coord, timers: &manualTimers{}}
}

// open starts a session for user and returns its connection and a
// channel that yields Run's result.
func (e *env) open(t *testing.T, user uint64, join uint64) (*pipeConn, <-chan error) {
    t.Helper()
    conn := newPipeConn()
    s := NewSession(conn, e.coord, e.hub, SessionOptions{
        UserID:              user,
        EventID:             join,
        ReleaseOnDisconnect: true,
        Now:                 e.clk.Now,
        AfterFunc:           e.timers.afterFunc,
        Logger:              quietLogger(),
    })
    done := make(chan error, 1)
    go func() { done <- s.Run(context.Background()) }()
    if join != 0 {
        conn.expect(t, MsgRoomSnapshot)
    }
    return conn, done
}

func closeAndWait(t *testing.T, conn *pipeConn, done <-chan error) {
    t.Helper()
    close(conn.in)
    select {
    case err := <-done:
        require.NoError(t, err)
    case <-time.After(2 * time.Second):
        t.Fatal("session did not stop")
    }
}

func (e *env) seatStatus(t *testing.T, id uint64) model.SeatStatus {
    t.Helper()
    s, err := e.ledger.Seat(context.Background(), id)
    require.NoError(t, err)
    return s.Status
}

func TestSession_JoinReceivesSnapshotWithHolds(t *testing.T) {
    e := newEnv(t)
    _, err := e.coord.Lock(context.Background(), 12, 2, 7)
    require.NoError(t, err)

    conn, done := e.open(t, 1, 0)
    conn.in <- ClientMessage{Type: MsgJoinEvent, EventID: 7, RequestID: "r1"}
    msg := conn.expect(t, MsgRoomSnapshot)
    assert.Equal(t, "r1", msg.RequestID)
    snap, ok := msg.Data.(reservation.Snapshot)
    require.True(t, ok)
    require.Len(t, snap.Holds, 1)
    assert.Equal(t, uint64(12), snap.Holds[0].SeatID)

    conn.in <- ClientMessage{Type: MsgJoinEvent, EventID: 99}
    errMsg := conn.expect(t, MsgError)
    assert.Equal(t, "not_found", errMsg.Reason)
    closeAndWait(t, conn, done)
}

func TestSession_LockBroadcastAndUnicastFailure(t *testing.T) {
    e := newEnv(t)
    connA, doneA := e.open(t, 1, 7)
    connB, doneB := e.open(t, 2, 7)

    connA.in <- ClientMessage{Type: MsgSelectSeat, SeatID: 12}
    confirmed := connA.expect(t, MsgSeatLockConfirmed)
    res := confirmed.Data.(reservation.LockResult)
    assert.Equal(t, reservation.StatusLocked, res.Status)

    locked := connB.expect(t, string(model.EventSeatLocked))
    assert.Equal(t, []uint64{12}, locked.Data.(model.SeatEvent).SeatIDs)

    connB.in <- ClientMessage{Type: MsgLockSeat, SeatID: 12}
    failed := connB.expect(t, MsgSeatLockFailed)
    assert.Equal(t, model.ReasonHeldByOther, failed.Reason)
    connA.expectNone(t, MsgSeatLockFailed)

    connB.in <- ClientMessage{Type: MsgUnlockSeat, SeatID: 12}
    unlockFailed := connB.expect(t, MsgSeatUnlockFailed)
    assert.Equal(t, model.ReasonHeldByOther, unlockFailed.Reason)

    connA.in <- ClientMessage{Type: MsgDeselectSeat, SeatID: 12}
    unlocked := connA.expect(t, MsgSeatUnlockConfirmed)
    assert.Equal(t, reservation.StatusReleased, unlocked.Data.(reservation.UnlockResult).Status)
    connB.expect(t, string(model.EventSeatUnlocked))

    closeAndWait(t, connA, doneA)
    closeAndWait(t, connB, doneB)
}

func TestSession_LockRequiresJoin(t *testing.T) {
    e := newEnv(t)
    conn, done := e.open(t, 1, 0)
    conn.in <- ClientMessage{Type: MsgLockSeat, SeatID: 12}
    msg := conn.expect(t, MsgError)
    assert.Equal(t, "invalid", msg.Reason)

    conn.in <- ClientMessage{Type: "dance"}
    conn.expect(t, MsgError)
    closeAndWait(t, conn, done)
    assert.Equal(t, model.SeatAvailable, e.seatStatus(t, 12))
}

func TestSession_DisconnectReleasesHolds(t *testing.T) {
    e := newEnv(t)
    watcher, doneW := e.open(t, 2, 7)
    conn, done := e.open(t, 1, 7)

    conn.in <- ClientMessage{Type: MsgLockSeat, SeatID: 12}
    conn.expect(t, MsgSeatLockConfirmed)
    conn.in <- ClientMessage{Type: MsgLockSeat, SeatID: 13}
    conn.expect(t, MsgSeatLockConfirmed)
    conn.in <- ClientMessage{Type: MsgCheckoutComplete, SeatIDs: []uint64{13}}
    ack := conn.expect(t, MsgCheckoutAcknowledged)
    assert.Equal(t, map[string][]uint64{"seat_ids": {13}}, ack.Data)

    closeAndWait(t, conn, done)
    assert.Equal(t, model.SeatAvailable, e.seatStatus(t, 12))
    assert.Equal(t, model.SeatReserved, e.seatStatus(t, 13), "checked out seats survive the disconnect")
    watcher.expect(t, string(model.EventSeatUnlocked))
    closeAndWait(t, watcher, doneW)
}

func TestSession_EarlyTimerRevalidates(t *testing.T) {
    e := newEnv(t)
    watcher, doneW := e.open(t, 2, 7)
    conn, done := e.open(t, 1, 7)

    conn.in <- ClientMessage{Type: MsgLockSeat, SeatID: 12}
    conn.expect(t, MsgSeatLockConfirmed)

    // Firing before expiry changes nothing.
    e.timers.fireLast()
    assert.Equal(t, model.SeatReserved, e.seatStatus(t, 12))

    e.clk.Advance(5 * time.Minute)
    e.timers.fireLast()
    assert.Equal(t, model.SeatAvailable, e.seatStatus(t, 12))
    expired := watcher.expect(t, string(model.EventSeatExpired))
    assert.Equal(t, []uint64{12}, expired.Data.(model.SeatEvent).SeatIDs)

    closeAndWait(t, conn, done)
    closeAndWait(t, watcher, doneW)
}

func TestSession_OrderTakeoverStopsTracking(t *testing.T) {
    e := newEnv(t)
    conn, done := e.open(t, 1, 7)
    conn.in <- ClientMessage{Type: MsgLockSeat, SeatID: 12}
    conn.expect(t, MsgSeatLockConfirmed)

    // An order takes the seat: ledger linked, hold deleted, room told.
    oid := "order-1"
    require.NoError(t, e.ledger.InTx(context.Background(), func(tx repository.LedgerTx) error {
        return tx.SetSeat(context.Background(), 12, model.SeatReserved, &oid)
    }))
    e.hub.Deliver(model.SeatEvent{Type: model.EventSeatReserved, EventID: 7, SeatIDs: []uint64{12}, OrderID: oid, UserID: 1})
    conn.expect(t, string(model.EventSeatReserved))

    closeAndWait(t, conn, done)
    s, err := e.ledger.Seat(context.Background(), 12)
    require.NoError(t, err)
    assert.True(t, s.HeldByOrder())
    assert.Equal(t, model.SeatReserved, s.Status)
}
