package realtime

import (
    "context"
    "encoding/json"
    "errors"
    "io"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
    "github.com/iliyamo/seat-reservation-engine/internal/reservation"
)

// Coordinator is the part of the reservation coordinator a session
// drives.
type Coordinator interface {
    Lock(ctx context.Context, seatID, userID, eventID uint64) (reservation.LockResult, error)
    Unlock(ctx context.Context, seatID, userID, eventID uint64) (reservation.UnlockResult, error)
    Snapshot(ctx context.Context, eventID uint64) (reservation.Snapshot, error)
    ExpireIfLapsed(ctx context.Context, seatID uint64) (bool, error)
}

// SessionOptions configures a Session.  EventID, when set, is joined
// as soon as the session runs.
type SessionOptions struct {
    UserID              uint64
    EventID             uint64
    ReleaseOnDisconnect bool
    Now                 func() time.Time
    AfterFunc           func(time.Duration, func()) *time.Timer
    Logger              *log.Logger
}

// trackedHold is a hold taken through this session.  Its timer fires at
// the hold's expiry and asks the coordinator to re-validate; the timer
// never releases anything on its own.
type trackedHold struct {
    eventID   uint64
    expiresAt time.Time
    timer     *time.Timer
}

// Session serves one WebSocket connection.
type Session struct {
    id                  string
    userID              uint64
    initialEvent        uint64
    releaseOnDisconnect bool
    conn                Conn
    coord               Coordinator
    hub                 *Hub
    now                 func() time.Time
    afterFunc           func(time.Duration, func()) *time.Timer
    logger              *log.Logger
    out                 chan ServerMessage

    mu    sync.Mutex
    ctx   context.Context
    sub   *Subscription
    holds map[uint64]*trackedHold
}

const sessionSendBuffer = 64

func NewSession(conn Conn, coord Coordinator, hub *Hub, opts SessionOptions) *Session {
    s := &Session{
        id:                  uuid.NewString(),
        userID:              opts.UserID,
        initialEvent:        opts.EventID,
        releaseOnDisconnect: opts.ReleaseOnDisconnect,
        conn:                conn,
        coord:               coord,
        hub:                 hub,
        now:                 opts.Now,
        afterFunc:           opts.AfterFunc,
        logger:              opts.Logger,
        out:                 make(chan ServerMessage, sessionSendBuffer),
        holds:               make(map[uint64]*trackedHold),
    }
    if s.now == nil {
        s.now = time.Now
    }
    if s.afterFunc == nil {
        s.afterFunc = time.AfterFunc
    }
    if s.logger == nil {
        s.logger = log.New("realtime")
    }
    return s
}

func (s *Session) ID() string { return s.id }

// Run serves the connection until the client goes away or ctx ends.
// On the way out it leaves the room and, when configured, releases the
// holds taken through this session that were not checked out.
func (s *Session) Run(ctx context.Context) error {
    ctx, cancel := context.WithCancel(ctx)
    s.mu.Lock()
    s.ctx = ctx
    s.mu.Unlock()

    writerDone := make(chan struct{})
    go s.writeLoop(ctx, cancel, writerDone)
    go func() {
        <-ctx.Done()
        _ = s.conn.Close()
    }()
    defer func() {
        cancel()
        <-writerDone
        s.teardown()
    }()

    s.logger.Infof("session open id=%s user=%d", s.id, s.userID)
    if s.initialEvent != 0 {
        s.join(ctx, "", s.initialEvent)
    }
    for {
        var msg ClientMessage
        if err := s.conn.Receive(&msg); err != nil {
            var syntaxErr *json.SyntaxError
            var typeErr *json.UnmarshalTypeError
            if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
                s.send(ctx, ServerMessage{Type: MsgError, Reason: "invalid", Error: "malformed message"})
                continue
            }
            if ctx.Err() != nil || errors.Is(err, io.EOF) {
                return nil
            }
            return err
        }
        s.handle(ctx, msg)
    }
}

func (s *Session) writeLoop(ctx context.Context, cancel context.CancelFunc, done chan<- struct{}) {
    defer close(done)
    for {
        select {
        case <-ctx.Done():
            return
        case msg := <-s.out:
            if err := s.conn.Send(msg); err != nil {
                s.logger.Warnf("session write id=%s: %v", s.id, err)
                cancel()
                return
            }
        }
    }
}

func (s *Session) send(ctx context.Context, msg ServerMessage) {
    select {
    case s.out <- msg:
    case <-ctx.Done():
    }
}

func (s *Session) teardown() {
    s.mu.Lock()
    sub := s.sub
    s.sub = nil
    holds := s.holds
    s.holds = make(map[uint64]*trackedHold)
    s.mu.Unlock()

    if sub != nil {
        s.hub.Unsubscribe(sub)
    }
    for _, h := range holds {
        h.timer.Stop()
    }
    released := 0
    if s.releaseOnDisconnect && len(holds) > 0 {
        ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        for seatID, h := range holds {
            res, err := s.coord.Unlock(ctx, seatID, s.userID, h.eventID)
            if err != nil {
                s.logger.Warnf("session close id=%s release seat=%d: %v", s.id, seatID, err)
                continue
            }
            if res.Status == reservation.StatusReleased {
                released++
            }
        }
    }
    s.logger.Infof("session closed id=%s user=%d released=%d", s.id, s.userID, released)
}

func (s *Session) handle(ctx context.Context, msg ClientMessage) {
    switch msg.Type {
    case MsgJoinEvent:
        if msg.EventID == 0 {
            s.send(ctx, ServerMessage{Type: MsgError, RequestID: msg.RequestID, Reason: "invalid", Error: "event_id is required"})
            return
        }
        s.join(ctx, msg.RequestID, msg.EventID)
    case MsgLeaveEvent:
        s.leave()
    case MsgSelectSeat, MsgLockSeat:
        s.lock(ctx, msg)
    case MsgDeselectSeat, MsgUnlockSeat:
        s.unlock(ctx, msg)
    case MsgCheckoutComplete:
        s.checkout(ctx, msg)
    case MsgRequestSnapshot:
        eventID, ok := s.joined(ctx, msg)
        if !ok {
            return
        }
        s.sendSnapshot(ctx, msg.RequestID, eventID)
    default:
        s.send(ctx, ServerMessage{Type: MsgError, RequestID: msg.RequestID, Reason: "invalid", Error: "unknown message type " + msg.Type})
    }
}

// join subscribes before taking the snapshot so no event between the
// two is lost; buffered events are forwarded after the snapshot.
func (s *Session) join(ctx context.Context, requestID string, eventID uint64) {
    sub := s.hub.Subscribe(eventID)
    snap, err := s.coord.Snapshot(ctx, eventID)
    if err != nil {
        s.hub.Unsubscribe(sub)
        s.sendFailure(ctx, MsgError, requestID, 0, err)
        return
    }
    s.mu.Lock()
    old := s.sub
    s.sub = sub
    s.mu.Unlock()
    if old != nil {
        s.hub.Unsubscribe(old)
    }
    s.send(ctx, ServerMessage{Type: MsgRoomSnapshot, RequestID: requestID, EventID: eventID, Data: snap})
    go s.forward(ctx, sub)
}

func (s *Session) leave() {
    s.mu.Lock()
    sub := s.sub
    s.sub = nil
    s.mu.Unlock()
    if sub != nil {
        s.hub.Unsubscribe(sub)
    }
}

func (s *Session) sendSnapshot(ctx context.Context, requestID string, eventID uint64) {
    snap, err := s.coord.Snapshot(ctx, eventID)
    if err != nil {
        s.sendFailure(ctx, MsgError, requestID, 0, err)
        return
    }
    s.send(ctx, ServerMessage{Type: MsgRoomSnapshot, RequestID: requestID, EventID: eventID, Data: snap})
}

// joined returns the current room, replying with an error when the
// session has not joined one or the message names a different event.
func (s *Session) joined(ctx context.Context, msg ClientMessage) (uint64, bool) {
    s.mu.Lock()
    var eventID uint64
    if s.sub != nil {
        eventID = s.sub.eventID
    }
    s.mu.Unlock()
    if eventID == 0 {
        s.send(ctx, ServerMessage{Type: MsgError, RequestID: msg.RequestID, Reason: "invalid", Error: "join an event first"})
        return 0, false
    }
    if msg.EventID != 0 && msg.EventID != eventID {
        s.send(ctx, ServerMessage{Type: MsgError, RequestID: msg.RequestID, Reason: "invalid", Error: "event_id does not match the joined event"})
        return 0, false
    }
    return eventID, true
}

func (s *Session) lock(ctx context.Context, msg ClientMessage) {
    eventID, ok := s.joined(ctx, msg)
    if !ok {
        return
    }
    res, err := s.coord.Lock(ctx, msg.SeatID, s.userID, eventID)
    if err != nil {
        s.sendFailure(ctx, MsgSeatLockFailed, msg.RequestID, msg.SeatID, err)
        return
    }
    if res.ExpiresAt != nil {
        s.track(msg.SeatID, eventID, *res.ExpiresAt)
    }
    s.send(ctx, ServerMessage{Type: MsgSeatLockConfirmed, RequestID: msg.RequestID, EventID: eventID, SeatID: msg.SeatID, Data: res})
}

func (s *Session) unlock(ctx context.Context, msg ClientMessage) {
    eventID, ok := s.joined(ctx, msg)
    if !ok {
        return
    }
    res, err := s.coord.Unlock(ctx, msg.SeatID, s.userID, eventID)
    if err != nil {
        s.sendFailure(ctx, MsgSeatUnlockFailed, msg.RequestID, msg.SeatID, err)
        return
    }
    s.forget(msg.SeatID, nil)
    s.send(ctx, ServerMessage{Type: MsgSeatUnlockConfirmed, RequestID: msg.RequestID, EventID: eventID, SeatID: msg.SeatID, Data: res})
}

// checkout hands the listed seats (all tracked seats when none are
// listed) over to the order flow: their timers stop and a disconnect no
// longer releases them.
func (s *Session) checkout(ctx context.Context, msg ClientMessage) {
    seats := msg.SeatIDs
    if len(seats) == 0 {
        s.mu.Lock()
        for id := range s.holds {
            seats = append(seats, id)
        }
        s.mu.Unlock()
    }
    for _, id := range seats {
        s.forget(id, nil)
    }
    s.send(ctx, ServerMessage{Type: MsgCheckoutAcknowledged, RequestID: msg.RequestID, Data: map[string][]uint64{"seat_ids": seats}})
}

// forward relays room events to the client.  After an overflow the
// missed events are replaced by a fresh snapshot.
func (s *Session) forward(ctx context.Context, sub *Subscription) {
    for {
        select {
        case <-ctx.Done():
            return
        case <-sub.Done():
            return
        case ev := <-sub.Events():
            if sub.TakeResync() {
                for drained := false; !drained; {
                    select {
                    case <-sub.Events():
                    default:
                        drained = true
                    }
                }
                s.sendSnapshot(ctx, "", sub.eventID)
                continue
            }
            s.observe(ev)
            s.send(ctx, ServerMessage{Type: string(ev.Type), EventID: ev.EventID, Data: ev})
        }
    }
}

// observe keeps the local timers in line with the room: a refresh of
// one of our holds moves its timer, and any event that ends the hold
// (unlock, expiry, release, or an order taking the seat over) stops it.
func (s *Session) observe(ev model.SeatEvent) {
    for _, seatID := range ev.SeatIDs {
        s.mu.Lock()
        h, ok := s.holds[seatID]
        s.mu.Unlock()
        if !ok {
            continue
        }
        switch ev.Type {
        case model.EventSeatLocked:
            if ev.UserID == s.userID && ev.ExpiresAt != nil && !ev.ExpiresAt.Equal(h.expiresAt) {
                s.track(seatID, h.eventID, *ev.ExpiresAt)
            }
        default:
            s.forget(seatID, nil)
        }
    }
}

func (s *Session) track(seatID, eventID uint64, expiresAt time.Time) {
    h := &trackedHold{eventID: eventID, expiresAt: expiresAt}
    d := expiresAt.Sub(s.now())
    if d < 0 {
        d = 0
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    if old, ok := s.holds[seatID]; ok {
        old.timer.Stop()
    }
    h.timer = s.afterFunc(d, func() { s.onTimer(seatID, h) })
    s.holds[seatID] = h
}

// forget drops a tracked hold.  With only set, the hold is dropped only
// if it is still that exact entry.
func (s *Session) forget(seatID uint64, only *trackedHold) {
    s.mu.Lock()
    defer s.mu.Unlock()
    h, ok := s.holds[seatID]
    if !ok || (only != nil && h != only) {
        return
    }
    h.timer.Stop()
    delete(s.holds, seatID)
}

func (s *Session) onTimer(seatID uint64, h *trackedHold) {
    s.mu.Lock()
    ctx := s.ctx
    current, ok := s.holds[seatID]
    s.mu.Unlock()
    if !ok || current != h || ctx == nil || ctx.Err() != nil {
        return
    }
    released, err := s.coord.ExpireIfLapsed(ctx, seatID)
    if err != nil {
        s.logger.Warnf("session id=%s expire seat=%d: %v", s.id, seatID, err)
        return
    }
    // A hold that is still live was refreshed elsewhere; keep it so a
    // disconnect can still give it back.
    if released {
        s.forget(seatID, h)
    }
}

func (s *Session) sendFailure(ctx context.Context, typ, requestID string, seatID uint64, err error) {
    reason, text := describe(err)
    if reason == "internal" {
        s.logger.Errorf("session id=%s %s seat=%d: %v", s.id, typ, seatID, err)
    }
    s.send(ctx, ServerMessage{Type: typ, RequestID: requestID, SeatID: seatID, Reason: reason, Error: text})
}

// describe turns an error into a client reason and message.
func describe(err error) (string, string) {
    var sc *model.SeatConflictError
    switch {
    case errors.As(err, &sc):
        return sc.Reason, sc.Error()
    case errors.Is(err, model.ErrValidation):
        return "invalid", "invalid request"
    case errors.Is(err, model.ErrNotFound):
        return "not_found", "not found"
    case errors.Is(err, model.ErrUnavailable):
        return "unavailable", "reservation service unavailable"
    }
    return "internal", "internal error"
}
