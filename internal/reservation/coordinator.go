// Package reservation coordinates checkout holds.  It is the only
// component that moves a seat between AVAILABLE and RESERVED without an
// order: the reservation store decides who holds a seat, the ledger
// records the durable mark, and every successful transition is announced
// to the event room afterwards.
package reservation

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/labstack/gommon/log"

    "github.com/iliyamo/seat-reservation-engine/internal/holdstore"
    "github.com/iliyamo/seat-reservation-engine/internal/model"
    "github.com/iliyamo/seat-reservation-engine/internal/repository"
)

// Broadcaster delivers seat events to an event room.  Delivery is best
// effort and never fails the operation that produced the event.
type Broadcaster interface {
    Publish(ctx context.Context, ev model.SeatEvent)
}

// Status is the outcome reported to clients for lock and unlock calls.
type Status string

const (
    StatusLocked             Status = "locked"
    StatusAlreadyLockedByYou Status = "already_locked_by_you"
    StatusConflict           Status = "conflict"
    StatusReleased           Status = "released"
    StatusNotFound           Status = "not_found"
)

// LockResult is returned by Lock.  ExpiresAt is set for locked and
// already_locked_by_you.  Degraded reports that the hold only excludes
// buyers served by this process.
type LockResult struct {
    Status    Status     `json:"status"`
    SeatID    uint64     `json:"seat_id"`
    ExpiresAt *time.Time `json:"expires_at,omitempty"`
    Reason    string     `json:"reason,omitempty"`
    Degraded  bool       `json:"degraded,omitempty"`
}

// UnlockResult is returned by Unlock.
type UnlockResult struct {
    Status Status `json:"status"`
    SeatID uint64 `json:"seat_id"`
}

// Hold is one of the caller's own active holds.
type Hold struct {
    SeatID    uint64    `json:"seat_id"`
    ExpiresAt time.Time `json:"expires_at"`
}

// Options configures a Coordinator.  Zero values fall back to a five
// minute hold that is refreshed on re-lock.
type Options struct {
    HoldTTL         time.Duration
    RefreshOnRelock *bool
    Now             func() time.Time
    Logger          *log.Logger
}

// Coordinator implements lock, unlock and expiry of checkout holds.
type Coordinator struct {
    store   holdstore.Store
    ledger  repository.Ledger
    bc      Broadcaster
    ttl     time.Duration
    refresh bool
    now     func() time.Time
    logger  *log.Logger
}

// NewCoordinator wires a coordinator.  bc may be nil.
func NewCoordinator(store holdstore.Store, ledger repository.Ledger, bc Broadcaster, opts Options) *Coordinator {
    c := &Coordinator{
        store:   store,
        ledger:  ledger,
        bc:      bc,
        ttl:     opts.HoldTTL,
        refresh: true,
        now:     opts.Now,
        logger:  opts.Logger,
    }
    if c.ttl <= 0 {
        c.ttl = 5 * time.Minute
    }
    if opts.RefreshOnRelock != nil {
        c.refresh = *opts.RefreshOnRelock
    }
    if c.now == nil {
        c.now = time.Now
    }
    if c.logger == nil {
        c.logger = log.New("reservation")
    }
    return c
}

// HoldTTL returns the lifetime given to new holds.
func (c *Coordinator) HoldTTL() time.Duration { return c.ttl }

// Degraded reports whether the reservation store runs in single-process
// fallback mode.
func (c *Coordinator) Degraded() bool { return c.store.Degraded() }

// Lock places a hold on seatID for userID.  A conflict is reported both
// as a result with StatusConflict and as a *model.SeatConflictError.
func (c *Coordinator) Lock(ctx context.Context, seatID, userID, eventID uint64) (LockResult, error) {
    seat, err := c.validate(ctx, seatID, userID, eventID, true)
    if err != nil {
        return LockResult{}, err
    }
    if seat.Status == model.SeatBooked {
        return c.conflict(seatID, model.ReasonBooked)
    }
    if seat.HeldByOrder() {
        return c.conflict(seatID, model.ReasonHeldByOrder)
    }

    out, hold, err := c.store.CreateIfAbsent(ctx, seatID, userID, eventID, c.ttl, c.refresh)
    if err != nil {
        return LockResult{}, unavailable("lock", seatID, err)
    }
    degraded := c.store.Degraded()

    switch out {
    case holdstore.OwnedByOther:
        return c.conflict(seatID, model.ReasonHeldByOther)

    case holdstore.AlreadyOwnedBySelf:
        // The mark is normally already there; restore it if a sweep ran
        // while the store was unreachable.
        if seat.Status == model.SeatAvailable {
            if reason, err := c.markReserved(ctx, seatID, degraded); err != nil || reason != "" {
                return c.undoHold(ctx, seatID, userID, reason, err)
            }
        }
        if c.refresh {
            c.publish(ctx, model.SeatEvent{Type: model.EventSeatLocked, EventID: eventID, SeatIDs: []uint64{seatID}, UserID: userID, ExpiresAt: &hold.ExpiresAt})
        }
        return LockResult{Status: StatusAlreadyLockedByYou, SeatID: seatID, ExpiresAt: &hold.ExpiresAt, Degraded: degraded}, nil

    case holdstore.Created:
        reason, err := c.markReserved(ctx, seatID, degraded)
        if err != nil || reason != "" {
            return c.undoHold(ctx, seatID, userID, reason, err)
        }
        c.publish(ctx, model.SeatEvent{Type: model.EventSeatLocked, EventID: eventID, SeatIDs: []uint64{seatID}, UserID: userID, ExpiresAt: &hold.ExpiresAt})
        if degraded {
            c.logger.Warnf("lock seat=%d user=%d granted in degraded mode", seatID, userID)
        }
        return LockResult{Status: StatusLocked, SeatID: seatID, ExpiresAt: &hold.ExpiresAt, Degraded: degraded}, nil
    }
    return LockResult{}, fmt.Errorf("reservation: lock seat %d: unknown store outcome %s", seatID, out)
}

// markReserved writes the RESERVED mark for a freshly taken hold.  It
// returns a conflict reason when the ledger refuses.  A RESERVED mark
// without an order and without a store record is a leftover of a lapsed
// hold and is taken over, except in degraded mode where the mark may
// belong to a hold this process cannot see.
func (c *Coordinator) markReserved(ctx context.Context, seatID uint64, degraded bool) (string, error) {
    var reason string
    healed := false
    err := c.ledger.InTx(ctx, func(tx repository.LedgerTx) error {
        seats, err := tx.LockSeats(ctx, []uint64{seatID})
        if err != nil {
            return err
        }
        s := seats[0]
        switch {
        case s.Status == model.SeatBooked:
            reason = model.ReasonBooked
            return nil
        case s.HeldByOrder():
            reason = model.ReasonHeldByOrder
            return nil
        case s.Status == model.SeatReserved && degraded:
            reason = model.ReasonHeldByOther
            return nil
        case s.Status == model.SeatReserved:
            healed = true
        }
        if !model.CanTransition(s.Status, model.SeatReserved) {
            reason = model.ReasonHeldByOther
            return nil
        }
        return tx.SetSeat(ctx, seatID, model.SeatReserved, nil)
    })
    if err != nil {
        return "", fmt.Errorf("reservation: mark seat %d: %w", seatID, err)
    }
    if healed {
        c.logger.Infof("healed stale reservation mark seat=%d", seatID)
    }
    return reason, nil
}

// undoHold gives back a hold whose ledger mark could not be written.
func (c *Coordinator) undoHold(ctx context.Context, seatID, userID uint64, reason string, cause error) (LockResult, error) {
    if _, err := c.store.ReleaseIfOwner(ctx, seatID, userID); err != nil {
        c.logger.Errorf("undo hold seat=%d user=%d: %v", seatID, userID, err)
    }
    if cause != nil {
        return LockResult{}, cause
    }
    return c.conflict(seatID, reason)
}

// Unlock releases the caller's hold.  A missing or lapsed hold is a
// no-op reported as not_found; someone else's hold is a conflict.
func (c *Coordinator) Unlock(ctx context.Context, seatID, userID, eventID uint64) (UnlockResult, error) {
    if _, err := c.validate(ctx, seatID, userID, eventID, false); err != nil {
        return UnlockResult{}, err
    }
    out, err := c.store.ReleaseIfOwner(ctx, seatID, userID)
    if err != nil {
        return UnlockResult{}, unavailable("unlock", seatID, err)
    }
    switch out {
    case holdstore.NotOwner:
        return UnlockResult{Status: StatusConflict, SeatID: seatID},
            &model.SeatConflictError{SeatID: seatID, Reason: model.ReasonHeldByOther}
    case holdstore.Absent:
        return UnlockResult{Status: StatusNotFound, SeatID: seatID}, nil
    }
    seat, _, err := c.releaseIfUnheld(ctx, seatID)
    if err != nil {
        // The hold is gone; the sweeper will clear the mark.
        c.logger.Errorf("unlock seat=%d: clear mark: %v", seatID, err)
    } else if freed(seat) {
        c.publish(ctx, model.SeatEvent{Type: model.EventSeatUnlocked, EventID: eventID, SeatIDs: []uint64{seatID}, UserID: userID})
    }
    return UnlockResult{Status: StatusReleased, SeatID: seatID}, nil
}

// UnlockAll releases every hold the user has on the event and returns
// how many were released.
func (c *Coordinator) UnlockAll(ctx context.Context, userID, eventID uint64) (int, error) {
    if userID == 0 || eventID == 0 {
        return 0, fmt.Errorf("reservation: user and event are required: %w", model.ErrValidation)
    }
    holds, err := c.store.ListByOwner(ctx, userID, eventID)
    if err != nil {
        return 0, unavailable("unlock all", 0, err)
    }
    released := make([]uint64, 0, len(holds))
    var announce []uint64
    for _, h := range holds {
        out, err := c.store.ReleaseIfOwner(ctx, h.SeatID, userID)
        if err != nil {
            return len(released), unavailable("unlock all", h.SeatID, err)
        }
        if out != holdstore.Released {
            continue
        }
        released = append(released, h.SeatID)
        seat, _, err := c.releaseIfUnheld(ctx, h.SeatID)
        if err != nil {
            c.logger.Errorf("unlock all seat=%d: clear mark: %v", h.SeatID, err)
            continue
        }
        if freed(seat) {
            announce = append(announce, h.SeatID)
        }
    }
    if len(announce) > 0 {
        c.publish(ctx, model.SeatEvent{Type: model.EventSeatUnlocked, EventID: eventID, SeatIDs: announce, UserID: userID})
    }
    return len(released), nil
}

// ListMine returns the caller's active holds on the event.
func (c *Coordinator) ListMine(ctx context.Context, eventID, userID uint64) ([]Hold, error) {
    if userID == 0 || eventID == 0 {
        return nil, fmt.Errorf("reservation: user and event are required: %w", model.ErrValidation)
    }
    holds, err := c.store.ListByOwner(ctx, userID, eventID)
    if err != nil {
        return nil, unavailable("list", 0, err)
    }
    out := make([]Hold, 0, len(holds))
    for _, h := range holds {
        out = append(out, Hold{SeatID: h.SeatID, ExpiresAt: h.ExpiresAt})
    }
    return out, nil
}

// ExpireIfLapsed clears the RESERVED mark of seatID when its hold is
// gone.  It is safe to call at any time; an active hold or an order
// linked to the seat leaves it untouched.  Early per-session timers use
// it, so the room hears seat_expired.
func (c *Coordinator) ExpireIfLapsed(ctx context.Context, seatID uint64) (bool, error) {
    h, err := c.store.Get(ctx, seatID)
    if err != nil {
        return false, unavailable("expire", seatID, err)
    }
    if h != nil {
        return false, nil
    }
    seat, released, err := c.releaseIfUnheld(ctx, seatID)
    if err != nil || !released {
        return false, err
    }
    c.publish(ctx, model.SeatEvent{Type: model.EventSeatExpired, EventID: seat.EventID, SeatIDs: []uint64{seatID}, Reason: "expired"})
    return true, nil
}

// ReconcileExpired is one sweep pass: every RESERVED seat without an
// order whose hold has lapsed goes back to AVAILABLE.  It returns the
// released seats.  Failures on single seats are logged and skipped.
func (c *Coordinator) ReconcileExpired(ctx context.Context) ([]uint64, error) {
    seats, err := c.ledger.ReservedWithoutOrder(ctx)
    if err != nil {
        return nil, fmt.Errorf("reservation: reconcile: %w", err)
    }
    byEvent := make(map[uint64][]uint64)
    var order []uint64
    var released []uint64
    for _, s := range seats {
        if err := ctx.Err(); err != nil {
            return released, err
        }
        h, err := c.store.Get(ctx, s.ID)
        if err != nil {
            c.logger.Errorf("reconcile seat=%d: %v", s.ID, err)
            continue
        }
        if h != nil {
            continue
        }
        seat, ok, err := c.releaseIfUnheld(ctx, s.ID)
        if err != nil {
            c.logger.Errorf("reconcile seat=%d: %v", s.ID, err)
            continue
        }
        if !ok {
            continue
        }
        if _, seen := byEvent[seat.EventID]; !seen {
            order = append(order, seat.EventID)
        }
        byEvent[seat.EventID] = append(byEvent[seat.EventID], s.ID)
        released = append(released, s.ID)
    }
    for _, eventID := range order {
        c.publish(ctx, model.SeatEvent{Type: model.EventSeatReleased, EventID: eventID, SeatIDs: byEvent[eventID], Reason: "expired"})
    }
    return released, nil
}

// releaseIfUnheld moves a RESERVED seat without an order back to
// AVAILABLE.  The store is consulted again while the row is locked so a
// hold taken concurrently keeps its mark.
func (c *Coordinator) releaseIfUnheld(ctx context.Context, seatID uint64) (model.Seat, bool, error) {
    var seat model.Seat
    released := false
    err := c.ledger.InTx(ctx, func(tx repository.LedgerTx) error {
        seats, err := tx.LockSeats(ctx, []uint64{seatID})
        if err != nil {
            return err
        }
        seat = seats[0]
        if seat.Status != model.SeatReserved || seat.HeldByOrder() {
            return nil
        }
        h, err := c.store.Get(ctx, seatID)
        if err != nil {
            return unavailable("release", seatID, err)
        }
        if h != nil {
            return nil
        }
        released = true
        return tx.SetSeat(ctx, seatID, model.SeatAvailable, nil)
    })
    if err != nil {
        return seat, false, fmt.Errorf("reservation: release seat %d: %w", seatID, err)
    }
    return seat, released, nil
}

// freed reports whether the seat is free to take after its hold was
// released.  Seats an order claims or that are sold stay taken.
func freed(seat model.Seat) bool {
    return seat.Status != model.SeatBooked && !seat.HeldByOrder()
}

// validate checks identifiers and existence and returns the seat.
func (c *Coordinator) validate(ctx context.Context, seatID, userID, eventID uint64, checkUser bool) (model.Seat, error) {
    if seatID == 0 || userID == 0 || eventID == 0 {
        return model.Seat{}, fmt.Errorf("reservation: seat, user and event are required: %w", model.ErrValidation)
    }
    if checkUser {
        ok, err := c.ledger.UserExists(ctx, userID)
        if err != nil {
            return model.Seat{}, fmt.Errorf("reservation: %w", err)
        }
        if !ok {
            return model.Seat{}, fmt.Errorf("reservation: user %d: %w", userID, model.ErrNotFound)
        }
    }
    if _, err := c.ledger.Event(ctx, eventID); err != nil {
        return model.Seat{}, fmt.Errorf("reservation: %w", err)
    }
    seat, err := c.ledger.Seat(ctx, seatID)
    if err != nil {
        return model.Seat{}, fmt.Errorf("reservation: %w", err)
    }
    if seat.EventID != eventID {
        return model.Seat{}, fmt.Errorf("reservation: seat %d is not part of event %d: %w", seatID, eventID, model.ErrNotFound)
    }
    return seat, nil
}

func (c *Coordinator) conflict(seatID uint64, reason string) (LockResult, error) {
    return LockResult{Status: StatusConflict, SeatID: seatID, Reason: reason},
        &model.SeatConflictError{SeatID: seatID, Reason: reason}
}

func (c *Coordinator) publish(ctx context.Context, ev model.SeatEvent) {
    if c.bc == nil {
        return
    }
    if ev.At.IsZero() {
        ev.At = c.now().UTC()
    }
    c.bc.Publish(ctx, ev)
}

// unavailable wraps a store failure.  Cancellation is passed through
// so callers can tell a gone client from a gone store.
func unavailable(op string, seatID uint64, err error) error {
    if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, model.ErrUnavailable) {
        return fmt.Errorf("reservation: %s seat %d: %w", op, seatID, err)
    }
    return fmt.Errorf("reservation: %s seat %d: %v: %w", op, seatID, err, model.ErrUnavailable)
}
