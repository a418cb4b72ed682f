package holdstore

import (
    "context"
    "sync"
    "time"

    "github.com/labstack/gommon/log"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// FailoverStore serves holds from a shared primary store and drops to
// an in-process fallback when the primary cannot be reached.  While
// degraded, holds are only exclusive within this process; callers must
// keep the durable seat ledger as the hard gate.  The primary is
// probed again once retryAfter has passed.
type FailoverStore struct {
    primary    Store
    fallback   *MemoryStore
    timeout    time.Duration
    retryAfter time.Duration
    now        func() time.Time
    logger     *log.Logger

    restoreMu sync.Mutex

    mu            sync.Mutex
    degraded      bool
    degradedSince time.Time
    nextProbe     time.Time
}

// NewFailoverStore wraps primary.  timeout bounds every primary call.
func NewFailoverStore(primary Store, timeout, retryAfter time.Duration, now func() time.Time, logger *log.Logger) *FailoverStore {
    if now == nil {
        now = time.Now
    }
    if logger == nil {
        logger = log.New("holdstore")
    }
    if timeout <= 0 {
        timeout = 250 * time.Millisecond
    }
    if retryAfter <= 0 {
        retryAfter = 10 * time.Second
    }
    return &FailoverStore{
        primary:    primary,
        fallback:   NewMemoryStore(now),
        timeout:    timeout,
        retryAfter: retryAfter,
        now:        now,
        logger:     logger,
    }
}

func (f *FailoverStore) usePrimary() bool {
    f.mu.Lock()
    defer f.mu.Unlock()
    return !f.degraded || !f.now().Before(f.nextProbe)
}

func (f *FailoverStore) markHealthy(moved int) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.degraded {
        f.logger.Warnf("reservation store recovered after %s; moved %d local holds back to the shared store", f.now().Sub(f.degradedSince).Round(time.Second), moved)
        f.degraded = false
    }
}

// restore copies the holds granted while degraded into the primary and
// only then lets the primary serve again.  A seat held in this process
// must not read as free once reads switch back.
func (f *FailoverStore) restore(ctx context.Context) error {
    f.restoreMu.Lock()
    defer f.restoreMu.Unlock()
    if !f.Degraded() {
        return nil
    }
    now := f.now()
    moved := 0
    for _, h := range f.fallback.list(func(model.Reservation) bool { return true }) {
        ttl := h.ExpiresAt.Sub(now)
        if ttl <= 0 {
            continue
        }
        cctx, cancel := context.WithTimeout(ctx, f.timeout)
        out, _, err := f.primary.CreateIfAbsent(cctx, h.SeatID, h.UserID, h.EventID, ttl, false)
        cancel()
        if err != nil {
            return err
        }
        if out == OwnedByOther {
            f.logger.Errorf("seat=%d: local hold of user=%d lost to a shared hold taken while degraded", h.SeatID, h.UserID)
        }
        f.fallback.ReleaseIfOwner(ctx, h.SeatID, h.UserID)
        moved++
    }
    f.markHealthy(moved)
    return nil
}

func (f *FailoverStore) markDegraded(op string, err error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    now := f.now()
    if !f.degraded {
        f.degradedSince = now
        f.logger.Errorf("RESERVATION STORE UNAVAILABLE op=%s err=%v: degrading to single-process holds, cross-process exclusivity is not guaranteed", op, err)
    } else {
        f.logger.Warnf("reservation store probe failed op=%s err=%v", op, err)
    }
    f.degraded = true
    f.nextProbe = now.Add(f.retryAfter)
}

// run executes op against the primary with a short timeout, falling
// back when the primary errors.  A cancelled caller context is
// returned as is and never flips the store into degraded mode.
func run[T any](ctx context.Context, f *FailoverStore, op string, primary, fallback func(context.Context) (T, error)) (T, error) {
    if !f.usePrimary() {
        return fallback(ctx)
    }
    var zero T
    err := f.restore(ctx)
    if err == nil {
        cctx, cancel := context.WithTimeout(ctx, f.timeout)
        var v T
        v, err = primary(cctx)
        cancel()
        if err == nil {
            return v, nil
        }
    }
    if ctx.Err() != nil {
        return zero, ctx.Err()
    }
    f.markDegraded(op, err)
    return fallback(ctx)
}

type createResult struct {
    outcome Outcome
    res     model.Reservation
}

func (f *FailoverStore) CreateIfAbsent(ctx context.Context, seatID, userID, eventID uint64, ttl time.Duration, refresh bool) (Outcome, model.Reservation, error) {
    call := func(s Store) func(context.Context) (createResult, error) {
        return func(c context.Context) (createResult, error) {
            o, r, err := s.CreateIfAbsent(c, seatID, userID, eventID, ttl, refresh)
            return createResult{o, r}, err
        }
    }
    r, err := run(ctx, f, "create", call(f.primary), call(f.fallback))
    return r.outcome, r.res, err
}

func (f *FailoverStore) Get(ctx context.Context, seatID uint64) (*model.Reservation, error) {
    return run(ctx, f, "get",
        func(c context.Context) (*model.Reservation, error) { return f.primary.Get(c, seatID) },
        func(c context.Context) (*model.Reservation, error) { return f.fallback.Get(c, seatID) })
}

func (f *FailoverStore) Delete(ctx context.Context, seatID uint64) (bool, error) {
    // Clear any fallback copy too so a hold taken while degraded cannot
    // outlive an order that took the seat over.
    local, _ := f.fallback.Delete(ctx, seatID)
    return run(ctx, f, "delete",
        func(c context.Context) (bool, error) { return f.primary.Delete(c, seatID) },
        func(c context.Context) (bool, error) { return local, nil })
}

func (f *FailoverStore) ReleaseIfOwner(ctx context.Context, seatID, userID uint64) (ReleaseOutcome, error) {
    return run(ctx, f, "release",
        func(c context.Context) (ReleaseOutcome, error) { return f.primary.ReleaseIfOwner(c, seatID, userID) },
        func(c context.Context) (ReleaseOutcome, error) { return f.fallback.ReleaseIfOwner(c, seatID, userID) })
}

func (f *FailoverStore) ListByOwner(ctx context.Context, userID, eventID uint64) ([]model.Reservation, error) {
    return run(ctx, f, "list_owner",
        func(c context.Context) ([]model.Reservation, error) { return f.primary.ListByOwner(c, userID, eventID) },
        func(c context.Context) ([]model.Reservation, error) { return f.fallback.ListByOwner(c, userID, eventID) })
}

func (f *FailoverStore) ListByEvent(ctx context.Context, eventID uint64) ([]model.Reservation, error) {
    return run(ctx, f, "list_event",
        func(c context.Context) ([]model.Reservation, error) { return f.primary.ListByEvent(c, eventID) },
        func(c context.Context) ([]model.Reservation, error) { return f.fallback.ListByEvent(c, eventID) })
}

// Degraded reports whether the last primary call failed.
func (f *FailoverStore) Degraded() bool {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.degraded
}
