// Package holdstore implements the reservation store: the shared,
// TTL-bounded record of which user holds which seat.  The Redis store
// is the cross-process source of truth; the memory store backs the
// single-process fallback used while Redis is unreachable.
package holdstore

import (
    "context"
    "time"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// Outcome is the result of a conditional hold write.
type Outcome int

const (
    // Created means no hold existed and the caller now owns the seat.
    Created Outcome = iota + 1
    // AlreadyOwnedBySelf means the caller already held the seat.
    AlreadyOwnedBySelf
    // OwnedByOther means another user holds the seat.
    OwnedByOther
)

func (o Outcome) String() string {
    switch o {
    case Created:
        return "created"
    case AlreadyOwnedBySelf:
        return "already_owned_by_self"
    case OwnedByOther:
        return "owned_by_other"
    }
    return "unknown"
}

// ReleaseOutcome is the result of an owner-checked delete.
type ReleaseOutcome int

const (
    // Released means the caller's hold was removed.
    Released ReleaseOutcome = iota + 1
    // Absent means no active hold existed.
    Absent
    // NotOwner means the seat is held by a different user and was left alone.
    NotOwner
)

// Store is the reservation store contract.  Every implementation
// enforces expiry itself: reading an expired hold behaves as absent.
type Store interface {
    // CreateIfAbsent atomically places a hold unless one exists.  When
    // the caller already owns the hold and refresh is true the expiry
    // is pushed to now+ttl.  The returned reservation is the one that
    // is active after the call, whoever owns it.
    CreateIfAbsent(ctx context.Context, seatID, userID, eventID uint64, ttl time.Duration, refresh bool) (Outcome, model.Reservation, error)
    // Get returns the active hold for a seat or nil.
    Get(ctx context.Context, seatID uint64) (*model.Reservation, error)
    // Delete removes a hold regardless of owner.  Deleting an absent
    // hold is not an error and reports false.
    Delete(ctx context.Context, seatID uint64) (bool, error)
    // ReleaseIfOwner atomically removes the hold only when userID owns it.
    ReleaseIfOwner(ctx context.Context, seatID, userID uint64) (ReleaseOutcome, error)
    // ListByOwner returns the user's active holds for an event.
    ListByOwner(ctx context.Context, userID, eventID uint64) ([]model.Reservation, error)
    // ListByEvent returns all active holds for an event.
    ListByEvent(ctx context.Context, eventID uint64) ([]model.Reservation, error)
    // Degraded reports whether the store is serving from the
    // single-process fallback.
    Degraded() bool
}
