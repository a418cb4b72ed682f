package model

import "time"

// Reservation is an ephemeral, exclusive hold of one seat by one user.
// Reservations live only in the reservation store and disappear when
// they expire, when the owner releases them or when an order takes
// over the seat.
//
// Fields:
//  SeatID    – held seat.
//  UserID    – user who owns the hold.
//  EventID   – event the seat belongs to.
//  CreatedAt – when the hold was first placed.
//  ExpiresAt – absolute expiry enforced by the store.
type Reservation struct {
    SeatID    uint64    `json:"seat_id"`
    UserID    uint64    `json:"user_id"`
    EventID   uint64    `json:"event_id"`
    CreatedAt time.Time `json:"created_at"`
    ExpiresAt time.Time `json:"expires_at"`
}

// Remaining returns the hold time left at now, never negative.
func (r Reservation) Remaining(now time.Time) time.Duration {
    d := r.ExpiresAt.Sub(now)
    if d < 0 {
        return 0
    }
    return d
}

// Expired reports whether the hold has lapsed at now.
func (r Reservation) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }
