// Package model holds the domain types shared by the reservation,
// booking and real-time layers together with the error taxonomy that
// handlers translate into status codes.
package model

import (
    "errors"
    "fmt"
)

var (
    // ErrValidation marks missing or malformed identifiers.
    ErrValidation = errors.New("validation error")
    // ErrNotFound marks an unknown seat, user, event or order.
    ErrNotFound = errors.New("not found")
    // ErrConflict marks a seat held by someone else, an already booked
    // seat or an order that can no longer make the requested move.
    ErrConflict = errors.New("conflict")
    // ErrUnavailable marks an unreachable backing store.
    ErrUnavailable = errors.New("service unavailable")
)

// SeatConflictError names the seat that blocked an operation.
type SeatConflictError struct {
    SeatID uint64
    Reason string
}

func (e *SeatConflictError) Error() string {
    return fmt.Sprintf("seat %d unavailable: %s", e.SeatID, e.Reason)
}

func (e *SeatConflictError) Unwrap() error { return ErrConflict }

// Conflict reasons reported to clients.
const (
    ReasonHeldByOther = "held_by_other"
    ReasonHeldByOrder = "held_by_order"
    ReasonBooked      = "booked"
)
