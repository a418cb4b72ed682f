package model

import "time"

// SeatEventType names a real-time notification.
type SeatEventType string

// Room broadcasts.  They are emitted only after the reservation store
// and the seat ledger have both been updated.
const (
    EventSeatLocked   SeatEventType = "seat_locked"
    EventSeatUnlocked SeatEventType = "seat_unlocked"
    EventSeatReserved SeatEventType = "seat_reserved"
    EventSeatReleased SeatEventType = "seat_released"
    EventSeatExpired  SeatEventType = "seat_expired"
    EventSeatBooked   SeatEventType = "seat_booked"
)

// SeatEvent is one state transition published to an event room.
type SeatEvent struct {
    Type      SeatEventType `json:"type"`
    EventID   uint64        `json:"event_id"`
    SeatIDs   []uint64      `json:"seat_ids"`
    UserID    uint64        `json:"user_id,omitempty"`
    OrderID   string        `json:"order_id,omitempty"`
    Reason    string        `json:"reason,omitempty"`
    ExpiresAt *time.Time    `json:"expires_at,omitempty"`
    At        time.Time     `json:"at"`
}
