// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names.  Every queue is durable and bound to the default exchange.
const (
    BookingConfirmedQueue = "booking.confirmed"
    BookingReleasedQueue  = "booking.released"
    PaymentResultsQueue   = "payment.results"
)

// BookingConfirmedEvent is published when an order is paid and its seats
// are booked.  It carries enough for downstream consumers to notify or
// run analytics without querying the primary database.
type BookingConfirmedEvent struct {
    OrderID          string   `json:"order_id"`
    UserID           uint64   `json:"user_id"`
    EventID          uint64   `json:"event_id"`
    SeatIDs          []uint64 `json:"seat_ids"`
    TotalAmountCents uint64   `json:"total_amount_cents"`
    PaymentRef       string   `json:"payment_ref,omitempty"`
    ConfirmedAt      string   `json:"confirmed_at"`
}

// BookingReleasedEvent is published when a pending order gives its
// seats back: payment failure, cancellation or timeout.
type BookingReleasedEvent struct {
    OrderID    string   `json:"order_id"`
    UserID     uint64   `json:"user_id"`
    EventID    uint64   `json:"event_id"`
    SeatIDs    []uint64 `json:"seat_ids"`
    Status     string   `json:"status"`
    ReleasedAt string   `json:"released_at"`
}

// PaymentResult is consumed from the payment gateway.
type PaymentResult struct {
    OrderID    string `json:"order_id"`
    Success    bool   `json:"success"`
    PaymentRef string `json:"payment_ref"`
}
