package model

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
    OrderPending   OrderStatus = "PENDING"
    OrderPaid      OrderStatus = "PAID"
    OrderCancelled OrderStatus = "CANCELLED"
    OrderExpired   OrderStatus = "EXPIRED"
    OrderFailed    OrderStatus = "FAILED"
)

// Final reports whether no further transition is possible.
func (s OrderStatus) Final() bool { return s != OrderPending }

// TicketStatus tracks a single seat inside an order.
type TicketStatus string

const (
    TicketPending   TicketStatus = "PENDING"
    TicketActive    TicketStatus = "ACTIVE"
    TicketCancelled TicketStatus = "CANCELLED"
)

// Order groups the seats a user checks out together.  While PENDING
// its seats are RESERVED and linked to it; ExpiresAt is the pending
// payment deadline that governs those seats.
//
// Fields:
//  ID               – UUID primary key.
//  UserID           – buyer.
//  EventID          – event of all seats in the order.
//  Status           – PENDING, PAID, CANCELLED, EXPIRED or FAILED.
//  TotalAmountCents – sum of ticket prices.
//  PaymentRef       – gateway reference once known.
//  ExpiresAt        – pending payment deadline.
//  PaidAt           – when payment succeeded.
type Order struct {
    ID               string      `json:"id"`
    UserID           uint64      `json:"user_id"`
    EventID          uint64      `json:"event_id"`
    Status           OrderStatus `json:"status"`
    TotalAmountCents uint64      `json:"total_amount_cents"`
    PaymentRef       *string     `json:"payment_ref,omitempty"`
    ExpiresAt        time.Time   `json:"expires_at"`
    PaidAt           *time.Time  `json:"paid_at,omitempty"`
    CreatedAt        time.Time   `json:"created_at"`
    UpdatedAt        time.Time   `json:"updated_at"`
    Tickets          []Ticket    `json:"tickets"`
}

// SeatIDs lists the seats referenced by the order's tickets.
func (o Order) SeatIDs() []uint64 {
    ids := make([]uint64, 0, len(o.Tickets))
    for _, t := range o.Tickets {
        ids = append(ids, t.SeatID)
    }
    return ids
}

// Ticket links an order to one seat and its price.
type Ticket struct {
    ID         string       `json:"id"`
    OrderID    string       `json:"order_id"`
    SeatID     uint64       `json:"seat_id"`
    CategoryID uint64       `json:"category_id"`
    PriceCents uint32       `json:"price_cents"`
    Status     TicketStatus `json:"status"`
}
