package model

import "time"

// SeatStatus is the durable availability state of a seat.
type SeatStatus string

const (
    SeatAvailable SeatStatus = "AVAILABLE"
    SeatReserved  SeatStatus = "RESERVED"
    SeatBooked    SeatStatus = "BOOKED"
)

// Seat describes a sellable seat of an event.  Seats belong to a
// ticket category and carry the durable availability status that
// the seat ledger guards.  OrderID is set while a pending or paid
// order references the seat; from that point the order, not the
// short checkout hold, governs the seat.
//
// Fields:
//  ID         – primary key identifier.
//  CategoryID – ticket category the seat is sold under.
//  EventID    – event the seat belongs to (denormalised from category).
//  Label      – human readable label such as "S12".
//  Status     – AVAILABLE, RESERVED or BOOKED.
//  OrderID    – order holding the seat (nil when not part of an order).
//  UpdatedAt  – timestamp of last status change.
type Seat struct {
    ID         uint64     // seats.id
    CategoryID uint64     // seats.category_id
    EventID    uint64     // seats.event_id
    Label      string     // seats.label
    Status     SeatStatus // seats.status
    OrderID    *string    // seats.order_id (nullable)
    UpdatedAt  time.Time  // seats.updated_at
}

// HeldByOrder reports whether an order currently owns the seat.
func (s Seat) HeldByOrder() bool { return s.OrderID != nil && *s.OrderID != "" }

// CanTransition reports whether the seat state machine allows moving
// from one status to another.  BOOKED is terminal for this service;
// releasing a booked seat belongs to the refund flow.
func CanTransition(from, to SeatStatus) bool {
    switch from {
    case SeatAvailable:
        return to == SeatReserved
    case SeatReserved:
        return to == SeatAvailable || to == SeatReserved || to == SeatBooked
    }
    return false
}

// Category is a ticket category of an event.  Sold counts the seats
// sold under the category and is only ever incremented when an order
// is paid.
type Category struct {
    ID         uint64 // ticket_categories.id
    EventID    uint64 // ticket_categories.event_id
    Name       string // ticket_categories.name
    PriceCents uint32 // ticket_categories.price_cents
    Capacity   uint32 // ticket_categories.capacity
    Sold       uint32 // ticket_categories.sold
}

// Event is the show or concert seats are sold for.  Its ID is also
// the partition key of the real-time room.
type Event struct {
    ID       uint64    // events.id
    Title    string    // events.title
    StartsAt time.Time // events.starts_at
}
