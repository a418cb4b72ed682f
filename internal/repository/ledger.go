package repository

import (
    "context"
    "time"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// Ledger is the durable record of seat status, orders, tickets and
// category sales.  Reads outside InTx see committed state only.  Every
// mutation happens inside InTx; the reservation coordinator touches a
// single seat per transaction and the booking finalizer a single
// order.
type Ledger interface {
    Seat(ctx context.Context, seatID uint64) (model.Seat, error)
    Event(ctx context.Context, eventID uint64) (model.Event, error)
    Category(ctx context.Context, categoryID uint64) (model.Category, error)
    UserExists(ctx context.Context, userID uint64) (bool, error)
    Order(ctx context.Context, orderID string) (model.Order, error)

    // EventSeats lists every seat of an event ordered by id.
    EventSeats(ctx context.Context, eventID uint64) ([]model.Seat, error)
    // EventCategories lists the ticket categories of an event ordered
    // by id.
    EventCategories(ctx context.Context, eventID uint64) ([]model.Category, error)
    // UnavailableSeats lists the seats of an event that are not
    // AVAILABLE, ordered by id.
    UnavailableSeats(ctx context.Context, eventID uint64) ([]model.Seat, error)
    // ReservedWithoutOrder lists RESERVED seats that no order owns.
    // These are covered by a checkout hold, or by nothing at all when
    // the hold has lapsed.
    ReservedWithoutOrder(ctx context.Context) ([]model.Seat, error)
    // ExpiredPendingOrders returns ids of PENDING orders whose payment
    // deadline is at or before t.
    ExpiredPendingOrders(ctx context.Context, t time.Time) ([]string, error)

    // InTx runs fn in one transaction.  The transaction commits when fn
    // returns nil and rolls back otherwise.
    InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the write side of the ledger, valid only inside InTx.
type LedgerTx interface {
    // LockSeats loads and row-locks the given seats in id order.  A
    // missing seat yields model.ErrNotFound.
    LockSeats(ctx context.Context, seatIDs []uint64) ([]model.Seat, error)
    SetSeat(ctx context.Context, seatID uint64, status model.SeatStatus, orderID *string) error
    Categories(ctx context.Context, categoryIDs []uint64) (map[uint64]model.Category, error)
    IncrementSold(ctx context.Context, categoryID uint64, n uint32) error

    InsertOrder(ctx context.Context, o model.Order) error
    // LockOrder loads and row-locks an order together with its tickets.
    LockOrder(ctx context.Context, orderID string) (model.Order, error)
    // UpdateOrder writes status, payment reference, paid_at and
    // updated_at.
    UpdateOrder(ctx context.Context, o model.Order) error
    SetTicketStatus(ctx context.Context, orderID string, status model.TicketStatus) error
}
