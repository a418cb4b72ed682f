// Package booking turns checkout holds into orders and orders into
// booked or released seats.  Once an order references a seat the
// order's own deadline governs it: the seat-level hold is deleted and
// the expiry sweeper no longer treats the seat as a lapsed hold.
package booking

import (
    "context"
    "errors"
    "fmt"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/seat-reservation-engine/internal/holdstore"
    "github.com/iliyamo/seat-reservation-engine/internal/model"
    "github.com/iliyamo/seat-reservation-engine/internal/queue"
    "github.com/iliyamo/seat-reservation-engine/internal/repository"
    "github.com/iliyamo/seat-reservation-engine/internal/reservation"
)

// Notifier publishes booking outcomes to downstream consumers.
type Notifier interface {
    PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
    PublishBookingReleased(ctx context.Context, ev queue.BookingReleasedEvent) error
}

// Options configures a Finalizer.
type Options struct {
    PendingTTL     time.Duration
    Now            func() time.Time
    NewID          func() string
    PublishTimeout time.Duration
    Logger         *log.Logger
}

// Finalizer owns every order transition.
type Finalizer struct {
    ledger         repository.Ledger
    store          holdstore.Store
    bc             reservation.Broadcaster
    notifier       Notifier
    ttl            time.Duration
    now            func() time.Time
    newID          func() string
    publishTimeout time.Duration
    logger         *log.Logger
}

// NewFinalizer wires a finalizer.  bc and notifier may be nil.
func NewFinalizer(ledger repository.Ledger, store holdstore.Store, bc reservation.Broadcaster, notifier Notifier, opts Options) *Finalizer {
    f := &Finalizer{
        ledger:         ledger,
        store:          store,
        bc:             bc,
        notifier:       notifier,
        ttl:            opts.PendingTTL,
        now:            opts.Now,
        newID:          opts.NewID,
        publishTimeout: opts.PublishTimeout,
        logger:         opts.Logger,
    }
    if f.ttl <= 0 {
        f.ttl = 15 * time.Minute
    }
    if f.now == nil {
        f.now = time.Now
    }
    if f.newID == nil {
        f.newID = uuid.NewString
    }
    if f.publishTimeout <= 0 {
        f.publishTimeout = 3 * time.Second
    }
    if f.logger == nil {
        f.logger = log.New("booking")
    }
    return f
}

// CreatePendingOrder takes the given seats into a new PENDING order.
// Every seat must be AVAILABLE or held by the caller; the first seat
// that is not is named in a *model.SeatConflictError.
func (f *Finalizer) CreatePendingOrder(ctx context.Context, userID, eventID uint64, seatIDs []uint64) (model.Order, error) {
    ids, err := normalizeSeats(seatIDs)
    if err != nil {
        return model.Order{}, err
    }
    if userID == 0 || eventID == 0 {
        return model.Order{}, fmt.Errorf("booking: user and event are required: %w", model.ErrValidation)
    }
    if _, err := f.ledger.Event(ctx, eventID); err != nil {
        return model.Order{}, fmt.Errorf("booking: %w", err)
    }
    if ok, err := f.ledger.UserExists(ctx, userID); err != nil {
        return model.Order{}, fmt.Errorf("booking: %w", err)
    } else if !ok {
        return model.Order{}, fmt.Errorf("booking: user %d: %w", userID, model.ErrNotFound)
    }

    // Fail fast on holds of other buyers before taking row locks.
    for _, id := range ids {
        h, err := f.store.Get(ctx, id)
        if err != nil {
            return model.Order{}, unavailable(err)
        }
        if h != nil && h.UserID != userID {
            return model.Order{}, &model.SeatConflictError{SeatID: id, Reason: model.ReasonHeldByOther}
        }
    }

    now := f.now().UTC()
    order := model.Order{
        ID:        f.newID(),
        UserID:    userID,
        EventID:   eventID,
        Status:    model.OrderPending,
        ExpiresAt: now.Add(f.ttl),
        CreatedAt: now,
        UpdatedAt: now,
    }
    err = f.ledger.InTx(ctx, func(tx repository.LedgerTx) error {
        seats, err := tx.LockSeats(ctx, ids)
        if err != nil {
            return err
        }
        catIDs := make([]uint64, 0, len(seats))
        for _, s := range seats {
            if s.EventID != eventID {
                return fmt.Errorf("seat %d is not part of event %d: %w", s.ID, eventID, model.ErrNotFound)
            }
            if err := f.claimable(ctx, s, userID); err != nil {
                return err
            }
            catIDs = append(catIDs, s.CategoryID)
        }
        cats, err := tx.Categories(ctx, catIDs)
        if err != nil {
            return err
        }
        for _, s := range seats {
            cat, ok := cats[s.CategoryID]
            if !ok {
                return fmt.Errorf("category %d of seat %d: %w", s.CategoryID, s.ID, model.ErrNotFound)
            }
            order.Tickets = append(order.Tickets, model.Ticket{
                ID:         f.newID(),
                OrderID:    order.ID,
                SeatID:     s.ID,
                CategoryID: s.CategoryID,
                PriceCents: cat.PriceCents,
                Status:     model.TicketPending,
            })
            order.TotalAmountCents += uint64(cat.PriceCents)
            if err := tx.SetSeat(ctx, s.ID, model.SeatReserved, &order.ID); err != nil {
                return err
            }
        }
        return tx.InsertOrder(ctx, order)
    })
    if err != nil {
        return model.Order{}, fmt.Errorf("booking: create order: %w", err)
    }

    // The order governs the seats now; drop the checkout holds.
    for _, id := range ids {
        if _, err := f.store.Delete(ctx, id); err != nil {
            f.logger.Warnf("order=%s drop hold seat=%d: %v", order.ID, id, err)
        }
    }
    f.publish(ctx, model.SeatEvent{Type: model.EventSeatReserved, EventID: eventID, SeatIDs: ids, UserID: userID, OrderID: order.ID, ExpiresAt: &order.ExpiresAt})
    f.logger.Infof("order created order=%s user=%d event=%d seats=%v total=%d", order.ID, userID, eventID, ids, order.TotalAmountCents)
    return order, nil
}

// claimable checks one locked seat row.  The store is read again
// while the row is locked so a hold that lapsed after the pre-check and
// went to someone else is not taken over.  A RESERVED row with no live
// hold is a stale mark and is claimed like an AVAILABLE seat.
func (f *Finalizer) claimable(ctx context.Context, s model.Seat, userID uint64) error {
    switch {
    case s.Status == model.SeatBooked:
        return &model.SeatConflictError{SeatID: s.ID, Reason: model.ReasonBooked}
    case s.HeldByOrder():
        return &model.SeatConflictError{SeatID: s.ID, Reason: model.ReasonHeldByOrder}
    }
    h, err := f.store.Get(ctx, s.ID)
    if err != nil {
        return unavailable(err)
    }
    if h != nil && h.UserID != userID {
        return &model.SeatConflictError{SeatID: s.ID, Reason: model.ReasonHeldByOther}
    }
    return nil
}

// MarkBooked records a successful payment.  Calling it again for a
// PAID order is a no-op reported through alreadyFinal; paying an order
// that was cancelled, failed or expired is a conflict.
func (f *Finalizer) MarkBooked(ctx context.Context, orderID, paymentRef string) (order model.Order, alreadyFinal bool, err error) {
    if strings.TrimSpace(orderID) == "" {
        return model.Order{}, false, fmt.Errorf("booking: order id is required: %w", model.ErrValidation)
    }
    now := f.now().UTC()
    err = f.ledger.InTx(ctx, func(tx repository.LedgerTx) error {
        o, err := tx.LockOrder(ctx, orderID)
        if err != nil {
            return err
        }
        order = o
        switch o.Status {
        case model.OrderPaid:
            alreadyFinal = true
            return nil
        case model.OrderPending:
        default:
            return fmt.Errorf("order %s is %s: %w", o.ID, o.Status, model.ErrConflict)
        }
        seats, err := tx.LockSeats(ctx, o.SeatIDs())
        if err != nil {
            return err
        }
        sold := make(map[uint64]uint32)
        for _, s := range seats {
            // A seat still linked to the order is booked even if an
            // interrupted write left it AVAILABLE.
            if s.OrderID == nil || *s.OrderID != o.ID {
                return fmt.Errorf("seat %d is no longer linked to order %s: %w", s.ID, o.ID, model.ErrConflict)
            }
            if s.Status == model.SeatBooked {
                continue
            }
            if err := tx.SetSeat(ctx, s.ID, model.SeatBooked, &o.ID); err != nil {
                return err
            }
            sold[s.CategoryID]++
        }
        for catID, n := range sold {
            if err := tx.IncrementSold(ctx, catID, n); err != nil {
                return err
            }
        }
        if err := tx.SetTicketStatus(ctx, o.ID, model.TicketActive); err != nil {
            return err
        }
        order.Status = model.OrderPaid
        order.PaidAt = &now
        order.UpdatedAt = now
        if paymentRef != "" {
            ref := paymentRef
            order.PaymentRef = &ref
        }
        for i := range order.Tickets {
            order.Tickets[i].Status = model.TicketActive
        }
        return tx.UpdateOrder(ctx, order)
    })
    if err != nil {
        return model.Order{}, false, fmt.Errorf("booking: mark booked: %w", err)
    }
    if alreadyFinal {
        return order, true, nil
    }

    f.publish(ctx, model.SeatEvent{Type: model.EventSeatBooked, EventID: order.EventID, SeatIDs: order.SeatIDs(), UserID: order.UserID, OrderID: order.ID})
    f.notify(ctx, func(ctx context.Context, n Notifier) error {
        ref := ""
        if order.PaymentRef != nil {
            ref = *order.PaymentRef
        }
        return n.PublishBookingConfirmed(ctx, queue.BookingConfirmedEvent{
            OrderID:          order.ID,
            UserID:           order.UserID,
            EventID:          order.EventID,
            SeatIDs:          order.SeatIDs(),
            TotalAmountCents: order.TotalAmountCents,
            PaymentRef:       ref,
            ConfirmedAt:      now.Format(time.RFC3339),
        })
    })
    f.logger.Infof("order paid order=%s seats=%v", order.ID, order.SeatIDs())
    return order, false, nil
}

// Release ends a PENDING order with status FAILED, CANCELLED or
// EXPIRED and gives its seats back.  Category sales are never touched.
// Orders that are no longer pending are returned unchanged with
// released false.
func (f *Finalizer) Release(ctx context.Context, orderID string, status model.OrderStatus) (model.Order, bool, error) {
    return f.release(ctx, orderID, status, "")
}

func (f *Finalizer) release(ctx context.Context, orderID string, status model.OrderStatus, paymentRef string) (order model.Order, released bool, err error) {
    switch status {
    case model.OrderFailed, model.OrderCancelled, model.OrderExpired:
    default:
        return model.Order{}, false, fmt.Errorf("booking: cannot release into %s: %w", status, model.ErrValidation)
    }
    now := f.now().UTC()
    var freed []uint64
    err = f.ledger.InTx(ctx, func(tx repository.LedgerTx) error {
        o, err := tx.LockOrder(ctx, orderID)
        if err != nil {
            return err
        }
        order = o
        if o.Status != model.OrderPending {
            return nil
        }
        if status == model.OrderExpired && now.Before(o.ExpiresAt) {
            return nil
        }
        seats, err := tx.LockSeats(ctx, o.SeatIDs())
        if err != nil {
            return err
        }
        for _, s := range seats {
            if s.OrderID == nil || *s.OrderID != o.ID || s.Status == model.SeatBooked {
                continue
            }
            if err := tx.SetSeat(ctx, s.ID, model.SeatAvailable, nil); err != nil {
                return err
            }
            freed = append(freed, s.ID)
        }
        if err := tx.SetTicketStatus(ctx, o.ID, model.TicketCancelled); err != nil {
            return err
        }
        order.Status = status
        order.UpdatedAt = now
        if paymentRef != "" {
            ref := paymentRef
            order.PaymentRef = &ref
        }
        for i := range order.Tickets {
            order.Tickets[i].Status = model.TicketCancelled
        }
        released = true
        return tx.UpdateOrder(ctx, order)
    })
    if err != nil {
        return model.Order{}, false, fmt.Errorf("booking: release order %s: %w", orderID, err)
    }
    if !released {
        return order, false, nil
    }

    reason := strings.ToLower(string(status))
    if len(freed) > 0 {
        f.publish(ctx, model.SeatEvent{Type: model.EventSeatReleased, EventID: order.EventID, SeatIDs: freed, UserID: order.UserID, OrderID: order.ID, Reason: reason})
    }
    f.notify(ctx, func(ctx context.Context, n Notifier) error {
        return n.PublishBookingReleased(ctx, queue.BookingReleasedEvent{
            OrderID:    order.ID,
            UserID:     order.UserID,
            EventID:    order.EventID,
            SeatIDs:    order.SeatIDs(),
            Status:     string(status),
            ReleasedAt: now.Format(time.RFC3339),
        })
    })
    f.logger.Infof("order released order=%s status=%s seats=%v", order.ID, status, freed)
    return order, true, nil
}

// Fail records a declined payment and releases the order's seats.  An
// order that already settled is returned unchanged.
func (f *Finalizer) Fail(ctx context.Context, orderID, paymentRef string) (model.Order, bool, error) {
    return f.release(ctx, orderID, model.OrderFailed, paymentRef)
}

// HandlePaymentResult applies a gateway outcome.
func (f *Finalizer) HandlePaymentResult(ctx context.Context, orderID string, success bool, paymentRef string) error {
    if success {
        _, _, err := f.MarkBooked(ctx, orderID, paymentRef)
        return err
    }
    _, _, err := f.Fail(ctx, orderID, paymentRef)
    return err
}

// Cancel lets the buyer abandon a pending order.  Cancelling an already
// cancelled order returns it unchanged; any other settled order is a
// conflict.  Orders of other users read as not found.
func (f *Finalizer) Cancel(ctx context.Context, orderID string, userID uint64) (model.Order, error) {
    o, err := f.Order(ctx, orderID, userID)
    if err != nil {
        return model.Order{}, err
    }
    switch o.Status {
    case model.OrderCancelled:
        return o, nil
    case model.OrderPending:
    default:
        return model.Order{}, fmt.Errorf("booking: order %s is %s: %w", o.ID, o.Status, model.ErrConflict)
    }
    o, released, err := f.Release(ctx, orderID, model.OrderCancelled)
    if err != nil {
        return model.Order{}, err
    }
    if !released && o.Status != model.OrderCancelled {
        return model.Order{}, fmt.Errorf("booking: order %s is %s: %w", o.ID, o.Status, model.ErrConflict)
    }
    return o, nil
}

// Order returns an order of userID.
func (f *Finalizer) Order(ctx context.Context, orderID string, userID uint64) (model.Order, error) {
    if strings.TrimSpace(orderID) == "" {
        return model.Order{}, fmt.Errorf("booking: order id is required: %w", model.ErrValidation)
    }
    o, err := f.ledger.Order(ctx, orderID)
    if err != nil {
        return model.Order{}, fmt.Errorf("booking: %w", err)
    }
    if o.UserID != userID {
        return model.Order{}, fmt.Errorf("booking: order %s: %w", orderID, model.ErrNotFound)
    }
    return o, nil
}

// ExpirePending releases every PENDING order past its deadline and
// returns the ids it expired.
func (f *Finalizer) ExpirePending(ctx context.Context) ([]string, error) {
    ids, err := f.ledger.ExpiredPendingOrders(ctx, f.now())
    if err != nil {
        return nil, fmt.Errorf("booking: expire pending: %w", err)
    }
    var expired []string
    var errs []error
    for _, id := range ids {
        _, released, err := f.Release(ctx, id, model.OrderExpired)
        if err != nil {
            errs = append(errs, err)
            continue
        }
        if released {
            expired = append(expired, id)
        }
    }
    return expired, errors.Join(errs...)
}

func (f *Finalizer) publish(ctx context.Context, ev model.SeatEvent) {
    if f.bc == nil {
        return
    }
    ev.At = f.now().UTC()
    f.bc.Publish(ctx, ev)
}

// notify runs a broker publish with its own deadline.  Failures are
// logged; the ledger is already committed.
func (f *Finalizer) notify(ctx context.Context, send func(context.Context, Notifier) error) {
    if f.notifier == nil {
        return
    }
    ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.publishTimeout)
    defer cancel()
    if err := send(ctx, f.notifier); err != nil {
        f.logger.Warnf("publish booking event: %v", err)
    }
}

func normalizeSeats(seatIDs []uint64) ([]uint64, error) {
    if len(seatIDs) == 0 {
        return nil, fmt.Errorf("booking: at least one seat is required: %w", model.ErrValidation)
    }
    ids := append([]uint64(nil), seatIDs...)
    sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
    for i, id := range ids {
        if id == 0 {
            return nil, fmt.Errorf("booking: seat id is required: %w", model.ErrValidation)
        }
        if i > 0 && ids[i-1] == id {
            return nil, fmt.Errorf("booking: seat %d listed twice: %w", id, model.ErrValidation)
        }
    }
    return ids, nil
}

func unavailable(err error) error {
    if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
        return err
    }
    return fmt.Errorf("reservation store: %v: %w", err, model.ErrUnavailable)
}
