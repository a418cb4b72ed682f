package repository

import (
    "context"
    "fmt"
    "sort"
    "sync"
    "time"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// MemoryLedger is an in-process Ledger used by tests and by local runs
// with LEDGER_DRIVER=memory.  Transactions are serialised by a single
// mutex and rolled back by restoring a copy of the mutable tables.
type MemoryLedger struct {
    mu         sync.RWMutex
    now        func() time.Time
    events     map[uint64]model.Event
    categories map[uint64]model.Category
    seats      map[uint64]model.Seat
    orders     map[string]model.Order
    users      map[uint64]model.User
    nextUserID uint64
}

// NewMemoryLedger returns an empty ledger.  now defaults to time.Now.
func NewMemoryLedger(now func() time.Time) *MemoryLedger {
    if now == nil {
        now = time.Now
    }
    return &MemoryLedger{
        now:        now,
        events:     make(map[uint64]model.Event),
        categories: make(map[uint64]model.Category),
        seats:      make(map[uint64]model.Seat),
        orders:     make(map[string]model.Order),
        users:      make(map[uint64]model.User),
    }
}

// AddEvent, AddCategory and AddSeat load inventory.  Seats default to
// AVAILABLE and inherit their event from the category.
func (l *MemoryLedger) AddEvent(e model.Event) {
    l.mu.Lock()
    defer l.mu.Unlock()
    l.events[e.ID] = e
}

func (l *MemoryLedger) AddCategory(c model.Category) {
    l.mu.Lock()
    defer l.mu.Unlock()
    l.categories[c.ID] = c
}

func (l *MemoryLedger) AddSeat(s model.Seat) {
    l.mu.Lock()
    defer l.mu.Unlock()
    if s.Status == "" {
        s.Status = model.SeatAvailable
    }
    if c, ok := l.categories[s.CategoryID]; ok && s.EventID == 0 {
        s.EventID = c.EventID
    }
    s.UpdatedAt = l.now().UTC()
    l.seats[s.ID] = s
}

// AddUser registers a user and returns its id.
func (l *MemoryLedger) AddUser(u model.User) uint64 {
    l.mu.Lock()
    defer l.mu.Unlock()
    return l.addUserLocked(u)
}

func (l *MemoryLedger) addUserLocked(u model.User) uint64 {
    if u.ID == 0 {
        l.nextUserID++
        u.ID = l.nextUserID
    } else if u.ID > l.nextUserID {
        l.nextUserID = u.ID
    }
    if u.CreatedAt.IsZero() {
        u.CreatedAt = l.now().UTC()
    }
    l.users[u.ID] = u
    return u.ID
}

func (l *MemoryLedger) Seat(_ context.Context, seatID uint64) (model.Seat, error) {
    l.mu.RLock()
    defer l.mu.RUnlock()
    s, ok := l.seats[seatID]
    if !ok {
        return model.Seat{}, fmt.Errorf("seat %d: %w", seatID, model.ErrNotFound)
    }
    return copySeat(s), nil
}

func (l *MemoryLedger) Event(_ context.Context, eventID uint64) (model.Event, error) {
    l.mu.RLock()
    defer l.mu.RUnlock()
    e, ok := l.events[eventID]
    if !ok {
        return model.Event{}, fmt.Errorf("event %d: %w", eventID, model.ErrNotFound)
    }
    return e, nil
}

func (l *MemoryLedger) Category(_ context.Context, categoryID uint64) (model.Category, error) {
    l.mu.RLock()
    defer l.mu.RUnlock()
    c, ok := l.categories[categoryID]
    if !ok {
        return model.Category{}, fmt.Errorf("category %d: %w", categoryID, model.ErrNotFound)
    }
    return c, nil
}

func (l *MemoryLedger) UserExists(_ context.Context, userID uint64) (bool, error) {
    l.mu.RLock()
    defer l.mu.RUnlock()
    u, ok := l.users[userID]
    return ok && u.IsActive, nil
}

func (l *MemoryLedger) Order(_ context.Context, orderID string) (model.Order, error) {
    l.mu.RLock()
    defer l.mu.RUnlock()
    o, ok := l.orders[orderID]
    if !ok {
        return model.Order{}, fmt.Errorf("order %s: %w", orderID, model.ErrNotFound)
    }
    return copyOrder(o), nil
}

func (l *MemoryLedger) EventSeats(_ context.Context, eventID uint64) ([]model.Seat, error) {
    return l.filterSeats(func(s model.Seat) bool { return s.EventID == eventID }), nil
}

func (l *MemoryLedger) EventCategories(_ context.Context, eventID uint64) ([]model.Category, error) {
    l.mu.RLock()
    defer l.mu.RUnlock()
    var out []model.Category
    for _, c := range l.categories {
        if c.EventID == eventID {
            out = append(out, c)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

func (l *MemoryLedger) UnavailableSeats(_ context.Context, eventID uint64) ([]model.Seat, error) {
    return l.filterSeats(func(s model.Seat) bool {
        return s.EventID == eventID && s.Status != model.SeatAvailable
    }), nil
}

func (l *MemoryLedger) ReservedWithoutOrder(_ context.Context) ([]model.Seat, error) {
    return l.filterSeats(func(s model.Seat) bool {
        return s.Status == model.SeatReserved && !s.HeldByOrder()
    }), nil
}

func (l *MemoryLedger) filterSeats(keep func(model.Seat) bool) []model.Seat {
    l.mu.RLock()
    defer l.mu.RUnlock()
    var out []model.Seat
    for _, s := range l.seats {
        if keep(s) {
            out = append(out, copySeat(s))
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out
}

func (l *MemoryLedger) ExpiredPendingOrders(_ context.Context, t time.Time) ([]string, error) {
    l.mu.RLock()
    defer l.mu.RUnlock()
    var pending []model.Order
    for _, o := range l.orders {
        if o.Status == model.OrderPending && !o.ExpiresAt.After(t) {
            pending = append(pending, o)
        }
    }
    sort.Slice(pending, func(i, j int) bool { return pending[i].ExpiresAt.Before(pending[j].ExpiresAt) })
    ids := make([]string, len(pending))
    for i, o := range pending {
        ids[i] = o.ID
    }
    return ids, nil
}

func (l *MemoryLedger) InTx(ctx context.Context, fn func(tx LedgerTx) error) error {
    if err := ctx.Err(); err != nil {
        return err
    }
    l.mu.Lock()
    defer l.mu.Unlock()
    seats := make(map[uint64]model.Seat, len(l.seats))
    for k, v := range l.seats {
        seats[k] = v
    }
    categories := make(map[uint64]model.Category, len(l.categories))
    for k, v := range l.categories {
        categories[k] = v
    }
    orders := make(map[string]model.Order, len(l.orders))
    for k, v := range l.orders {
        orders[k] = v
    }
    if err := fn(&memoryLedgerTx{l: l}); err != nil {
        l.seats, l.categories, l.orders = seats, categories, orders
        return err
    }
    return nil
}

// memoryLedgerTx runs with l.mu held for writing.
type memoryLedgerTx struct {
    l *MemoryLedger
}

func (t *memoryLedgerTx) LockSeats(_ context.Context, seatIDs []uint64) ([]model.Seat, error) {
    ids := append([]uint64(nil), seatIDs...)
    sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
    out := make([]model.Seat, 0, len(ids))
    for _, id := range ids {
        s, ok := t.l.seats[id]
        if !ok {
            return nil, fmt.Errorf("seat %d: %w", id, model.ErrNotFound)
        }
        out = append(out, copySeat(s))
    }
    return out, nil
}

func (t *memoryLedgerTx) SetSeat(_ context.Context, seatID uint64, status model.SeatStatus, orderID *string) error {
    s, ok := t.l.seats[seatID]
    if !ok {
        return fmt.Errorf("seat %d: %w", seatID, model.ErrNotFound)
    }
    s.Status = status
    s.OrderID = nil
    if orderID != nil {
        oid := *orderID
        s.OrderID = &oid
    }
    s.UpdatedAt = t.l.now().UTC()
    t.l.seats[seatID] = s
    return nil
}

func (t *memoryLedgerTx) Categories(_ context.Context, categoryIDs []uint64) (map[uint64]model.Category, error) {
    out := make(map[uint64]model.Category, len(categoryIDs))
    for _, id := range categoryIDs {
        if c, ok := t.l.categories[id]; ok {
            out[id] = c
        }
    }
    return out, nil
}

func (t *memoryLedgerTx) IncrementSold(_ context.Context, categoryID uint64, n uint32) error {
    c, ok := t.l.categories[categoryID]
    if !ok {
        return fmt.Errorf("category %d: %w", categoryID, model.ErrNotFound)
    }
    c.Sold += n
    t.l.categories[categoryID] = c
    return nil
}

func (t *memoryLedgerTx) InsertOrder(_ context.Context, o model.Order) error {
    if _, exists := t.l.orders[o.ID]; exists {
        return fmt.Errorf("insert order %s: duplicate id", o.ID)
    }
    t.l.orders[o.ID] = copyOrder(o)
    return nil
}

func (t *memoryLedgerTx) LockOrder(_ context.Context, orderID string) (model.Order, error) {
    o, ok := t.l.orders[orderID]
    if !ok {
        return model.Order{}, fmt.Errorf("order %s: %w", orderID, model.ErrNotFound)
    }
    return copyOrder(o), nil
}

func (t *memoryLedgerTx) UpdateOrder(_ context.Context, o model.Order) error {
    cur, ok := t.l.orders[o.ID]
    if !ok {
        return fmt.Errorf("order %s: %w", o.ID, model.ErrNotFound)
    }
    cur.Status = o.Status
    cur.PaymentRef = o.PaymentRef
    cur.PaidAt = o.PaidAt
    cur.UpdatedAt = o.UpdatedAt
    t.l.orders[o.ID] = cur
    return nil
}

func (t *memoryLedgerTx) SetTicketStatus(_ context.Context, orderID string, status model.TicketStatus) error {
    o, ok := t.l.orders[orderID]
    if !ok {
        return fmt.Errorf("order %s: %w", orderID, model.ErrNotFound)
    }
    tickets := make([]model.Ticket, len(o.Tickets))
    for i, tk := range o.Tickets {
        tk.Status = status
        tickets[i] = tk
    }
    o.Tickets = tickets
    t.l.orders[orderID] = o
    return nil
}

func copySeat(s model.Seat) model.Seat {
    if s.OrderID != nil {
        oid := *s.OrderID
        s.OrderID = &oid
    }
    return s
}

func copyOrder(o model.Order) model.Order {
    o.Tickets = append([]model.Ticket(nil), o.Tickets...)
    return o
}
