package repository

import (
    "context"
    "database/sql"
    "fmt"
    "strings"
    "time"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// SQLLedger implements Ledger on MySQL.  Row locks are taken with
// SELECT ... FOR UPDATE and multi-row locks always in ascending id
// order so concurrent orders cannot deadlock on each other.
type SQLLedger struct {
    db *sql.DB
}

// NewSQLLedger returns a ledger bound to db.
func NewSQLLedger(db *sql.DB) *SQLLedger { return &SQLLedger{db: db} }

// DB exposes the underlying handle for health checks.
func (l *SQLLedger) DB() *sql.DB { return l.db }

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
    ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
    QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
    QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const seatColumns = `id, category_id, event_id, label, status, order_id, updated_at`

type rowScanner interface {
    Scan(dest ...interface{}) error
}

func scanSeat(r rowScanner) (model.Seat, error) {
    var s model.Seat
    var status string
    var orderID sql.NullString
    if err := r.Scan(&s.ID, &s.CategoryID, &s.EventID, &s.Label, &status, &orderID, &s.UpdatedAt); err != nil {
        return model.Seat{}, err
    }
    s.Status = model.SeatStatus(status)
    if orderID.Valid {
        oid := orderID.String
        s.OrderID = &oid
    }
    return s, nil
}

func querySeats(ctx context.Context, q queryer, query string, args ...interface{}) ([]model.Seat, error) {
    rows, err := q.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Seat
    for rows.Next() {
        s, err := scanSeat(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (l *SQLLedger) Seat(ctx context.Context, seatID uint64) (model.Seat, error) {
    s, err := scanSeat(l.db.QueryRowContext(ctx, `SELECT `+seatColumns+` FROM seats WHERE id = ?`, seatID))
    if err != nil {
        return model.Seat{}, notFound(err, fmt.Sprintf("seat %d", seatID))
    }
    return s, nil
}

func (l *SQLLedger) Event(ctx context.Context, eventID uint64) (model.Event, error) {
    var e model.Event
    err := l.db.QueryRowContext(ctx, `SELECT id, title, starts_at FROM events WHERE id = ?`, eventID).
        Scan(&e.ID, &e.Title, &e.StartsAt)
    if err != nil {
        return model.Event{}, notFound(err, fmt.Sprintf("event %d", eventID))
    }
    return e, nil
}

func (l *SQLLedger) Category(ctx context.Context, categoryID uint64) (model.Category, error) {
    var c model.Category
    err := l.db.QueryRowContext(ctx,
        `SELECT id, event_id, name, price_cents, capacity, sold FROM ticket_categories WHERE id = ?`, categoryID).
        Scan(&c.ID, &c.EventID, &c.Name, &c.PriceCents, &c.Capacity, &c.Sold)
    if err != nil {
        return model.Category{}, notFound(err, fmt.Sprintf("category %d", categoryID))
    }
    return c, nil
}

func (l *SQLLedger) UserExists(ctx context.Context, userID uint64) (bool, error) {
    var n int
    err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ? AND is_active = 1`, userID).Scan(&n)
    if err != nil {
        return false, fmt.Errorf("user %d: %w", userID, err)
    }
    return n > 0, nil
}

func (l *SQLLedger) Order(ctx context.Context, orderID string) (model.Order, error) {
    return loadOrder(ctx, l.db, orderID, false)
}

func (l *SQLLedger) EventSeats(ctx context.Context, eventID uint64) ([]model.Seat, error) {
    seats, err := querySeats(ctx, l.db,
        `SELECT `+seatColumns+` FROM seats WHERE event_id = ? ORDER BY id`, eventID)
    if err != nil {
        return nil, fmt.Errorf("seats of event %d: %w", eventID, err)
    }
    return seats, nil
}

func (l *SQLLedger) EventCategories(ctx context.Context, eventID uint64) ([]model.Category, error) {
    rows, err := l.db.QueryContext(ctx,
        `SELECT id, event_id, name, price_cents, capacity, sold FROM ticket_categories WHERE event_id = ? ORDER BY id`, eventID)
    if err != nil {
        return nil, fmt.Errorf("categories of event %d: %w", eventID, err)
    }
    defer rows.Close()
    var out []model.Category
    for rows.Next() {
        var c model.Category
        if err := rows.Scan(&c.ID, &c.EventID, &c.Name, &c.PriceCents, &c.Capacity, &c.Sold); err != nil {
            return nil, err
        }
        out = append(out, c)
    }
    return out, rows.Err()
}

func (l *SQLLedger) UnavailableSeats(ctx context.Context, eventID uint64) ([]model.Seat, error) {
    seats, err := querySeats(ctx, l.db,
        `SELECT `+seatColumns+` FROM seats WHERE event_id = ? AND status <> 'AVAILABLE' ORDER BY id`, eventID)
    if err != nil {
        return nil, fmt.Errorf("seats of event %d: %w", eventID, err)
    }
    return seats, nil
}

func (l *SQLLedger) ReservedWithoutOrder(ctx context.Context) ([]model.Seat, error) {
    seats, err := querySeats(ctx, l.db,
        `SELECT `+seatColumns+` FROM seats WHERE status = 'RESERVED' AND order_id IS NULL ORDER BY id`)
    if err != nil {
        return nil, fmt.Errorf("reserved seats: %w", err)
    }
    return seats, nil
}

func (l *SQLLedger) ExpiredPendingOrders(ctx context.Context, t time.Time) ([]string, error) {
    rows, err := l.db.QueryContext(ctx,
        `SELECT id FROM orders WHERE status = 'PENDING' AND expires_at <= ? ORDER BY expires_at`, t.UTC())
    if err != nil {
        return nil, fmt.Errorf("expired orders: %w", err)
    }
    defer rows.Close()
    var ids []string
    for rows.Next() {
        var id string
        if err := rows.Scan(&id); err != nil {
            return nil, err
        }
        ids = append(ids, id)
    }
    return ids, rows.Err()
}

func (l *SQLLedger) InTx(ctx context.Context, fn func(tx LedgerTx) error) error {
    tx, err := l.db.BeginTx(ctx, nil)
    if err != nil {
        return fmt.Errorf("begin: %w", err)
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()
    if err := fn(&sqlLedgerTx{tx: tx}); err != nil {
        return err
    }
    if err := tx.Commit(); err != nil {
        return fmt.Errorf("commit: %w", err)
    }
    committed = true
    return nil
}

type sqlLedgerTx struct {
    tx *sql.Tx
}

func placeholders(n int) string {
    return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (t *sqlLedgerTx) LockSeats(ctx context.Context, seatIDs []uint64) ([]model.Seat, error) {
    if len(seatIDs) == 0 {
        return nil, nil
    }
    args := make([]interface{}, len(seatIDs))
    for i, id := range seatIDs {
        args[i] = id
    }
    seats, err := querySeats(ctx, t.tx,
        `SELECT `+seatColumns+` FROM seats WHERE id IN (`+placeholders(len(seatIDs))+`) ORDER BY id FOR UPDATE`, args...)
    if err != nil {
        return nil, fmt.Errorf("lock seats: %w", err)
    }
    if len(seats) != len(seatIDs) {
        found := make(map[uint64]bool, len(seats))
        for _, s := range seats {
            found[s.ID] = true
        }
        for _, id := range seatIDs {
            if !found[id] {
                return nil, fmt.Errorf("seat %d: %w", id, model.ErrNotFound)
            }
        }
    }
    return seats, nil
}

func (t *sqlLedgerTx) SetSeat(ctx context.Context, seatID uint64, status model.SeatStatus, orderID *string) error {
    _, err := t.tx.ExecContext(ctx,
        `UPDATE seats SET status = ?, order_id = ?, updated_at = UTC_TIMESTAMP(3) WHERE id = ?`,
        string(status), orderID, seatID)
    if err != nil {
        return fmt.Errorf("update seat %d: %w", seatID, err)
    }
    return nil
}

func (t *sqlLedgerTx) Categories(ctx context.Context, categoryIDs []uint64) (map[uint64]model.Category, error) {
    out := make(map[uint64]model.Category, len(categoryIDs))
    if len(categoryIDs) == 0 {
        return out, nil
    }
    args := make([]interface{}, len(categoryIDs))
    for i, id := range categoryIDs {
        args[i] = id
    }
    rows, err := t.tx.QueryContext(ctx,
        `SELECT id, event_id, name, price_cents, capacity, sold FROM ticket_categories WHERE id IN (`+placeholders(len(categoryIDs))+`)`, args...)
    if err != nil {
        return nil, fmt.Errorf("categories: %w", err)
    }
    defer rows.Close()
    for rows.Next() {
        var c model.Category
        if err := rows.Scan(&c.ID, &c.EventID, &c.Name, &c.PriceCents, &c.Capacity, &c.Sold); err != nil {
            return nil, err
        }
        out[c.ID] = c
    }
    return out, rows.Err()
}

func (t *sqlLedgerTx) IncrementSold(ctx context.Context, categoryID uint64, n uint32) error {
    _, err := t.tx.ExecContext(ctx, `UPDATE ticket_categories SET sold = sold + ? WHERE id = ?`, n, categoryID)
    if err != nil {
        return fmt.Errorf("increment sold of category %d: %w", categoryID, err)
    }
    return nil
}

func (t *sqlLedgerTx) InsertOrder(ctx context.Context, o model.Order) error {
    const q = `INSERT INTO orders (id, user_id, event_id, status, total_amount_cents, payment_ref, expires_at, paid_at, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
    _, err := t.tx.ExecContext(ctx, q, o.ID, o.UserID, o.EventID, string(o.Status), o.TotalAmountCents,
        o.PaymentRef, o.ExpiresAt.UTC(), o.PaidAt, o.CreatedAt.UTC(), o.UpdatedAt.UTC())
    if err != nil {
        return fmt.Errorf("insert order: %w", err)
    }
    if len(o.Tickets) == 0 {
        return nil
    }
    query := `INSERT INTO tickets (id, order_id, seat_id, category_id, price_cents, status) VALUES `
    args := make([]interface{}, 0, len(o.Tickets)*6)
    for i, tk := range o.Tickets {
        if i > 0 {
            query += ","
        }
        query += "(?, ?, ?, ?, ?, ?)"
        args = append(args, tk.ID, o.ID, tk.SeatID, tk.CategoryID, tk.PriceCents, string(tk.Status))
    }
    if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
        return fmt.Errorf("insert tickets: %w", err)
    }
    return nil
}

func (t *sqlLedgerTx) LockOrder(ctx context.Context, orderID string) (model.Order, error) {
    return loadOrder(ctx, t.tx, orderID, true)
}

func (t *sqlLedgerTx) UpdateOrder(ctx context.Context, o model.Order) error {
    _, err := t.tx.ExecContext(ctx,
        `UPDATE orders SET status = ?, payment_ref = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
        string(o.Status), o.PaymentRef, o.PaidAt, o.UpdatedAt.UTC(), o.ID)
    if err != nil {
        return fmt.Errorf("update order %s: %w", o.ID, err)
    }
    return nil
}

func (t *sqlLedgerTx) SetTicketStatus(ctx context.Context, orderID string, status model.TicketStatus) error {
    _, err := t.tx.ExecContext(ctx, `UPDATE tickets SET status = ? WHERE order_id = ?`, string(status), orderID)
    if err != nil {
        return fmt.Errorf("update tickets of order %s: %w", orderID, err)
    }
    return nil
}

// loadOrder reads an order and its tickets.  With forUpdate the order
// row is locked until the surrounding transaction ends.
func loadOrder(ctx context.Context, q queryer, orderID string, forUpdate bool) (model.Order, error) {
    query := `SELECT id, user_id, event_id, status, total_amount_cents, payment_ref, expires_at, paid_at, created_at, updated_at
              FROM orders WHERE id = ?`
    if forUpdate {
        query += ` FOR UPDATE`
    }
    var o model.Order
    var status string
    var paymentRef sql.NullString
    var paidAt sql.NullTime
    err := q.QueryRowContext(ctx, query, orderID).Scan(&o.ID, &o.UserID, &o.EventID, &status,
        &o.TotalAmountCents, &paymentRef, &o.ExpiresAt, &paidAt, &o.CreatedAt, &o.UpdatedAt)
    if err != nil {
        return model.Order{}, notFound(err, "order "+orderID)
    }
    o.Status = model.OrderStatus(status)
    if paymentRef.Valid {
        pr := paymentRef.String
        o.PaymentRef = &pr
    }
    if paidAt.Valid {
        pa := paidAt.Time
        o.PaidAt = &pa
    }
    rows, err := q.QueryContext(ctx,
        `SELECT id, order_id, seat_id, category_id, price_cents, status FROM tickets WHERE order_id = ? ORDER BY seat_id`, orderID)
    if err != nil {
        return model.Order{}, fmt.Errorf("tickets of order %s: %w", orderID, err)
    }
    defer rows.Close()
    for rows.Next() {
        var tk model.Ticket
        var ts string
        if err := rows.Scan(&tk.ID, &tk.OrderID, &tk.SeatID, &tk.CategoryID, &tk.PriceCents, &ts); err != nil {
            return model.Order{}, err
        }
        tk.Status = model.TicketStatus(ts)
        o.Tickets = append(o.Tickets, tk)
    }
    return o, rows.Err()
}
