package reservation

import (
    "context"
    "fmt"
    "time"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// Snapshot is the board a viewer needs on join: every active hold plus
// every seat of the event that is not AVAILABLE.
type Snapshot struct {
    EventID  uint64         `json:"event_id"`
    Holds    []SnapshotHold `json:"holds"`
    Seats    []SeatState    `json:"seats"`
    Degraded bool           `json:"degraded,omitempty"`
    At       time.Time      `json:"at"`
}

type SnapshotHold struct {
    SeatID           uint64    `json:"seat_id"`
    UserID           uint64    `json:"user_id"`
    ExpiresAt        time.Time `json:"expires_at"`
    RemainingSeconds int64     `json:"remaining_seconds"`
}

type SeatState struct {
    SeatID uint64           `json:"seat_id"`
    Status model.SeatStatus `json:"status"`
}

// Snapshot builds the current board of an event.
func (c *Coordinator) Snapshot(ctx context.Context, eventID uint64) (Snapshot, error) {
    if eventID == 0 {
        return Snapshot{}, fmt.Errorf("reservation: event is required: %w", model.ErrValidation)
    }
    if _, err := c.ledger.Event(ctx, eventID); err != nil {
        return Snapshot{}, fmt.Errorf("reservation: %w", err)
    }
    holds, err := c.store.ListByEvent(ctx, eventID)
    if err != nil {
        return Snapshot{}, unavailable("snapshot", 0, err)
    }
    seats, err := c.ledger.UnavailableSeats(ctx, eventID)
    if err != nil {
        return Snapshot{}, fmt.Errorf("reservation: snapshot: %w", err)
    }
    now := c.now()
    snap := Snapshot{
        EventID:  eventID,
        Holds:    make([]SnapshotHold, 0, len(holds)),
        Seats:    make([]SeatState, 0, len(seats)),
        Degraded: c.store.Degraded(),
        At:       now.UTC(),
    }
    for _, h := range holds {
        snap.Holds = append(snap.Holds, SnapshotHold{
            SeatID:           h.SeatID,
            UserID:           h.UserID,
            ExpiresAt:        h.ExpiresAt,
            RemainingSeconds: int64(h.Remaining(now).Round(time.Second) / time.Second),
        })
    }
    for _, s := range seats {
        snap.Seats = append(snap.Seats, SeatState{SeatID: s.ID, Status: s.Status})
    }
    return snap, nil
}
