package holdstore

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// MemoryStore keeps holds in process memory.  It is only consistent
// within one process and is used as the degraded-mode fallback and by
// single-node development setups.
type MemoryStore struct {
    mu    sync.Mutex
    holds map[uint64]model.Reservation
    now   func() time.Time
}

// NewMemoryStore returns an empty store.  A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
    if now == nil {
        now = time.Now
    }
    return &MemoryStore{holds: make(map[uint64]model.Reservation), now: now}
}

// active returns the live hold for seatID, dropping it when expired.
// Must be called with s.mu held.
func (s *MemoryStore) active(seatID uint64, now time.Time) (model.Reservation, bool) {
    r, ok := s.holds[seatID]
    if !ok {
        return model.Reservation{}, false
    }
    if r.Expired(now) {
        delete(s.holds, seatID)
        return model.Reservation{}, false
    }
    return r, true
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, seatID, userID, eventID uint64, ttl time.Duration, refresh bool) (Outcome, model.Reservation, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    now := s.now().UTC()
    if cur, ok := s.active(seatID, now); ok {
        if cur.UserID != userID {
            return OwnedByOther, cur, nil
        }
        if refresh {
            cur.ExpiresAt = now.Add(ttl)
            s.holds[seatID] = cur
        }
        return AlreadyOwnedBySelf, cur, nil
    }
    r := model.Reservation{
        SeatID:    seatID,
        UserID:    userID,
        EventID:   eventID,
        CreatedAt: now,
        ExpiresAt: now.Add(ttl),
    }
    s.holds[seatID] = r
    return Created, r, nil
}

func (s *MemoryStore) Get(_ context.Context, seatID uint64) (*model.Reservation, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    r, ok := s.active(seatID, s.now().UTC())
    if !ok {
        return nil, nil
    }
    return &r, nil
}

func (s *MemoryStore) Delete(_ context.Context, seatID uint64) (bool, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    _, ok := s.active(seatID, s.now().UTC())
    delete(s.holds, seatID)
    return ok, nil
}

func (s *MemoryStore) ReleaseIfOwner(_ context.Context, seatID, userID uint64) (ReleaseOutcome, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    r, ok := s.active(seatID, s.now().UTC())
    if !ok {
        return Absent, nil
    }
    if r.UserID != userID {
        return NotOwner, nil
    }
    delete(s.holds, seatID)
    return Released, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, userID, eventID uint64) ([]model.Reservation, error) {
    return s.list(func(r model.Reservation) bool { return r.UserID == userID && r.EventID == eventID }), nil
}

func (s *MemoryStore) ListByEvent(_ context.Context, eventID uint64) ([]model.Reservation, error) {
    return s.list(func(r model.Reservation) bool { return r.EventID == eventID }), nil
}

func (s *MemoryStore) list(match func(model.Reservation) bool) []model.Reservation {
    s.mu.Lock()
    defer s.mu.Unlock()
    now := s.now().UTC()
    out := make([]model.Reservation, 0)
    for id := range s.holds {
        r, ok := s.active(id, now)
        if ok && match(r) {
            out = append(out, r)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
    return out
}

func (s *MemoryStore) Degraded() bool { return false }
