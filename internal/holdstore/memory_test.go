package holdstore

import (
    "context"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/seat-reservation-engine/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func TestMemoryStore_CreateIfAbsent_Outcomes(t *testing.T) {
    clk := clock.NewFake(epoch)
    s := NewMemoryStore(clk.Now)
    ctx := context.Background()

    out, r, err := s.CreateIfAbsent(ctx, 12, 1, 7, 5*time.Minute, true)
    require.NoError(t, err)
    assert.Equal(t, Created, out)
    assert.Equal(t, epoch.Add(5*time.Minute), r.ExpiresAt)

    out, r, err = s.CreateIfAbsent(ctx, 12, 2, 7, 5*time.Minute, true)
    require.NoError(t, err)
    assert.Equal(t, OwnedByOther, out)
    assert.Equal(t, uint64(1), r.UserID)

    clk.Advance(time.Minute)
    out, r, err = s.CreateIfAbsent(ctx, 12, 1, 7, 5*time.Minute, true)
    require.NoError(t, err)
    assert.Equal(t, AlreadyOwnedBySelf, out)
    assert.Equal(t, epoch.Add(6*time.Minute), r.ExpiresAt, "refresh extends the hold")

    out, r, err = s.CreateIfAbsent(ctx, 12, 1, 7, 5*time.Minute, false)
    require.NoError(t, err)
    assert.Equal(t, AlreadyOwnedBySelf, out)
    assert.Equal(t, epoch.Add(6*time.Minute), r.ExpiresAt, "no refresh keeps the expiry")
}

func TestMemoryStore_ExpiredHoldReadsAsAbsent(t *testing.T) {
    clk := clock.NewFake(epoch)
    s := NewMemoryStore(clk.Now)
    ctx := context.Background()

    _, _, err := s.CreateIfAbsent(ctx, 12, 1, 7, 5*time.Minute, true)
    require.NoError(t, err)

    clk.Advance(5 * time.Minute)
    got, err := s.Get(ctx, 12)
    require.NoError(t, err)
    assert.Nil(t, got)

    out, _, err := s.CreateIfAbsent(ctx, 12, 2, 7, 5*time.Minute, true)
    require.NoError(t, err)
    assert.Equal(t, Created, out)
}

func TestMemoryStore_ReleaseIfOwner(t *testing.T) {
    s := NewMemoryStore(nil)
    ctx := context.Background()
    _, _, err := s.CreateIfAbsent(ctx, 12, 1, 7, time.Minute, true)
    require.NoError(t, err)

    out, err := s.ReleaseIfOwner(ctx, 12, 2)
    require.NoError(t, err)
    assert.Equal(t, NotOwner, out)

    out, err = s.ReleaseIfOwner(ctx, 12, 1)
    require.NoError(t, err)
    assert.Equal(t, Released, out)

    out, err = s.ReleaseIfOwner(ctx, 12, 1)
    require.NoError(t, err)
    assert.Equal(t, Absent, out)

    deleted, err := s.Delete(ctx, 12)
    require.NoError(t, err)
    assert.False(t, deleted)
}

func TestMemoryStore_Lists(t *testing.T) {
    s := NewMemoryStore(nil)
    ctx := context.Background()
    for _, seat := range []uint64{3, 1, 2} {
        _, _, err := s.CreateIfAbsent(ctx, seat, 1, 7, time.Minute, true)
        require.NoError(t, err)
    }
    _, _, err := s.CreateIfAbsent(ctx, 9, 2, 7, time.Minute, true)
    require.NoError(t, err)
    _, _, err = s.CreateIfAbsent(ctx, 10, 1, 8, time.Minute, true)
    require.NoError(t, err)

    mine, err := s.ListByOwner(ctx, 1, 7)
    require.NoError(t, err)
    require.Len(t, mine, 3)
    assert.Equal(t, uint64(1), mine[0].SeatID)

    all, err := s.ListByEvent(ctx, 7)
    require.NoError(t, err)
    assert.Len(t, all, 4)
}

func TestMemoryStore_ConcurrentCreateHasOneWinner(t *testing.T) {
    s := NewMemoryStore(nil)
    var created int32
    var wg sync.WaitGroup
    for u := uint64(1); u <= 50; u++ {
        wg.Add(1)
        go func(user uint64) {
            defer wg.Done()
            out, _, err := s.CreateIfAbsent(context.Background(), 12, user, 7, time.Minute, true)
            if err == nil && out == Created {
                atomic.AddInt32(&created, 1)
            }
        }(u)
    }
    wg.Wait()
    assert.Equal(t, int32(1), created)
}
