package holdstore

import (
    "context"
    "errors"
    "io"
    "testing"
    "time"

    "github.com/labstack/gommon/log"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/seat-reservation-engine/internal/clock"
    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// flakyStore fails every call while down is set.
type flakyStore struct {
    *MemoryStore
    down bool
}

var errDown = errors.New("connection refused")

func (f *flakyStore) CreateIfAbsent(ctx context.Context, seatID, userID, eventID uint64, ttl time.Duration, refresh bool) (Outcome, model.Reservation, error) {
    if f.down {
        return 0, model.Reservation{}, errDown
    }
    return f.MemoryStore.CreateIfAbsent(ctx, seatID, userID, eventID, ttl, refresh)
}

func (f *flakyStore) Get(ctx context.Context, seatID uint64) (*model.Reservation, error) {
    if f.down {
        return nil, errDown
    }
    return f.MemoryStore.Get(ctx, seatID)
}

func quietLogger() *log.Logger {
    l := log.New("test")
    l.SetOutput(io.Discard)
    return l
}

func TestFailoverStore_DegradesAndRecovers(t *testing.T) {
    clk := clock.NewFake(epoch)
    primary := &flakyStore{MemoryStore: NewMemoryStore(clk.Now)}
    f := NewFailoverStore(primary, 50*time.Millisecond, 10*time.Second, clk.Now, quietLogger())
    ctx := context.Background()

    out, _, err := f.CreateIfAbsent(ctx, 1, 1, 7, time.Minute, true)
    require.NoError(t, err)
    assert.Equal(t, Created, out)
    assert.False(t, f.Degraded())

    primary.down = true
    out, _, err = f.CreateIfAbsent(ctx, 2, 1, 7, time.Minute, true)
    require.NoError(t, err, "fallback serves the call")
    assert.Equal(t, Created, out)
    assert.True(t, f.Degraded())

    out, _, err = f.CreateIfAbsent(ctx, 2, 5, 7, time.Minute, true)
    require.NoError(t, err)
    assert.Equal(t, OwnedByOther, out, "fallback still enforces exclusivity in process")

    primary.down = false
    got, err := f.Get(ctx, 1)
    require.NoError(t, err)
    assert.Nil(t, got, "no probe before retry window passes")
    assert.True(t, f.Degraded())

    clk.Advance(11 * time.Second)
    got, err = f.Get(ctx, 1)
    require.NoError(t, err)
    require.NotNil(t, got)
    assert.False(t, f.Degraded())
}

func TestFailoverStore_CancelledCallerDoesNotDegrade(t *testing.T) {
    primary := &flakyStore{MemoryStore: NewMemoryStore(nil), down: true}
    f := NewFailoverStore(primary, 50*time.Millisecond, time.Second, nil, quietLogger())
    ctx, cancel := context.WithCancel(context.Background())
    cancel()

    _, err := f.Get(ctx, 1)
    require.Error(t, err)
    assert.False(t, f.Degraded())
}

func TestFailoverStore_RecoveryKeepsLocalHolds(t *testing.T) {
    clk := clock.NewFake(epoch)
    primary := &flakyStore{MemoryStore: NewMemoryStore(clk.Now)}
    f := NewFailoverStore(primary, 50*time.Millisecond, 10*time.Second, clk.Now, quietLogger())
    ctx := context.Background()

    primary.down = true
    out, _, err := f.CreateIfAbsent(ctx, 12, 1, 7, 5*time.Minute, true)
    require.NoError(t, err)
    assert.Equal(t, Created, out)
    out, _, err = f.CreateIfAbsent(ctx, 13, 1, 7, 5*time.Minute, true)
    require.NoError(t, err)
    assert.Equal(t, Created, out)
    // Another instance grabbed seat 13 in the shared store meanwhile.
    _, _, err = primary.MemoryStore.CreateIfAbsent(ctx, 13, 9, 7, 5*time.Minute, true)
    require.NoError(t, err)

    primary.down = false
    clk.Advance(11 * time.Second)

    got, err := f.Get(ctx, 12)
    require.NoError(t, err)
    require.NotNil(t, got, "hold granted while degraded survives recovery")
    assert.Equal(t, uint64(1), got.UserID)
    assert.Equal(t, epoch.Add(5*time.Minute), got.ExpiresAt)
    assert.False(t, f.Degraded())

    out, _, err = f.CreateIfAbsent(ctx, 12, 2, 7, 5*time.Minute, true)
    require.NoError(t, err)
    assert.Equal(t, OwnedByOther, out)

    mine, err := f.ListByOwner(ctx, 1, 7)
    require.NoError(t, err)
    require.Len(t, mine, 1)
    assert.Equal(t, uint64(12), mine[0].SeatID)

    got, err = f.Get(ctx, 13)
    require.NoError(t, err)
    require.NotNil(t, got)
    assert.Equal(t, uint64(9), got.UserID, "shared hold wins a collision")

    left, err := f.fallback.ListByEvent(ctx, 7)
    require.NoError(t, err)
    assert.Empty(t, left)
}

func TestFailoverStore_FailedRestoreStaysDegraded(t *testing.T) {
    clk := clock.NewFake(epoch)
    primary := &flakyStore{MemoryStore: NewMemoryStore(clk.Now), down: true}
    f := NewFailoverStore(primary, 50*time.Millisecond, 10*time.Second, clk.Now, quietLogger())
    ctx := context.Background()

    _, _, err := f.CreateIfAbsent(ctx, 12, 1, 7, 5*time.Minute, true)
    require.NoError(t, err)
    clk.Advance(11 * time.Second)

    got, err := f.Get(ctx, 12)
    require.NoError(t, err)
    require.NotNil(t, got, "fallback still answers while the primary is down")
    assert.True(t, f.Degraded())
}
