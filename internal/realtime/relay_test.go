package realtime

import (
    "context"
    "io"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/labstack/gommon/log"
    "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

func quietLogger() *log.Logger {
    l := log.New("test")
    l.SetOutput(io.Discard)
    return l
}

func startRelay(t *testing.T, ctx context.Context, addr string) (*Relay, *Hub) {
    t.Helper()
    rdb := redis.NewClient(&redis.Options{Addr: addr})
    t.Cleanup(func() { _ = rdb.Close() })
    hub := NewHub()
    r := NewRelay(rdb, hub, "test", quietLogger())
    go r.Run(ctx)
    select {
    case <-r.Ready():
    case <-time.After(2 * time.Second):
        t.Fatal("relay did not subscribe")
    }
    return r, hub
}

func TestRelay_CrossProcessDelivery(t *testing.T) {
    mr := miniredis.RunT(t)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    relayA, hubA := startRelay(t, ctx, mr.Addr())
    _, hubB := startRelay(t, ctx, mr.Addr())
    subA := hubA.Subscribe(7)
    subB := hubB.Subscribe(7)
    other := hubB.Subscribe(8)

    relayA.Publish(ctx, model.SeatEvent{Type: model.EventSeatBooked, EventID: 7, SeatIDs: []uint64{12}, OrderID: "o-1"})

    for _, sub := range []*Subscription{subA, subB} {
        select {
        case ev := <-sub.Events():
            assert.Equal(t, model.EventSeatBooked, ev.Type)
            assert.Equal(t, []uint64{12}, ev.SeatIDs)
            assert.Equal(t, "o-1", ev.OrderID)
        case <-time.After(2 * time.Second):
            t.Fatal("event not relayed")
        }
    }
    assert.Len(t, other.Events(), 0)
    time.Sleep(50 * time.Millisecond)
    assert.Len(t, subA.Events(), 0, "a subscribed relay does not also deliver locally")
}

func TestRelay_FallsBackToLocalDelivery(t *testing.T) {
    mr := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
    hub := NewHub()
    r := NewRelay(rdb, hub, "test", quietLogger())
    sub := hub.Subscribe(7)
    mr.Close()

    r.Publish(context.Background(), model.SeatEvent{Type: model.EventSeatUnlocked, EventID: 7})
    require.Len(t, sub.Events(), 1)
    _ = rdb.Close()
}

func TestRelay_DeliversLocallyWhileUnsubscribed(t *testing.T) {
    mr := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })
    hub := NewHub()
    r := NewRelay(rdb, hub, "test", quietLogger())
    sub := hub.Subscribe(7)

    // Publish reaches Redis but nothing here is listening.
    r.Publish(context.Background(), model.SeatEvent{Type: model.EventSeatLocked, EventID: 7, SeatIDs: []uint64{12}})
    require.Len(t, sub.Events(), 1)
}

func TestRelay_RetriesSubscription(t *testing.T) {
    mr := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
    t.Cleanup(func() { _ = rdb.Close() })
    hub := NewHub()
    r := NewRelay(rdb, hub, "test", quietLogger())
    r.retry = 20 * time.Millisecond
    sub := hub.Subscribe(7)
    mr.Close()

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    go r.Run(ctx)
    time.Sleep(60 * time.Millisecond)
    require.NoError(t, mr.Restart())

    select {
    case <-r.Ready():
    case <-time.After(3 * time.Second):
        t.Fatal("relay did not subscribe after redis came back")
    }
    r.Publish(ctx, model.SeatEvent{Type: model.EventSeatBooked, EventID: 7, SeatIDs: []uint64{12}})
    select {
    case ev := <-sub.Events():
        assert.Equal(t, model.EventSeatBooked, ev.Type)
    case <-time.After(2 * time.Second):
        t.Fatal("event not relayed")
    }
    time.Sleep(50 * time.Millisecond)
    assert.Len(t, sub.Events(), 0, "delivered once")
}
