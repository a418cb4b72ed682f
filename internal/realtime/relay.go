package realtime

import (
    "context"
    "encoding/json"
    "errors"
    "strconv"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "github.com/labstack/gommon/log"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// Relay publishes seat events on Redis so viewers connected to any
// process see them.  Every process runs Run, which feeds received
// events into its local Hub.  When Redis rejects a publish, or this
// process is not subscribed, the event is also delivered locally.
type Relay struct {
    rdb    redis.UniversalClient
    hub    *Hub
    prefix string
    logger *log.Logger
    retry  time.Duration

    subscribed atomic.Bool
    readyOnce  sync.Once
    ready      chan struct{}
}

func NewRelay(rdb redis.UniversalClient, hub *Hub, prefix string, logger *log.Logger) *Relay {
    if prefix == "" {
        prefix = "hold"
    }
    if logger == nil {
        logger = log.New("realtime")
    }
    return &Relay{rdb: rdb, hub: hub, prefix: prefix, logger: logger, retry: time.Second, ready: make(chan struct{})}
}

func (r *Relay) channel(eventID uint64) string {
    return r.prefix + ":room:" + strconv.FormatUint(eventID, 10)
}

// Ready is closed once Run has subscribed for the first time.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

func (r *Relay) Publish(ctx context.Context, ev model.SeatEvent) {
    payload, err := json.Marshal(ev)
    if err == nil {
        err = r.rdb.Publish(ctx, r.channel(ev.EventID), payload).Err()
    }
    if err != nil {
        r.logger.Errorf("relay publish event=%d type=%s failed, delivering locally: %v", ev.EventID, ev.Type, err)
        r.hub.Deliver(ev)
        return
    }
    if !r.subscribed.Load() {
        // Redis will not hand it back to this process.
        r.hub.Deliver(ev)
    }
}

// Run keeps a subscription to every room channel and forwards messages
// to the hub until ctx is done.  A lost or failed subscription is
// retried with back-off; meanwhile Publish delivers locally.
func (r *Relay) Run(ctx context.Context) {
    backoff := r.retry
    for ctx.Err() == nil {
        ok, err := r.subscribe(ctx)
        if ctx.Err() != nil {
            return
        }
        if ok {
            backoff = r.retry
        }
        r.logger.Errorf("relay subscription down: %v; delivering locally, retrying in %s", err, backoff)
        if !sleep(ctx, backoff) {
            return
        }
        if backoff < 30*time.Second {
            backoff *= 2
        }
    }
}

// subscribe runs one subscription.  ok reports whether it got as far as
// subscribing.
func (r *Relay) subscribe(ctx context.Context) (ok bool, err error) {
    ps := r.rdb.PSubscribe(ctx, r.prefix+":room:*")
    defer ps.Close()
    if _, err := ps.Receive(ctx); err != nil {
        return false, err
    }
    r.subscribed.Store(true)
    defer r.subscribed.Store(false)
    r.readyOnce.Do(func() { close(r.ready) })
    r.logger.Infof("relay subscribed pattern=%s:room:*", r.prefix)
    ch := ps.Channel()
    for {
        select {
        case <-ctx.Done():
            return true, nil
        case msg, open := <-ch:
            if !open {
                return true, errors.New("subscription closed")
            }
            var ev model.SeatEvent
            if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
                r.logger.Warnf("relay drop malformed message channel=%s: %v", msg.Channel, err)
                continue
            }
            if !strings.HasSuffix(msg.Channel, ":"+strconv.FormatUint(ev.EventID, 10)) {
                r.logger.Warnf("relay drop message for event=%d on channel=%s", ev.EventID, msg.Channel)
                continue
            }
            r.hub.Deliver(ev)
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
