// Package realtime keeps every viewer's seat map in sync.  Seat events
// are fanned out to per-event rooms; a Redis relay carries them between
// processes and a Session bridges one WebSocket connection to a room
// and to the reservation coordinator.
package realtime

import (
    "context"
    "sync"
    "sync/atomic"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// subscriberChannelSize is the per-subscriber buffer.  When it is full
// the event is dropped and the subscriber is marked for resync; it then
// receives a fresh snapshot instead of the missed events.
const subscriberChannelSize = 128

// Subscription is one viewer's membership in an event room.
type Subscription struct {
    eventID uint64
    channel chan model.SeatEvent
    resync  atomic.Bool
    done    chan struct{}
    once    sync.Once
}

// EventID returns the room of the subscription.
func (s *Subscription) EventID() uint64 { return s.eventID }

// Events delivers the room's seat events in publish order.
func (s *Subscription) Events() <-chan model.SeatEvent { return s.channel }

// Done is closed once the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// TakeResync reports and clears the overflow flag.
func (s *Subscription) TakeResync() bool { return s.resync.CompareAndSwap(true, false) }

func (s *Subscription) close() { s.once.Do(func() { close(s.done) }) }

// Hub is the in-process room registry.  It implements the
// coordinator's broadcaster for single-process deployments; with
// several processes the Relay publishes and the Hub only delivers.
type Hub struct {
    mu    sync.Mutex
    rooms map[uint64][]*Subscription
}

func NewHub() *Hub {
    return &Hub{rooms: make(map[uint64][]*Subscription)}
}

// Subscribe adds a viewer to the event room.
func (h *Hub) Subscribe(eventID uint64) *Subscription {
    sub := &Subscription{
        eventID: eventID,
        channel: make(chan model.SeatEvent, subscriberChannelSize),
        done:    make(chan struct{}),
    }
    h.mu.Lock()
    h.rooms[eventID] = append(h.rooms[eventID], sub)
    h.mu.Unlock()
    return sub
}

// Unsubscribe removes a viewer.  Calling it twice is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
    h.mu.Lock()
    room := h.rooms[sub.eventID]
    for i, existing := range room {
        if existing == sub {
            h.rooms[sub.eventID] = append(room[:i:i], room[i+1:]...)
            break
        }
    }
    if len(h.rooms[sub.eventID]) == 0 {
        delete(h.rooms, sub.eventID)
    }
    h.mu.Unlock()
    sub.close()
}

// Publish delivers locally.
func (h *Hub) Publish(_ context.Context, ev model.SeatEvent) { h.Deliver(ev) }

// Deliver fans ev out to the room without blocking.  Subscribers that
// cannot keep up are flagged for resync.
func (h *Hub) Deliver(ev model.SeatEvent) {
    h.mu.Lock()
    defer h.mu.Unlock()
    for _, sub := range h.rooms[ev.EventID] {
        select {
        case sub.channel <- ev:
        default:
            sub.resync.Store(true)
        }
    }
}

// RoomSize returns the number of viewers of an event.
func (h *Hub) RoomSize(eventID uint64) int {
    h.mu.Lock()
    defer h.mu.Unlock()
    return len(h.rooms[eventID])
}
