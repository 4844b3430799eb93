// Package eventbus implements the bounded broadcast publish/subscribe
// bus: an observability and intra-process signal only. Every durable
// fact a published Event reports is also anchored in storage, so the
// coordinator's correctness never depends on a subscriber observing any
// particular event.
package eventbus

import (
	"sync"

	"github.com/certen/intent-solver/pkg/logging"
	"github.com/certen/intent-solver/pkg/solvertypes"
)

// Bus is a many-producer, many-subscriber broadcast channel. Publish is
// non-blocking: a subscriber whose channel is full has its oldest
// unconsumed event dropped to make room.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan solvertypes.Event
	capacity    int
	nextID      int
	logger      *logging.Logger
}

// New returns a Bus whose per-subscriber channel holds up to capacity
// buffered events before the oldest is dropped.
func New(capacity int, logger *logging.Logger) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = logging.Default().WithComponent("eventbus")
	}
	return &Bus{
		subscribers: make(map[int]chan solvertypes.Event),
		capacity:    capacity,
		logger:      logger,
	}
}

// Subscription is returned by Subscribe; call Unsubscribe when the
// observer no longer wants events.
type Subscription struct {
	id   int
	ch   chan solvertypes.Event
	bus  *Bus
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan solvertypes.Event { return s.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subscribers[s.id]; ok {
		delete(s.bus.subscribers, s.id)
		close(s.ch)
	}
}

// Subscribe returns a Subscription that observes events published after
// this call; it never sees events published before it subscribed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan solvertypes.Event, b.capacity)
	b.subscribers[id] = ch
	return &Subscription{id: id, ch: ch, bus: b}
}

// Publish delivers event to every current subscriber without blocking. A
// subscriber whose buffer is full has its oldest event dropped to make
// room; a log line is emitted only if the event still cannot be queued
// after that. Publish itself never blocks or fails.
func (b *Bus) Publish(event solvertypes.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
				b.logger.Warn("subscriber lagging, dropped event", "subscriber", id, "kind", event.Kind)
			}
		}
	}
}
