// Package bus implements the per-session in-memory broadcast of
// offset-tagged events.
//
// Each subscriber owns an independent buffered endpoint. Publishing never
// blocks on a slow subscriber: when an endpoint's buffer is full the
// subscriber is dropped and observes end-of-stream, after which it must
// reconnect with its last offset. A single subscriber observes events in
// publish order.
package bus

import (
	"log/slog"
	"sync"

	"github.com/pagegen/pagegen/pkg/metrics"
	"github.com/pagegen/pagegen/pkg/models"
)

// Bus broadcasts one session's live events to its subscribers. Created
// with the session's processor and closed when the processor is evicted.
type Bus struct {
	sessionID string
	buffer    int

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one subscriber's endpoint. The Events channel closes on
// overflow drop, explicit Cancel, or bus closure — all three mean
// end-of-stream to the consumer.
type Subscription struct {
	bus *Bus
	ch  chan models.EventWithOffset
}

// New creates a bus whose subscribers buffer up to buffer events.
func New(sessionID string, buffer int) *Bus {
	return &Bus{
		sessionID: sessionID,
		buffer:    buffer,
		subs:      make(map[*Subscription]struct{}),
	}
}

// Subscribe returns a new independent endpoint. Every event published
// after Subscribe returns is buffered for it. Subscribing to a closed bus
// yields an already-ended endpoint.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{bus: b, ch: make(chan models.EventWithOffset, b.buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers the event to every current subscriber. A subscriber
// whose buffer is full is dropped rather than stalling the publisher.
func (b *Bus) Publish(event models.EventWithOffset) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			delete(b.subs, sub)
			close(sub.ch)
			metrics.SubscriberDrops.Inc()
			slog.Warn("Dropping slow subscriber",
				"session_id", b.sessionID, "offset", event.Offset)
		}
	}
	metrics.EventsPublished.Inc()
}

// SubscriberCount returns the number of live endpoints.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}

// Events returns the receive side of the endpoint. The channel closes at
// end-of-stream.
func (s *Subscription) Events() <-chan models.EventWithOffset {
	return s.ch
}

// Cancel detaches the endpoint and closes its channel. Safe to call after
// the bus dropped or closed the subscription; it only closes channels it
// removes itself.
func (s *Subscription) Cancel() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}
