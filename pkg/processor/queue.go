package processor

import (
	"context"
	"errors"
	"sync"

	"github.com/pagegen/pagegen/pkg/models"
)

// ErrQueueClosed is returned once a queue is closed and drained.
var ErrQueueClosed = errors.New("action queue closed")

// ActionQueue is the unbounded FIFO between request handlers and one
// processor. Offer never blocks; TakeBatch blocks until at least one
// action is available.
type ActionQueue struct {
	mu     sync.Mutex
	items  []models.Action
	closed bool

	// signal is pinged on Offer; done closes on Close. Both wake TakeBatch.
	signal chan struct{}
	done   chan struct{}
}

func NewActionQueue() *ActionQueue {
	return &ActionQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Offer enqueues one action. It never blocks.
func (q *ActionQueue) Offer(action models.Action) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, action)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// TakeBatch removes and returns up to max actions in enqueue order,
// blocking until at least one is available. After Close it drains the
// remaining actions, then returns ErrQueueClosed.
func (q *ActionQueue) TakeBatch(ctx context.Context, max int) ([]models.Action, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			n := min(max, len(q.items))
			batch := make([]models.Action, n)
			copy(batch, q.items)
			q.items = q.items[n:]
			q.mu.Unlock()
			return batch, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
		case <-q.signal:
		}
	}
}

// Len reports the number of pending actions.
func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further Offers and wakes blocked takers. Idempotent.
func (q *ActionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
