// Package subscribe builds reconnectable event streams: a subscriber
// attaches with the last offset it has seen and receives every later
// event exactly once, spliced from the durable log and the live bus.
package subscribe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pagegen/pagegen/pkg/eventlog"
	"github.com/pagegen/pagegen/pkg/models"
	"github.com/pagegen/pagegen/pkg/processor"
)

// Composer opens spliced subscriptions against the registry and the log.
type Composer struct {
	registry *processor.Registry
	log      eventlog.Log
}

func NewComposer(registry *processor.Registry, log eventlog.Log) *Composer {
	return &Composer{registry: registry, log: log}
}

// Subscription is one consumer's spliced stream. Events closes at
// end-of-stream: session eviction, a dropped-for-slowness endpoint, or
// Close.
type Subscription struct {
	events chan models.EventWithOffset
	cancel context.CancelFunc
}

func (s *Subscription) Events() <-chan models.EventWithOffset { return s.events }

// Close detaches this subscriber only; the session keeps running.
func (s *Subscription) Close() { s.cancel() }

// Stream subscribes to a session from fromOffset (exclusive; -1 means
// from the beginning). The order below is load-bearing: the live bus is
// subscribed before the log is read, so every event is either replayed
// from the log or delivered live, with the live tail filtered by the
// replay's maximum offset — no gaps, no duplicates.
func (c *Composer) Stream(ctx context.Context, sessionID string, fromOffset int64) (*Subscription, error) {
	proc, err := c.registry.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to session %s: %w", sessionID, err)
	}
	c.registry.Touch(sessionID)

	busSub := proc.Bus().Subscribe()

	rows, err := c.log.ReadFrom(ctx, sessionID, fromOffset)
	if err != nil {
		busSub.Cancel()
		return nil, fmt.Errorf("failed to replay session %s: %w", sessionID, err)
	}

	dbMax := fromOffset
	if len(rows) > 0 {
		dbMax = rows[len(rows)-1].Offset
	}

	streamCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan models.EventWithOffset, len(rows)+1),
		cancel: cancel,
	}

	go func() {
		defer close(sub.events)
		defer busSub.Cancel()

		for _, row := range rows {
			event, err := row.WithOffset()
			if err != nil {
				slog.Error("Skipping undecodable log row",
					"session_id", sessionID, "offset", row.Offset, "error", err)
				continue
			}
			select {
			case sub.events <- event:
			case <-streamCtx.Done():
				return
			}
		}

		for {
			select {
			case event, ok := <-busSub.Events():
				if !ok {
					return
				}
				if event.Offset <= dbMax {
					continue
				}
				select {
				case sub.events <- event:
				case <-streamCtx.Done():
					return
				}
			case <-streamCtx.Done():
				return
			}
		}
	}()

	return sub, nil
}
