// Package processor runs the per-session processing loop and the
// process-wide registry that owns those loops.
//
// Each session has at most one Processor: a single goroutine that drains
// action batches from the session's queue, drives a validated generator
// exchange per batch, and assigns each resulting event the next offset
// in the session's dense sequence — publishing to the live bus first,
// then appending to the durable log.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pagegen/pagegen/pkg/bus"
	"github.com/pagegen/pagegen/pkg/dom"
	"github.com/pagegen/pagegen/pkg/eventlog"
	"github.com/pagegen/pagegen/pkg/generator"
	"github.com/pagegen/pagegen/pkg/metrics"
	"github.com/pagegen/pagegen/pkg/models"
	"github.com/pagegen/pagegen/pkg/stream"
)

// Settings carries the processing tunables shared by all sessions.
type Settings struct {
	MaxBatchSize     int
	MaxAttempts      int
	DefaultModel     string
	SubscriberBuffer int
	IdleTTL          time.Duration
	SweepInterval    time.Duration
}

// Deps are the collaborators a Processor works against.
type Deps struct {
	Log   eventlog.Log
	Gen   generator.Generator
	Tools stream.ToolRunner
	// ToolDefs advertises the runnable tools to the generator.
	ToolDefs []generator.ToolDef
}

// Processor owns one session's queue, bus, scratch document, and offset
// counter. All mutation happens on its single run goroutine.
type Processor struct {
	sessionID string
	queue     *ActionQueue
	bus       *bus.Bus
	deps      Deps
	settings  Settings

	nextOffset   int64
	doc          *dom.Document
	bootstrapped bool

	// lastAccessed is unix nanos of the most recent touch, read by the
	// registry sweeper.
	lastAccessed atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// newProcessor restores the session's offset counter and scratch document
// from the durable log. The run loop is started by the registry.
func newProcessor(ctx context.Context, sessionID string, deps Deps, settings Settings) (*Processor, error) {
	latest, err := deps.Log.LatestOffset(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to restore offset for session %s: %w", sessionID, err)
	}

	var currentHTML string
	if latest >= 0 {
		row, err := deps.Log.LastFullOrDone(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to restore document for session %s: %w", sessionID, err)
		}
		if row != nil {
			event, err := row.DecodeEvent()
			if err != nil {
				return nil, err
			}
			currentHTML = event.HTML
		}
	}

	doc, err := dom.Parse(currentHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse restored document for session %s: %w", sessionID, err)
	}

	p := &Processor{
		sessionID:    sessionID,
		queue:        NewActionQueue(),
		bus:          bus.New(sessionID, settings.SubscriberBuffer),
		deps:         deps,
		settings:     settings,
		nextOffset:   latest + 1,
		doc:          doc,
		bootstrapped: latest >= 0,
		done:         make(chan struct{}),
	}
	p.Touch()
	return p, nil
}

// Enqueue validates and queues one action. It never blocks.
func (p *Processor) Enqueue(action models.Action) error {
	if err := action.Validate(); err != nil {
		return err
	}
	if err := p.queue.Offer(action); err != nil {
		return err
	}
	metrics.ActionsEnqueued.WithLabelValues(string(action.Type)).Inc()
	return nil
}

// Bus returns the session's live event bus.
func (p *Processor) Bus() *bus.Bus { return p.bus }

// Touch records liveness for idle eviction.
func (p *Processor) Touch() { p.lastAccessed.Store(time.Now().UnixNano()) }

// idleSince reports whether the processor has been untouched longer than
// ttl and has no pending actions.
func (p *Processor) idleSince(now time.Time, ttl time.Duration) bool {
	last := time.Unix(0, p.lastAccessed.Load())
	return now.Sub(last) > ttl && p.queue.Len() == 0
}

// run is the session's single sequential task.
func (p *Processor) run(ctx context.Context) {
	defer close(p.done)
	slog.Info("Processor started", "session_id", p.sessionID, "next_offset", p.nextOffset)

	for {
		batch, err := p.queue.TakeBatch(ctx, p.settings.MaxBatchSize)
		if err != nil {
			slog.Info("Processor stopping", "session_id", p.sessionID, "reason", err)
			return
		}
		p.processBatch(ctx, batch)
	}
}

// processBatch drives one generator exchange. Failures are logged; the
// loop then moves on to the next batch.
func (p *Processor) processBatch(ctx context.Context, batch []models.Action) {
	if !p.bootstrapped {
		if err := p.emit(ctx, models.SessionEvent(p.sessionID)); err != nil {
			return
		}
		p.bootstrapped = true
	}

	currentHTML, err := p.doc.Render()
	if err != nil {
		slog.Error("Failed to render current document", "session_id", p.sessionID, "error", err)
		return
	}

	req := generator.Request{
		SessionID:   p.sessionID,
		Actions:     batch,
		Model:       models.EffectiveModel(batch, p.settings.DefaultModel),
		CurrentHTML: currentHTML,
		Tools:       p.deps.ToolDefs,
	}

	res, err := stream.Run(ctx, p.deps.Gen, req, p.doc,
		stream.Options{MaxAttempts: p.settings.MaxAttempts, Tools: p.deps.Tools},
		func(e models.StreamEvent) error { return p.emit(ctx, e) })
	if err != nil {
		slog.Error("Batch processing failed",
			"session_id", p.sessionID,
			"batch_size", len(batch),
			"attempts", res.Attempts,
			"error", err)
		return
	}

	if res.UsageObserved {
		if err := p.emit(ctx, models.StatsEvent(res.Stats)); err != nil {
			return
		}
	}

	finalHTML, err := p.doc.Render()
	if err != nil {
		slog.Error("Failed to render final document", "session_id", p.sessionID, "error", err)
		return
	}
	_ = p.emit(ctx, models.DoneEvent(finalHTML))
}

// emit assigns the next offset, publishes, then appends. A failed append
// leaves the event live-only; its offset is never reused.
func (p *Processor) emit(ctx context.Context, event models.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	offset := p.nextOffset
	p.nextOffset++

	p.bus.Publish(models.EventWithOffset{Event: event, Offset: offset})

	if err := p.deps.Log.Append(ctx, p.sessionID, offset, event); err != nil {
		metrics.PersistFailures.Inc()
		slog.Error("Event log append failed, event stays live-only",
			"session_id", p.sessionID,
			"offset", offset,
			"type", event.Type,
			"error", err)
		return nil
	}
	metrics.EventsPersisted.Inc()
	return nil
}
