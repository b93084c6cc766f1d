package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pagegen/pagegen/pkg/metrics"
)

// Registry is the process-wide directory of live processors. One mutex
// covers creation and eviction, so get-or-create cannot race the sweeper.
type Registry struct {
	deps     Deps
	settings Settings

	mu    sync.Mutex
	procs map[string]*Processor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates an empty registry. Call Start to run the idle
// sweeper and Shutdown to stop everything.
func NewRegistry(deps Deps, settings Settings) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:     deps,
		settings: settings,
		procs:    make(map[string]*Processor),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// GetOrCreate returns the session's processor, constructing and starting
// it when absent. Safe under concurrent callers.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID string) (*Processor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.procs[sessionID]; ok {
		return p, nil
	}

	p, err := newProcessor(ctx, sessionID, r.deps, r.settings)
	if err != nil {
		return nil, err
	}

	procCtx, procCancel := context.WithCancel(r.ctx)
	p.cancel = procCancel
	r.procs[sessionID] = p
	metrics.ActiveProcessors.Set(float64(len(r.procs)))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		p.run(procCtx)
	}()
	return p, nil
}

// Touch marks the session live; unknown sessions are ignored.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.procs[sessionID]; ok {
		p.Touch()
	}
}

// Len reports the number of live processors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// Start launches the background idle sweeper.
func (r *Registry) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.settings.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.sweep(time.Now())
			}
		}
	}()
}

// sweep evicts every processor idle longer than IdleTTL with an empty
// queue. Live subscribers of an evicted session observe end-of-stream
// and reconnect with their last offset.
func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sessionID, p := range r.procs {
		if !p.idleSince(now, r.settings.IdleTTL) {
			continue
		}
		r.evictLocked(sessionID, p)
		metrics.ProcessorEvictions.Inc()
		slog.Info("Evicted idle processor", "session_id", sessionID)
	}
	metrics.ActiveProcessors.Set(float64(len(r.procs)))
}

func (r *Registry) evictLocked(sessionID string, p *Processor) {
	p.cancel()
	p.queue.Close()
	p.bus.Close()
	delete(r.procs, sessionID)
}

// Shutdown cancels every processor and the sweeper, then waits for their
// goroutines, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cancel()

	r.mu.Lock()
	for sessionID, p := range r.procs {
		r.evictLocked(sessionID, p)
	}
	metrics.ActiveProcessors.Set(0)
	r.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
