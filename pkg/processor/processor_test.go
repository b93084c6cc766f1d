package processor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagegen/pagegen/pkg/eventlog"
	"github.com/pagegen/pagegen/pkg/generator"
	"github.com/pagegen/pagegen/pkg/models"
)

// fakeGenerator answers each OpenStream call with the chunks returned by
// script and signals every invocation on opened.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []generator.Request
	script   func(call int, req generator.Request) []generator.Chunk
	opened   chan generator.Request
}

func (g *fakeGenerator) OpenStream(_ context.Context, req generator.Request) (generator.Stream, error) {
	g.mu.Lock()
	call := len(g.requests)
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.opened != nil {
		g.opened <- req
	}
	return &chunkStream{chunks: g.script(call, req)}, nil
}

func (g *fakeGenerator) request(i int) generator.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[i]
}

type chunkStream struct {
	chunks []generator.Chunk
	pos    int
}

func (s *chunkStream) Recv() (generator.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return generator.Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *chunkStream) Close() error { return nil }

func textChunk(text string) generator.Chunk {
	return generator.Chunk{Type: generator.ChunkTextDelta, Text: text}
}

func testSettings() Settings {
	return Settings{
		MaxBatchSize:     8,
		MaxAttempts:      3,
		DefaultModel:     "ui-gen-1",
		SubscriberBuffer: 64,
		IdleTTL:          30 * time.Minute,
		SweepInterval:    time.Minute,
	}
}

func newTestRegistry(t *testing.T, gen generator.Generator, log eventlog.Log, settings Settings) *Registry {
	t.Helper()
	r := NewRegistry(Deps{Log: log, Gen: gen}, settings)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func recvEvent(t *testing.T, ch <-chan models.EventWithOffset) models.EventWithOffset {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "stream ended unexpectedly")
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.EventWithOffset{}
	}
}

func TestProcessorHappyPath(t *testing.T) {
	gen := &fakeGenerator{script: func(int, generator.Request) []generator.Chunk {
		return []generator.Chunk{
			textChunk(`{"type":"full","html":"<div id=\"root\"></div>"}` + "\n"),
			textChunk(`{"type":"patches","patches":[{"selector":"#root","text":"hello"}]}` + "\n"),
		}
	}}
	log := eventlog.NewMemoryLog()
	r := newTestRegistry(t, gen, log, testSettings())

	ctx := context.Background()
	p, err := r.GetOrCreate(ctx, "s")
	require.NoError(t, err)
	sub := p.Bus().Subscribe()
	defer sub.Cancel()

	require.NoError(t, p.Enqueue(models.NewPrompt("build a dashboard")))

	first := recvEvent(t, sub.Events())
	assert.Equal(t, int64(0), first.Offset)
	assert.Equal(t, models.EventSession, first.Event.Type)
	assert.Equal(t, "s", first.Event.SessionID)

	second := recvEvent(t, sub.Events())
	assert.Equal(t, int64(1), second.Offset)
	assert.Equal(t, models.EventFull, second.Event.Type)

	third := recvEvent(t, sub.Events())
	assert.Equal(t, int64(2), third.Offset)
	require.Equal(t, models.EventPatches, third.Event.Type)

	fourth := recvEvent(t, sub.Events())
	assert.Equal(t, int64(3), fourth.Offset)
	assert.Equal(t, models.EventDone, fourth.Event.Type)
	assert.Equal(t, `<div id="root">hello</div>`, fourth.Event.HTML)

	// The same rows, and only those, are durable.
	require.Eventually(t, func() bool {
		off, err := log.LatestOffset(ctx, "s")
		return err == nil && off == 3
	}, 5*time.Second, 10*time.Millisecond)
	rows, err := log.ReadFrom(ctx, "s", -1)
	require.NoError(t, err)
	require.Len(t, rows, 4)
}

func TestProcessorBatchesPendingActions(t *testing.T) {
	release := make(chan struct{})
	gen := &fakeGenerator{
		opened: make(chan generator.Request, 2),
		script: func(call int, _ generator.Request) []generator.Chunk {
			if call == 0 {
				<-release
			}
			return []generator.Chunk{textChunk(`{"type":"full","html":"<p>ok</p>"}` + "\n")}
		},
	}
	log := eventlog.NewMemoryLog()
	r := newTestRegistry(t, gen, log, testSettings())

	p, err := r.GetOrCreate(context.Background(), "s")
	require.NoError(t, err)
	sub := p.Bus().Subscribe()
	defer sub.Cancel()

	require.NoError(t, p.Enqueue(models.NewPrompt("first")))
	<-gen.opened // the first exchange is now in flight and blocked

	// These accumulate while the first exchange runs and must drain as
	// one batch, in enqueue order.
	require.NoError(t, p.Enqueue(models.NewPrompt("add a header")))
	require.NoError(t, p.Enqueue(models.NewUIAction("increment", nil)))
	require.NoError(t, p.Enqueue(models.NewPrompt("make it blue")))
	close(release)

	second := <-gen.opened
	require.Len(t, second.Actions, 3)
	assert.Equal(t, "add a header", second.Actions[0].Text)
	assert.Equal(t, "increment", second.Actions[1].Name)
	assert.Equal(t, "make it blue", second.Actions[2].Text)
}

func TestProcessorOffsetContinuation(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemoryLog()
	for i := int64(0); i <= 5; i++ {
		require.NoError(t, log.Append(ctx, "s", i, models.FullEvent("<p>old</p>")))
	}

	gen := &fakeGenerator{script: func(int, generator.Request) []generator.Chunk {
		return []generator.Chunk{
			textChunk(`{"type":"full","html":"<div id=\"a\"></div>"}` + "\n"),
			textChunk(`{"type":"patches","patches":[{"selector":"#a","text":"new"}]}` + "\n"),
		}
	}}
	r := newTestRegistry(t, gen, log, testSettings())

	p, err := r.GetOrCreate(ctx, "s")
	require.NoError(t, err)
	sub := p.Bus().Subscribe()
	defer sub.Cancel()

	require.NoError(t, p.Enqueue(models.NewPrompt("update")))

	// Log already has rows 0..5, so no session bootstrap: the three new
	// events take offsets 6, 7, 8.
	for i, want := range []models.EventType{models.EventFull, models.EventPatches, models.EventDone} {
		e := recvEvent(t, sub.Events())
		assert.Equal(t, int64(6+i), e.Offset)
		assert.Equal(t, want, e.Event.Type)
	}

	// The generator saw the restored document.
	assert.Equal(t, "<p>old</p>", gen.request(0).CurrentHTML)
}

func TestProcessorEmitsStatsWhenUsageObserved(t *testing.T) {
	gen := &fakeGenerator{script: func(int, generator.Request) []generator.Chunk {
		return []generator.Chunk{
			textChunk(`{"type":"full","html":"<p/>"}` + "\n"),
			{Type: generator.ChunkFinishStep, Usage: &generator.Usage{InputTokens: 10, OutputTokens: 5, CachedInputTokens: 10}},
		}
	}}
	r := newTestRegistry(t, gen, eventlog.NewMemoryLog(), testSettings())

	p, err := r.GetOrCreate(context.Background(), "s")
	require.NoError(t, err)
	sub := p.Bus().Subscribe()
	defer sub.Cancel()

	require.NoError(t, p.Enqueue(models.NewPrompt("go")))

	types := []models.EventType{}
	for range 4 {
		types = append(types, recvEvent(t, sub.Events()).Event.Type)
	}
	assert.Equal(t, []models.EventType{
		models.EventSession, models.EventFull, models.EventStats, models.EventDone,
	}, types)
}

func TestProcessorModelOverride(t *testing.T) {
	gen := &fakeGenerator{script: func(int, generator.Request) []generator.Chunk {
		return []generator.Chunk{textChunk(`{"type":"full","html":"<p/>"}` + "\n")}
	}}
	log := eventlog.NewMemoryLog()
	r := newTestRegistry(t, gen, log, testSettings())

	ctx := context.Background()
	p, err := r.GetOrCreate(ctx, "s")
	require.NoError(t, err)

	action := models.NewPrompt("fancy")
	action.Model = "ui-gen-pro"
	require.NoError(t, p.Enqueue(action))

	require.Eventually(t, func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.requests) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ui-gen-pro", gen.request(0).Model)
}

func TestProcessorRejectsInvalidAction(t *testing.T) {
	gen := &fakeGenerator{script: func(int, generator.Request) []generator.Chunk { return nil }}
	r := newTestRegistry(t, gen, eventlog.NewMemoryLog(), testSettings())

	p, err := r.GetOrCreate(context.Background(), "s")
	require.NoError(t, err)
	assert.Error(t, p.Enqueue(models.Action{Type: models.ActionPrompt}))
	assert.Error(t, p.Enqueue(models.Action{Type: "bogus", Text: "x"}))
}

func TestRegistryGetOrCreateIsIdempotentUnderConcurrency(t *testing.T) {
	gen := &fakeGenerator{script: func(int, generator.Request) []generator.Chunk { return nil }}
	r := newTestRegistry(t, gen, eventlog.NewMemoryLog(), testSettings())

	ctx := context.Background()
	procs := make([]*Processor, 16)
	var wg sync.WaitGroup
	for i := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := r.GetOrCreate(ctx, "same-session")
			require.NoError(t, err)
			procs[i] = p
		}()
	}
	wg.Wait()

	for _, p := range procs[1:] {
		assert.Same(t, procs[0], p)
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistrySweepEvictsIdleAndRestoresOffsets(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemoryLog()
	gen := &fakeGenerator{script: func(int, generator.Request) []generator.Chunk {
		return []generator.Chunk{textChunk(`{"type":"full","html":"<p>v1</p>"}` + "\n")}
	}}

	settings := testSettings()
	settings.IdleTTL = 10 * time.Millisecond
	r := newTestRegistry(t, gen, log, settings)

	p, err := r.GetOrCreate(ctx, "s")
	require.NoError(t, err)
	sub := p.Bus().Subscribe()
	require.NoError(t, p.Enqueue(models.NewPrompt("v1")))

	// Wait for the batch to finish: session, full, done.
	for range 3 {
		recvEvent(t, sub.Events())
	}

	// Idle long past the TTL with an empty queue: the sweep evicts.
	r.sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 0, r.Len())

	// The evicted session's subscribers observe end-of-stream.
	_, open := <-sub.Events()
	assert.False(t, open)

	// Recreation restores the offset counter from the log.
	p2, err := r.GetOrCreate(ctx, "s")
	require.NoError(t, err)
	require.NotSame(t, p, p2)
	sub2 := p2.Bus().Subscribe()
	defer sub2.Cancel()
	require.NoError(t, p2.Enqueue(models.NewPrompt("v2")))

	e := recvEvent(t, sub2.Events())
	assert.Equal(t, int64(3), e.Offset, "offsets continue after the persisted tail")
}

func TestRegistrySweepSparesBusySessions(t *testing.T) {
	gen := &fakeGenerator{script: func(int, generator.Request) []generator.Chunk { return nil }}
	r := newTestRegistry(t, gen, eventlog.NewMemoryLog(), testSettings())

	_, err := r.GetOrCreate(context.Background(), "recent")
	require.NoError(t, err)

	// Inside the TTL: kept.
	r.sweep(time.Now())
	assert.Equal(t, 1, r.Len())
}

func TestProcessorIdleness(t *testing.T) {
	p := &Processor{queue: NewActionQueue()}
	p.Touch()

	now := time.Now()
	assert.False(t, p.idleSince(now, time.Hour))
	assert.True(t, p.idleSince(now.Add(2*time.Hour), time.Hour))

	// Pending actions veto eviction even past the TTL.
	require.NoError(t, p.queue.Offer(models.NewPrompt("pending")))
	assert.False(t, p.idleSince(now.Add(2*time.Hour), time.Hour))
}

func TestRegistryShutdownStopsProcessors(t *testing.T) {
	gen := &fakeGenerator{script: func(int, generator.Request) []generator.Chunk { return nil }}
	r := NewRegistry(Deps{Log: eventlog.NewMemoryLog(), Gen: gen}, testSettings())
	r.Start()

	ctx := context.Background()
	p, err := r.GetOrCreate(ctx, "s")
	require.NoError(t, err)
	sub := p.Bus().Subscribe()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(shutdownCtx))

	assert.Equal(t, 0, r.Len())
	_, open := <-sub.Events()
	assert.False(t, open)
	assert.ErrorIs(t, p.Enqueue(models.NewPrompt("late")), ErrQueueClosed)
}
