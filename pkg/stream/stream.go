// Package stream turns one raw generator exchange into a stream of
// validated events. Malformed records and invalid patches are repaired
// mid-stream by corrective continuations: the generator is re-invoked
// with a structured failure description and resumes where it went wrong,
// so the downstream consumer sees one continuous, correct stream.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pagegen/pagegen/pkg/dom"
	"github.com/pagegen/pagegen/pkg/generator"
	"github.com/pagegen/pagegen/pkg/metrics"
	"github.com/pagegen/pagegen/pkg/models"
)

// ErrMaxAttempts marks a generator exchange abandoned after the
// configured number of corrective continuations.
var ErrMaxAttempts = errors.New("generator retry attempts exhausted")

// ParseError reports a generator record that is not valid JSON or does
// not match the response schema.
type ParseError struct {
	RawLine string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable generator record: %s", e.Message)
}

// ToolRunner executes generator tool calls. Implementations must be safe
// for sequential reuse; execution failures do not fail the stream.
type ToolRunner interface {
	Run(ctx context.Context, call generator.ToolCall) error
}

// Options configure one Run.
type Options struct {
	// MaxAttempts bounds total generator invocations, the initial one
	// included.
	MaxAttempts int
	// Tools receives tool-call chunks; nil means tool calls are dropped
	// with a warning.
	Tools ToolRunner
}

// Result summarizes a completed exchange.
type Result struct {
	// Stats aggregates usage and timing across every attempt.
	Stats models.Stats
	// UsageObserved is false when the generator never reported usage; no
	// Stats event should be produced then.
	UsageObserved bool
	// AcceptedPatches counts patches applied to the document.
	AcceptedPatches int
	// Attempts counts generator invocations made.
	Attempts int
}

// failure is one recoverable error, in the form the corrective
// continuation reports to the generator.
type failure struct {
	line    string
	reason  string
	message string
}

// Run drives one exchange: it opens a generator stream for req, validates
// every record against doc, applies accepted mutations to doc in place,
// and hands each validated event to emit. Recoverable failures trigger a
// corrective continuation within opts.MaxAttempts; exhaustion returns an
// error wrapping ErrMaxAttempts. An emit error aborts immediately.
func Run(ctx context.Context, gen generator.Generator, req generator.Request, doc *dom.Document, opts Options, emit func(models.StreamEvent) error) (Result, error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	res := Result{Stats: models.Stats{Mode: req.Model}}
	started := time.Now()

	var inputTokens, outputTokens, cachedTokens int
	var lastFailure *failure

	for res.Attempts < opts.MaxAttempts {
		res.Attempts++

		attempt := req
		if lastFailure != nil {
			attempt.Correction = &generator.Correction{
				FailedLine:      lastFailure.line,
				Reason:          lastFailure.reason,
				Message:         lastFailure.message,
				AcceptedPatches: res.AcceptedPatches,
			}
		}

		fail, err := runAttempt(ctx, gen, attempt, doc, opts.Tools, emit, &res, &inputTokens, &outputTokens, &cachedTokens)
		if err != nil {
			return res, err
		}
		if fail == nil {
			res.Stats.PatchCount = res.AcceptedPatches
			if inputTokens > 0 {
				res.Stats.CacheRate = float64(cachedTokens) / float64(inputTokens)
			}
			if elapsed := time.Since(started).Seconds(); elapsed > 0 {
				res.Stats.TokensPerSecond = float64(outputTokens) / elapsed
			}
			return res, nil
		}

		lastFailure = fail
		metrics.RetryAttempts.WithLabelValues(fail.reason).Inc()
		slog.Warn("Generator output rejected, requesting corrective continuation",
			"session_id", req.SessionID,
			"attempt", res.Attempts,
			"reason", fail.reason,
			"detail", fail.message)

		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}

	return res, fmt.Errorf("giving up after %d attempts (%s: %s): %w",
		res.Attempts, lastFailure.reason, lastFailure.message, ErrMaxAttempts)
}

// runAttempt consumes one generator invocation. It returns a non-nil
// failure when a corrective continuation should be issued, and a non-nil
// error only for non-recoverable conditions (emit failure, cancellation).
func runAttempt(ctx context.Context, gen generator.Generator, req generator.Request, doc *dom.Document, tools ToolRunner, emit func(models.StreamEvent) error, res *Result, inputTokens, outputTokens, cachedTokens *int) (*failure, error) {
	s, err := gen.OpenStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &failure{reason: "transport", message: err.Error()}, nil
	}
	defer s.Close()

	var lines lineBuffer
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			// Generators may omit the final newline.
			if rest := lines.Rest(); rest != "" {
				if fail, err := processRecord(rest, doc, emit, res); fail != nil || err != nil {
					return fail, err
				}
			}
			return nil, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return &failure{reason: "transport", message: err.Error()}, nil
		}

		switch chunk.Type {
		case generator.ChunkTextDelta:
			for _, line := range lines.Add(chunk.Text) {
				if fail, err := processRecord(line, doc, emit, res); fail != nil || err != nil {
					return fail, err
				}
			}
		case generator.ChunkToolCall:
			runTool(ctx, tools, chunk.Tool, req.SessionID)
		case generator.ChunkFinishStep:
			if chunk.Usage != nil {
				*inputTokens += chunk.Usage.InputTokens
				*outputTokens += chunk.Usage.OutputTokens
				*cachedTokens += chunk.Usage.CachedInputTokens
				res.UsageObserved = true
			}
		case generator.ChunkFinish:
			// Wait for EOF so trailing transport errors are still seen.
		default:
			slog.Warn("Ignoring unknown generator chunk", "type", chunk.Type)
		}
	}
}

// processRecord validates one record and, when accepted, mutates the
// document and emits the event.
func processRecord(line string, doc *dom.Document, emit func(models.StreamEvent) error, res *Result) (*failure, error) {
	event, err := models.DecodeGeneratorRecord([]byte(line))
	if err != nil {
		perr := &ParseError{RawLine: line, Message: err.Error()}
		return &failure{line: line, reason: "parse-error", message: perr.Message}, nil
	}

	switch event.Type {
	case models.EventPatches:
		if err := doc.ApplyAll(event.Patches); err != nil {
			var patchErr *dom.PatchError
			if errors.As(err, &patchErr) {
				return &failure{line: line, reason: string(patchErr.Reason), message: patchErr.Message}, nil
			}
			return nil, fmt.Errorf("failed to apply patches: %w", err)
		}
		res.AcceptedPatches += len(event.Patches)
	case models.EventFull:
		if err := doc.Reset(event.HTML); err != nil {
			return &failure{line: line, reason: string(dom.ReasonApplyFailure), message: err.Error()}, nil
		}
	}

	return nil, emit(event)
}

func runTool(ctx context.Context, tools ToolRunner, call *generator.ToolCall, sessionID string) {
	if call == nil {
		return
	}
	if tools == nil {
		slog.Warn("No tool runner configured, dropping tool call",
			"session_id", sessionID, "tool", call.Name)
		return
	}
	if err := tools.Run(ctx, *call); err != nil {
		slog.Warn("Tool call failed",
			"session_id", sessionID, "tool", call.Name, "error", err)
	}
}
