// Package generator defines the contract with the external generation
// service and its streaming HTTP adapter. The service answers an action
// batch with a chunk stream: text deltas that concatenate into
// newline-delimited UI records, tool calls, and usage reports.
package generator

import (
	"context"
	"encoding/json"

	"github.com/pagegen/pagegen/pkg/models"
)

// ChunkType discriminates the chunks a generation stream yields.
type ChunkType string

const (
	// ChunkTextDelta carries a fragment of the record stream.
	ChunkTextDelta ChunkType = "text_delta"
	// ChunkToolCall asks the backend to run a tool and is not part of the
	// record stream.
	ChunkToolCall ChunkType = "tool_call"
	// ChunkFinishStep closes one model step and reports its usage.
	ChunkFinishStep ChunkType = "finish_step"
	// ChunkFinish closes the whole stream.
	ChunkFinish ChunkType = "finish"
)

// Usage reports token accounting for one generation step.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	CachedInputTokens int `json:"cached_input_tokens"`
}

// ToolCall is a generator request to execute a named tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Chunk is one unit of a generation stream. Exactly the fields implied
// by Type are set.
type Chunk struct {
	Type  ChunkType `json:"type"`
	Text  string    `json:"text,omitempty"`
	Tool  *ToolCall `json:"tool,omitempty"`
	Usage *Usage    `json:"usage,omitempty"`
	Error string    `json:"error,omitempty"`
}

// ToolDef describes a tool the generator may call.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Correction describes a failed record so the generator can resume
// without repeating already-accepted output.
type Correction struct {
	// FailedLine is the raw record that was rejected.
	FailedLine string `json:"failed_line"`
	// Reason is the stable failure classification.
	Reason string `json:"reason"`
	// Message elaborates on the reason.
	Message string `json:"message"`
	// AcceptedPatches counts patches already applied across the whole
	// exchange; the continuation must not re-emit them.
	AcceptedPatches int `json:"accepted_patches"`
}

// Request carries everything the generator needs for one invocation.
type Request struct {
	SessionID   string          `json:"session_id"`
	Actions     []models.Action `json:"actions"`
	Model       string          `json:"model,omitempty"`
	CurrentHTML string          `json:"current_html"`
	Tools       []ToolDef       `json:"tools,omitempty"`
	Correction  *Correction     `json:"correction,omitempty"`
}

// Stream yields generation chunks in order. Recv returns io.EOF after
// the final chunk; Close releases the underlying connection and is safe
// to call at any point.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Generator opens generation streams.
type Generator interface {
	OpenStream(ctx context.Context, req Request) (Stream, error)
}
