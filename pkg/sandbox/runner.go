// Package sandbox forwards generator tool calls to the sandboxed
// execution service. The backend only relays: it neither interprets tool
// arguments nor blocks generation on tool outcomes.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pagegen/pagegen/pkg/generator"
)

const (
	executePath = "/v1/execute"
	toolsPath   = "/v1/tools"
)

// HTTPRunner relays tool calls to the sandbox service at addr.
type HTTPRunner struct {
	addr   string
	client *http.Client
}

func NewHTTPRunner(addr string) *HTTPRunner {
	return &HTTPRunner{
		addr:   strings.TrimRight(addr, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Run executes one tool call and waits for acknowledgement.
func (r *HTTPRunner) Run(ctx context.Context, call generator.ToolCall) error {
	body, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to encode tool call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.addr+executePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("tool call %s failed: %w", call.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("tool call %s returned status %d: %s",
			call.Name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Tools fetches the tool definitions the sandbox offers, advertised to
// the generator with every request.
func (r *HTTPRunner) Tools(ctx context.Context) ([]generator.ToolDef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.addr+toolsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tools request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list sandbox tools: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox tools listing returned status %d", resp.StatusCode)
	}

	var defs []generator.ToolDef
	if err := json.NewDecoder(resp.Body).Decode(&defs); err != nil {
		return nil, fmt.Errorf("failed to decode sandbox tools: %w", err)
	}
	return defs, nil
}

// NoopRunner discards tool calls, for deployments without a sandbox.
type NoopRunner struct{}

func (NoopRunner) Run(context.Context, generator.ToolCall) error { return nil }
