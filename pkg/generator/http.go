package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pagegen/pagegen/pkg/metrics"
)

const generatePath = "/v1/generate"

// HTTPGenerator talks to the generation service over streaming HTTP.
// The response is a server-sent-event stream of JSON chunks terminated
// by a "[DONE]" sentinel.
type HTTPGenerator struct {
	addr    string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPGenerator creates an adapter for the service at addr. timeout
// bounds one whole invocation, headers to last byte.
func NewHTTPGenerator(addr string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		addr:    strings.TrimRight(addr, "/"),
		timeout: timeout,
		client:  &http.Client{},
	}
}

// OpenStream posts the request and returns the chunk stream. The caller
// must Close the stream.
func (g *HTTPGenerator) OpenStream(ctx context.Context, req Request) (Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode generator request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.addr+generatePath, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build generator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("generator request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("generator returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return &httpStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
		cancel:  cancel,
		started: time.Now(),
	}, nil
}

type httpStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	started time.Time
	closed  bool
}

// Recv returns the next chunk. A chunk of type "error" is surfaced as a
// Go error; the stream is unusable afterwards.
func (s *httpStream) Recv() (Chunk, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return Chunk{}, io.EOF
		}

		var chunk Chunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return Chunk{}, fmt.Errorf("failed to decode generator chunk: %w", err)
		}
		if chunk.Error != "" {
			return Chunk{}, fmt.Errorf("generator reported error: %s", chunk.Error)
		}
		return chunk, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Chunk{}, fmt.Errorf("generator stream read failed: %w", err)
	}
	return Chunk{}, io.EOF
}

func (s *httpStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	metrics.GeneratorDuration.Observe(time.Since(s.started).Seconds())
	s.cancel()
	err := s.body.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
