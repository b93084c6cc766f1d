package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagegen/pagegen/pkg/generator"
)

func TestHTTPRunnerRun(t *testing.T) {
	var got generator.ToolCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, executePath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	runner := NewHTTPRunner(srv.URL)
	err := runner.Run(context.Background(), generator.ToolCall{
		ID: "t1", Name: "fetch", Args: json.RawMessage(`{"url":"https://x"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "fetch", got.Name)
}

func TestHTTPRunnerRunFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "tool not allowed", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewHTTPRunner(srv.URL).Run(context.Background(), generator.ToolCall{Name: "rm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "tool not allowed")
}

func TestHTTPRunnerTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, toolsPath, r.URL.Path)
		fmt.Fprint(w, `[{"name":"fetch","description":"HTTP GET"}]`)
	}))
	defer srv.Close()

	defs, err := NewHTTPRunner(srv.URL).Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "fetch", defs[0].Name)
}

func TestNoopRunner(t *testing.T) {
	assert.NoError(t, NoopRunner{}.Run(context.Background(), generator.ToolCall{Name: "anything"}))
}
