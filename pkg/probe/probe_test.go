package probe_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/germanamz/owl/pkg/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func TestCheck_Success(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "OWL Framework", r.Header.Get("X-Title"))

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "openai/gpt-3.5-turbo", req["model"])
		assert.Contains(t, string(body), "Hello! Please respond with 'OpenRouter is working!'")

		writeJSON(t, w, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "OpenRouter is working!"}}},
		})
	})

	reply, err := probe.Check(context.Background(), probe.Options{
		BaseURL:    srv.URL + "/api/v1",
		Key:        "sk-or",
		Headers:    map[string]string{"X-Title": "OWL Framework"},
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	assert.Equal(t, "OpenRouter is working!", reply)
}

func TestCheck_Unauthorized(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"No auth credentials found","code":401}}`))
	})

	_, err := probe.Check(context.Background(), probe.Options{BaseURL: srv.URL, Key: "bad", HTTPClient: srv.Client()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe:")
	assert.Contains(t, err.Error(), "No auth credentials found")
}

func TestCheck_EmptyChoices(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"choices": []any{}})
	})

	_, err := probe.Check(context.Background(), probe.Options{BaseURL: srv.URL, Key: "k", HTTPClient: srv.Client()})
	assert.EqualError(t, err, "probe: empty choices in response")
}

func TestCheck_EmptyKey(t *testing.T) {
	_, err := probe.Check(context.Background(), probe.Options{BaseURL: "http://unused"})
	assert.EqualError(t, err, "probe: api key is empty")
}
