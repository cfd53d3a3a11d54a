package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/owl/pkg/console"
	"github.com/germanamz/owl/pkg/history"
	"github.com/germanamz/owl/pkg/retry"
	"github.com/germanamz/owl/pkg/society"
)

// fakeOpenRouter answers chat completions as either the user or the
// assistant, depending on the system prompt of the request.
type fakeOpenRouter struct {
	mu        sync.Mutex
	failFirst int // Number of requests answered with 500.
	requests  int
	userTurns int
	headers   []http.Header
}

func (f *fakeOpenRouter) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		f.mu.Lock()
		f.requests++
		f.headers = append(f.headers, r.Header.Clone())
		fail := f.requests <= f.failFirst
		f.mu.Unlock()

		if fail {
			http.Error(w, `{"error":{"message":"upstream down"}}`, http.StatusInternalServerError)
			return
		}

		var system string
		if len(req.Messages) > 0 {
			_ = json.Unmarshal(req.Messages[0].Content, &system)
		}

		var reply string
		switch {
		case strings.HasPrefix(system, "You are user."):
			f.mu.Lock()
			f.userTurns++
			turn := f.userTurns
			f.mu.Unlock()
			reply = "Instruction: list the best AI tools\nInput: None"
			if turn%2 == 0 {
				reply = society.DoneToken
			}
		default:
			reply = "Solution: ChatGPT, Claude and Gemini. Next request."
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 10},
		})
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}

func testConfig(baseURL string) Config {
	cfg := Default()
	cfg.BaseURL = baseURL
	cfg.Toolkits = ToolkitsConfig{Excel: ToggleConfig{Enabled: true}}
	cfg.Retry.MaxAttempts = 2
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) (*Engine, *bytes.Buffer, *sleepRecorder) {
	t.Helper()

	var out bytes.Buffer
	rec := &sleepRecorder{}
	opts = append([]Option{WithSleep(rec.sleep), WithRand(func() float64 { return 0.5 })}, opts...)

	e, err := New(context.Background(), cfg, "sk-or-test", console.New(&out), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return e, &out, rec
}

func newFakeServer(t *testing.T, f *fakeOpenRouter) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.Models.User.Model = ""

	_, err := New(context.Background(), cfg, "k", console.New(&bytes.Buffer{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "models.user: model is required")
}

func TestConstructSociety_ProgressOutput(t *testing.T) {
	srv := newFakeServer(t, &fakeOpenRouter{})
	cfg := testConfig(srv.URL)
	cfg.Toolkits.Browser = BrowserConfig{Enabled: true, Headless: true}
	cfg.Toolkits.Image = ImageConfig{Enabled: true}

	e, out, rec := newTestEngine(t, cfg)

	soc, err := e.ConstructSociety(context.Background(), DefaultQuestion)
	require.NoError(t, err)
	assert.Equal(t, DefaultQuestion, soc.Task())

	assert.Equal(t, []time.Duration{2 * time.Second}, rec.sleeps)

	text := out.String()
	order := []string{
		"Creating user model with OpenRouter...",
		"Sleeping for 2.00 seconds...",
		"Creating assistant model with OpenRouter...",
		"Setting up WebToolkit...",
		"Setting up ExcelToolkit...",
		"Setting up ImageAnalysisToolkit...",
	}
	last := -1
	for _, line := range order {
		idx := strings.Index(text, line)
		require.GreaterOrEqual(t, idx, 0, "missing %q in:\n%s", line, text)
		assert.Greater(t, idx, last, "%q out of order", line)
		last = idx
	}
}

func TestConstructSociety_NoDelay(t *testing.T) {
	srv := newFakeServer(t, &fakeOpenRouter{})
	cfg := testConfig(srv.URL)
	cfg.ConstructDelay = ""

	e, out, rec := newTestEngine(t, cfg)

	_, err := e.ConstructSociety(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, rec.sleeps)
	assert.NotContains(t, out.String(), "Sleeping")
}

func TestRunWithRetries_Success(t *testing.T) {
	fake := &fakeOpenRouter{}
	srv := newFakeServer(t, fake)

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := NewEventBus()
	sub := bus.Subscribe(64)

	e, out, _ := newTestEngine(t, testConfig(srv.URL), WithHistory(store), WithEventBus(bus))

	rep, err := e.RunWithRetries(context.Background(), DefaultQuestion, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Attempts)
	assert.True(t, rep.Result.Done)
	assert.Equal(t, 1, rep.Result.Rounds)
	assert.Equal(t, "Solution: ChatGPT, Claude and Gemini. Next request.", rep.Result.Answer)
	assert.Equal(t, 300, rep.Result.Usage.InputTokens)
	assert.Equal(t, 30, rep.Result.Usage.OutputTokens)
	assert.NotEmpty(t, rep.RunID)

	text := out.String()
	assert.Contains(t, text, "Attempt 1/2 to run society...")
	assert.Contains(t, text, "Run completed successfully!")
	assert.NotContains(t, text, "Error during run")

	for _, h := range fake.headers {
		assert.Equal(t, "Bearer sk-or-test", h.Get("Authorization"))
		assert.Equal(t, "OWL Framework", h.Get("X-Title"))
		assert.Equal(t, "http://localhost:3000", h.Get("HTTP-Referer"))
	}

	got, err := store.Get(rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, DefaultQuestion, got.Question)
	assert.True(t, got.Succeeded())

	bus.Unsubscribe(sub)
	var kinds []EventKind
	for ev := range sub.C {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventAttemptStart, EventRound, EventRunCompleted}, kinds)
}

func TestRunWithRetries_UsesFirstSociety(t *testing.T) {
	srv := newFakeServer(t, &fakeOpenRouter{})
	e, out, _ := newTestEngine(t, testConfig(srv.URL))

	soc, err := e.ConstructSociety(context.Background(), "q")
	require.NoError(t, err)
	out.Reset()

	_, err = e.RunWithRetries(context.Background(), "q", soc)
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "Creating user model")
}

func TestRunWithRetries_RecoversOnSecondAttempt(t *testing.T) {
	srv := newFakeServer(t, &fakeOpenRouter{failFirst: 1})
	e, out, rec := newTestEngine(t, testConfig(srv.URL))

	rep, err := e.RunWithRetries(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Attempts)

	text := out.String()
	assert.Contains(t, text, "Error during run (attempt 1/2): ")
	assert.Contains(t, text, "unexpected status 500")
	assert.Contains(t, text, "Waiting 5 seconds before retry...")
	assert.Contains(t, text, "Attempt 2/2 to run society...")
	assert.Equal(t, 2, strings.Count(text, "Creating user model with OpenRouter..."))

	// construct delay, retry wait, construct delay
	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second, 2 * time.Second}, rec.sleeps)
}

func TestRunWithRetries_Exhausted(t *testing.T) {
	srv := newFakeServer(t, &fakeOpenRouter{failFirst: 1000})

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := testConfig(srv.URL)
	cfg.Retry.MaxAttempts = 3
	e, out, rec := newTestEngine(t, cfg, WithHistory(store))

	rep, err := e.RunWithRetries(context.Background(), "q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.True(t, strings.HasPrefix(err.Error(), "max retries exceeded: "))
	assert.Equal(t, 3, rep.Attempts)
	assert.Empty(t, rep.Result.Answer)

	text := out.String()
	assert.Contains(t, text, "Error during run (attempt 3/3): ")
	assert.Contains(t, text, "Waiting 5 seconds before retry...")
	assert.Contains(t, text, "Waiting 10 seconds before retry...")
	assert.Contains(t, text, "Max retries exceeded. Last error: ")
	assert.NotContains(t, text, "Run completed successfully!")
	assert.Len(t, rec.sleeps, 5)

	records, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Succeeded())
	assert.Equal(t, 3, records[0].Attempts)
}

func TestRunWithRetries_ContextCancelled(t *testing.T) {
	srv := newFakeServer(t, &fakeOpenRouter{failFirst: 1000})
	e, _, _ := newTestEngine(t, testConfig(srv.URL), WithSleep(func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}))

	_, err := e.RunWithRetries(context.Background(), "q", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, retry.ErrExhausted))
}

func TestProbe(t *testing.T) {
	fake := &fakeOpenRouter{}
	srv := newFakeServer(t, fake)
	e, _, _ := newTestEngine(t, testConfig(srv.URL))

	reply, err := e.Probe(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	require.Len(t, fake.headers, 1)
	assert.Equal(t, "OWL Framework", fake.headers[0].Get("X-Title"))
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "5", formatSeconds(5*time.Second))
	assert.Equal(t, "7.50", formatSeconds(7500*time.Millisecond))
}

func TestClose_Idempotent(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Toolkits.Browser.Enabled = true

	e, _, _ := newTestEngine(t, cfg)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestToolBoxes(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Toolkits.Search.Enabled = true

	e, _, _ := newTestEngine(t, cfg)

	var names []string
	for _, tb := range e.ToolBoxes() {
		for _, tool := range tb.Tools() {
			names = append(names, tool.Name)
		}
	}
	assert.Equal(t, []string{"search_duckduckgo", "search_wiki", "excel_extract"}, names)
}
