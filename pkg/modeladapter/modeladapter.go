package modeladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/germanamz/owl/pkg/chats/chat"
	"github.com/germanamz/owl/pkg/chats/message"
	"github.com/germanamz/owl/pkg/modeladapter/usage"
	"github.com/germanamz/owl/pkg/tools/toolbox"
)

// maxErrorBody caps how much of a failed response ends up in an error.
// OpenRouter and some upstream providers answer errors with full HTML pages.
const maxErrorBody = 4 << 10

// RateLimitError is an HTTP 429 answer.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Body)
	}
	return "rate limited: " + e.Body
}

// StatusError is any other non-2xx answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Temporary reports whether the same request may succeed later: server side
// failures (OpenRouter relays upstream outages as 502 and 503) and timeouts.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout
}

// Retryable reports whether err is worth retrying the same completion for.
func Retryable(err error) bool {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}

	var se *StatusError
	return errors.As(err, &se) && se.Temporary()
}

// ParseRetryAfter reads a Retry-After header in either of its two forms,
// delta-seconds or HTTP-date. Unusable or past values give zero.
func ParseRetryAfter(val string) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}

	if secs, err := strconv.Atoi(val); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}

	if t, err := http.ParseTime(val); err == nil {
		return max(time.Until(t), 0)
	}

	return 0
}

// Completer produces the next message of c. tools are the tools the model
// may call in that message.
type Completer interface {
	Complete(ctx context.Context, c *chat.Chat, tools []toolbox.Tool) (message.Message, error)
}

// UsageReporter is implemented by completers that count tokens. Completers
// embedding ModelAdapter implement it.
type UsageReporter interface {
	UsageTracker() *usage.Tracker
	ModelMaxTokens() int
}

// Auth describes how the API key travels. The zero Header means
// "Authorization: Bearer <key>".
type Auth struct {
	Key    string
	Header string
	Scheme string
}

func (a Auth) apply(h http.Header) {
	if a.Key == "" {
		return
	}

	header, scheme := a.Header, a.Scheme
	if header == "" {
		header = "Authorization"
	}
	if header == "Authorization" && scheme == "" {
		scheme = "Bearer"
	}

	value := a.Key
	if scheme != "" {
		value = scheme + " " + value
	}

	h.Set(header, value)
}

// ModelAdapter carries what every HTTP chat backend needs: endpoint, key,
// sampling settings and token accounting. Backends embed it and add
// Complete.
type ModelAdapter struct {
	Name         string   // Model id, e.g. "openai/gpt-4o".
	Temperature  *float64 // nil leaves the server default.
	TopP         *float64 // nil leaves the server default.
	MaxTokens    int      // 0 omits the field.
	Auth         Auth
	BaseURL      string            // No trailing slash.
	Client       *http.Client      // nil uses a client with a 10 minute timeout.
	Headers      map[string]string // Sent with every request, e.g. HTTP-Referer and X-Title.
	Usage        usage.Tracker
	HeaderParser RateLimitHeaderParser // Optional.

	rateLimitInfo atomic.Pointer[RateLimitInfo]
	clientOnce    sync.Once
	defaultClient *http.Client
}

// New returns an adapter for baseURL. client may be nil.
func New(baseURL string, auth Auth, client *http.Client) ModelAdapter {
	return ModelAdapter{
		Auth:    auth,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  client,
	}
}

func (a *ModelAdapter) UsageTracker() *usage.Tracker { return &a.Usage }

func (a *ModelAdapter) ModelMaxTokens() int { return a.MaxTokens }

// LastRateLimitInfo returns what the last successful response said about
// remaining capacity, or nil.
func (a *ModelAdapter) LastRateLimitInfo() *RateLimitInfo { return a.rateLimitInfo.Load() }

func (a *ModelAdapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	a.clientOnce.Do(func() {
		a.defaultClient = &http.Client{Timeout: 10 * time.Minute}
	})

	return a.defaultClient
}

// NewRequest builds a request for BaseURL+path carrying the key and the
// extra headers.
func (a *ModelAdapter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	a.Auth.apply(req.Header)
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// Do sends req with the adapter's client.
func (a *ModelAdapter) Do(req *http.Request) (*http.Response, error) {
	return a.client().Do(req) //nolint:gosec // URL comes from configured BaseURL.
}

// PostJSON posts payload to path and decodes a 2xx answer into dest (nil
// discards it). 429 gives *RateLimitError and other failures *StatusError.
func (a *ModelAdapter) PostJSON(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := a.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	slog.DebugContext(ctx, "model request",
		"component", "modeladapter",
		"model", a.Name,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       errorBody(resp.Body),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &StatusError{Code: resp.StatusCode, Body: errorBody(resp.Body)}
	}

	if a.HeaderParser != nil {
		if info := a.HeaderParser(resp.Header, time.Now()); info != nil {
			a.rateLimitInfo.Store(info)
		}
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func errorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
