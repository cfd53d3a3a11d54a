package modeladapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/germanamz/owl/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ modeladapter.UsageReporter = (*modeladapter.ModelAdapter)(nil)

func TestNew(t *testing.T) {
	temp, topP := 0.0, 1.0

	a := modeladapter.New("https://openrouter.ai/api/v1", modeladapter.Auth{Key: "sk-or"}, nil)
	a.Name = "openai/gpt-4o"
	a.Temperature = &temp
	a.TopP = &topP
	a.MaxTokens = 1024

	assert.Nil(t, a.Client)
	assert.Equal(t, "https://openrouter.ai/api/v1", a.BaseURL)
	assert.InDelta(t, 0.0, *a.Temperature, 1e-9)
	assert.InDelta(t, 1.0, *a.TopP, 1e-9)
	assert.Equal(t, 1024, a.ModelMaxTokens())
	assert.NotNil(t, a.UsageTracker())
	assert.Nil(t, a.LastRateLimitInfo())
}

func TestNewRequest_Auth(t *testing.T) {
	tests := []struct {
		name       string
		auth       modeladapter.Auth
		wantHeader string
		wantValue  string
	}{
		{"bearer default", modeladapter.Auth{Key: "sk-test"}, "Authorization", "Bearer sk-test"},
		{"custom header", modeladapter.Auth{Key: "sk-test", Header: "x-api-key"}, "x-api-key", "sk-test"},
		{"custom header with scheme", modeladapter.Auth{Key: "sk-test", Header: "x-api-key", Scheme: "Token"}, "x-api-key", "Token sk-test"},
		{"custom scheme", modeladapter.Auth{Key: "sk-test", Scheme: "Key"}, "Authorization", "Key sk-test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := modeladapter.New("https://api.example.com", tt.auth, nil)

			req, err := a.NewRequest(context.Background(), http.MethodGet, "/models", nil)
			require.NoError(t, err)
			assert.Equal(t, "https://api.example.com/models", req.URL.String())
			assert.Equal(t, tt.wantValue, req.Header.Get(tt.wantHeader))
		})
	}
}

func TestNewRequest_NoAuth(t *testing.T) {
	a := modeladapter.New("https://api.example.com", modeladapter.Auth{}, nil)

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/models", nil)
	require.NoError(t, err)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestNewRequest_ExtraHeaders(t *testing.T) {
	a := modeladapter.New("https://openrouter.ai/api/v1", modeladapter.Auth{}, nil)
	a.Headers = map[string]string{
		"HTTP-Referer": "http://localhost:3000",
		"X-Title":      "OWL Framework",
	}

	req, err := a.NewRequest(context.Background(), http.MethodPost, "/chat/completions", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", req.Header.Get("HTTP-Referer"))
	assert.Equal(t, "OWL Framework", req.Header.Get("X-Title"))
}

func TestDo_Passthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/ping", nil)
	require.NoError(t, err)

	resp, err := a.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestPostJSON_Success(t *testing.T) {
	type reqBody struct {
		Model string `json:"model"`
	}
	type respBody struct {
		ID string `json:"id"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got reqBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "openai/gpt-4o", got.Model)

		w.Header().Set("X-RateLimit-Remaining", "19")
		_ = json.NewEncoder(w).Encode(respBody{ID: "gen-123"})
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{Key: "sk-or"}, srv.Client())
	a.HeaderParser = modeladapter.ParseOpenRouterRateLimitHeaders

	var dest respBody
	require.NoError(t, a.PostJSON(context.Background(), "/chat/completions", reqBody{Model: "openai/gpt-4o"}, &dest))
	assert.Equal(t, "gen-123", dest.ID)

	info := a.LastRateLimitInfo()
	require.NotNil(t, info)
	assert.Equal(t, 19, info.RemainingRequests)
}

func TestPostJSON_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"No auth credentials found"}}`))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	err := a.PostJSON(context.Background(), "/chat/completions", map[string]string{}, nil)
	require.Error(t, err)

	var se *modeladapter.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.False(t, se.Temporary())
	assert.Contains(t, err.Error(), "unexpected status 401")
}

func TestPostJSON_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	err := a.PostJSON(context.Background(), "/chat/completions", map[string]string{}, nil)

	var rle *modeladapter.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 7*time.Second, rle.RetryAfter)
	assert.Equal(t, "slow down", rle.Body)
	assert.Equal(t, "rate limited (retry after 7s): slow down", err.Error())
}

func TestPostJSON_MarshalError(t *testing.T) {
	a := modeladapter.New("https://api.example.com", modeladapter.Auth{}, nil)

	err := a.PostJSON(context.Background(), "/chat/completions", make(chan int), nil)
	assert.ErrorContains(t, err, "marshal payload")
}

func TestPostJSON_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	var dest map[string]any
	err := a.PostJSON(context.Background(), "/chat/completions", map[string]string{}, &dest)
	assert.ErrorContains(t, err, "decode response")
}

func TestStatusError_Temporary(t *testing.T) {
	assert.True(t, (&modeladapter.StatusError{Code: 502}).Temporary())
	assert.True(t, (&modeladapter.StatusError{Code: 408}).Temporary())
	assert.False(t, (&modeladapter.StatusError{Code: 400}).Temporary())
}

func TestRetryable(t *testing.T) {
	assert.True(t, modeladapter.Retryable(&modeladapter.RateLimitError{}))
	assert.True(t, modeladapter.Retryable(fmt.Errorf("openai: %w", &modeladapter.StatusError{Code: 503})))
	assert.False(t, modeladapter.Retryable(&modeladapter.StatusError{Code: 401}))
	assert.False(t, modeladapter.Retryable(errors.New("decode response")))
}

func TestPostJSON_ErrorBodyCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("  <html>" + strings.Repeat("x", 10000) + "</html>\n"))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL+"/", modeladapter.Auth{}, srv.Client())

	err := a.PostJSON(context.Background(), "/chat/completions", map[string]string{}, nil)

	var se *modeladapter.StatusError
	require.ErrorAs(t, err, &se)
	assert.Len(t, se.Body, 4096-2)
	assert.True(t, strings.HasPrefix(se.Body, "<html>"))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), modeladapter.ParseRetryAfter(""))
	assert.Equal(t, 30*time.Second, modeladapter.ParseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), modeladapter.ParseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), modeladapter.ParseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, modeladapter.ParseRetryAfter(future), 50*time.Minute)
}
