package modeladapter

import (
	"net/http"
	"strconv"
	"time"
)

// RateLimitInfo is what the provider said about remaining capacity.
// RemainingTokens is -1 when the provider does not limit tokens.
type RateLimitInfo struct {
	RemainingRequests int
	RemainingTokens   int
	RequestsReset     time.Time
	TokensReset       time.Time
}

// RateLimitInfoReporter is implemented by completers that keep the last
// RateLimitInfo; RateLimitedCompleter pauses on it.
type RateLimitInfoReporter interface {
	LastRateLimitInfo() *RateLimitInfo
}

// RateLimitHeaderParser reads a response's rate limit headers, nil when
// there are none. now anchors relative reset values.
type RateLimitHeaderParser func(h http.Header, now time.Time) *RateLimitInfo

// headerScheme names one provider's rate limit headers.
type headerScheme struct {
	requests, tokens           string
	requestsReset, tokensReset string
}

var (
	openAIHeaders = headerScheme{
		requests:      "x-ratelimit-remaining-requests",
		tokens:        "x-ratelimit-remaining-tokens",
		requestsReset: "x-ratelimit-reset-requests",
		tokensReset:   "x-ratelimit-reset-tokens",
	}
	anthropicHeaders = headerScheme{
		requests:      "anthropic-ratelimit-requests-remaining",
		tokens:        "anthropic-ratelimit-tokens-remaining",
		requestsReset: "anthropic-ratelimit-requests-reset",
		tokensReset:   "anthropic-ratelimit-tokens-reset",
	}
)

func (s headerScheme) parse(h http.Header, now time.Time) *RateLimitInfo {
	requests, tokens := h.Get(s.requests), h.Get(s.tokens)
	if requests == "" && tokens == "" {
		return nil
	}

	return &RateLimitInfo{
		RemainingRequests: atoiOr(requests, 0),
		RemainingTokens:   atoiOr(tokens, 0),
		RequestsReset:     parseResetTime(h.Get(s.requestsReset), now),
		TokensReset:       parseResetTime(h.Get(s.tokensReset), now),
	}
}

// ParseOpenAIRateLimitHeaders reads the x-ratelimit-* set used by OpenAI and
// xAI.
func ParseOpenAIRateLimitHeaders(h http.Header, now time.Time) *RateLimitInfo {
	return openAIHeaders.parse(h, now)
}

// ParseAnthropicRateLimitHeaders reads anthropic-ratelimit-*; resets are
// RFC 3339 timestamps.
func ParseAnthropicRateLimitHeaders(h http.Header, now time.Time) *RateLimitInfo {
	return anthropicHeaders.parse(h, now)
}

// ParseOpenRouterRateLimitHeaders reads X-RateLimit-Remaining and
// X-RateLimit-Reset (unix milliseconds). OpenRouter only limits requests.
// Without those headers it falls back to the OpenAI set, which some routed
// upstreams pass through.
func ParseOpenRouterRateLimitHeaders(h http.Header, now time.Time) *RateLimitInfo {
	remaining := h.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return ParseOpenAIRateLimitHeaders(h, now)
	}

	info := &RateLimitInfo{
		RemainingRequests: atoiOr(remaining, 0),
		RemainingTokens:   -1,
	}
	if ms, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		info.RequestsReset = time.UnixMilli(ms)
	}

	return info
}

func atoiOr(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}

// parseResetTime takes an RFC 3339 time or a duration from now ("1s",
// "6m0s").
func parseResetTime(val string, now time.Time) time.Time {
	if val == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t
	}
	if d, err := time.ParseDuration(val); err == nil {
		return now.Add(d)
	}
	return time.Time{}
}
