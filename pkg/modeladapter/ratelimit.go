package modeladapter

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/germanamz/owl/pkg/chats/chat"
	"github.com/germanamz/owl/pkg/chats/message"
	"github.com/germanamz/owl/pkg/modeladapter/usage"
	"github.com/germanamz/owl/pkg/retry"
	"github.com/germanamz/owl/pkg/tools/toolbox"
)

var _ Completer = (*RateLimitedCompleter)(nil)

type tokenEntry struct {
	timestamp    time.Time
	inputTokens  int
	outputTokens int
}

// RateLimitedCompleter wraps a Completer with sliding-window TPM/RPM
// throttling and retries on errors Retryable accepts (429s and temporary
// upstream failures). Input and output tokens are throttled independently.
type RateLimitedCompleter struct {
	inner           Completer
	mu              sync.Mutex
	completeMu      sync.Mutex
	window          []tokenEntry
	inputTPM        int
	outputTPM       int
	rpm             int
	maxRetries      int
	baseDelay       time.Duration
	fallbackTracker usage.Tracker
	logger          *slog.Logger

	nowFunc   func() time.Time
	sleepFunc retry.SleepFunc
	randFunc  func() float64
}

// RateLimitOpts configures the RateLimitedCompleter. Zero limits disable
// throttling for that dimension.
type RateLimitOpts struct {
	InputTPM   int
	OutputTPM  int
	RPM        int
	MaxRetries int           // Retries after the first retryable failure (default 3).
	BaseDelay  time.Duration // Initial backoff (default 1s).
}

// NewRateLimitedCompleter wraps inner with rate limiting.
func NewRateLimitedCompleter(inner Completer, opts RateLimitOpts) *RateLimitedCompleter {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}

	return &RateLimitedCompleter{
		inner:      inner,
		inputTPM:   opts.InputTPM,
		outputTPM:  opts.OutputTPM,
		rpm:        opts.RPM,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		logger:     slog.Default().With("component", "ratelimit"),
		nowFunc:    time.Now,
		sleepFunc:  retry.Sleep,
		randFunc:   rand.Float64,
	}
}

// SetNowFunc overrides the time source (for testing).
func (r *RateLimitedCompleter) SetNowFunc(fn func() time.Time) { r.nowFunc = fn }

// SetSleepFunc overrides the sleep function (for testing).
func (r *RateLimitedCompleter) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	r.sleepFunc = fn
}

// SetRandFunc overrides the jitter source (for testing).
func (r *RateLimitedCompleter) SetRandFunc(fn func() float64) { r.randFunc = fn }

// pruneWindow drops entries older than a minute. Caller holds mu.
func (r *RateLimitedCompleter) pruneWindow(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(r.window) && !r.window[i].timestamp.After(cutoff) {
		i++
	}
	if i > 0 {
		r.window = append(r.window[:0:0], r.window[i:]...)
	}
}

// windowTotals sums the window. Caller holds mu.
func (r *RateLimitedCompleter) windowTotals() (inputTotal, outputTotal int) {
	for _, e := range r.window {
		inputTotal += e.inputTokens
		outputTotal += e.outputTokens
	}
	return inputTotal, outputTotal
}

func (r *RateLimitedCompleter) waitForCapacity(ctx context.Context) error {
	if r.inputTPM <= 0 && r.outputTPM <= 0 && r.rpm <= 0 {
		return nil
	}

	const minWait = 10 * time.Millisecond

	for {
		r.mu.Lock()
		now := r.nowFunc()
		r.pruneWindow(now)
		inputTotal, outputTotal := r.windowTotals()

		inputOK := r.inputTPM <= 0 || inputTotal < r.inputTPM
		outputOK := r.outputTPM <= 0 || outputTotal < r.outputTPM
		rpmOK := r.rpm <= 0 || len(r.window) < r.rpm

		if inputOK && outputOK && rpmOK {
			r.mu.Unlock()
			return nil
		}

		var wait time.Duration
		if len(r.window) > 0 {
			wait = r.window[0].timestamp.Add(time.Minute).Sub(now)
		}
		r.mu.Unlock()

		if err := r.sleepFunc(ctx, max(wait, minWait)); err != nil {
			return err
		}
	}
}

func (r *RateLimitedCompleter) recordTokens(inputTokens, outputTokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.window = append(r.window, tokenEntry{
		timestamp:    r.nowFunc(),
		inputTokens:  inputTokens,
		outputTokens: outputTokens,
	})
}

// completeOnce serialises calls to inner so usage deltas are attributable.
func (r *RateLimitedCompleter) completeOnce(ctx context.Context, c *chat.Chat, tools []toolbox.Tool) (message.Message, error) {
	r.completeMu.Lock()
	defer r.completeMu.Unlock()

	ur, tracked := r.inner.(UsageReporter)

	var before usage.TokenCount
	if tracked {
		before = ur.UsageTracker().Total()
	}

	msg, err := r.inner.Complete(ctx, c, tools)
	if err == nil && tracked {
		after := ur.UsageTracker().Total()
		r.recordTokens(after.InputTokens-before.InputTokens, after.OutputTokens-before.OutputTokens)
	}

	return msg, err
}

// Complete implements Completer.
func (r *RateLimitedCompleter) Complete(ctx context.Context, c *chat.Chat, tools []toolbox.Tool) (message.Message, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return message.Message{}, err
	}

	msg, err := retry.Value(ctx, func(ctx context.Context, _ int) (message.Message, error) {
		return r.completeOnce(ctx, c, tools)
	},
		retry.WithMaxAttempts(r.maxRetries+1),
		retry.WithBaseDelay(r.baseDelay),
		retry.WithJitter(0.75, 1.25),
		retry.WithSleep(r.sleepFunc),
		retry.WithRand(r.randFunc),
		retry.WithRetryIf(Retryable),
		retry.WithDelayFunc(func(err error, d time.Duration) time.Duration {
			var rle *RateLimitError
			if errors.As(err, &rle) {
				return max(d, rle.RetryAfter)
			}
			return d
		}),
		retry.WithOnRetry(func(attempt, maxAttempts int, err error, delay time.Duration) {
			r.logger.Warn("completion failed, retrying", "attempt", attempt, "max_attempts", maxAttempts, "delay", delay, "error", err)
		}),
	)
	if err != nil {
		return message.Message{}, err
	}

	if err := r.adaptFromServerInfo(ctx); err != nil {
		return message.Message{}, err
	}

	return msg, nil
}

// adaptFromServerInfo sleeps until the provider's reset time when the last
// response reported at most one request or token left.
func (r *RateLimitedCompleter) adaptFromServerInfo(ctx context.Context) error {
	reporter, ok := r.inner.(RateLimitInfoReporter)
	if !ok {
		return nil
	}

	info := reporter.LastRateLimitInfo()
	if info == nil {
		return nil
	}

	now := r.nowFunc()
	var until time.Time

	if info.RemainingRequests <= 1 && info.RequestsReset.After(now) {
		until = info.RequestsReset
	}

	if info.RemainingTokens >= 0 && info.RemainingTokens <= 1 && info.TokensReset.After(now) && info.TokensReset.After(until) {
		until = info.TokensReset
	}

	if until.IsZero() {
		return nil
	}

	r.logger.Debug("provider capacity low, pausing", "until", until)

	return r.sleepFunc(ctx, until.Sub(now))
}

// UsageTracker forwards to inner when it reports usage.
func (r *RateLimitedCompleter) UsageTracker() *usage.Tracker {
	if ur, ok := r.inner.(UsageReporter); ok {
		return ur.UsageTracker()
	}
	return &r.fallbackTracker
}

// ModelMaxTokens forwards to inner when it reports usage.
func (r *RateLimitedCompleter) ModelMaxTokens() int {
	if ur, ok := r.inner.(UsageReporter); ok {
		return ur.ModelMaxTokens()
	}
	return 0
}
