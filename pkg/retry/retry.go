// Package retry runs an operation a fixed number of times with exponential
// backoff between attempts.
//
// The delay before attempt n+1 is BaseDelay * 2^(n-1), optionally scaled by a
// random factor. After the last attempt the error is wrapped in an
// [ExhaustedError]; callers never receive a partial result.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrExhausted matches every ExhaustedError via errors.Is.
var ErrExhausted = errors.New("max retries exceeded")

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retries exceeded: %v", e.Last)
}

// Unwrap exposes the last attempt's error.
func (e *ExhaustedError) Unwrap() error { return e.Last }

// Is reports whether target is ErrExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// OnRetryFunc is called after a failed attempt that will be retried.
type OnRetryFunc func(attempt, maxAttempts int, err error, delay time.Duration)

// Option configures Do.
type Option func(*options)

type options struct {
	maxAttempts int
	baseDelay   time.Duration
	jitterLo    float64
	jitterHi    float64
	sleep       SleepFunc
	rand        func() float64
	onRetry     OnRetryFunc
	onExhausted func(attempts int, err error)
	retryIf     func(error) bool
	delayFor    func(err error, d time.Duration) time.Duration
}

func defaults() *options {
	return &options{
		maxAttempts: 3,
		baseDelay:   5 * time.Second,
		sleep:       Sleep,
		rand:        rand.Float64,
	}
}

// WithMaxAttempts sets the total number of attempts, including the first.
// Values below 1 are treated as 1.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = max(n, 1) }
}

// WithBaseDelay sets the delay before the second attempt.
func WithBaseDelay(d time.Duration) Option {
	return func(o *options) { o.baseDelay = d }
}

// WithJitter scales every delay by a uniform random factor in [lo, hi).
func WithJitter(lo, hi float64) Option {
	return func(o *options) { o.jitterLo, o.jitterHi = lo, hi }
}

// WithSleep replaces the wait between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

// WithRand replaces the random source used for jitter. fn must return values
// in [0, 1).
func WithRand(fn func() float64) Option {
	return func(o *options) { o.rand = fn }
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn OnRetryFunc) Option {
	return func(o *options) { o.onRetry = fn }
}

// WithOnExhausted registers a hook called once when the last attempt fails.
func WithOnExhausted(fn func(attempts int, err error)) Option {
	return func(o *options) { o.onExhausted = fn }
}

// WithRetryIf limits retries to errors for which fn returns true. Other
// errors are returned as-is after the attempt that produced them.
func WithRetryIf(fn func(error) bool) Option {
	return func(o *options) { o.retryIf = fn }
}

// WithDelayFunc lets the caller adjust the computed delay for a given error,
// e.g. to honour a server-provided Retry-After. It runs before jitter.
func WithDelayFunc(fn func(err error, d time.Duration) time.Duration) Option {
	return func(o *options) { o.delayFor = fn }
}

// MaxBackoff caps the delay Backoff computes.
const MaxBackoff = time.Hour

// Backoff returns base * 2^(attempt-1) for attempt >= 1, capped at
// MaxBackoff.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	if base >= MaxBackoff {
		return MaxBackoff
	}

	d := base
	for range attempt - 1 {
		if d >= MaxBackoff/2 {
			return MaxBackoff
		}
		d <<= 1
	}

	return d
}

// Jitter scales d by lo + r*(hi-lo).
func Jitter(d time.Duration, r, lo, hi float64) time.Duration {
	return time.Duration(float64(d) * (lo + r*(hi-lo)))
}

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SafeSleep waits base scaled by a uniform factor in [0.5, 1.5) and returns
// the duration it waited. WithSleep and WithRand apply; other options are
// ignored.
func SafeSleep(ctx context.Context, base time.Duration, opts ...Option) (time.Duration, error) {
	o := defaults()
	for _, opt := range opts {
		opt(o)
	}

	d := Jitter(base, o.rand(), 0.5, 1.5)

	return d, o.sleep(ctx, d)
}

// Do calls op until it succeeds or the attempts run out. op receives the
// 1-based attempt number.
func Do(ctx context.Context, op func(ctx context.Context, attempt int) error, opts ...Option) error {
	o := defaults()
	for _, opt := range opts {
		opt(o)
	}

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if o.retryIf != nil && !o.retryIf(err) {
			return err
		}

		if attempt == o.maxAttempts {
			break
		}

		delay := Backoff(o.baseDelay, attempt)
		if o.delayFor != nil {
			delay = o.delayFor(err, delay)
		}
		if o.jitterHi > 0 {
			delay = Jitter(delay, o.rand(), o.jitterLo, o.jitterHi)
		}

		if o.onRetry != nil {
			o.onRetry(attempt, o.maxAttempts, err, delay)
		}

		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if o.onExhausted != nil {
		o.onExhausted(o.maxAttempts, lastErr)
	}

	return &ExhaustedError{Attempts: o.maxAttempts, Last: lastErr}
}

// Value is Do for operations that produce a result. The zero value is
// returned whenever err is non-nil.
func Value[T any](ctx context.Context, op func(ctx context.Context, attempt int) (T, error), opts ...Option) (T, error) {
	var out T

	err := Do(ctx, func(ctx context.Context, attempt int) error {
		v, err := op(ctx, attempt)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}

	return out, nil
}
