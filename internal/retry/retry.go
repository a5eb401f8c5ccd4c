// Package retry runs a fallible call under a bounded attempt budget and
// reports the outcome as a tagged result instead of nested error handling.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrExhausted is reported when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// DefaultTimeout bounds a single attempt.
const DefaultTimeout = 30 * time.Second

// Backoff defines exponential delays between attempts.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// Delay returns the wait before the given attempt (1-indexed). The first
// attempt never waits.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 || b.Initial <= 0 {
		return 0
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(b.Initial) * math.Pow(factor, float64(attempt-2))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Policy is the retry budget for one logical call.
type Policy struct {
	// MaxAttempts counts the first try; 3 means two extra attempts.
	MaxAttempts int
	// Timeout bounds each attempt. Zero means DefaultTimeout; negative disables.
	Timeout time.Duration
	Backoff Backoff
}

// DefaultPolicy is one call plus two retries, 30s each.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Timeout:     DefaultTimeout,
		Backoff:     Backoff{Initial: 200 * time.Millisecond, Max: 2 * time.Second, Factor: 2},
	}
}

// Result is Ok(Value) when Err is nil, otherwise Err(Err).
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
}

// Ok reports whether the call eventually succeeded.
func (r Result[T]) Ok() bool { return r.Err == nil }

// permanent wraps an error that must not be retried.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do stops immediately and
// reports the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Do calls fn until it succeeds, returns a permanent error, or the policy's
// attempt budget runs out.
//
// Each attempt runs under its own timeout derived from a context that is
// detached from ctx's cancellation, so an attempt already in flight is
// allowed to finish. Cancellation of ctx is observed between attempts.
// A timed-out attempt counts like any other failed attempt.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) Result[T] {
	var res Result[T]
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = errors.Join(err, lastErr)
			return res
		}
		if d := p.Backoff.Delay(attempt); d > 0 {
			if err := sleep(ctx, d); err != nil {
				res.Err = errors.Join(err, lastErr)
				return res
			}
		}

		res.Attempts = attempt
		value, err := runAttempt(ctx, timeout, attempt, fn)
		if err == nil {
			res.Value = value
			res.Err = nil
			return res
		}
		var perm permanent
		if errors.As(err, &perm) {
			res.Err = perm.err
			return res
		}
		lastErr = err
	}
	res.Err = errors.Join(ErrExhausted, lastErr)
	return res
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, attempt int, fn func(context.Context, int) (T, error)) (T, error) {
	actx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, timeout)
		defer cancel()
	}
	return fn(actx, attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
