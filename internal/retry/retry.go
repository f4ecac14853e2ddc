// Package retry implements bounded retry with exponential backoff. The same
// policy wraps direct callers and workflow task execution; waits are
// context-aware so cancellation is never delayed by a backoff sleep.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy describes how a callable is retried. The zero value means a single
// attempt with no backoff.
type Policy struct {
	MaxAttempts int           // total attempts, including the first; <1 means 1
	BaseDelay   time.Duration // wait before the second attempt
	Multiplier  float64       // backoff growth factor; <=0 defaults to 2
	Jitter      bool          // randomize waits; never exceeds the computed step

	// OnRetry is invoked after a failed attempt, before the backoff wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do runs fn up to MaxAttempts times. It returns the number of attempts made
// and the final error unchanged (nil on success). The success-on-first-try
// path performs no timer allocation or sleep.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, delay)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return attempt, err
		}
	}
	return maxAttempts, lastErr
}

// DoValue is Do for callables that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, int, error) {
	var out T
	attempts, err := p.Do(ctx, func(ctx context.Context) error {
		var ferr error
		out, ferr = fn(ctx)
		return ferr
	})
	if err != nil {
		var zero T
		return zero, attempts, err
	}
	return out, attempts, nil
}

// delay computes the wait after the given (1-based) failed attempt:
// BaseDelay * Multiplier^(attempt-1). With Jitter the wait is split
// half-fixed/half-random so it never exceeds that ceiling.
func (p Policy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1)))
	if d <= 0 {
		return 0
	}
	if p.Jitter {
		half := d / 2
		d = half + time.Duration(rand.Int64N(int64(half)+1))
	}
	return d
}
