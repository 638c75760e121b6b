// Package retry wraps a fallible operation with bounded attempts and an
// injectable delay policy.
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//	    return send(ctx, chunk)
//	}, retry.Options{
//	    MaxAttempts: 3,
//	    Delay:       retry.Exponential(time.Second, 30*time.Second),
//	    OnError:     func(attempt int, err error) { log(attempt, err) },
//	})
//
// OnError is called for every failed attempt, including attempts followed by
// a successful one. When all attempts fail the last error is returned.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// DelayFunc returns how long to wait after the given failed attempt (1-based)
// before the next one.
type DelayFunc func(attempt int) time.Duration

// Immediate retries without waiting.
func Immediate() DelayFunc {
	return func(int) time.Duration { return 0 }
}

// Fixed waits d between attempts.
func Fixed(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

// Linear waits attempt*d.
func Linear(d time.Duration) DelayFunc {
	return func(attempt int) time.Duration { return time.Duration(attempt) * d }
}

// Exponential waits base*2^attempt, capped at max when max > 0.
// Exponential(time.Second, 0) waits 2s, 4s, 8s, ...
func Exponential(base, max time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		if attempt > 30 {
			attempt = 30
		}
		d := base * time.Duration(1<<uint(attempt))
		if max > 0 && d > max {
			d = max
		}
		return d
	}
}

// WithJitter scales every delay of fn by a random factor in [0.5, 1.5).
func WithJitter(fn DelayFunc) DelayFunc {
	return func(attempt int) time.Duration {
		return time.Duration(float64(fn(attempt)) * (0.5 + rand.Float64()))
	}
}

// Options configures Do.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 1
	MaxAttempts int

	// Delay computes the wait after each failed attempt.
	// Default: Immediate()
	Delay DelayFunc

	// OnError is called after every failed attempt.
	OnError func(attempt int, err error)

	// Retryable decides whether an error is worth another attempt.
	// Default: every error is retryable.
	Retryable func(err error) bool
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do invokes op until it succeeds, a non-retryable error occurs, attempts are
// exhausted or ctx is done.
func Do(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	_, err := Value(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// Value is Do for operations returning a result.
func Value[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Delay == nil {
		opts.Delay = Immediate()
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if opts.OnError != nil {
			opts.OnError(attempt, err)
		}

		// The operation may have failed only because ctx ended.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return zero, err
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if err := sleep(ctx, opts.Delay(attempt)); err != nil {
			return zero, err
		}
	}

	if opts.MaxAttempts == 1 {
		return zero, lastErr
	}
	return zero, &ExhaustedError{Attempts: opts.MaxAttempts, Err: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
