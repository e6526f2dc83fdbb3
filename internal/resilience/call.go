// Package resilience provides a generic retry wrapper for calls to flaky
// external services. It is independent of any particular client: the vision
// and storage clients inject their operations and decide per-error whether a
// retry is worthwhile by marking errors permanent.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultBaseDelay is the initial backoff delay between attempts. Each
// subsequent attempt doubles it.
const DefaultBaseDelay = 500 * time.Millisecond

// ErrAttemptsExhausted wraps the last error once the retry budget runs out.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

// Error returns the wrapped error text.
func (e *permanentError) Error() string {
	return e.err.Error()
}

// Unwrap exposes the wrapped error to errors.Is/As.
func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as non-retryable. Call returns it immediately,
// unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// Option configures retry behaviour.
type Option func(*settings)

// settings holds the resolved retry configuration.
type settings struct {
	// baseDelay is the first backoff delay; it doubles per attempt.
	baseDelay time.Duration
}

// WithBaseDelay overrides the initial backoff delay.
func WithBaseDelay(delay time.Duration) Option {
	return func(s *settings) {
		if delay > 0 {
			s.baseDelay = delay
		}
	}
}

// Call invokes op until it succeeds, returns a permanent error, the context
// is cancelled, or maxRetries additional attempts have failed. Backoff
// doubles between attempts starting from the base delay.
func Call[T any](ctx context.Context, op func(context.Context) (T, error), maxRetries int, opts ...Option) (T, error) {
	cfg := settings{
		baseDelay: DefaultBaseDelay,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if maxRetries < 0 {
		maxRetries = 0
	}

	var (
		zero    T
		lastErr error
		delay   = cfg.baseDelay
	)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)

			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}

			delay *= 2
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return zero, permanent.err
		}

		lastErr = err
	}

	return zero, fmt.Errorf("%w: %w", ErrAttemptsExhausted, lastErr)
}
