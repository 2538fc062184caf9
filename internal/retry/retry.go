// Package retry runs remote calls with bounded retries, exponential backoff
// and error classification.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// ErrorType classifies errors for retry decisions
type ErrorType int

const (
	// Retryable indicates the error is transient and should be retried
	Retryable ErrorType = iota
	// RateLimited indicates rate limiting - use longer backoff
	RateLimited
	// Permanent indicates the error should not be retried
	Permanent
)

func (t ErrorType) String() string {
	switch t {
	case Retryable:
		return "retryable"
	case RateLimited:
		return "rate_limited"
	}
	return "permanent"
}

// Classifier is a function that classifies an error
type Classifier func(error) ErrorType

// Options configures retry behavior
type Options struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	RateLimitRetry time.Duration
	Classifier     Classifier

	// Sleep waits between attempts; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultOptions returns options for remote platform calls.
func DefaultOptions(maxAttempts int, backoffBase, rateLimitRetry time.Duration) Options {
	return Options{
		MaxAttempts:    maxAttempts,
		BackoffBase:    backoffBase,
		RateLimitRetry: rateLimitRetry,
		Classifier:     ClassifyRemote,
	}
}

// maxBackoff caps the maximum backoff duration to prevent overflow
const maxBackoff = 5 * time.Minute

// calculateBackoff computes the delay for a given attempt using exponential backoff with jitter
// Formula: delay = base * 2^attempt + jitter(0-25%), capped at maxBackoff
func calculateBackoff(base time.Duration, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiplier)

	if delay > maxBackoff || delay < 0 {
		delay = maxBackoff
	}

	// rand/v2 is automatically seeded
	jitter := time.Duration(rand.Float64() * 0.25 * float64(delay))
	return delay + jitter
}

// Do executes a function with retry logic.
// When MaxAttempts <= 0 the call is attempted once.
func Do(ctx context.Context, opts Options, fn func() error) error {
	_, err := DoWithResult(ctx, opts, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes a function that returns a value with retry logic.
// It stops on success, on a permanent error, on context cancellation, or
// after MaxAttempts attempts, returning the last error.
func DoWithResult[T any](ctx context.Context, opts Options, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error
	attempts := max(opts.MaxAttempts, 1)
	wait := opts.Sleep
	if wait == nil {
		wait = sleep
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}

		errType := Permanent
		if opts.Classifier != nil {
			errType = opts.Classifier(lastErr)
		}
		if errType == Permanent || attempt == attempts-1 {
			return result, lastErr
		}

		delay := calculateBackoff(opts.BackoffBase, attempt)
		if errType == RateLimited {
			delay = opts.RateLimitRetry
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, lastErr, delay)
		}
		if err := wait(ctx, delay); err != nil {
			return result, err
		}
	}

	return result, lastErr
}

// sleep waits for the given duration or until context is cancelled
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
