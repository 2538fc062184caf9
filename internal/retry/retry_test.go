package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleeps returns a Sleep func that records waits without blocking.
func recordSleeps(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestCalculateBackoff(t *testing.T) {
	base := 100 * time.Millisecond

	tests := []struct {
		attempt     int
		minExpected time.Duration
		maxExpected time.Duration
	}{
		{0, 100 * time.Millisecond, 125 * time.Millisecond},
		{1, 200 * time.Millisecond, 250 * time.Millisecond},
		{2, 400 * time.Millisecond, 500 * time.Millisecond},
		{3, 800 * time.Millisecond, 1000 * time.Millisecond},
	}

	for _, tt := range tests {
		backoff := calculateBackoff(base, tt.attempt)
		assert.GreaterOrEqual(t, backoff, tt.minExpected, "attempt %d", tt.attempt)
		assert.LessOrEqual(t, backoff, tt.maxExpected, "attempt %d", tt.attempt)
	}
}

func TestCalculateBackoff_Capped(t *testing.T) {
	backoff := calculateBackoff(time.Minute, 20)
	assert.LessOrEqual(t, backoff, maxBackoff+maxBackoff/4)
}

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{MaxAttempts: 3, Classifier: func(error) ErrorType { return Retryable }}, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryThenSuccess(t *testing.T) {
	var waits []time.Duration
	opts := Options{
		MaxAttempts: 3,
		BackoffBase: 10 * time.Millisecond,
		Classifier:  func(error) ErrorType { return Retryable },
		Sleep:       recordSleeps(&waits),
	}

	calls := 0
	err := Do(context.Background(), opts, func() error {
		calls++
		if calls < 3 {
			return errors.New("HTTP 502")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, waits, 2)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var waits []time.Duration
	opts := Options{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		Classifier:  ClassifyRemote,
		Sleep:       recordSleeps(&waits),
	}

	calls := 0
	err := Do(context.Background(), opts, func() error {
		calls++
		return errors.New("gh api: HTTP 503: Service Unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, waits, 2, "no wait after the final attempt")
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultOptions(5, time.Millisecond, time.Millisecond), func() error {
		calls++
		return errors.New("gh api: HTTP 404: Not Found")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RateLimitedUsesRateLimitWait(t *testing.T) {
	var waits []time.Duration
	opts := DefaultOptions(2, time.Millisecond, 30*time.Second)
	opts.Sleep = recordSleeps(&waits)

	calls := 0
	_, err := DoWithResult(context.Background(), opts, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("API rate limit exceeded for user")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{30 * time.Second}, waits)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, DefaultOptions(3, time.Millisecond, time.Millisecond), func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int
	opts := DefaultOptions(3, time.Millisecond, time.Millisecond)
	opts.Sleep = func(context.Context, time.Duration) error { return nil }
	opts.OnRetry = func(attempt int, _ error, _ time.Duration) { attempts = append(attempts, attempt) }

	_ = Do(context.Background(), opts, func() error { return errors.New("connection reset by peer") })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestClassifyHTTP(t *testing.T) {
	assert.Equal(t, RateLimited, ClassifyHTTP(429))
	assert.Equal(t, Retryable, ClassifyHTTP(408))
	assert.Equal(t, Retryable, ClassifyHTTP(504))
	assert.Equal(t, Retryable, ClassifyHTTP(500))
	assert.Equal(t, Permanent, ClassifyHTTP(404))
	assert.Equal(t, Permanent, ClassifyHTTP(200))
}

func TestClassifyRemote(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{"429", errors.New("gh api: HTTP 429: Too Many Requests"), RateLimited},
		{"secondary rate limit", errors.New("HTTP 403: You have exceeded a secondary rate limit"), RateLimited},
		{"502", errors.New("gh api: HTTP 502: Bad Gateway"), Retryable},
		{"401", errors.New("gh api: HTTP 401: Bad credentials"), Permanent},
		{"404", errors.New("gh api: HTTP 404: Not Found"), Permanent},
		{"dns", errors.New("dial tcp: lookup api.github.com: no such host"), Retryable},
		{"deadline", context.DeadlineExceeded, Retryable},
		{"cancel", context.Canceled, Permanent},
		{"unknown", errors.New("something went wrong"), Permanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyRemote(tt.err))
		})
	}
}
