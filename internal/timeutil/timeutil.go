// Package timeutil normalizes instants to UTC and provides the clock and
// sleep primitives used by the polling loop.
package timeutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNaiveTimestamp is returned for ISO 8601 input without a zone designator.
var ErrNaiveTimestamp = errors.New("timestamp has no timezone designator (append Z or an offset)")

// storageLayout is fixed width so stored values sort lexically in time order.
const storageLayout = "2006-01-02T15:04:05.000000000Z07:00"

// naiveLayout matches ISO 8601 input that lacks a zone.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// Epoch is the watermark used when no since value is supplied.
var Epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock supplies the current instant and a cancellable sleep.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the wall clock.
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Sleep waits for d or until ctx is cancelled.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
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

// ParseUTC parses an ISO 8601 timestamp that carries an explicit zone
// designator and returns it in UTC. Naive input is rejected, not coerced.
func ParseUTC(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t.UTC(), nil
	}
	if _, naiveErr := time.Parse(naiveLayout, s); naiveErr == nil {
		return time.Time{}, fmt.Errorf("%q: %w", s, ErrNaiveTimestamp)
	}
	return time.Time{}, fmt.Errorf("invalid ISO 8601 timestamp %q: %w", s, err)
}

// Format renders t as RFC 3339 in UTC with a Z designator.
func Format(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FormatStorage renders t in the fixed-width layout used for persisted values.
func FormatStorage(t time.Time) string {
	return t.UTC().Format(storageLayout)
}

// Later returns whichever of a and b is later, compared as UTC instants.
func Later(a, b time.Time) time.Time {
	if b.UTC().After(a.UTC()) {
		return b.UTC()
	}
	return a.UTC()
}

// SleepChunked sleeps for total in steps of at most chunk. onChunk, when set,
// runs before every step so callers can checkpoint; an error from it or a
// cancelled ctx stops the sleep early.
func SleepChunked(ctx context.Context, clock Clock, total, chunk time.Duration, onChunk func(remaining time.Duration) error) error {
	if chunk <= 0 {
		chunk = total
	}
	remaining := total
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if onChunk != nil {
			if err := onChunk(remaining); err != nil {
				return err
			}
		}
		step := min(chunk, remaining)
		if err := clock.Sleep(ctx, step); err != nil {
			return err
		}
		remaining -= step
	}
	return ctx.Err()
}
