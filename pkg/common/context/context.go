// Package context holds small helpers for cooperative cancellation.
package context

import (
	"context"
	"time"
)

// IsCanceled returns true if the context has been canceled
func IsCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// IsTimedOut returns true if the context was canceled due to a timeout
func IsTimedOut(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}

// SleepOrDone blocks for d or until ctx is done. It reports whether the full
// duration elapsed.
func SleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !IsCanceled(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Remaining returns the time left until deadline, capped at limit.
// A non-positive result means the deadline has passed.
func Remaining(deadline time.Time, limit time.Duration) time.Duration {
	left := time.Until(deadline)
	if limit > 0 && left > limit {
		return limit
	}
	return left
}
