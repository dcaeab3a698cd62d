package backoff

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times, sleeping per the policy between
// attempts. It stops early when fn succeeds, when retryable reports false for
// the error, or when ctx ends. The last error from fn is returned.
func Retry(ctx context.Context, policy Policy, maxAttempts int, retryable func(error) bool, fn func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if retryable == nil || !retryable(lastErr) || attempt == maxAttempts {
			return lastErr
		}
		if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
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
