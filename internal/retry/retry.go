// Package retry provides the exponential-backoff retry loop shared by the
// executor's buy/sell send paths.
package retry

import (
	"context"
	"time"
)

// Backoff returns the sleep duration before retry attempt n (1-indexed):
// 100ms, 200ms, 400ms, 800ms, ... doubling each attempt.
func Backoff(attempt int) time.Duration {
	ms := 100 * (1 << uint(attempt-1))
	return time.Duration(ms) * time.Millisecond
}

// Do runs fn up to maxAttempts+1 times (the first try plus maxAttempts
// retries), sleeping with Backoff between attempts, stopping early on
// success or context cancellation. Returns the last error on exhaustion.
func Do(ctx context.Context, maxAttempts int, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(attempt)):
			}
		}
		if err := fn(attempt); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
