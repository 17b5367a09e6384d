package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backoff returns the delay before the given zero-based attempt:
// 1s, 2s, 4s, ... capped at max.
func Backoff(attempt int, max time.Duration) time.Duration {
	d := time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// DialWithRetry connects with the configured backoff policy. The first
// attempt is immediate; each failure waits Backoff(n) before the next.
// A cancelled context aborts the wait; exhausting the attempt budget
// yields ErrSyncUnavailable.
func DialWithRetry(ctx context.Context, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := Backoff(attempt-1, opts.MaxBackoff)
			opts.Logger.Info("retrying connect",
				zap.Int("attempt", attempt), zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		conn, err := Connect(ctx, opts)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: last error: %v", ErrSyncUnavailable, lastErr)
}
