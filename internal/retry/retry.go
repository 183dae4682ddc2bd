package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Do runs op up to maxAttempts times, sleeping between attempts with
// exponential backoff plus jitter. It returns the first successful result,
// or the last error once the attempt budget is exhausted.
func Do[T any](ctx context.Context, maxAttempts int, baseDelay time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if maxAttempts <= 0 {
		return zero, fmt.Errorf("retry: maxAttempts must be positive, got %d", maxAttempts)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		delay := backoffDelay(attempt, baseDelay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry canceled after attempt %d: %w", attempt, ctx.Err())
		}
	}

	return zero, fmt.Errorf("retry exhausted after %d attempts: %w", maxAttempts, lastErr)
}

// backoffDelay computes baseDelay * 2^(attempt-1) plus a uniform jitter
// drawn from [0, baseDelay).
func backoffDelay(attempt int, baseDelay time.Duration) time.Duration {
	backoff := baseDelay * time.Duration(1<<uint(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(baseDelay) + 1))
	return backoff + jitter
}
