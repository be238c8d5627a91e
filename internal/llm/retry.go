package llm

import (
	"context"
	"math/rand"
	"time"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 8 * time.Second
)

// completeWithRetry retries fn on transient errors with exponential backoff
// and jitter, up to maxAttempts total attempts. Fatal and unknown errors
// return immediately.
func completeWithRetry(ctx context.Context, maxAttempts int, fn func(ctx context.Context) (string, error)) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	delay := retryBaseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == maxAttempts {
			return "", err
		}

		jittered := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(jittered):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return "", lastErr
}
