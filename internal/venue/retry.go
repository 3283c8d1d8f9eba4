package venue

import (
	"context"
	"time"
)

// Retry policy for transient and rate-limited errors: up to maxAttempts
// attempts within a total budget of retryBudget. Everything else surfaces on
// the first failure.
const (
	maxAttempts  = 3
	retryBudget  = 5 * time.Second
	baseBackoff  = 300 * time.Millisecond
	backoffScale = 2
)

// withRetry runs fn with bounded exponential backoff. Rate-limited errors
// wait the venue-advertised RetryAfter when it fits the remaining budget.
func withRetry(ctx context.Context, fn func() error) error {
	deadline := time.Now().Add(retryBudget)
	backoff := baseBackoff

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !Retryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		wait := backoff
		if ra := RetryAfterOf(err); ra > 0 {
			wait = ra
		}
		if time.Now().Add(wait).After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= backoffScale
	}
	return err
}
