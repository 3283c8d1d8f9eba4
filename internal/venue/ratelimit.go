// ratelimit.go implements token-bucket rate limiting for venue adapters.
//
// Venues publish limits as requests (or weight units) per time window. The
// bucket refills continuously rather than in window-sized bursts, which
// keeps request pacing smooth and avoids tripping hard limits at window
// boundaries. Exhaustion blocks in Wait until a token is available or the
// caller's deadline expires; the expired deadline surfaces to the
// coordinator as a retryable error.
package venue

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// defaultRequestsPerSec applies when a venue config leaves rate limits unset.
const (
	defaultRequestsPerSec = 10
	defaultBurst          = 20
)

// newBucketFromConfig builds a bucket from per-venue settings with sane
// fallbacks.
func newBucketFromConfig(requestsPerSec, burst float64) *TokenBucket {
	if requestsPerSec <= 0 {
		requestsPerSec = defaultRequestsPerSec
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return NewTokenBucket(burst, requestsPerSec)
}
