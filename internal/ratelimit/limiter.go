// Package ratelimit provides client-side throttling for ONC API calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/oceanhydro/hydrodl/internal/constants"
)

// RateLimiter is a token bucket: bursts up to burstSize, refilling at
// tokensPerSecond. It wraps golang.org/x/time/rate and adds a throttled
// warning when callers wait for a long time.
type RateLimiter struct {
	limiter      *rate.Limiter
	lastWarnTime time.Time
	mu           sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
//
// Parameters:
//   - tokensPerSecond: Rate at which tokens are added (e.g., 5.0 for 5 requests/second)
//   - burstSize: Maximum tokens that can accumulate (allows brief bursts)
func NewRateLimiter(tokensPerSecond float64, burstSize int) *RateLimiter {
	if burstSize < 1 {
		burstSize = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(tokensPerSecond), burstSize)}
}

// NewONCRateLimiter creates the limiter used for ONC API calls.
// ONC does not publish a hard limit; the default keeps polling loops polite.
func NewONCRateLimiter(tokensPerSecond float64) *RateLimiter {
	if tokensPerSecond <= 0 {
		tokensPerSecond = constants.ONCRequestsPerSecond
	}
	return NewRateLimiter(tokensPerSecond, constants.ONCBurst)
}

// Wait blocks until a token is available or context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.limiter.Allow() {
		return nil
	}

	r := rl.limiter.Reserve()
	if !r.OK() {
		return rl.limiter.Wait(ctx)
	}
	delay := r.Delay()
	if delay > 2*time.Second {
		rl.mu.Lock()
		if time.Since(rl.lastWarnTime) > 10*time.Second {
			log.Warn().Float64("wait_seconds", delay.Seconds()).Msg("rate limited: waiting for API capacity")
			rl.lastWarnTime = time.Now()
		}
		rl.mu.Unlock()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// tryAcquire attempts to acquire one token without blocking.
func (rl *RateLimiter) tryAcquire() bool {
	return rl.limiter.Allow()
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (rl *RateLimiter) GetCurrentTokens() float64 {
	return rl.limiter.Tokens()
}
