package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request or ctx is done
	Wait(ctx context.Context) error
}

// TokenBucket is a token bucket limiter backed by golang.org/x/time/rate
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket allows one request every interval with the given burst
func NewTokenBucket(interval time.Duration, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// NewPerSecond returns a limiter for requestsPerSecond, or an unlimited one
// when requestsPerSecond is not positive
func NewPerSecond(requestsPerSecond float64) Limiter {
	if requestsPerSecond <= 0 {
		return Unlimited{}
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1)}
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	return tb.limiter.Allow()
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.limiter.Wait(ctx)
}

// Unlimited never blocks
type Unlimited struct{}

// Allow always returns true
func (Unlimited) Allow() bool { return true }

// Wait returns immediately unless ctx is already done
func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
