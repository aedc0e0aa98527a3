// Package ratelimit paces image downloads.
//
// The Limiter interface is satisfied by TokenBucket, a thin wrapper over
// golang.org/x/time/rate, and by Unlimited for runs without a configured
// request rate. Each key job owns its own limiter.
//
// Usage:
//
//	limiter := ratelimit.NewPerSecond(cfg.Download.RequestsPerSecond)
//	if err := limiter.Wait(ctx); err != nil {
//		return err
//	}
package ratelimit
