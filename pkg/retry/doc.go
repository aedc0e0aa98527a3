// Package retry re-runs operations that fail with transient errors.
//
// Image downloads use it to absorb network hiccups and retryable HTTP
// statuses (429 and 5xx) before a candidate is counted as a miss.
//
// Basic usage:
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return fetch(ctx, url)
//	}, &retry.Config{
//		MaxAttempts: 2,
//		Backoff:     retry.NewExponentialBackoff(500 * time.Millisecond),
//		Logger:      log,
//	})
//
// DoWithResult returns the last attempt's value alongside its error, so a
// caller can still inspect a final 503 response after retries run out.
package retry
