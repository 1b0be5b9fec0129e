// Package ratelimit provides request pacing for source API clients.
//
// This package implements multiple rate limiting algorithms to keep the
// sync engine from overwhelming self-hosted media servers, whose panels
// often ban clients that hammer them.
//
// Available Implementations:
//
// Token Bucket:
//   - Fixed capacity bucket that refills after a specified period
//   - Suitable for burst traffic followed by quiet periods
//
// Sliding Window:
//   - Tracks requests within a moving time window
//   - More accurate rate limiting over time
//   - Default implementation used by the source clients
//
// Interface:
//
// All rate limiters implement the Limiter interface:
//   - Allow() bool - Check if a request is allowed
//   - Wait(ctx) error - Block until a request is allowed or ctx ends
//   - Reset() - Reset the limiter state
//
// Usage:
//
//	// Sliding window: 60 requests per minute
//	limiter := ratelimit.NewSlidingWindow(60, time.Minute)
//
//	// Block until allowed, giving up if the scan is cancelled
//	if err := limiter.Wait(ctx); err != nil {
//		return err
//	}
//	// Proceed with request
package ratelimit
