// Package retry provides exponential backoff and retry logic for handling
// transient failures in network operations, particularly source API calls.
//
// Features:
//   - Exponential, linear and constant backoff strategies
//   - Jitter to avoid thundering herd problems
//   - Context support for cancellation
//   - Error-type specific backoff selection
//   - Configurable retry predicates
//   - Integration with the source client error types
//
// Basic usage:
//
//	// Simple retry with defaults
//	err := retry.Do(func() error {
//		return client.Ping(ctx)
//	}, nil)
//
//	// Custom configuration
//	cfg := &retry.Config{
//		MaxAttempts: 5,
//		Backoff: &retry.ExponentialBackoff{
//			BaseDelay:    2 * time.Second,
//			MaxDelay:     30 * time.Second,
//			Multiplier:   2.0,
//			JitterFactor: 0.1,
//		},
//		RetryIf: retry.DefaultRetryIf,
//		Logger:  logger.GetLogger(),
//	}
//	err := retry.Do(operation, cfg)
//
//	// Source retrier with error-type backoff
//	retrier := retry.NewSourceRetrier(3, logger.GetLogger())
//	err := retrier.Do(func() error {
//		return client.FetchUnits(ctx)
//	})
//
// Error Type Handling:
//
// The package selects a different backoff strategy per classified error:
//   - Network errors: quick retries with exponential backoff
//   - Rate limit errors: long delays with gentle growth
//   - Server errors: moderate delays with exponential backoff
//   - Auth/NotFound/Preflight errors: no retry (non-retryable)
package retry
