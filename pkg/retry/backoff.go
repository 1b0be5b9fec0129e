package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	errs "mediadex/pkg/errors"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the next delay duration
	NextDelay(attempt int) time.Duration
	// Reset resets the backoff strategy to initial state
	Reset()
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	// BaseDelay is the initial delay duration
	BaseDelay time.Duration
	// MaxDelay is the maximum delay duration
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases
	Multiplier float64
	// JitterFactor adds randomness to avoid thundering herd (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.JitterFactor > 0 {
		jitter := delay * eb.JitterFactor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Reset resets the backoff to initial state (no-op, delays derive from the attempt number)
func (eb *ExponentialBackoff) Reset() {}

// LinearBackoff implements linear backoff strategy
type LinearBackoff struct {
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay is the maximum delay duration
	MaxDelay time.Duration
	// Increment is the amount to increase delay by each attempt
	Increment time.Duration
	// JitterFactor adds randomness (0.0 to 1.0)
	JitterFactor float64
}

// DefaultLinearBackoff returns a linear backoff with sensible defaults
func DefaultLinearBackoff() *LinearBackoff {
	return &LinearBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		Increment:    1 * time.Second,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates the next delay with linear backoff
func (lb *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(lb.BaseDelay + lb.Increment*time.Duration(attempt-1))
	if delay > float64(lb.MaxDelay) {
		delay = float64(lb.MaxDelay)
	}

	if lb.JitterFactor > 0 {
		jitter := delay * lb.JitterFactor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Reset resets the backoff (no-op, delays derive from the attempt number)
func (lb *LinearBackoff) Reset() {}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Reset resets the backoff (no-op for constant backoff)
func (cb *ConstantBackoff) Reset() {}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrorTypeBackoff selects a backoff strategy from the classified error
// type, so a rate-limited source backs off far longer than a flaky socket.
type ErrorTypeBackoff struct {
	// Network covers connection resets and timeouts; retried quickly.
	Network BackoffStrategy
	// RateLimit covers 429s; starts long and grows gently.
	RateLimit BackoffStrategy
	// ServerError covers 5xx responses.
	ServerError BackoffStrategy
	// Default covers everything else that is still retryable.
	Default BackoffStrategy
}

// NewErrorTypeBackoff creates a new error-type based backoff
func NewErrorTypeBackoff() *ErrorTypeBackoff {
	return &ErrorTypeBackoff{
		Network: &ExponentialBackoff{
			BaseDelay:    500 * time.Millisecond,
			MaxDelay:     15 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.2,
		},
		RateLimit: &ExponentialBackoff{
			BaseDelay:    15 * time.Second,
			MaxDelay:     2 * time.Minute,
			Multiplier:   1.5,
			JitterFactor: 0.3,
		},
		ServerError: &ExponentialBackoff{
			BaseDelay:    2 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		Default: DefaultExponentialBackoff(),
	}
}

// ForType returns the strategy registered for the given error type
func (etb *ErrorTypeBackoff) ForType(errorType errs.ErrorType) BackoffStrategy {
	switch errorType {
	case errs.ErrorTypeNetwork:
		return etb.Network
	case errs.ErrorTypeRateLimit:
		return etb.RateLimit
	case errs.ErrorTypeServerError:
		return etb.ServerError
	default:
		return etb.Default
	}
}

// ForError classifies err and returns the matching strategy
func (etb *ErrorTypeBackoff) ForError(err error) BackoffStrategy {
	return etb.ForType(errs.TypeOf(err))
}
