package syncer

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jdziat/durable-outbox/pkg/core"
)

// RetryConfig holds configuration for retrying store operations with backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 5
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 5s
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier applied to backoff after each attempt.
	// Default: 2.0
	BackoffMultiplier float64

	// JitterFraction is the fraction of backoff to randomize (0.0 to 1.0).
	// Default: 0.1 (10% jitter)
	JitterFraction float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// next returns the backoff to use after d.
func (c RetryConfig) next(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * c.BackoffMultiplier)
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// jittered spreads d by up to JitterFraction in either direction.
func (c RetryConfig) jittered(d time.Duration) time.Duration {
	j := d + time.Duration(float64(d)*c.JitterFraction*(rand.Float64()*2-1))
	if j < 0 {
		return d
	}
	return j
}

// retryWithBackoff runs op until it succeeds, returns a non-retryable error,
// or runs out of attempts. It returns the last error.
func retryWithBackoff(ctx context.Context, config RetryConfig, op func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= max(config.MaxAttempts, 1); attempt++ {
		lastErr = op()
		if lastErr == nil || !IsRetryableError(lastErr) {
			return lastErr
		}
		if attempt >= config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.jittered(backoff)):
		}
		backoff = config.next(backoff)
	}

	return lastErr
}

// IsRetryableError reports whether a store operation that failed with err is
// worth another attempt. Lock contention and dropped connections are; a
// cancelled pass or a missing row is not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, core.ErrJobNotFound) || errors.Is(err, core.ErrNotDeadLetter) {
		return false
	}
	return true
}
