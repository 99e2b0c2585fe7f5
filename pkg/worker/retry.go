package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jdziat/harvest-tasks/pkg/core"
)

// RetryConfig holds configuration for retry with backoff.
type RetryConfig struct {
	// MaxAttempts counts the first attempt. Default: 5
	MaxAttempts int

	// InitialBackoff is the wait after the first failure. Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts. Default: 5s
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after each failure. Default: 2.0
	BackoffMultiplier float64

	// JitterFraction randomizes each wait by up to this fraction. Default: 0.1
	JitterFraction float64
}

// DefaultRetryConfig returns the retry policy for record writes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// DefaultDequeueRetryConfig backs off longer so an unavailable store is
// not hammered by every poll.
func DefaultDequeueRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.2,
	}
}

// backoff returns the wait before attempt+1, jitter included.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
		if d > c.MaxBackoff {
			d = c.MaxBackoff
			break
		}
	}
	jitter := time.Duration(float64(d) * c.JitterFraction * (rand.Float64()*2 - 1))
	if d+jitter < 0 {
		return d
	}
	return d + jitter
}

// retryWithBackoff runs operation until it succeeds, fails with an error
// that is not worth retrying, or runs out of attempts. The last error is
// returned.
func retryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil || !IsRetryableError(lastErr) {
			return lastErr
		}
		if attempt >= config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.backoff(attempt)):
		}
	}
	return lastErr
}

// IsRetryableError reports whether err may go away on its own. Missing
// keys, invalid input and context errors are permanent; store failures
// such as dropped connections and lock timeouts are assumed transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	for _, permanent := range []error{
		context.Canceled, context.DeadlineExceeded,
		core.ErrKeyNotFound, core.ErrNotFound,
		core.ErrInvalidID, core.ErrInvalidName, core.ErrInvalidPriority,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}
