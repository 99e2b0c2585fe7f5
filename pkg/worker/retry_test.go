package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/harvest-tasks/pkg/core"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestDefaultRetryConfigs(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Equal(t, 0.1, cfg.JitterFraction)

	dq := DefaultDequeueRetryConfig()
	assert.Equal(t, 3, dq.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, dq.InitialBackoff)
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, BackoffMultiplier: 2}

	assert.Equal(t, 10*time.Millisecond, cfg.backoff(1))
	assert.Equal(t, 20*time.Millisecond, cfg.backoff(2))
	assert.Equal(t, 40*time.Millisecond, cfg.backoff(3))
	assert.Equal(t, 50*time.Millisecond, cfg.backoff(4))
	assert.Equal(t, 50*time.Millisecond, cfg.backoff(10))

	cfg.JitterFraction = 0.5
	for range 20 {
		d := cfg.backoff(1)
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.LessOrEqual(t, d, 15*time.Millisecond)
	}
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	var attempts int
	err := retryWithBackoff(context.Background(), fastRetry(5), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	var attempts int
	want := errors.New("store unavailable")

	err := retryWithBackoff(context.Background(), fastRetry(3), func() error {
		attempts++
		return want
	})

	assert.Equal(t, want, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_StopsOnPermanentError(t *testing.T) {
	for _, permanent := range []error{
		context.Canceled,
		core.ErrKeyNotFound,
		fmt.Errorf("record: %w", core.ErrNotFound),
	} {
		var attempts int
		err := retryWithBackoff(context.Background(), fastRetry(5), func() error {
			attempts++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, attempts, permanent.Error())
	}
}

func TestRetryWithBackoff_RespectsContextCancellation(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())
	var attempts atomic.Int32

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := retryWithBackoff(ctx, cfg, func() error {
		attempts.Add(1)
		return errors.New("keep failing")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"missing key", core.ErrKeyNotFound, false},
		{"wrapped not found", fmt.Errorf("x: %w", core.ErrNotFound), false},
		{"invalid id", core.ErrInvalidID, false},
		{"store failure", errors.New("i/o timeout"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestRetryOptions(t *testing.T) {
	cfg := WorkerConfig{}
	StorageRetry(RetryConfig{MaxAttempts: 10, InitialBackoff: 200 * time.Millisecond}).ApplyWorker(&cfg)
	DequeueRetry(RetryConfig{MaxAttempts: 2}).ApplyWorker(&cfg)

	require.NotNil(t, cfg.StorageRetry)
	require.NotNil(t, cfg.DequeueRetry)
	assert.Equal(t, 10, cfg.StorageRetry.MaxAttempts)
	assert.Equal(t, 2, cfg.DequeueRetry.MaxAttempts)

	DisableRetry().ApplyWorker(&cfg)
	assert.Equal(t, 1, cfg.StorageRetry.MaxAttempts)
	assert.Equal(t, 1, cfg.DequeueRetry.MaxAttempts)
}
