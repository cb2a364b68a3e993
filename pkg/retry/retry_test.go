package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/arraycache/pkg/errors"
)

func fastConfig() Config {
	config := DefaultConfig()
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	return config
}

func TestRetryer_Success(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryer_RetryableError(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.ErrCodeSpillWriteFailure, "disk busy")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	testErr := errors.New(errors.ErrCodeCorruptSpillFile, "bad checksum")
	err := retryer.Do(func() error {
		attempts++
		return testErr
	})

	assert.Same(t, testErr, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryer_ExhaustsAttempts(t *testing.T) {
	config := fastConfig()
	config.MaxAttempts = 4
	config.ShouldRetry = func(error) bool { return true }

	var retried []int
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	}

	attempts := 0
	last := fmt.Errorf("attempt failed")
	err := New(config).Do(func() error {
		attempts++
		return last
	})

	assert.Same(t, last, err)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []int{1, 2, 3}, retried)
}

func TestRetryer_ContextCanceled(t *testing.T) {
	config := fastConfig()
	config.InitialDelay = time.Hour
	config.MaxDelay = time.Hour
	config.ShouldRetry = func(error) bool { return true }

	ctx, cancel := context.WithCancel(context.Background())
	config.OnRetry = func(int, error, time.Duration) { cancel() }

	attempts := 0
	err := New(config).DoWithContext(ctx, func(context.Context) error {
		attempts++
		return fmt.Errorf("timeout")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled after 1 attempts")
	assert.Equal(t, 1, attempts)
}

func TestRetryer_CalculateDelay(t *testing.T) {
	config := fastConfig()
	config.InitialDelay = 100 * time.Millisecond
	config.MaxDelay = 300 * time.Millisecond
	r := New(config)

	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 300*time.Millisecond, r.calculateDelay(3), "capped at MaxDelay")

	config.Jitter = true
	jittered := New(config)
	for i := 0; i < 20; i++ {
		d := jittered.calculateDelay(1)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{})
	assert.Equal(t, 3, r.MaxAttempts())
	assert.Equal(t, 2.0, r.config.Multiplier)
	assert.NotNil(t, r.config.ShouldRetry)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New(errors.ErrCodeStorageDelete, "busy")))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", errors.New(errors.ErrCodeSpillWriteFailure, "x"))))
	assert.False(t, IsRetryable(errors.New(errors.ErrCodeUnknownID, "gone")))
	assert.False(t, IsRetryable(stderr.New("plain")))
	assert.False(t, IsRetryable(context.Canceled))
}
