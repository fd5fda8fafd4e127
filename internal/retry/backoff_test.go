package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       false,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	b := NewBackoff(testConfig())

	attempts := 0
	err := b.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttemptBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 3
	b := NewBackoff(cfg)

	attempts := 0
	wantErr := errors.New("persistent")
	err := b.Retry(context.Background(), func() error {
		attempts++
		return wantErr
	})

	assert.Equal(t, wantErr, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 0
	cfg.InitialDelay = time.Hour // would block forever without cancellation
	cfg.MaxDelay = time.Hour
	b := NewBackoff(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := b.Retry(ctx, func() error {
		return errors.New("always fails")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextDelayGrowsAndCaps(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	})

	assert.Equal(t, 100*time.Millisecond, b.NextDelay(1))
	assert.Equal(t, 200*time.Millisecond, b.NextDelay(2))
	assert.Equal(t, 400*time.Millisecond, b.NextDelay(3))
	assert.Equal(t, 800*time.Millisecond, b.NextDelay(4))
	assert.Equal(t, time.Second, b.NextDelay(5))
	assert.Equal(t, time.Second, b.NextDelay(20))
}

func TestNextDelayJitterStaysInBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	})

	for i := 0; i < 100; i++ {
		delay := b.NextDelay(2)
		assert.GreaterOrEqual(t, delay, 150*time.Millisecond)
		assert.LessOrEqual(t, delay, 250*time.Millisecond)
	}
}

func TestNewBackoffNormalizesConfig(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: -1,
		MaxDelay:     -1,
		Multiplier:   0,
	})

	assert.Equal(t, time.Second, b.config.InitialDelay)
	assert.Equal(t, time.Second, b.config.MaxDelay)
	assert.Equal(t, 2.0, b.config.Multiplier)
}
