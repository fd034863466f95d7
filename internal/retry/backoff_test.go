package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond, MaxAttempts: 3})

	calls := 0
	err := b.Retry(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversAfterFailures(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond, MaxAttempts: 5})

	calls := 0
	err := b.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("still locked")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsBudget(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond, MaxAttempts: 3})

	calls := 0
	wantErr := errors.New("database locked")
	err := b.Retry(context.Background(), func() error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnCancel(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Hour, MaxAttempts: 5})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- b.Retry(ctx, func() error {
			calls++
			return errors.New("nope")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop on cancel")
	}
}

func TestDelayGrowthAndCap(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		MaxAttempts:  10,
	})

	assert.Equal(t, 100*time.Millisecond, b.delay(1))
	assert.Equal(t, 200*time.Millisecond, b.delay(2))
	assert.Equal(t, 400*time.Millisecond, b.delay(3))
	assert.Equal(t, time.Second, b.delay(5))
	assert.Equal(t, time.Second, b.delay(9))
}

func TestDelayJitterStaysBounded(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		MaxAttempts:  5,
		Jitter:       true,
	})

	for i := 0; i < 50; i++ {
		d := b.delay(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestNewBackoffAppliesDefaults(t *testing.T) {
	b := NewBackoff(BackoffConfig{})
	assert.Equal(t, 100*time.Millisecond, b.config.InitialDelay)
	assert.Equal(t, 30*time.Second, b.config.MaxDelay)
	assert.Equal(t, 3, b.config.MaxAttempts)
}
