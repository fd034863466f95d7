package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffConfig controls in-process retry of startup operations, such as
// opening the database while a previous instance still holds the file lock.
// Delivery retries are not handled here; those are durable and survive a
// restart.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Jitter       bool
}

// Backoff retries an operation with exponentially growing delays.
type Backoff struct {
	config BackoffConfig
}

func NewBackoff(config BackoffConfig) *Backoff {
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	return &Backoff{config: config}
}

// Retry runs the operation until it succeeds, the attempt budget is spent
// or the context is cancelled. The last error is returned on exhaustion.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if attempt == b.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delay(attempt)):
		}
	}

	return lastErr
}

// delay doubles per attempt, capped at MaxDelay, with up to 25% jitter so
// restarting replicas do not retry in lockstep.
func (b *Backoff) delay(attempt int) time.Duration {
	d := float64(b.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= float64(b.config.MaxDelay) {
			d = float64(b.config.MaxDelay)
			break
		}
	}

	if b.config.Jitter {
		d += (secureFloat64() - 0.5) * 0.5 * d
		if d > float64(b.config.MaxDelay) {
			d = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(d)
}

// secureFloat64 returns a uniform value in [0, 1). Falls back to a clock
// derived value if the system entropy source fails.
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(0).SetUint64(math.MaxUint64))
	if err != nil {
		return float64(time.Now().UnixNano()%1e6) / 1e6
	}
	return float64(n.Uint64()) / float64(math.MaxUint64)
}
