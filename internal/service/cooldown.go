package service

import (
	"context"
	"sync"
	"time"

	"tgqqbridge/internal/models"
)

// cooldown spaces outbound sends per target platform. Sends are delayed,
// never dropped; callers hold their slot in arrival order.
type cooldown struct {
	interval time.Duration
	mu       sync.Mutex
	next     map[models.Platform]time.Time
}

func newCooldown(interval time.Duration) *cooldown {
	return &cooldown{
		interval: interval,
		next:     make(map[models.Platform]time.Time),
	}
}

// Wait blocks until the caller's reserved send slot arrives or the context
// is cancelled.
func (c *cooldown) Wait(ctx context.Context, target models.Platform) error {
	if c.interval <= 0 {
		return nil
	}

	c.mu.Lock()
	now := time.Now()
	at := c.next[target]
	if at.Before(now) {
		at = now
	}
	c.next[target] = at.Add(c.interval)
	c.mu.Unlock()

	wait := time.Until(at)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
