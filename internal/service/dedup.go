package service

import (
	"sync"
	"time"

	"tgqqbridge/internal/models"
)

// dedupPruneSize bounds the cache before expired entries are swept.
const dedupPruneSize = 4096

// dedupCache remembers recently seen message ids per platform so redelivered
// events are processed exactly once within the TTL window.
type dedupCache struct {
	ttl  time.Duration
	mu   sync.Mutex
	seen map[string]time.Time
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// Seen records the id and reports whether it was already present within
// the TTL.
func (c *dedupCache) Seen(platform models.Platform, id string) bool {
	key := string(platform) + ":" + id
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[key]; ok && now.Sub(at) < c.ttl {
		return true
	}
	c.seen[key] = now

	if len(c.seen) > dedupPruneSize {
		for k, at := range c.seen {
			if now.Sub(at) >= c.ttl {
				delete(c.seen, k)
			}
		}
	}
	return false
}
