package utils

import (
	"sync"
	"time"
)

// Cooldown remembers the last accepted event per key.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

// Allow reports whether at least period has passed since the last accepted
// event for key, and if so records now as the new last event.
func (c *Cooldown) Allow(key string, now time.Time, period time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[key]; ok && now.Sub(last) < period {
		return false
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) Sweep(now time.Time, maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, last := range c.last {
		if now.Sub(last) > maxAge {
			delete(c.last, key)
			removed++
		}
	}
	return removed
}
