package engine

import (
	"sync"
	"time"
)

// Cooldown remembers when each key last fired.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewCooldown(now func() time.Time) *Cooldown {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Cooldown{last: make(map[string]time.Time), now: now}
}

// AllowKey reports whether key may fire and, if so, stamps it in the same
// critical section so concurrent callers cannot both pass.
func (c *Cooldown) AllowKey(key string, cooldown time.Duration) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if cooldown > 0 {
		if ts, ok := c.last[key]; ok && now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[key] = now
	return true
}

// LastFired returns the last stamp for key.
func (c *Cooldown) LastFired(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.last[key]
	return ts, ok
}

func (c *Cooldown) Reset() {
	c.mu.Lock()
	c.last = make(map[string]time.Time)
	c.mu.Unlock()
}
