package proof

import (
	"context"
	"sync"
	"time"
)

// MemoryReplayCache keeps proof ids in process memory. Expired ids are swept
// lazily on Claim.
type MemoryReplayCache struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	now   func() time.Time
	calls int
}

func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{seen: make(map[string]time.Time), now: time.Now}
}

func (c *MemoryReplayCache) Claim(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.calls++
	if c.calls%256 == 0 {
		for id, exp := range c.seen {
			if !now.Before(exp) {
				delete(c.seen, id)
			}
		}
	}
	if exp, ok := c.seen[jti]; ok && now.Before(exp) {
		return false, nil
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	c.seen[jti] = now.Add(ttl)
	return true, nil
}

// Len returns the number of ids currently held.
func (c *MemoryReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
