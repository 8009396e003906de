package network

import (
	"sync"
	"time"

	"github.com/slicol/meshwork/pkg/protocol"
)

// seenCache remembers message ids for a while so flooded broadcasts are
// handled once
type seenCache struct {
	mu      sync.Mutex
	entries map[protocol.MessageID]time.Time
	expiry  time.Duration
	lastGC  time.Time
}

func newSeenCache(expiry time.Duration) *seenCache {
	return &seenCache{
		entries: make(map[protocol.MessageID]time.Time),
		expiry:  expiry,
		lastGC:  time.Now(),
	}
}

// Add records id and reports whether it was new
func (c *seenCache) Add(id protocol.MessageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastGC) > c.expiry {
		for k, exp := range c.entries {
			if now.After(exp) {
				delete(c.entries, k)
			}
		}
		c.lastGC = now
	}

	if exp, ok := c.entries[id]; ok && now.Before(exp) {
		return false
	}
	c.entries[id] = now.Add(c.expiry)
	return true
}

func (c *seenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
