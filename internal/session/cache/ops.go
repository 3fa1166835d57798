package cache

import (
	"avanza/internal/session/models"
)

// Get returns the cached session for the subject, or (nil, false) when the
// entry is absent or stale. Stale entries are removed on the spot, and every
// lookup lands in either the hit or the miss counter. Callers re-validate
// TTL through this path on every access; a cached pointer captured earlier
// is never trusted across asynchronous callbacks.
func (c *Cache) Get(subjectID string) (*models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[subjectID]
	if !ok {
		c.recordMiss()
		return nil, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, subjectID)
		c.recordEviction("expired")
		c.publishSize()
		c.recordMiss()
		return nil, false
	}
	c.recordHit()
	return e.session, true
}

// Put inserts or overwrites the subject's entry with timestamp = now.
// When the entry count exceeds the maximum, the oldest-timestamp entries
// are evicted first until the cache is back under the limit.
func (c *Cache) Put(subjectID string, session *models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[subjectID] = &entry{session: session, timestamp: c.now()}
	for len(c.entries) > c.maxSize {
		oldest := c.oldestKey()
		if oldest == "" {
			break
		}
		delete(c.entries, oldest)
		c.recordEviction("capacity")
	}
	c.publishSize()
}

// Invalidate removes the subject's entry if present. Used by the realtime
// listener when a backing record changes.
func (c *Cache) Invalidate(subjectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[subjectID]; !ok {
		return false
	}
	delete(c.entries, subjectID)
	c.recordEviction("invalidated")
	c.publishSize()
	return true
}

// Clear drops all entries and resets the hit/miss counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.hits = 0
	c.misses = 0
	c.publishSize()
}

// SweepExpired removes all stale entries as of the injected clock and
// returns how many were dropped. Run on a fixed period independent of Get
// so memory stays bounded even absent reads.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	swept := 0
	for key, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, key)
			c.recordEviction("expired")
			swept++
		}
	}
	if swept > 0 {
		c.publishSize()
	}
	return swept
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}
