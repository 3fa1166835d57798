package cache

import (
	"sync"
	"time"

	"avanza/internal/platform/metrics"
	"avanza/internal/session/models"
)

// Cache is a bounded TTL cache mapping subject id to session snapshots.
// Configuration is injected rather than ambient so tests can run
// independent instances side by side.
//
// All mutations hold the lock for the full logical operation; nothing
// blocks or awaits mid-mutation, so no caller can observe a half-updated
// entry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	metrics *metrics.Metrics

	hits   uint64
	misses uint64
}

type entry struct {
	session   *models.Session
	timestamp time.Time // insertion time
}

// Stats reports hit/miss counters for observability.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// Option configures a Cache instance.
type Option func(*Cache)

// WithTTL overrides the entry time-to-live when greater than zero.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxSize overrides the maximum entry count when greater than zero.
func WithMaxSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithClock injects the time source (no hidden time.Now() calls in tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics wires Prometheus counters for hits, misses, and evictions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

const (
	defaultTTL     = 5 * time.Minute
	defaultMaxSize = 256
)

// New constructs an empty cache with options applied.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		ttl:     defaultTTL,
		maxSize: defaultMaxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// deadline returns the moment the entry stops being trustworthy: the
// insertion TTL, clamped to the access token's own expiry when known.
// Cache TTL never exceeds token lifetime.
func (c *Cache) deadline(e *entry) time.Time {
	d := e.timestamp.Add(c.ttl)
	if exp := e.session.ExpiresAt; !exp.IsZero() && exp.Before(d) {
		return exp
	}
	return d
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return now.After(c.deadline(e))
}

// oldestKey returns the key with the earliest insertion timestamp.
func (c *Cache) oldestKey() string {
	var oldest string
	var oldestAt time.Time
	for key, e := range c.entries {
		if oldest == "" || e.timestamp.Before(oldestAt) {
			oldest = key
			oldestAt = e.timestamp
		}
	}
	return oldest
}

func (c *Cache) recordHit() {
	c.hits++
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *Cache) recordMiss() {
	c.misses++
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

func (c *Cache) recordEviction(reason string) {
	if c.metrics != nil {
		c.metrics.CacheEvictions.WithLabelValues(reason).Inc()
	}
}

func (c *Cache) publishSize() {
	if c.metrics != nil {
		c.metrics.CacheSize.Set(float64(len(c.entries)))
	}
}
