package cache

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically evicts stale cache entries. It exists so the cache
// stays bounded even when nothing reads from it.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	logger   *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval overrides the sweep interval when greater than zero.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweeperLogger overrides the logger used for sweep reporting.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper constructs a Sweeper over the given cache.
func NewSweeper(c *Cache, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		cache:    c,
		interval: 60 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start sweeps periodically until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if swept := s.cache.SweepExpired(); swept > 0 {
				s.logger.DebugContext(ctx, "swept expired session cache entries", "count", swept)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
