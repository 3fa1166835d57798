package listener

import (
	"context"
	"log/slog"
	"sync"

	"avanza/internal/platform/metrics"
	"avanza/internal/session/cache"
	"avanza/internal/session/models"
)

// Reloader re-hydrates a session's profile after a backing record changed.
// In production this is the provider client's GetProfile.
type Reloader interface {
	GetProfile(ctx context.Context, accessToken string) (*models.Session, error)
}

// Listener subscribes to change notifications for one session's backing
// records. On any notification it invalidates the cache entry, reloads the
// profile, and republishes the result. Reloads race deliberately: the last
// reload to start is the one whose result sticks.
type Listener struct {
	source   Source
	reloader Reloader
	cache    *cache.Cache
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// publish receives the winning reloaded session.
	publish func(*models.Session)

	mu          sync.Mutex
	subs        []Subscription
	subjectID   string
	accessToken string
	generation  uint64
	closed      bool
	reloads     sync.WaitGroup
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics wires invalidation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Listener) {
		l.metrics = m
	}
}

// New constructs a Listener. The publish callback receives each winning
// reloaded session; it must be safe to call from a background goroutine.
func New(source Source, reloader Reloader, c *cache.Cache, publish func(*models.Session), opts ...Option) *Listener {
	l := &Listener{
		source:   source,
		reloader: reloader,
		cache:    c,
		publish:  publish,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Attach subscribes to the session's backing records: the profile keyed by
// subject id, and the organization and review records keyed by organization
// id. Any previous attachment is torn down first.
func (l *Listener) Attach(session *models.Session) error {
	l.Detach()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.subjectID = session.SubjectID
	l.accessToken = session.AccessToken
	l.closed = false

	keys := []struct{ kind, key string }{
		{KindProfile, session.SubjectID},
	}
	if session.Organization != nil {
		keys = append(keys,
			struct{ kind, key string }{KindOrganization, session.Organization.ID},
			struct{ kind, key string }{KindReview, session.Organization.ID},
		)
	}

	subjectID := session.SubjectID
	for _, k := range keys {
		kind := k.kind
		sub, err := l.source.Subscribe(k.kind, k.key, func(ChangeEvent) {
			l.onChange(subjectID, kind)
		})
		if err != nil {
			l.teardownLocked()
			return err
		}
		l.subs = append(l.subs, sub)
	}
	return nil
}

// RecordRefresh updates the access token used for reloads after the
// scheduler rotated the credentials.
func (l *Listener) RecordRefresh(session *models.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if session.SubjectID == l.subjectID {
		l.accessToken = session.AccessToken
	}
}

// Detach unsubscribes every tracked handle and discards in-flight reload
// results. Idempotent; mandatory on logout so no listener leaks across
// session boundaries.
func (l *Listener) Detach() {
	l.mu.Lock()
	l.teardownLocked()
	l.mu.Unlock()
}

// Wait blocks until in-flight reloads have drained. Test helper.
func (l *Listener) Wait() {
	l.reloads.Wait()
}

func (l *Listener) teardownLocked() {
	for _, sub := range l.subs {
		sub.Unsubscribe()
	}
	l.subs = nil
	l.closed = true
	l.generation++ // orphan any in-flight reload
	l.subjectID = ""
	l.accessToken = ""
}

// onChange handles one notification: drop the cache entry, then reload in
// the background. A generation counter makes concurrent reloads
// last-write-wins; a reload that lost the race is dropped, never published.
func (l *Listener) onChange(subjectID, kind string) {
	l.mu.Lock()
	if l.closed || subjectID != l.subjectID {
		// Late callback for a session that is no longer current.
		l.mu.Unlock()
		return
	}
	l.generation++
	gen := l.generation
	token := l.accessToken
	l.mu.Unlock()

	l.cache.Invalidate(subjectID)
	if l.metrics != nil {
		l.metrics.IncrementInvalidations(kind)
	}

	l.reloads.Add(1)
	go func() {
		defer l.reloads.Done()
		l.reload(subjectID, kind, token, gen)
	}()
}

func (l *Listener) reload(subjectID, kind, token string, gen uint64) {
	ctx := context.Background()
	reloaded, err := l.reloader.GetProfile(ctx, token)
	if err != nil {
		l.logger.WarnContext(ctx, "session reload after change notification failed",
			"subject_id", subjectID,
			"kind", kind,
			"error", err,
		)
		return
	}
	reloaded.AccessToken = token

	l.mu.Lock()
	stale := l.closed || gen != l.generation || subjectID != l.subjectID
	l.mu.Unlock()

	if stale {
		if l.metrics != nil {
			l.metrics.StaleEventsDrops.Inc()
		}
		return
	}

	// The facade merges credentials and re-caches; the listener only
	// decides which reload won.
	if l.publish != nil {
		l.publish(reloaded)
	}
}
