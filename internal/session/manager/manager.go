// Package manager is the public surface of the session lifecycle: login,
// logout, refresh, validity. It owns the refresher and the invalidation
// listener for the active session and is the only writer of persisted state.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"avanza/internal/audit"
	"avanza/internal/platform/metrics"
	"avanza/internal/session/cache"
	"avanza/internal/session/device"
	"avanza/internal/session/listener"
	"avanza/internal/session/models"
	"avanza/internal/session/refresher"
	"avanza/internal/session/storage"
)

// CredentialClient exchanges credentials with the identity provider.
// Error Contract: failures carry domain error codes; CodeExpiredRefreshToken
// from Refresh is the terminal forced-logout signal.
type CredentialClient interface {
	Login(ctx context.Context, email, password string) (*models.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*models.Session, error)
	Logout(ctx context.Context, accessToken string)
	GetProfile(ctx context.Context, accessToken string) (*models.Session, error)
	GetMembership(ctx context.Context, accessToken string) (*models.Session, error)
	ChangePassword(ctx context.Context, accessToken, currentPassword, newPassword string) error
	ResetPassword(ctx context.Context, email string) error
}

// AuditPublisher records session lifecycle events.
type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Manager is the session facade. All lower-layer failures surface as error
// values from its methods; it never panics across its public boundary.
type Manager struct {
	client  CredentialClient
	cache   *cache.Cache
	store   storage.Store
	devices *device.Service
	source  listener.Source

	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher

	refreshInterval time.Duration
	onForcedLogout  func(cause error)

	refresher *refresher.Refresher
	listener  *listener.Listener

	// collapses concurrent user-initiated refreshes into one call
	refreshGroup singleflight.Group

	mu      sync.Mutex
	current *models.Session
	lastErr error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics wires lifecycle metrics.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// WithAuditPublisher wires the audit sink.
func WithAuditPublisher(p AuditPublisher) Option {
	return func(m *Manager) {
		m.auditPublisher = p
	}
}

// WithDeviceService enables device display metadata on sessions.
func WithDeviceService(d *device.Service) Option {
	return func(m *Manager) {
		m.devices = d
	}
}

// WithChangeSource enables realtime invalidation from the given source.
func WithChangeSource(s listener.Source) Option {
	return func(m *Manager) {
		m.source = s
	}
}

// WithRefreshInterval overrides the auto-refresh tick interval. It must stay
// shorter than the access token lifetime.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshInterval = d
		}
	}
}

// WithForcedLogoutHook registers the redirect side effect fired exactly once
// when a session is torn down by an expired refresh token.
func WithForcedLogoutHook(fn func(cause error)) Option {
	return func(m *Manager) {
		m.onForcedLogout = fn
	}
}

// New constructs a Manager over the given collaborators.
func New(client CredentialClient, c *cache.Cache, store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		client:          client,
		cache:           c,
		store:           store,
		logger:          slog.Default(),
		refreshInterval: 8 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.refresher = refresher.New(m.refreshOnce, m.forcedLogout,
		refresher.WithInterval(m.refreshInterval),
		refresher.WithLogger(m.logger),
		refresher.WithMetrics(m.metrics),
	)
	if m.source != nil {
		m.listener = listener.New(m.source, m.client, m.cache, m.republish,
			listener.WithLogger(m.logger),
			listener.WithMetrics(m.metrics),
		)
	}
	return m
}

// Current returns a snapshot of the active session, or nil.
func (m *Manager) Current() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	copied := *m.current
	return &copied
}

// IsSessionValid is a pure predicate over the current session: non-empty
// access token, populated principal, and organization for tenant-scoped
// roles, with the access token not yet expired.
func (m *Manager) IsSessionValid() bool {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	return current.IsValid() && !current.IsExpired(time.Now())
}

// LastError returns the most recent facade-level error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ClearError discards the stored facade-level error.
func (m *Manager) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = nil
}

// Refresher exposes the scheduler state for observability and tests.
func (m *Manager) Refresher() *refresher.Refresher {
	return m.refresher
}

// Listener exposes the invalidation listener, or nil when no change source
// is configured.
func (m *Manager) Listener() *listener.Listener {
	return m.listener
}

func (m *Manager) setCurrent(session *models.Session) {
	m.mu.Lock()
	m.current = session
	m.mu.Unlock()
}

func (m *Manager) fail(err error) error {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	return err
}

// republish receives the winning reloaded session from the listener, merges
// the credentials the reload cannot know, and re-caches it.
func (m *Manager) republish(reloaded *models.Session) {
	m.mu.Lock()
	if m.current == nil || m.current.SubjectID != reloaded.SubjectID {
		m.mu.Unlock()
		return
	}
	reloaded.AccessToken = m.current.AccessToken
	reloaded.RefreshToken = m.current.RefreshToken
	reloaded.ExpiresAt = m.current.ExpiresAt
	reloaded.DeviceDisplayName = m.current.DeviceDisplayName
	reloaded.DeviceFingerprintHash = m.current.DeviceFingerprintHash
	m.current = reloaded
	m.mu.Unlock()

	m.cache.Put(reloaded.SubjectID, reloaded)
	m.logAudit(context.Background(), string(audit.EventSessionInvalidated), reloaded.SubjectID, "backing record changed")
}
