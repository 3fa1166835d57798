package manager

import (
	"context"

	"avanza/internal/audit"
)

// Logout tears the session down: provider-side invalidation (best-effort),
// scheduler stop, listener detach, cache clear, persisted state clear.
// Local teardown always completes; network failure cannot block it.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	current := m.current
	m.current = nil
	m.lastErr = nil
	m.mu.Unlock()

	if current == nil {
		return nil
	}

	// Best-effort: the client swallows transport failures.
	m.client.Logout(ctx, current.AccessToken)

	m.teardown(true)
	m.logAudit(ctx, string(audit.EventLogout), current.SubjectID, "")
	m.decrementActiveSessions()
	return nil
}

// forcedLogout is invoked by the refresher exactly once when the refresh
// token is reported expired. Unlike explicit logout it fires the redirect
// hook so the caller can route the user back to the login screen.
func (m *Manager) forcedLogout(ctx context.Context, cause error) {
	m.mu.Lock()
	current := m.current
	m.current = nil
	m.lastErr = cause
	m.mu.Unlock()

	// The refresher reached its terminal state on its own and already
	// cancelled its timer; stopping it here would wait on ourselves.
	m.teardown(false)

	subjectID := ""
	if current != nil {
		subjectID = current.SubjectID
	}
	m.logAudit(ctx, string(audit.EventForcedLogout), subjectID, cause.Error())
	m.incrementForcedLogouts()
	m.decrementActiveSessions()

	if m.onForcedLogout != nil {
		m.onForcedLogout(cause)
	}
}

// teardown releases every session-scoped resource deterministically: the
// refresh timer, the tracked subscriptions, the cache, and persisted state.
func (m *Manager) teardown(stopRefresher bool) {
	if stopRefresher {
		m.refresher.Stop()
	}
	if m.listener != nil {
		m.listener.Detach()
	}
	m.cache.Clear()
	if err := m.store.Clear(); err != nil {
		m.logger.Warn("failed to clear persisted session state", "error", err)
	}
}
