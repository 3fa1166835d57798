package manager

import (
	"context"

	"avanza/internal/audit"
	"avanza/internal/jwttoken"
	dErrors "avanza/pkg/domainerrors"
)

// RefreshSession triggers a user-initiated refresh with the same effect as
// a scheduler tick. Concurrent manual calls collapse into one provider call
// via singleflight; a call that arrives while a scheduler tick's refresh is
// in flight is a no-op. Retryable failures are returned to the caller but
// do not tear the session down.
func (m *Manager) RefreshSession(ctx context.Context) error {
	if m.Current() == nil {
		return m.fail(dErrors.New(dErrors.CodeUnauthorized, "no active session to refresh"))
	}

	_, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		_, err := m.refresher.RefreshNow(ctx)
		return nil, err
	})
	if err != nil {
		return m.fail(err)
	}
	return nil
}

// refreshOnce performs one credential refresh. The refresher guarantees a
// single invocation is in flight at a time; the scheduler's terminal
// handling happens in its own state machine based on the returned error.
func (m *Manager) refreshOnce(ctx context.Context) error {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current == nil {
		return dErrors.New(dErrors.CodeUnauthorized, "no active session to refresh")
	}

	refreshed, err := m.client.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return err
	}

	// Preserve device metadata; the provider response knows nothing of it.
	refreshed.ApplyDeviceInfo(current.DeviceDisplayName, current.DeviceFingerprintHash)
	if refreshed.RefreshToken == "" {
		// Provider did not rotate the refresh token; keep the old one.
		refreshed.RefreshToken = current.RefreshToken
	}
	if refreshed.ExpiresAt.IsZero() {
		refreshed.ExpiresAt = jwttoken.ExpiryOf(refreshed.AccessToken)
	}

	if err := m.persist(refreshed); err != nil {
		return err
	}

	m.setCurrent(refreshed)
	m.cache.Put(refreshed.SubjectID, refreshed)
	if m.listener != nil {
		m.listener.RecordRefresh(refreshed)
	}

	m.logAudit(ctx, string(audit.EventTokenRefreshed), refreshed.SubjectID, "")
	return nil
}
