package manager

import (
	"context"

	"avanza/internal/audit"
	"avanza/internal/jwttoken"
	"avanza/internal/session/device"
	"avanza/internal/session/models"
	"avanza/internal/session/storage"
	dErrors "avanza/pkg/domainerrors"
)

// Login exchanges credentials for a session, persists the token pair and
// session snapshot, caches it, and arms the auto-refresh scheduler.
// Invalid credentials surface as CodeInvalidCredentials with no other side
// effects; transport failures surface as CodeNetworkError or CodeTimeout.
func (m *Manager) Login(ctx context.Context, email, password, userAgent string) (*models.Session, error) {
	session, err := m.client.Login(ctx, email, password)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidCredentials) {
			m.incrementLoginFailures()
			m.logAudit(ctx, string(audit.EventAuthFailed), email, "invalid credentials")
		}
		return nil, m.fail(err)
	}

	if m.devices != nil && userAgent != "" {
		session.ApplyDeviceInfo(device.ParseUserAgent(userAgent), m.devices.ComputeFingerprint(userAgent))
	}
	if session.ExpiresAt.IsZero() {
		// Provider omitted expires_in; fall back to the token's own exp claim.
		session.ExpiresAt = jwttoken.ExpiryOf(session.AccessToken)
	}

	if err := m.persist(session); err != nil {
		return nil, m.fail(err)
	}

	m.setCurrent(session)
	m.cache.Put(session.SubjectID, session)

	if m.listener != nil {
		if err := m.listener.Attach(session); err != nil {
			m.logger.WarnContext(ctx, "failed to attach invalidation listener", "error", err)
		}
	}
	m.refresher.Start(context.WithoutCancel(ctx))

	m.logAudit(ctx, string(audit.EventSessionCreated), session.SubjectID, "")
	m.incrementLogins()
	m.ClearError()
	return m.Current(), nil
}

// persist writes the token pair and the serialized session under the fixed
// storage keys. Persist failures abort the login; a session the service
// cannot restore after a restart is worse than a failed login.
func (m *Manager) persist(session *models.Session) error {
	if err := m.store.SaveTokens(storage.TokenPair{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist token pair")
	}
	if err := m.store.SaveSession(session); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist session snapshot")
	}
	return nil
}
