package manager

import (
	"context"
	"errors"

	"avanza/internal/jwttoken"
	"avanza/internal/sentinel"
	"avanza/internal/session/models"
	dErrors "avanza/pkg/domainerrors"
)

// Restore rebuilds the session from persisted tokens after a restart. When
// the primary profile lookup fails with a retryable error, it falls back to
// the legacy membership record set; the fallback session is deliberately
// restricted to the lowest-privilege role and grants no organization scope.
// Non-retryable rejections clear persisted state instead of restoring.
func (m *Manager) Restore(ctx context.Context) (*models.Session, error) {
	pair, err := m.store.LoadTokens()
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load persisted tokens")
	}
	if pair.AccessToken == "" {
		return nil, nil
	}

	session, err := m.client.GetProfile(ctx, pair.AccessToken)
	switch {
	case err == nil:
	case dErrors.Retryable(err):
		session, err = m.restoreFromMembership(ctx, pair.AccessToken)
		if err != nil {
			return nil, m.fail(err)
		}
	default:
		// The provider rejected the token outright; stale state must not
		// survive.
		if clearErr := m.store.Clear(); clearErr != nil {
			m.logger.WarnContext(ctx, "failed to clear rejected persisted state", "error", clearErr)
		}
		return nil, m.fail(err)
	}

	session.AccessToken = pair.AccessToken
	session.RefreshToken = pair.RefreshToken
	if exp := jwttoken.ExpiryOf(pair.AccessToken); !exp.IsZero() {
		session.ExpiresAt = exp
	}

	m.setCurrent(session)
	m.cache.Put(session.SubjectID, session)
	if m.listener != nil {
		if err := m.listener.Attach(session); err != nil {
			m.logger.WarnContext(ctx, "failed to attach invalidation listener", "error", err)
		}
	}
	m.refresher.Start(context.WithoutCancel(ctx))
	return m.Current(), nil
}

func (m *Manager) restoreFromMembership(ctx context.Context, accessToken string) (*models.Session, error) {
	m.logger.WarnContext(ctx, "primary profile lookup failed, using restricted membership fallback")
	session, err := m.client.GetMembership(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return session, nil
}
