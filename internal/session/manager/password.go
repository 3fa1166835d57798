package manager

import (
	"context"

	"avanza/internal/audit"
	dErrors "avanza/pkg/domainerrors"
)

// Authorize gates privileged actions. A session flagged with
// RequirePasswordChange may only change its password until a profile
// refresh flips the flag.
func (m *Manager) Authorize() error {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	if !current.IsValid() {
		return dErrors.New(dErrors.CodeUnauthorized, "no valid session")
	}
	if current.RequirePasswordChange {
		return dErrors.New(dErrors.CodePasswordChange, "password change required before other actions")
	}
	return nil
}

// ChangePassword rotates the actor's credentials and re-fetches the profile
// so the RequirePasswordChange flag reflects the provider's state.
func (m *Manager) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if !current.IsValid() {
		return m.fail(dErrors.New(dErrors.CodeUnauthorized, "no valid session"))
	}

	if err := m.client.ChangePassword(ctx, current.AccessToken, currentPassword, newPassword); err != nil {
		return m.fail(err)
	}

	profile, err := m.client.GetProfile(ctx, current.AccessToken)
	if err != nil {
		// The rotation succeeded; the stale flag clears on the next
		// refresh. Report nothing fatal.
		m.logger.WarnContext(ctx, "profile re-fetch after password change failed", "error", err)
		m.logAudit(ctx, string(audit.EventPasswordChanged), current.SubjectID, "")
		return nil
	}

	m.mu.Lock()
	if m.current != nil && m.current.SubjectID == profile.SubjectID {
		m.current.RequirePasswordChange = profile.RequirePasswordChange
		m.current.Principal = profile.Principal
		m.current.Organization = profile.Organization
		updated := *m.current
		m.mu.Unlock()
		m.cache.Put(updated.SubjectID, &updated)
	} else {
		m.mu.Unlock()
	}

	m.logAudit(ctx, string(audit.EventPasswordChanged), current.SubjectID, "")
	return nil
}

// ResetPassword starts the provider's reset flow. No session required, so the
// audit trail records the email the caller supplied.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	if email == "" {
		return dErrors.New(dErrors.CodeValidation, "email cannot be empty")
	}
	if err := m.client.ResetPassword(ctx, email); err != nil {
		return err
	}
	m.logAudit(ctx, string(audit.EventPasswordResetReq), email, "")
	return nil
}
