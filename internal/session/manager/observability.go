package manager

import (
	"context"

	"avanza/internal/audit"
)

func (m *Manager) logAudit(ctx context.Context, action, subjectID, reason string) {
	if m.auditPublisher == nil {
		return
	}
	if err := m.auditPublisher.Emit(ctx, audit.Event{
		SubjectID: subjectID,
		Action:    action,
		Reason:    reason,
	}); err != nil {
		m.logger.WarnContext(ctx, "failed to emit audit event", "action", action, "error", err)
	}
}

func (m *Manager) incrementLogins() {
	if m.metrics != nil {
		m.metrics.IncrementLogins()
		m.metrics.ActiveSessions.Inc()
	}
}

func (m *Manager) incrementLoginFailures() {
	if m.metrics != nil {
		m.metrics.IncrementLoginFailures()
	}
}

func (m *Manager) decrementActiveSessions() {
	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
	}
}

func (m *Manager) incrementForcedLogouts() {
	if m.metrics != nil {
		m.metrics.IncrementForcedLogouts()
	}
}
