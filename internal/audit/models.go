package audit

import "time"

// Event is emitted from domain logic to capture key session actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	SubjectID string
	Action    string
	Reason    string
}

type AuditEvent string

const (
	EventSessionCreated     AuditEvent = "session_created"
	EventTokenRefreshed     AuditEvent = "token_refreshed"
	EventForcedLogout       AuditEvent = "forced_logout"
	EventLogout             AuditEvent = "logout"
	EventSessionInvalidated AuditEvent = "session_invalidated"
	EventPasswordChanged    AuditEvent = "password_changed"
	EventPasswordResetReq   AuditEvent = "password_reset_requested"
	EventAuthFailed         AuditEvent = "auth_failed"
)
