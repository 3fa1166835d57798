package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"avanza/internal/session/models"
	"avanza/internal/session/refresher"
	dErrors "avanza/pkg/domainerrors"
	"avanza/pkg/platform/httputil"
)

// SessionManager is the facade the transport layer depends on.
type SessionManager interface {
	Login(ctx context.Context, email, password, userAgent string) (*models.Session, error)
	Logout(ctx context.Context) error
	RefreshSession(ctx context.Context) error
	ChangePassword(ctx context.Context, currentPassword, newPassword string) error
	ResetPassword(ctx context.Context, email string) error
	Current() *models.Session
	IsSessionValid() bool
	Refresher() *refresher.Refresher
}

// Handler serves the session lifecycle endpoints.
type Handler struct {
	sessions SessionManager
	logger   *slog.Logger
}

func NewHandler(sessions SessionManager, logger *slog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		logger:   logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type resetPasswordRequest struct {
	Email string `json:"email"`
}

// sessionSummary is the wire shape of a session. Credentials are never
// echoed back over the API.
type sessionSummary struct {
	SubjectID             string               `json:"subject_id"`
	Principal             principalSummary     `json:"principal"`
	Organization          *organizationSummary `json:"organization,omitempty"`
	RequirePasswordChange bool                 `json:"require_password_change"`
	DeviceDisplayName     string               `json:"device_display_name,omitempty"`
	IssuedAt              time.Time            `json:"issued_at"`
	ExpiresAt             time.Time            `json:"expires_at"`
	RefresherState        string               `json:"refresher_state"`
}

type principalSummary struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

type organizationSummary struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	ContactEmail       string `json:"contact_email,omitempty"`
	EmployeeCount      int    `json:"employee_count"`
	ActiveAdvanceCount int    `json:"active_advance_count"`
}

func (h *Handler) summarize(s *models.Session) sessionSummary {
	summary := sessionSummary{
		SubjectID:             s.SubjectID,
		RequirePasswordChange: s.RequirePasswordChange,
		DeviceDisplayName:     s.DeviceDisplayName,
		IssuedAt:              s.IssuedAt,
		ExpiresAt:             s.ExpiresAt,
		RefresherState:        h.sessions.Refresher().State().String(),
	}
	if s.Principal != nil {
		summary.Principal = principalSummary{
			DisplayName: s.Principal.DisplayName,
			Email:       s.Principal.Email,
			Role:        string(s.Principal.Role),
		}
	}
	if s.Organization != nil {
		summary.Organization = &organizationSummary{
			ID:                 s.Organization.ID,
			Name:               s.Organization.Name,
			ContactEmail:       s.Organization.ContactEmail,
			EmployeeCount:      s.Organization.EmployeeCount,
			ActiveAdvanceCount: s.Organization.ActiveAdvanceCount,
		}
	}
	return summary
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[loginRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "email and password are required"))
		return
	}

	session, err := h.sessions.Login(r.Context(), req.Email, req.Password, r.UserAgent())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, h.summarize(session))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.Current()
	if session == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "no active session"))
		return
	}

	summary := h.summarize(session)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"session": summary,
		"valid":   h.sessions.IsSessionValid(),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.RefreshSession(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}

	session := h.sessions.Current()
	if session == nil {
		// The refresh reported success but the session was torn down
		// concurrently. Treat it as logged out.
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "no active session"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.summarize(session))
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[changePasswordRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "current and new password are required"))
		return
	}

	if err := h.sessions.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[resetPasswordRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.sessions.ResetPassword(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, err)
		return
	}
	// Always accepted; the provider decides whether the email exists.
	w.WriteHeader(http.StatusAccepted)
}
