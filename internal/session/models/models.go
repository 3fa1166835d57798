package models

import (
	"time"

	dErrors "avanza/pkg/domainerrors"
)

// This file contains pure domain models for the session lifecycle: entities
// that should not depend on transport or HTTP-specific concerns.

// Role classifies the authenticated principal's scope within a tenant.
type Role string

const (
	RoleAdmin    Role = "admin"
	RolePartner  Role = "partner"
	RoleEmployee Role = "employee"
)

// IsValid reports whether the role is one of the known values.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RolePartner, RoleEmployee:
		return true
	}
	return false
}

// TenantScoped reports whether the role acts on behalf of an organization.
// Employee-scoped sessions carry no organization snapshot.
func (r Role) TenantScoped() bool {
	return r == RoleAdmin || r == RolePartner
}

// Principal carries role and profile information for the authenticated actor.
type Principal struct {
	DisplayName string
	Email       string
	Role        Role
}

// Organization is a denormalized snapshot of the tenant the principal acts
// on behalf of, fetched at session-build time rather than live-joined.
type Organization struct {
	ID                 string
	Name               string
	ContactEmail       string
	EmployeeCount      int
	ActiveAdvanceCount int
}

// Session represents a currently authenticated actor and its credentials.
// This is a pure domain entity - use SessionSummary for JSON responses.
type Session struct {
	SubjectID    string
	Principal    *Principal
	Organization *Organization

	// Opaque bearer credentials. The access token is short-lived (~10
	// minutes); the refresh token outlives it.
	AccessToken  string
	RefreshToken string

	// RequirePasswordChange forces a credential-rotation flow before
	// other privileged actions are permitted.
	RequirePasswordChange bool

	// Device display metadata (optional, for session management UI)
	DeviceDisplayName     string
	DeviceFingerprintHash string

	IssuedAt  time.Time
	ExpiresAt time.Time // access token expiry
}

// IsValid reports whether the session satisfies the validity invariants:
// a non-empty access token, a populated principal, and a populated
// organization for tenant-scoped roles.
func (s *Session) IsValid() bool {
	if s == nil || s.AccessToken == "" || s.Principal == nil {
		return false
	}
	if s.Principal.Role.TenantScoped() && s.Organization == nil {
		return false
	}
	return true
}

// IsExpired reports whether the access token has expired as of the given time.
// A zero ExpiresAt means the expiry is unknown and the token is not treated
// as expired here; the cache TTL still bounds its lifetime.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// ApplyDeviceInfo updates device metadata fields if the provided values are non-empty.
func (s *Session) ApplyDeviceInfo(displayName, fingerprintHash string) {
	if displayName != "" {
		s.DeviceDisplayName = displayName
	}
	if fingerprintHash != "" {
		s.DeviceFingerprintHash = fingerprintHash
	}
}

// NewSession constructs a Session and validates lifecycle invariants.
func NewSession(subjectID string, principal *Principal, org *Organization, accessToken, refreshToken string, issuedAt, expiresAt time.Time) (*Session, error) {
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject id cannot be empty")
	}
	if accessToken == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "access token cannot be empty")
	}
	if principal == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "principal cannot be empty")
	}
	if !principal.Role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid principal role: "+string(principal.Role))
	}
	if principal.Role.TenantScoped() && org == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organization required for tenant-scoped roles")
	}
	if !expiresAt.IsZero() && expiresAt.Before(issuedAt) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "session expiry must be after issuance")
	}
	return &Session{
		SubjectID:    subjectID,
		Principal:    principal,
		Organization: org,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IssuedAt:     issuedAt,
		ExpiresAt:    expiresAt,
	}, nil
}
