package models

import (
	"time"

	dErrors "avanza/pkg/domainerrors"
)

// The identity provider answers with several historical payload shapes.
// Each shape gets one explicit normalizer into the canonical Session type;
// nothing outside this file probes provider field names.

// TokenGrant is the credential pair common to login and refresh responses.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds; 0 when the provider omits it
}

// LoginPayload is the provider's response to a credential exchange.
type LoginPayload struct {
	TokenGrant
	Profile ProfilePayload `json:"profile"`
}

// ProfilePayload is the provider's current profile shape.
type ProfilePayload struct {
	SubjectID             string               `json:"subject_id"`
	DisplayName           string               `json:"display_name"`
	Email                 string               `json:"email"`
	Role                  string               `json:"role"`
	RequirePasswordChange bool                 `json:"require_password_change"`
	Organization          *OrganizationPayload `json:"organization,omitempty"`
}

// OrganizationPayload is the denormalized tenant snapshot the provider
// attaches to tenant-scoped profiles.
type OrganizationPayload struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	ContactEmail       string `json:"contact_email"`
	EmployeeCount      int    `json:"employee_count"`
	ActiveAdvanceCount int    `json:"active_advance_count"`
}

// MembershipPayload is the legacy record set the provider falls back to when
// the primary profile lookup fails. It carries no role or organization data.
type MembershipPayload struct {
	SubjectID string `json:"subject_id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
}

// Normalize builds a canonical Session from a login payload.
func (p *LoginPayload) Normalize(now time.Time) (*Session, error) {
	session, err := p.Profile.Normalize(now)
	if err != nil {
		return nil, err
	}
	if p.AccessToken == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "provider response missing access token")
	}
	session.AccessToken = p.AccessToken
	session.RefreshToken = p.RefreshToken
	session.ExpiresAt = p.expiry(now)
	return session, nil
}

// Normalize builds a canonical Session from a profile payload. The returned
// session carries no credentials; callers attach the current token pair.
func (p *ProfilePayload) Normalize(now time.Time) (*Session, error) {
	if p.SubjectID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "provider profile missing subject id")
	}
	role := Role(p.Role)
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "provider profile has unknown role: "+p.Role)
	}
	var org *Organization
	if p.Organization != nil {
		org = &Organization{
			ID:                 p.Organization.ID,
			Name:               p.Organization.Name,
			ContactEmail:       p.Organization.ContactEmail,
			EmployeeCount:      p.Organization.EmployeeCount,
			ActiveAdvanceCount: p.Organization.ActiveAdvanceCount,
		}
	}
	if role.TenantScoped() && org == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "provider profile missing organization for tenant-scoped role")
	}
	return &Session{
		SubjectID: p.SubjectID,
		Principal: &Principal{
			DisplayName: p.DisplayName,
			Email:       p.Email,
			Role:        role,
		},
		Organization:          org,
		RequirePasswordChange: p.RequirePasswordChange,
		IssuedAt:              now,
	}, nil
}

// Normalize builds a session from the legacy membership record set. The
// result is deliberately restricted: lowest-privilege role, no organization
// scope. It exists only so a transient profile outage does not lock the
// actor out entirely.
func (p *MembershipPayload) Normalize(now time.Time) (*Session, error) {
	if p.SubjectID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "membership record missing subject id")
	}
	return &Session{
		SubjectID: p.SubjectID,
		Principal: &Principal{
			DisplayName: p.FullName,
			Email:       p.Email,
			Role:        RoleEmployee,
		},
		IssuedAt: now,
	}, nil
}

func (g *TokenGrant) expiry(now time.Time) time.Time {
	if g.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(g.ExpiresIn) * time.Second)
}
