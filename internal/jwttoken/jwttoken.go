package jwttoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "avanza/pkg/domainerrors"
)

// AccessTokenClaims represents the JWT claims carried by provider access tokens.
type AccessTokenClaims struct {
	Role                  string `json:"role,omitempty"`
	OrganizationID        string `json:"org_id,omitempty"`
	RequirePasswordChange bool   `json:"require_password_change,omitempty"`
	jwt.RegisteredClaims
}

// Inspect parses an access token WITHOUT verifying its signature and returns
// its claims. The session service is a token consumer, not the issuer; it has
// no signing key. Inspection is used only to clamp local cache lifetimes to
// the token's own expiry, never to authorize anything.
func Inspect(tokenString string) (*AccessTokenClaims, error) {
	if tokenString == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "empty token")
	}
	claims := new(AccessTokenClaims)
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "jwt parse failed")
	}
	return claims, nil
}

// ExpiryOf returns the access token's expiry time, or the zero time when the
// token is opaque or carries no exp claim.
func ExpiryOf(tokenString string) time.Time {
	claims, err := Inspect(tokenString)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Signer issues and validates HS256 access tokens. It backs the local
// identity stub and the integration tests; the production provider signs
// its own tokens.
type Signer struct {
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
}

func NewSigner(signingKey, issuer string, tokenTTL time.Duration) *Signer {
	return &Signer{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		tokenTTL:   tokenTTL,
	}
}

// TokenTTL returns the configured access token lifetime.
func (s *Signer) TokenTTL() time.Duration {
	return s.tokenTTL
}

// GenerateAccessToken signs an access token for the given subject.
func (s *Signer) GenerateAccessToken(subjectID, role, orgID string, requirePasswordChange bool, now time.Time) (string, error) {
	if subjectID == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject id cannot be empty")
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	jti := hex.EncodeToString(b)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{
		Role:                  role,
		OrganizationID:        orgID,
		RequirePasswordChange: requirePasswordChange,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        jti,
		},
	})
	return token.SignedString(s.signingKey)
}

// ValidateToken parses and verifies an access token signed by this signer.
func (s *Signer) ValidateToken(tokenString string) (*AccessTokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token expired")
		}
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid token")
	}
	claims, ok := parsed.Claims.(*AccessTokenClaims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid token claims")
	}
	return claims, nil
}
