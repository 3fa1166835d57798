// identity-stub is a local stand-in for the identity provider. It speaks the
// same wire API the session service consumes: credential login, refresh-token
// rotation, profile and membership lookups, and password rotation. Tokens are
// HS256-signed so the service's expiry clamping sees real exp claims.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"avanza/internal/jwttoken"
	"avanza/internal/session/models"
	"avanza/pkg/secrets"
)

type account struct {
	subjectID             string
	email                 string
	passwordHash          string
	displayName           string
	role                  string
	organization          *models.OrganizationPayload
	requirePasswordChange bool
}

type stub struct {
	signer *jwttoken.Signer

	mu            sync.Mutex
	accounts      map[string]*account // keyed by email
	refreshTokens map[string]string   // refresh token -> subject id
	revoked       map[string]bool     // access token jti -> revoked
}

func main() {
	port := getenv("PORT", "9090")
	signingKey := getenv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production")
	tokenTTL, err := time.ParseDuration(getenv("TOKEN_TTL", "10m"))
	if err != nil {
		log.Fatalf("invalid TOKEN_TTL: %v", err)
	}

	s := &stub{
		signer:        jwttoken.NewSigner(signingKey, "identity-stub", tokenTTL),
		accounts:      make(map[string]*account),
		refreshTokens: make(map[string]string),
		revoked:       make(map[string]bool),
	}
	s.seed()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/v1/auth/login", method(http.MethodPost, s.handleLogin))
	mux.HandleFunc("/v1/auth/refresh", method(http.MethodPost, s.handleRefresh))
	mux.HandleFunc("/v1/auth/logout", method(http.MethodPost, s.handleLogout))
	mux.HandleFunc("/v1/auth/profile", method(http.MethodGet, s.handleProfile))
	mux.HandleFunc("/v1/auth/membership", method(http.MethodGet, s.handleMembership))
	mux.HandleFunc("/v1/auth/password", method(http.MethodPost, s.handleChangePassword))
	mux.HandleFunc("/v1/auth/password/reset", method(http.MethodPost, s.handleResetPassword))

	addr := fmt.Sprintf(":%s", port)
	log.Printf("identity stub listening on %s (token ttl %s)", addr, tokenTTL)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Fatal(srv.ListenAndServe())
}

// seed loads a small fixed set of accounts covering each role.
func (s *stub) seed() {
	org := &models.OrganizationPayload{
		ID:                 "org-acme",
		Name:               "Acme Staffing",
		ContactEmail:       "ops@acme.example",
		EmployeeCount:      42,
		ActiveAdvanceCount: 7,
	}
	seedAccounts := []struct {
		account  account
		password string
	}{
		{account{subjectID: "sub-admin", email: "admin@acme.example", displayName: "Ada Admin", role: "admin", organization: org}, "admin-password"},
		{account{subjectID: "sub-partner", email: "partner@acme.example", displayName: "Pat Partner", role: "partner", organization: org}, "partner-password"},
		{account{subjectID: "sub-employee", email: "employee@acme.example", displayName: "Em Ployee", role: "employee"}, "employee-password"},
		{account{subjectID: "sub-rotate", email: "rotate@acme.example", displayName: "Ro Tate", role: "employee", requirePasswordChange: true}, "temporary-password"},
	}
	for _, seed := range seedAccounts {
		hash, err := secrets.Hash(seed.password)
		if err != nil {
			log.Fatalf("seed account %s: %v", seed.account.email, err)
		}
		acc := seed.account
		acc.passwordHash = hash
		s.accounts[acc.email] = &acc
	}
}

func (s *stub) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid request body"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[strings.ToLower(req.Email)]
	if !ok || secrets.Verify(req.Password, acc.passwordHash) != nil {
		writeJSON(w, http.StatusUnauthorized, errBody("invalid email or password"))
		return
	}

	grant, err := s.issueLocked(acc)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, models.LoginPayload{
		TokenGrant: grant,
		Profile:    s.profilePayload(acc),
	})
}

func (s *stub) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid request body"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subjectID, ok := s.refreshTokens[req.RefreshToken]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errBody("refresh token expired or revoked"))
		return
	}
	acc := s.accountBySubjectLocked(subjectID)
	if acc == nil {
		writeJSON(w, http.StatusUnauthorized, errBody("unknown subject"))
		return
	}

	// Rotation: the presented token is single-use.
	delete(s.refreshTokens, req.RefreshToken)

	grant, err := s.issueLocked(acc)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, models.LoginPayload{
		TokenGrant: grant,
		Profile:    s.profilePayload(acc),
	})
}

func (s *stub) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, status := s.authenticate(r)
	if status != 0 {
		writeJSON(w, status, errBody("unauthorized"))
		return
	}

	s.mu.Lock()
	s.revoked[claims.ID] = true
	for token, subjectID := range s.refreshTokens {
		if subjectID == claims.Subject {
			delete(s.refreshTokens, token)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *stub) handleProfile(w http.ResponseWriter, r *http.Request) {
	claims, status := s.authenticate(r)
	if status != 0 {
		writeJSON(w, status, errBody("unauthorized"))
		return
	}

	s.mu.Lock()
	acc := s.accountBySubjectLocked(claims.Subject)
	s.mu.Unlock()
	if acc == nil {
		writeJSON(w, http.StatusNotFound, errBody("profile not found"))
		return
	}
	writeJSON(w, http.StatusOK, s.profilePayload(acc))
}

func (s *stub) handleMembership(w http.ResponseWriter, r *http.Request) {
	claims, status := s.authenticate(r)
	if status != 0 {
		writeJSON(w, status, errBody("unauthorized"))
		return
	}

	s.mu.Lock()
	acc := s.accountBySubjectLocked(claims.Subject)
	s.mu.Unlock()
	if acc == nil {
		writeJSON(w, http.StatusNotFound, errBody("membership not found"))
		return
	}
	writeJSON(w, http.StatusOK, models.MembershipPayload{
		SubjectID: acc.subjectID,
		FullName:  acc.displayName,
		Email:     acc.email,
	})
}

func (s *stub) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, status := s.authenticate(r)
	if status != 0 {
		writeJSON(w, status, errBody("unauthorized"))
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, errBody("invalid request body"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accountBySubjectLocked(claims.Subject)
	if acc == nil {
		writeJSON(w, http.StatusNotFound, errBody("account not found"))
		return
	}
	if secrets.Verify(req.CurrentPassword, acc.passwordHash) != nil {
		writeJSON(w, http.StatusUnauthorized, errBody("current password incorrect"))
		return
	}

	hash, err := secrets.Hash(req.NewPassword)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	acc.passwordHash = hash
	acc.requirePasswordChange = false
	writeJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}

func (s *stub) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, errBody("invalid request body"))
		return
	}
	// Whether the account exists is not disclosed.
	log.Printf("password reset requested for %s", req.Email)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reset_requested"})
}

// issueLocked mints a fresh token pair for the account. Caller holds s.mu.
func (s *stub) issueLocked(acc *account) (models.TokenGrant, error) {
	orgID := ""
	if acc.organization != nil {
		orgID = acc.organization.ID
	}
	accessToken, err := s.signer.GenerateAccessToken(acc.subjectID, acc.role, orgID, acc.requirePasswordChange, time.Now())
	if err != nil {
		return models.TokenGrant{}, err
	}
	refreshToken, err := secrets.Generate()
	if err != nil {
		return models.TokenGrant{}, err
	}
	s.refreshTokens[refreshToken] = acc.subjectID

	return models.TokenGrant{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.signer.TokenTTL().Seconds()),
	}, nil
}

func (s *stub) profilePayload(acc *account) models.ProfilePayload {
	return models.ProfilePayload{
		SubjectID:             acc.subjectID,
		DisplayName:           acc.displayName,
		Email:                 acc.email,
		Role:                  acc.role,
		RequirePasswordChange: acc.requirePasswordChange,
		Organization:          acc.organization,
	}
}

func (s *stub) accountBySubjectLocked(subjectID string) *account {
	for _, acc := range s.accounts {
		if acc.subjectID == subjectID {
			return acc
		}
	}
	return nil
}

// authenticate validates the bearer token. Returns the claims, or a non-zero
// HTTP status on rejection.
func (s *stub) authenticate(r *http.Request) (*jwttoken.AccessTokenClaims, int) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, http.StatusUnauthorized
	}
	claims, err := s.signer.ValidateToken(token)
	if err != nil {
		return nil, http.StatusUnauthorized
	}
	s.mu.Lock()
	revoked := s.revoked[claims.ID]
	s.mu.Unlock()
	if revoked {
		return nil, http.StatusUnauthorized
	}
	return claims, 0
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func method(m string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			writeJSON(w, http.StatusMethodNotAllowed, errBody("method not allowed"))
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
