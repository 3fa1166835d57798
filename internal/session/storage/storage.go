package storage

import (
	"avanza/internal/session/models"
)

// Fixed keys for persisted local state. The token pair is stored as two
// plain string values; the session snapshot as one JSON blob.
const (
	KeyAccessToken  = "avanza.access_token"
	KeyRefreshToken = "avanza.refresh_token"
	KeySession      = "avanza.session"
)

// TokenPair is the persisted credential pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Store persists the token pair and the serialized session across restarts.
//
// Error Contract:
// - Load methods return ErrNotFound (wrapped) when nothing is persisted
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
type Store interface {
	SaveTokens(pair TokenPair) error
	LoadTokens() (TokenPair, error)
	SaveSession(session *models.Session) error
	LoadSession() (*models.Session, error)
	// Clear removes all persisted values. Clearing an already-empty store
	// is not an error; logout must always be able to tear down local state.
	Clear() error
}
