package storage

import (
	"fmt"
	"sync"

	"avanza/internal/sentinel"
	"avanza/internal/session/models"
)

// InMemoryStore keeps persisted state in memory for tests/dev.
type InMemoryStore struct {
	mu      sync.RWMutex
	tokens  *TokenPair
	session *models.Session
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveTokens(pair TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = &pair
	return nil
}

func (s *InMemoryStore) LoadTokens() (TokenPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return TokenPair{}, fmt.Errorf("tokens not persisted: %w", sentinel.ErrNotFound)
	}
	return *s.tokens, nil
}

func (s *InMemoryStore) SaveSession(session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.session = &copied
	return nil
}

func (s *InMemoryStore) LoadSession() (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, fmt.Errorf("session not persisted: %w", sentinel.ErrNotFound)
	}
	copied := *s.session
	return &copied, nil
}

func (s *InMemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = nil
	s.session = nil
	return nil
}
