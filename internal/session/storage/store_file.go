package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"avanza/internal/sentinel"
	"avanza/internal/session/models"
)

// FileStore persists state as files under a directory, one file per key.
// Writes go through a temp file + rename so a crash never leaves a
// half-written value behind.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore constructs a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir cannot be empty: %w", sentinel.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) SaveTokens(pair TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeKey(KeyAccessToken, []byte(pair.AccessToken)); err != nil {
		return err
	}
	return s.writeKey(KeyRefreshToken, []byte(pair.RefreshToken))
}

func (s *FileStore) LoadTokens() (TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	access, err := s.readKey(KeyAccessToken)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.readKey(KeyRefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: string(access), RefreshToken: string(refresh)}, nil
}

func (s *FileStore) SaveSession(session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.writeKey(KeySession, blob)
}

func (s *FileStore) LoadSession() (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, err := s.readKey(KeySession)
	if err != nil {
		return nil, err
	}
	var session models.Session
	if err := json.Unmarshal(blob, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeySession} {
		if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key)
}

func (s *FileStore) writeKey(key string, value []byte) error {
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) readKey(key string) ([]byte, error) {
	value, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s not persisted: %w", key, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}
