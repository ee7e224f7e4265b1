// Package credentials holds the session token used by every outbound call.
package credentials

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Store is the in-process view of the persisted session token.
// Every gateway call reads it; only login and rejection write it.
type Store struct {
	repo   Repo
	logger zerolog.Logger

	lock  sync.RWMutex
	token string
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithLogger sets the logger used for persistence failures
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a store backed by repo and primes it with any persisted token.
func NewStore(repo Repo, options ...StoreOption) (*Store, error) {
	if repo == nil {
		return nil, errors.New("[NewStore] repo is required")
	}
	s := &Store{repo: repo, logger: zerolog.Nop()}
	for _, opt := range options {
		opt(s)
	}

	token, err := repo.Get()
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("[NewStore] failed to read persisted token: %w", err)
	default:
		s.token = token
	}
	return s, nil
}

// Save replaces the current token and persists it
func (s *Store) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("[Store Save] empty token")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.repo.Put(token); err != nil {
		return fmt.Errorf("[Store Save] %w", err)
	}
	s.token = token
	return nil
}

// Load returns the current token, if any
func (s *Store) Load() (string, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.token, s.token != ""
}

// Clear forgets the token in memory first so no later call carries it,
// then removes the persisted copy.
func (s *Store) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.token = ""
	if err := s.repo.Delete(); err != nil {
		s.logger.Err(err).Msg("Failed to delete persisted token")
		return fmt.Errorf("[Store Clear] %w", err)
	}
	return nil
}
