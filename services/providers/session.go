package providers

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrSessionNotFound is returned when a user has no stored access token
var ErrSessionNotFound = errors.New("session not found")

// SessionStore maps user IDs to provider access tokens for one adapter instance
type SessionStore interface {
	Get(ctx context.Context, userID string) (string, error)
	Set(ctx context.Context, userID, token string) error
	Delete(ctx context.Context, userID string) error

	// List returns the IDs of every user with a session
	List(ctx context.Context) ([]string, error)
}

// MemorySessionStore keeps sessions in process memory
type MemorySessionStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemorySessionStore creates an empty store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{tokens: make(map[string]string)}
}

func (s *MemorySessionStore) Get(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[userID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return token, nil
}

func (s *MemorySessionStore) Set(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, userID)
	return nil
}

func (s *MemorySessionStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.tokens))
	for userID := range s.tokens {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}

// Len returns the number of stored sessions
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
