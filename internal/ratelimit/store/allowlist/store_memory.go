package allowlist

import (
	"context"
	"sync"

	"aegis/internal/sentinel"
)

// InMemoryStore holds identifiers exempt from rate limiting.
// Admins use it to exempt monitoring probes and trusted integrations.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string // identifier -> reason
}

func New() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]string),
	}
}

// Add registers an identifier with an operator-supplied reason.
func (s *InMemoryStore) Add(_ context.Context, identifier, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[identifier] = reason
	return nil
}

// Remove deletes an identifier, returning sentinel.ErrNotFound when it was
// never allowlisted.
func (s *InMemoryStore) Remove(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[identifier]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.entries, identifier)
	return nil
}

// IsAllowlisted reports whether the identifier bypasses rate limiting.
func (s *InMemoryStore) IsAllowlisted(_ context.Context, identifier string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[identifier]
	return ok, nil
}

// List returns a copy of all allowlisted identifiers and their reasons.
func (s *InMemoryStore) List(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}
