package attempts

import (
	"context"
	"sync"
	"time"

	"aegis/internal/bruteforce/models"
	"aegis/pkg/requesttime"
)

// InMemoryStore keeps per-key attempt histories with a fixed retention horizon.
// Histories are append-ordered within a key; there is no cross-key ordering.
type InMemoryStore struct {
	mu       sync.RWMutex
	attempts map[string][]models.LoginAttempt
	horizon  time.Duration
}

// DefaultHorizon is how long attempts stay queryable before pruning.
const DefaultHorizon = 24 * time.Hour

// New creates an attempt store. A non-positive horizon falls back to DefaultHorizon.
func New(horizon time.Duration) *InMemoryStore {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &InMemoryStore{
		attempts: make(map[string][]models.LoginAttempt),
		horizon:  horizon,
	}
}

// Append records an attempt under the given key.
func (s *InMemoryStore) Append(_ context.Context, key string, attempt models.LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[key] = append(s.attempts[key], attempt)
	return nil
}

// List returns a copy of the attempts for key that are inside the retention
// horizon, oldest first.
func (s *InMemoryStore) List(ctx context.Context, key string) ([]models.LoginAttempt, error) {
	cutoff := requesttime.Now(ctx).Add(-s.horizon)

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.attempts[key]
	out := make([]models.LoginAttempt, 0, len(stored))
	for _, a := range stored {
		if a.Timestamp.After(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Clear deletes all history for key. Clearing a missing key is a no-op.
func (s *InMemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, key)
	return nil
}

// Sweep prunes attempts older than the retention horizon across all keys and
// removes keys left empty. Pruning filters into a new slice and swaps it in,
// never deleting in place under concurrent iteration.
func (s *InMemoryStore) Sweep(ctx context.Context) (int, error) {
	cutoff := requesttime.Now(ctx).Add(-s.horizon)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, stored := range s.attempts {
		kept := make([]models.LoginAttempt, 0, len(stored))
		for _, a := range stored {
			if a.Timestamp.After(cutoff) {
				kept = append(kept, a)
			}
		}
		removed += len(stored) - len(kept)
		if len(kept) == 0 {
			delete(s.attempts, key)
			continue
		}
		s.attempts[key] = kept
	}
	return removed, nil
}
