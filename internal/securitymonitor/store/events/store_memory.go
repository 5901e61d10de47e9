// Package events holds the bounded in-memory security event ring.
package events

import (
	"context"
	"sync"
	"time"

	"aegis/internal/securitymonitor/models"
	"aegis/pkg/requesttime"
)

const (
	// DefaultMaxEvents bounds the ring; the oldest event is evicted first.
	DefaultMaxEvents = 50_000
	// DefaultRetention is how long events stay queryable.
	DefaultRetention = 7 * 24 * time.Hour
)

// InMemoryStore is an append-only bounded ring of security events. Appends
// past capacity evict the oldest entries; Sweep prunes past the retention
// horizon.
type InMemoryStore struct {
	mu        sync.RWMutex
	events    []models.SecurityEvent
	maxEvents int
	retention time.Duration
}

// New creates an event store. Non-positive limits fall back to the defaults.
func New(maxEvents int, retention time.Duration) *InMemoryStore {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &InMemoryStore{
		maxEvents: maxEvents,
		retention: retention,
	}
}

// Append records an event, evicting the oldest when past capacity.
func (s *InMemoryStore) Append(_ context.Context, event models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	if overflow := len(s.events) - s.maxEvents; overflow > 0 {
		// Copy forward rather than reslicing so evicted entries are
		// actually released.
		kept := make([]models.SecurityEvent, len(s.events)-overflow)
		copy(kept, s.events[overflow:])
		s.events = kept
	}
	return nil
}

// Recent returns a copy of the events newer than the given window, oldest
// first.
func (s *InMemoryStore) Recent(ctx context.Context, window time.Duration) ([]models.SecurityEvent, error) {
	cutoff := requesttime.Now(ctx).Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SecurityEvent, 0, len(s.events))
	for _, e := range s.events {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len reports the number of retained events.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Sweep drops events older than the retention horizon, returning how many
// were removed. Filters into a new slice and swaps it in.
func (s *InMemoryStore) Sweep(ctx context.Context) (int, error) {
	cutoff := requesttime.Now(ctx).Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]models.SecurityEvent, 0, len(s.events))
	for _, e := range s.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(s.events) - len(kept)
	s.events = kept
	return removed, nil
}
