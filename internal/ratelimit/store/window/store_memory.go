package window

import (
	"context"
	"sync"
	"time"

	"aegis/internal/ratelimit/models"
	"aegis/pkg/platform/keylock"
	"aegis/pkg/requesttime"
)

// entry is the per-identifier window state.
//
// The count is never decremented; the window restarts on the first check after
// resetAt passes. This is a fixed window that restarts on demand, not a true
// sliding log, so callers accept brief over/under-admission at window boundaries.
type entry struct {
	count       int
	windowStart time.Time
	resetAt     time.Time
	blocked     bool
	blockUntil  time.Time
}

// InMemoryStore implements the window counter over a process-local map.
//
// Per-key read-modify-write sequences serialize on a sharded mutex so two
// concurrent checks for the same identifier cannot both observe count=4 and
// both admit against max=5, without globally serializing unrelated keys.
// For multi-node deployments use RedisStore instead.
type InMemoryStore struct {
	locks   *keylock.ShardedMutex
	entries sync.Map // key string -> *entry
}

// NewInMemoryStore creates a new in-memory window counter store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		locks: keylock.New(),
	}
}

// Check evaluates and advances the window for key under the given limit.
//
// Semantics, in order:
//  1. An active temporary block short-circuits to denied without touching the count.
//  2. An expired window resets to count=1 (clearing any expired block) and admits.
//  3. count >= max marks the entry blocked (when a block duration is configured)
//     and denies.
//  4. Otherwise the count increments and the request is admitted.
func (s *InMemoryStore) Check(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	now := requesttime.Now(ctx)

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	v, ok := s.entries.Load(key)
	if !ok {
		e := &entry{count: 1, windowStart: now, resetAt: now.Add(limit.Window)}
		s.entries.Store(key, e)
		return allowedResult(limit, e, now), nil
	}
	e := v.(*entry)

	// Active block: deny without touching the window count.
	if e.blocked && now.Before(e.blockUntil) {
		until := e.blockUntil
		return &models.Result{
			Allowed:      false,
			Limit:        limit.MaxRequests,
			Remaining:    0,
			ResetAt:      until,
			RetryAfter:   retryAfterSeconds(now, until),
			Blocked:      true,
			BlockedUntil: &until,
		}, nil
	}

	// Window expired: restart it. Any block that reached this point has expired too.
	if now.After(e.resetAt) {
		e.count = 1
		e.windowStart = now
		e.resetAt = now.Add(limit.Window)
		e.blocked = false
		e.blockUntil = time.Time{}
		return allowedResult(limit, e, now), nil
	}

	// Still within the window and at capacity: deny, optionally starting a block.
	if e.count >= limit.MaxRequests {
		resetAt := e.resetAt
		result := &models.Result{
			Allowed:    false,
			Limit:      limit.MaxRequests,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfterSeconds(now, resetAt),
		}
		if limit.Block > 0 {
			e.blocked = true
			e.blockUntil = now.Add(limit.Block)
			until := e.blockUntil
			result.Blocked = true
			result.BlockedUntil = &until
			result.ResetAt = until
			result.RetryAfter = retryAfterSeconds(now, until)
		}
		return result, nil
	}

	e.count++
	return allowedResult(limit, e, now), nil
}

// Reset clears the window state for a key.
func (s *InMemoryStore) Reset(_ context.Context, key string) error {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	s.entries.Delete(key)
	return nil
}

// Count returns the current window count for a key, for introspection.
func (s *InMemoryStore) Count(_ context.Context, key string) (int, error) {
	v, ok := s.entries.Load(key)
	if !ok {
		return 0, nil
	}
	return v.(*entry).count, nil
}

// Sweep removes entries whose window and block have both expired.
// Candidate keys are collected first, then each is re-checked and deleted under
// its key lock, so a sweep never removes an entry that a concurrent check is
// mid-update on.
func (s *InMemoryStore) Sweep(ctx context.Context) (int, error) {
	now := requesttime.Now(ctx)

	var candidates []string
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		if expired(e, now) {
			candidates = append(candidates, k.(string))
		}
		return true
	})

	removed := 0
	for _, key := range candidates {
		s.locks.Lock(key)
		if v, ok := s.entries.Load(key); ok && expired(v.(*entry), now) {
			s.entries.Delete(key)
			removed++
		}
		s.locks.Unlock(key)
	}
	return removed, nil
}

func expired(e *entry, now time.Time) bool {
	if now.Before(e.resetAt) {
		return false
	}
	return !e.blocked || now.After(e.blockUntil)
}

func allowedResult(limit models.Limit, e *entry, now time.Time) *models.Result {
	remaining := limit.MaxRequests - e.count
	if remaining < 0 {
		remaining = 0
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit.MaxRequests,
		Remaining: remaining,
		ResetAt:   e.resetAt,
	}
}

func retryAfterSeconds(now, until time.Time) int {
	seconds := int(until.Sub(now).Seconds())
	if seconds < 0 {
		return 0
	}
	return seconds
}
