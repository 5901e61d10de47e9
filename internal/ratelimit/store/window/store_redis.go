package window

import (
	"context"

	"github.com/redis/go-redis/v9"

	"aegis/internal/ratelimit/models"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/requesttime"
)

// RedisStore implements the window counter over a shared Redis cache so
// multiple nodes enforce one combined limit per identifier.
//
// The counter uses INCR with a TTL set on first increment; the temporary block
// is a separate key whose TTL is the block duration. INCR is atomic, so the
// soft-limit interleaving of the in-memory store does not apply here, but the
// block-check/increment pair is still two round trips and may briefly
// over-admit at the instant a block starts.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a window counter store over the given Redis client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func blockKey(key string) string { return key + ":block" }

// Check evaluates and advances the window for key under the given limit.
func (s *RedisStore) Check(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	now := requesttime.Now(ctx)

	// Active block short-circuits without touching the counter.
	blockTTL, err := s.client.PTTL(ctx, blockKey(key)).Result()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check block key")
	}
	if blockTTL > 0 {
		until := now.Add(blockTTL)
		return &models.Result{
			Allowed:      false,
			Limit:        limit.MaxRequests,
			Remaining:    0,
			ResetAt:      until,
			RetryAfter:   int(blockTTL.Seconds()) + 1,
			Blocked:      true,
			BlockedUntil: &until,
		}, nil
	}

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to increment window counter")
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, key, limit.Window).Err(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to set window TTL")
		}
	}

	windowTTL, err := s.client.PTTL(ctx, key).Result()
	if err != nil || windowTTL < 0 {
		windowTTL = limit.Window
	}
	resetAt := now.Add(windowTTL)

	if int(count) > limit.MaxRequests {
		result := &models.Result{
			Allowed:    false,
			Limit:      limit.MaxRequests,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: int(windowTTL.Seconds()) + 1,
		}
		if limit.Block > 0 {
			if err := s.client.Set(ctx, blockKey(key), "1", limit.Block).Err(); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to set block key")
			}
			until := now.Add(limit.Block)
			result.Blocked = true
			result.BlockedUntil = &until
			result.ResetAt = until
			result.RetryAfter = int(limit.Block.Seconds())
		}
		return result, nil
	}

	remaining := limit.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit.MaxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the window state for a key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key, blockKey(key)).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to reset window")
	}
	return nil
}

// Sweep is a no-op: Redis TTLs expire entries server-side.
func (s *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}
