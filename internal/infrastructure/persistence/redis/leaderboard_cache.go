package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sensai-hub/active-learning-core/internal/domain/leaderboard"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD ROW STORE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache implements leaderboard.Cache on Redis. Each (scope,
// window) key maps to one JSON row plus a version counter; the counter
// outlives row replacement so versions stay monotonic across recomputes.
type LeaderboardCache struct {
	cache *Cache
}

// NewLeaderboardCache creates a leaderboard row store on the shared client.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache}
}

func rowKey(key leaderboard.Key) string {
	return PrefixLeaderboardRow + key.String()
}

func verKey(key leaderboard.Key) string {
	return PrefixLeaderboardVer + key.String()
}

// Get returns the cached row for the key, stale or not.
func (l *LeaderboardCache) Get(ctx context.Context, key leaderboard.Key) (*leaderboard.CacheRow, error) {
	var row leaderboard.CacheRow
	err := l.cache.Get(ctx, rowKey(key), &row)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.ErrLeaderboardNotFound
		}
		return nil, fmt.Errorf("failed to get leaderboard row: %w", err)
	}
	return &row, nil
}

// Put stores a freshly computed row under the next version. The version
// counter advance and the row write are not one atomic step, but the guard
// serializes recomputes per key, so interleaved writes cannot regress.
func (l *LeaderboardCache) Put(ctx context.Context, row leaderboard.CacheRow) (*leaderboard.CacheRow, error) {
	version, err := l.cache.Incr(ctx, verKey(row.Key))
	if err != nil {
		return nil, fmt.Errorf("failed to advance leaderboard version: %w", err)
	}

	row.Version = uint64(version)
	row.Stale = false

	if err := l.cache.Set(ctx, rowKey(row.Key), row, TTLLeaderboardRow); err != nil {
		return nil, fmt.Errorf("failed to store leaderboard row: %w", err)
	}

	return &row, nil
}

// Invalidate marks the row stale without recomputing. Unknown keys no-op.
func (l *LeaderboardCache) Invalidate(ctx context.Context, key leaderboard.Key) error {
	client := l.cache.Client()
	k := rowKey(key)

	data, err := client.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to read leaderboard row: %w", err)
	}

	var row leaderboard.CacheRow
	if err := json.Unmarshal(data, &row); err != nil {
		// Corrupt row: dropping it forces a clean recompute on next read.
		return client.Del(ctx, k).Err()
	}
	if row.Stale {
		return nil
	}
	row.Stale = true

	updated, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return client.Set(ctx, k, updated, redis.KeepTTL).Err()
}

// PurgeBefore removes rows whose window started before the cutoff.
func (l *LeaderboardCache) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := l.cache.ScanKeys(ctx, PrefixLeaderboardRow+"*")
	if err != nil {
		return 0, fmt.Errorf("failed to scan leaderboard rows: %w", err)
	}

	purged := 0
	for _, k := range keys {
		var row leaderboard.CacheRow
		if err := l.cache.Get(ctx, k, &row); err != nil {
			if errors.Is(err, ErrCacheMiss) {
				continue
			}
			return purged, err
		}
		if row.WindowStart.Before(cutoff) {
			if err := l.cache.Delete(ctx, k); err != nil {
				return purged, err
			}
			purged++
		}
	}
	return purged, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE GUARD
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeGuard implements leaderboard.RecomputeGuard with SET NX locks.
// The TTL bounds how long a crashed holder can block recomputation.
type RecomputeGuard struct {
	cache *Cache
}

// NewRecomputeGuard creates a recompute guard on the shared client.
func NewRecomputeGuard(cache *Cache) *RecomputeGuard {
	return &RecomputeGuard{cache: cache}
}

func lockKey(key leaderboard.Key) string {
	return PrefixLock + "recompute:" + key.String()
}

// TryAcquire attempts to take the recompute lock for the key.
func (g *RecomputeGuard) TryAcquire(ctx context.Context, key leaderboard.Key, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = TTLRecomputeLock
	}
	return g.cache.SetNX(ctx, lockKey(key), 1, ttl)
}

// Release frees the lock.
func (g *RecomputeGuard) Release(ctx context.Context, key leaderboard.Key) error {
	return g.cache.Delete(ctx, lockKey(key))
}
