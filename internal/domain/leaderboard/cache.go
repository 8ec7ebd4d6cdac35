package leaderboard

import (
	"context"
	"time"
)

// CacheRow is one versioned cache entry for a (scope, window) key.
// The version increases monotonically on every recompute; readers use it to
// detect staleness. A row is marked stale on invalidation and replaced whole
// on recompute - no partial writes are ever visible.
type CacheRow struct {
	Key               Key       `json:"key"`
	Version           uint64    `json:"version"`
	Entries           []Entry   `json:"entries"`
	TotalParticipants int       `json:"total_participants"`
	ComputedAt        time.Time `json:"computed_at"`
	WindowStart       time.Time `json:"window_start"` // keys expiry-based cleanup
	Stale             bool      `json:"stale"`
}

// Fresh reports whether the row can be served without recomputation.
func (r *CacheRow) Fresh(now time.Time, ttl time.Duration) bool {
	if r == nil || r.Stale {
		return false
	}
	if ttl <= 0 {
		return true
	}
	return now.Sub(r.ComputedAt) < ttl
}

// Cache is the versioned store for leaderboard rows. Reads are concurrent;
// writes replace rows atomically with an incremented version.
type Cache interface {
	// Get returns the cached row for the key, or shared.ErrLeaderboardNotFound.
	// Stale rows are returned with Stale set so callers can decide between
	// recompute and serving the last valid version.
	Get(ctx context.Context, key Key) (*CacheRow, error)

	// Put stores a freshly computed row, assigning the next version.
	// Returns the stored row including its new version.
	Put(ctx context.Context, row CacheRow) (*CacheRow, error)

	// Invalidate marks the row stale without recomputing.
	// Unknown keys are a no-op.
	Invalidate(ctx context.Context, key Key) error

	// PurgeBefore removes rows whose window started before the cutoff.
	// Returns the number purged.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RecomputeGuard is the stampede guard: at most one concurrent recompute per
// key. Lock acquisition is non-blocking so losers can serve the stale row.
type RecomputeGuard interface {
	// TryAcquire attempts to take the recompute lock for the key.
	// Returns false when another recompute is in flight.
	TryAcquire(ctx context.Context, key Key, ttl time.Duration) (bool, error)

	// Release frees the lock.
	Release(ctx context.Context, key Key) error
}
