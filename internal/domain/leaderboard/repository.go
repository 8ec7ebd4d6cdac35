package leaderboard

import (
	"context"
)

// Directory resolves organizational scope membership. Implemented by the
// external directory service client; the core only calls this read interface.
type Directory interface {
	// MembersOf returns the user IDs belonging to a scope.
	// An unknown or empty scope returns an empty set, not an error.
	MembersOf(ctx context.Context, scope ScopeType, scopeID string) ([]string, error)

	// ScopesOf returns the scope keys a user belongs to, used to decide
	// which cache rows a metric change invalidates.
	ScopesOf(ctx context.Context, userID string) ([]Key, error)
}

// MetricsSource assembles per-user metrics for ranking. Implemented by the
// aggregator's composition of session aggregates, quest completions, and
// reward adjustments.
type MetricsSource interface {
	// MetricsForUsers returns ranking inputs for the given users within the
	// window. Users with no recorded activity are omitted.
	MetricsForUsers(ctx context.Context, userIDs []string, window Window) ([]UserMetrics, error)
}

// Aggregator is the leaderboard aggregation/cache surface consumed by the
// read API and the event handlers.
type Aggregator interface {
	// Get returns the current standings for a key, recomputing on miss or
	// staleness with the stampede guard held.
	Get(ctx context.Context, key Key) (*CacheRow, error)

	// Invalidate marks every affected cache row stale after a metric change.
	// Recomputation is deferred to the next read.
	Invalidate(ctx context.Context, userID string, windows []Window) error

	// Recompute forces a fresh ranking for a key, bypassing freshness checks
	// but still honoring the stampede guard.
	Recompute(ctx context.Context, key Key) (*CacheRow, error)
}
