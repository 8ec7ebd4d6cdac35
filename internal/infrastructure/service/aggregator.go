package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/leaderboard"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

// ActivitySource enumerates users for scopes the directory cannot: the
// global board ranks whoever has recorded activity. Implemented by
// MetricsSource.
type ActivitySource interface {
	ActiveUsers(ctx context.Context, window leaderboard.Window, now time.Time, limit int) ([]string, error)
}

// AggregatorConfig holds aggregator tuning.
type AggregatorConfig struct {
	// FreshTTL is how long a computed row serves without recomputation.
	FreshTTL time.Duration

	// LockTTL bounds the recompute guard lease.
	LockTTL time.Duration

	// RecomputeTimeout bounds one recomputation pass.
	RecomputeTimeout time.Duration

	// MaxGlobalUsers caps how many users the global board ranks.
	MaxGlobalUsers int

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultAggregatorConfig returns sensible defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		FreshTTL:         5 * time.Minute,
		LockTTL:          30 * time.Second,
		RecomputeTimeout: 30 * time.Second,
		MaxGlobalUsers:   10000,
	}
}

// LeaderboardAggregator implements leaderboard.Aggregator: invalidate on
// write, recompute on read, with a per-key stampede guard. Losing the guard
// race serves the stale row rather than waiting, so a popular board costs
// one recomputation regardless of concurrent readers.
type LeaderboardAggregator struct {
	cache     leaderboard.Cache
	guard     leaderboard.RecomputeGuard
	directory leaderboard.Directory
	metrics   leaderboard.MetricsSource
	activity  ActivitySource
	config    AggregatorConfig
	logger    *slog.Logger
}

// NewLeaderboardAggregator creates a leaderboard aggregator.
func NewLeaderboardAggregator(
	cache leaderboard.Cache,
	guard leaderboard.RecomputeGuard,
	directory leaderboard.Directory,
	metrics leaderboard.MetricsSource,
	activity ActivitySource,
	config AggregatorConfig,
) *LeaderboardAggregator {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &LeaderboardAggregator{
		cache:     cache,
		guard:     guard,
		directory: directory,
		metrics:   metrics,
		activity:  activity,
		config:    config,
		logger:    config.Logger,
	}
}

// Get returns the current standings for a key, recomputing on miss or
// staleness with the stampede guard held.
func (a *LeaderboardAggregator) Get(ctx context.Context, key leaderboard.Key) (*leaderboard.CacheRow, error) {
	now := time.Now().UTC()

	row, err := a.cache.Get(ctx, key)
	if err != nil && !errors.Is(err, shared.ErrLeaderboardNotFound) {
		return nil, err
	}
	if row.Fresh(now, a.config.FreshTTL) {
		return row, nil
	}

	acquired, err := a.guard.TryAcquire(ctx, key, a.config.LockTTL)
	if err != nil {
		// Guard store down: a known row beats an error page.
		if row != nil {
			return row, nil
		}
		return nil, err
	}
	if !acquired {
		if row != nil {
			return row, nil
		}
		return nil, shared.ErrRecomputeInFlight
	}
	defer func() {
		if err := a.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			a.logger.Warn("failed to release recompute lock", "key", key.String(), "error", err)
		}
	}()

	fresh, err := a.recompute(ctx, key)
	if err != nil {
		if row != nil {
			a.logger.Warn("recompute failed, serving stale row",
				"key", key.String(), "version", row.Version, "error", err)
			return row, nil
		}
		return nil, err
	}
	return fresh, nil
}

// Invalidate marks every cache row touched by the user's metric change
// stale. Recomputation is deferred to the next read. A directory failure
// still invalidates the global rows before reporting the error.
func (a *LeaderboardAggregator) Invalidate(ctx context.Context, userID string, windows []leaderboard.Window) error {
	keys, dirErr := a.directory.ScopesOf(ctx, userID)
	if dirErr != nil {
		keys = nil
		for _, w := range windows {
			if key, err := leaderboard.NewKey(leaderboard.ScopeGlobal, "", w); err == nil {
				keys = append(keys, key)
			}
		}
	}

	wanted := make(map[leaderboard.Window]bool, len(windows))
	for _, w := range windows {
		wanted[w] = true
	}

	for _, key := range keys {
		if !wanted[key.Window] {
			continue
		}
		if err := a.cache.Invalidate(ctx, key); err != nil {
			return err
		}
	}

	if dirErr != nil {
		return shared.WrapError("leaderboard", "Invalidate", shared.ErrServiceUnavailable,
			"scope resolution failed, only global rows invalidated", dirErr)
	}
	return nil
}

// Recompute forces a fresh ranking for a key, bypassing freshness checks but
// still honoring the stampede guard.
func (a *LeaderboardAggregator) Recompute(ctx context.Context, key leaderboard.Key) (*leaderboard.CacheRow, error) {
	acquired, err := a.guard.TryAcquire(ctx, key, a.config.LockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, shared.ErrRecomputeInFlight
	}
	defer func() {
		if err := a.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			a.logger.Warn("failed to release recompute lock", "key", key.String(), "error", err)
		}
	}()

	return a.recompute(ctx, key)
}

// recompute ranks the scope's members and replaces the cached row. Caller
// holds the guard.
func (a *LeaderboardAggregator) recompute(ctx context.Context, key leaderboard.Key) (*leaderboard.CacheRow, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.RecomputeTimeout)
	defer cancel()

	now := time.Now().UTC()

	members, err := a.membersOf(ctx, key, now)
	if err != nil {
		return nil, err
	}

	var entries []leaderboard.Entry
	if len(members) > 0 {
		metrics, err := a.metrics.MetricsForUsers(ctx, members, key.Window)
		if err != nil {
			return nil, err
		}
		entries = leaderboard.Rank(metrics)
		if key.Scope.Anonymous() {
			entries = leaderboard.Anonymize(entries)
		}
	}

	row := leaderboard.CacheRow{
		Key:               key,
		Entries:           entries,
		TotalParticipants: len(entries),
		ComputedAt:        now,
		WindowStart:       key.Window.Range(now).Start,
	}

	stored, err := a.cache.Put(ctx, row)
	if err != nil {
		return nil, err
	}

	a.logger.Info("leaderboard recomputed",
		"key", key.String(), "version", stored.Version, "participants", stored.TotalParticipants)
	return stored, nil
}

func (a *LeaderboardAggregator) membersOf(ctx context.Context, key leaderboard.Key, now time.Time) ([]string, error) {
	if key.Scope == leaderboard.ScopeGlobal {
		return a.activity.ActiveUsers(ctx, key.Window, now, a.config.MaxGlobalUsers)
	}
	return a.directory.MembersOf(ctx, key.Scope, key.ScopeID)
}
