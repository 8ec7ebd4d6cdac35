package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/leaderboard"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// RebuildLeaderboardJob proactively recomputes a configured set of hot
// leaderboards so first readers after an invalidation burst do not pay the
// recompute latency. Cold boards stay recompute-on-read.
type RebuildLeaderboardJob struct {
	aggregator leaderboard.Aggregator
	logger     *slog.Logger
	config     RebuildLeaderboardConfig
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// Windows to rebuild for every configured scope.
	Windows []leaderboard.Window

	// ScopeIDs maps scope types to the IDs to rebuild. The global scope is
	// always included and needs no IDs.
	ScopeIDs map[leaderboard.ScopeType][]string

	// Timeout is the maximum duration for one rebuild pass.
	Timeout time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults: the global
// board over all windows.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		Windows: []leaderboard.Window{
			leaderboard.WindowWeekly,
			leaderboard.WindowMonthly,
			leaderboard.WindowAllTime,
		},
		Timeout: 5 * time.Minute,
	}
}

// NewRebuildLeaderboardJob creates a new rebuild job.
func NewRebuildLeaderboardJob(aggregator leaderboard.Aggregator, logger *slog.Logger, config RebuildLeaderboardConfig) *RebuildLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildLeaderboardJob{
		aggregator: aggregator,
		logger:     logger,
		config:     config,
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Recomputes configured hot leaderboards ahead of reader demand"
}

// Run executes one rebuild pass. Keys another worker is already recomputing
// are skipped, not errors.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	started := time.Now()
	rebuilt, skipped := 0, 0
	var lastErr error

	for _, key := range j.keys() {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := j.aggregator.Recompute(ctx, key)
		switch {
		case err == nil:
			rebuilt++
		case errors.Is(err, shared.ErrRecomputeInFlight):
			skipped++
		default:
			j.logger.Error("leaderboard rebuild failed", "key", key.String(), "error", err)
			lastErr = err
		}
	}

	j.logger.Info("leaderboard rebuild completed",
		"rebuilt", rebuilt,
		"skipped", skipped,
		"duration", time.Since(started))
	return lastErr
}

func (j *RebuildLeaderboardJob) keys() []leaderboard.Key {
	var keys []leaderboard.Key
	for _, window := range j.config.Windows {
		if key, err := leaderboard.NewKey(leaderboard.ScopeGlobal, "", window); err == nil {
			keys = append(keys, key)
		}
		for scope, ids := range j.config.ScopeIDs {
			for _, id := range ids {
				if key, err := leaderboard.NewKey(scope, id, window); err == nil {
					keys = append(keys, key)
				}
			}
		}
	}
	return keys
}
