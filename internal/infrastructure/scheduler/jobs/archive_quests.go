package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/leaderboard"
	"github.com/sensai-hub/active-learning-core/internal/domain/quest"
)

// ══════════════════════════════════════════════════════════════════════════════
// ARCHIVE QUESTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ArchiveQuestsJob archives completions of quests whose validity window has
// closed, after a grace period for late grace-token applications, and purges
// leaderboard cache rows of long-dead windows.
type ArchiveQuestsJob struct {
	quests quest.Repository
	cache  leaderboard.Cache
	logger *slog.Logger
	config ArchiveQuestsConfig
}

// ArchiveQuestsConfig contains configuration for the archive job.
type ArchiveQuestsConfig struct {
	// GracePeriod delays archival past window close so quest_retry tokens
	// can still reopen a just-missed quest.
	GracePeriod time.Duration

	// CacheRetention is how long after its window start a cached
	// leaderboard row is kept before purging.
	CacheRetention time.Duration

	// Timeout is the maximum duration for one archive pass.
	Timeout time.Duration
}

// DefaultArchiveQuestsConfig returns sensible defaults.
func DefaultArchiveQuestsConfig() ArchiveQuestsConfig {
	return ArchiveQuestsConfig{
		GracePeriod:    48 * time.Hour,
		CacheRetention: 60 * 24 * time.Hour,
		Timeout:        5 * time.Minute,
	}
}

// NewArchiveQuestsJob creates a new archive job. cache may be nil to skip
// cache purging.
func NewArchiveQuestsJob(quests quest.Repository, cache leaderboard.Cache, logger *slog.Logger, config ArchiveQuestsConfig) *ArchiveQuestsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveQuestsJob{
		quests: quests,
		cache:  cache,
		logger: logger,
		config: config,
	}
}

// Name returns the job name.
func (j *ArchiveQuestsJob) Name() string {
	return "archive_quests"
}

// Description returns a human-readable description.
func (j *ArchiveQuestsJob) Description() string {
	return "Archives completions of closed quest windows and purges dead cache rows"
}

// Run executes one archive pass.
func (j *ArchiveQuestsJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	now := time.Now().UTC()
	cutoff := now.Add(-j.config.GracePeriod)

	defs, err := j.quests.ListExpiredUnarchived(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to list expired quests", "error", err)
		return err
	}

	archived := 0
	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := j.quests.ArchiveForQuest(ctx, def.ID, now)
		if err != nil {
			j.logger.Error("failed to archive quest completions",
				"quest_id", def.ID.String(), "error", err)
			return err
		}
		archived += n
	}

	purged := 0
	if j.cache != nil && j.config.CacheRetention > 0 {
		purged, err = j.cache.PurgeBefore(ctx, now.Add(-j.config.CacheRetention))
		if err != nil {
			// Purge failure is storage hygiene, not correctness.
			j.logger.Warn("failed to purge leaderboard cache rows", "error", err)
		}
	}

	j.logger.Info("quest archive completed",
		"quests", len(defs),
		"completions_archived", archived,
		"cache_rows_purged", purged)
	return nil
}
