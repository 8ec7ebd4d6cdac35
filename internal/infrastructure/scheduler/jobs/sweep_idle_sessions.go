// Package jobs contains the scheduled maintenance jobs of the active
// learning engine.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP IDLE SESSIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SweepIdleSessionsJob expires open sessions that stopped receiving events.
// Abandoned sessions otherwise never finalize, which would hold back quest
// evaluation and leak the one-open-session slot for the (user, task) pair.
type SweepIdleSessionsJob struct {
	tracker *command.SessionTracker
	logger  *slog.Logger
	config  SweepIdleSessionsConfig
}

// SweepIdleSessionsConfig contains configuration for the sweep job.
type SweepIdleSessionsConfig struct {
	// Timeout is the maximum duration for one sweep pass.
	Timeout time.Duration
}

// DefaultSweepIdleSessionsConfig returns sensible defaults.
func DefaultSweepIdleSessionsConfig() SweepIdleSessionsConfig {
	return SweepIdleSessionsConfig{
		Timeout: 2 * time.Minute,
	}
}

// NewSweepIdleSessionsJob creates a new sweep job.
func NewSweepIdleSessionsJob(tracker *command.SessionTracker, logger *slog.Logger, config SweepIdleSessionsConfig) *SweepIdleSessionsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepIdleSessionsJob{
		tracker: tracker,
		logger:  logger,
		config:  config,
	}
}

// Name returns the job name.
func (j *SweepIdleSessionsJob) Name() string {
	return "sweep_idle_sessions"
}

// Description returns a human-readable description.
func (j *SweepIdleSessionsJob) Description() string {
	return "Expires open sessions with no activity past the idle timeout"
}

// Run executes one sweep pass.
func (j *SweepIdleSessionsJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := j.tracker.Sweep(ctx, time.Now().UTC())
	if err != nil {
		j.logger.Error("idle session sweep failed", "error", err)
		return err
	}

	j.logger.Info("idle session sweep completed",
		"scanned", result.Scanned,
		"expired", result.Expired,
		"errors", result.Errors,
		"duration", time.Since(started))
	return nil
}
