// Package eventhandler contains subscribers reacting to domain events:
// quest re-evaluation and leaderboard invalidation after session closes,
// and reward issuance after quest completions.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/leaderboard"
	"github.com/sensai-hub/active-learning-core/internal/domain/quest"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON SESSION CLOSED
// A finalized session changes the user's accumulated metrics, so every quest
// whose window covers the close must be rescored and every leaderboard the
// user appears on goes stale.
// ══════════════════════════════════════════════════════════════════════════════

// SessionClosedHandler reacts to session.closed and session.expired events.
type SessionClosedHandler struct {
	quests     quest.Repository
	snapshots  quest.SnapshotSource
	directory  leaderboard.Directory
	aggregator leaderboard.Aggregator
	publisher  shared.EventPublisher
	logger     *slog.Logger

	// opTimeout bounds one handler invocation; the dispatcher retries on
	// failure, so a hung downstream must not pin a worker.
	opTimeout time.Duration
}

// NewSessionClosedHandler creates a new SessionClosedHandler.
func NewSessionClosedHandler(
	quests quest.Repository,
	snapshots quest.SnapshotSource,
	directory leaderboard.Directory,
	aggregator leaderboard.Aggregator,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *SessionClosedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionClosedHandler{
		quests:     quests,
		snapshots:  snapshots,
		directory:  directory,
		aggregator: aggregator,
		publisher:  publisher,
		logger:     logger,
		opTimeout:  30 * time.Second,
	}
}

// Handle implements shared.EventHandler.
func (h *SessionClosedHandler) Handle(event shared.Event) error {
	closed, ok := event.(shared.SessionClosedEvent)
	if !ok {
		return fmt.Errorf("on_session_closed: unexpected event type %s", event.EventType())
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
	defer cancel()

	delta := closed.Delta

	if err := h.evaluateQuests(ctx, delta); err != nil {
		return fmt.Errorf("on_session_closed: evaluate quests: %w", err)
	}

	// Invalidation only: recomputation is deferred to the next read so a
	// burst of closes does not trigger a burst of rankings.
	windows := []leaderboard.Window{leaderboard.WindowWeekly, leaderboard.WindowMonthly, leaderboard.WindowAllTime}
	if err := h.aggregator.Invalidate(ctx, delta.UserID, windows); err != nil {
		h.logger.Warn("leaderboard invalidation failed",
			"user_id", delta.UserID,
			"error", err,
		)
	}

	return nil
}

// evaluateQuests rescores every quest active at the close instant that
// applies to the user, completing any whose thresholds are now all met.
func (h *SessionClosedHandler) evaluateQuests(ctx context.Context, delta shared.MetricDelta) error {
	defs, err := h.quests.ListActiveDefinitions(ctx, delta.ClosedAt, "")
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return nil
	}

	cohorts, err := h.userCohorts(ctx, delta.UserID)
	if err != nil {
		// Cohort-scoped quests are skipped when the directory is down;
		// global quests still evaluate.
		h.logger.Warn("cohort lookup failed", "user_id", delta.UserID, "error", err)
		cohorts = nil
	}

	for _, def := range defs {
		if !h.applies(def, cohorts) {
			continue
		}
		if err := h.evaluateOne(ctx, def, delta); err != nil {
			return err
		}
	}
	return nil
}

func (h *SessionClosedHandler) evaluateOne(ctx context.Context, def *quest.Definition, delta shared.MetricDelta) error {
	snap, err := h.snapshots.SnapshotFor(ctx, delta.UserID, def.Window, quest.SnapshotAdjustment{})
	if err != nil {
		return err
	}

	completion, err := h.quests.FindCompletion(ctx, delta.UserID, def.ID)
	if shared.IsNotFound(err) {
		completion = quest.NewCompletion(
			fmt.Sprintf("%s:%s", delta.UserID, def.ID),
			delta.UserID, def.ID, delta.ClosedAt,
		)
	} else if err != nil {
		return err
	}

	transitioned, err := completion.Evaluate(def, snap, delta.ClosedAt)
	if err != nil {
		return err
	}

	if err := h.quests.SaveCompletion(ctx, completion); err != nil {
		return err
	}

	if transitioned {
		h.logger.Info("quest completed",
			"user_id", delta.UserID,
			"quest_id", def.ID,
		)
		_ = h.publisher.Publish(shared.NewQuestCompletedEvent(
			delta.UserID, def.ID.String(),
			def.Reward.Points, def.Reward.Badges, def.Reward.GraceTokens, def.Reward.BoostFactor,
		))
	}
	return nil
}

func (h *SessionClosedHandler) userCohorts(ctx context.Context, userID string) ([]string, error) {
	keys, err := h.directory.ScopesOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	var cohorts []string
	for _, k := range keys {
		if k.Scope == leaderboard.ScopeCohort {
			cohorts = append(cohorts, k.ScopeID)
		}
	}
	return cohorts, nil
}

func (h *SessionClosedHandler) applies(def *quest.Definition, cohorts []string) bool {
	if def.CohortID == "" {
		return true
	}
	for _, c := range cohorts {
		if def.AppliesTo(c) {
			return true
		}
	}
	return false
}
