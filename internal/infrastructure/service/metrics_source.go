// Package service composes domain repositories and external clients into the
// derived-data surfaces the application layer consumes: metric snapshots for
// quest evaluation and the leaderboard aggregation pipeline.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/leaderboard"
	"github.com/sensai-hub/active-learning-core/internal/domain/quest"
	"github.com/sensai-hub/active-learning-core/internal/domain/session"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// NameSource resolves display names for leaderboard entries. Implemented by
// the directory client; optional, entries fall back to bare user IDs.
type NameSource interface {
	ProfilesOf(ctx context.Context, userIDs []string) (map[string]string, error)
}

// MetricsSource assembles per-user metric views from the session store, the
// quest store, and the external completion service. It implements both
// quest.SnapshotSource and leaderboard.MetricsSource, so quest evaluation
// and leaderboard ranking read the same numbers.
type MetricsSource struct {
	sessions session.Repository
	quests   quest.Repository
	passes   quest.CompletionLookup
	names    NameSource
	logger   *slog.Logger
}

// NewMetricsSource creates a metrics source. names may be nil.
func NewMetricsSource(
	sessions session.Repository,
	quests quest.Repository,
	passes quest.CompletionLookup,
	names NameSource,
	logger *slog.Logger,
) *MetricsSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsSource{
		sessions: sessions,
		quests:   quests,
		passes:   passes,
		names:    names,
		logger:   logger,
	}
}

// SnapshotFor assembles the metric snapshot a quest is evaluated against,
// applying any grace-token adjustment. A completion-service failure fails the
// snapshot: evaluating against partial numbers could complete a quest whose
// pass requirements were never checked.
func (m *MetricsSource) SnapshotFor(ctx context.Context, userID string, window shared.TimeWindow, adj quest.SnapshotAdjustment) (quest.MetricsSnapshot, error) {
	agg, err := m.sessions.AggregateFor(ctx, session.UserID(userID), window)
	if err != nil {
		return quest.MetricsSnapshot{}, err
	}

	dpPasses, peerReviews, err := m.passes.PassCountsOf(ctx, userID, window)
	if err != nil {
		return quest.MetricsSnapshot{}, shared.WrapError("quest", "SnapshotFor",
			shared.ErrServiceUnavailable, "pass counts unavailable", err)
	}

	return quest.MetricsSnapshot{
		ActiveMinutes:   agg.ActiveMinutes + adj.ExtraActiveMinutes,
		DPPasses:        dpPasses,
		PeerReviews:     peerReviews,
		QualityAvg:      agg.QualityAverage(adj.DropWorstQuality),
		ConsistencyDays: agg.ConsistencyDays(adj.FillMissedDay),
	}, nil
}

// ActiveUsers returns the users with finalized activity in the window,
// capped at limit. Feeds global leaderboard recomputation.
func (m *MetricsSource) ActiveUsers(ctx context.Context, window leaderboard.Window, now time.Time, limit int) ([]string, error) {
	ids, err := m.sessions.ListActiveUsers(ctx, window.Range(now), limit)
	if err != nil {
		return nil, err
	}
	users := make([]string, len(ids))
	for i, id := range ids {
		users[i] = id.String()
	}
	return users, nil
}

// MetricsForUsers returns ranking inputs for the given users within the
// window. Users with no recorded activity are omitted. Display name lookup
// is best effort; a directory failure degrades entries to bare user IDs.
func (m *MetricsSource) MetricsForUsers(ctx context.Context, userIDs []string, window leaderboard.Window) ([]leaderboard.UserMetrics, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	timeWindow := window.Range(now)

	ids := make([]session.UserID, len(userIDs))
	for i, id := range userIDs {
		ids[i] = session.UserID(id)
	}

	aggs, err := m.sessions.AggregateForUsers(ctx, ids, timeWindow)
	if err != nil {
		return nil, err
	}

	var names map[string]string
	if m.names != nil {
		names, err = m.names.ProfilesOf(ctx, userIDs)
		if err != nil {
			m.logger.Warn("display name lookup failed, ranking without names", "error", err)
			names = nil
		}
	}

	// Reward boosts come off completed quests; definitions are cached per
	// call since most users in a scope share the same weekly quest.
	defs := make(map[quest.QuestID]*quest.Definition)

	metrics := make([]leaderboard.UserMetrics, 0, len(aggs))
	for _, id := range ids {
		agg, ok := aggs[id]
		if !ok {
			continue
		}

		userID := id.String()
		completed, err := m.quests.CountCompleted(ctx, userID, timeWindow)
		if err != nil {
			return nil, err
		}

		bonus, boost, err := m.rewardAdjustments(ctx, userID, timeWindow, defs)
		if err != nil {
			return nil, err
		}

		metrics = append(metrics, leaderboard.UserMetrics{
			UserID:          userID,
			DisplayName:     names[userID],
			ActiveMinutes:   agg.ActiveMinutes,
			QualityAvg:      agg.QualityAverage(false),
			QuestsCompleted: completed,
			ConsistencyDays: agg.ConsistencyDays(false),
			BonusPoints:     bonus,
			BoostFactor:     boost,
		})
	}

	return metrics, nil
}

// rewardAdjustments sums points and boost factors from quests the user
// completed within the window.
func (m *MetricsSource) rewardAdjustments(ctx context.Context, userID string, window shared.TimeWindow, defs map[quest.QuestID]*quest.Definition) (int, float64, error) {
	completions, err := m.quests.ListCompletionsForUser(ctx, userID, 0)
	if err != nil {
		return 0, 0, err
	}

	bonus := 0
	boost := 0.0
	for _, c := range completions {
		if !c.IsCompleted || c.CompletedAt == nil || !window.Contains(*c.CompletedAt) {
			continue
		}
		bonus += c.PointsEarned

		def, ok := defs[c.QuestID]
		if !ok {
			def, err = m.quests.FindDefinition(ctx, c.QuestID)
			if err != nil {
				if shared.IsNotFound(err) {
					continue
				}
				return 0, 0, err
			}
			defs[c.QuestID] = def
		}
		boost += def.Reward.BoostFactor
	}

	return bonus, boost, nil
}
