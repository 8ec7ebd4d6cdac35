package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensai-hub/active-learning-core/internal/domain/leaderboard"
	"github.com/sensai-hub/active-learning-core/internal/domain/quest"
	"github.com/sensai-hub/active-learning-core/internal/domain/session"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// stubSessions serves canned aggregates; only the aggregate reads are used
// by the metrics source.
type stubSessions struct {
	session.Repository

	aggregates map[session.UserID]session.Aggregate
	active     []session.UserID
	err        error
}

func (s *stubSessions) AggregateFor(_ context.Context, userID session.UserID, _ shared.TimeWindow) (session.Aggregate, error) {
	if s.err != nil {
		return session.Aggregate{}, s.err
	}
	return s.aggregates[userID], nil
}

func (s *stubSessions) AggregateForUsers(_ context.Context, userIDs []session.UserID, _ shared.TimeWindow) (map[session.UserID]session.Aggregate, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[session.UserID]session.Aggregate)
	for _, id := range userIDs {
		if agg, ok := s.aggregates[id]; ok {
			out[id] = agg
		}
	}
	return out, nil
}

func (s *stubSessions) ListActiveUsers(_ context.Context, _ shared.TimeWindow, limit int) ([]session.UserID, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit > 0 && len(s.active) > limit {
		return s.active[:limit], nil
	}
	return s.active, nil
}

// stubQuests serves canned completions and definitions.
type stubQuests struct {
	quest.Repository

	completions map[string][]*quest.Completion
	definitions map[quest.QuestID]*quest.Definition
	completed   map[string]int
}

func (s *stubQuests) ListCompletionsForUser(_ context.Context, userID string, _ int) ([]*quest.Completion, error) {
	return s.completions[userID], nil
}

func (s *stubQuests) FindDefinition(_ context.Context, id quest.QuestID) (*quest.Definition, error) {
	def, ok := s.definitions[id]
	if !ok {
		return nil, shared.ErrQuestNotFound
	}
	return def, nil
}

func (s *stubQuests) CountCompleted(_ context.Context, userID string, _ shared.TimeWindow) (int, error) {
	return s.completed[userID], nil
}

type stubPasses struct {
	dp, reviews int
	err         error
}

func (s *stubPasses) PassCountsOf(_ context.Context, _ string, _ shared.TimeWindow) (int, int, error) {
	return s.dp, s.reviews, s.err
}

type stubNames struct {
	names map[string]string
	err   error
}

func (s *stubNames) ProfilesOf(_ context.Context, _ []string) (map[string]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.names, nil
}

func testWindow() shared.TimeWindow {
	return shared.TimeWindow{
		Start: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
	}
}

func TestSnapshotFor(t *testing.T) {
	sessions := &stubSessions{aggregates: map[session.UserID]session.Aggregate{
		"u1": {
			UserID:         "u1",
			ActiveMinutes:  90,
			QualitySamples: []float64{3, 3, 1},
			ActiveDays: []time.Time{
				time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
				time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
			},
		},
	}}
	src := NewMetricsSource(sessions, &stubQuests{}, &stubPasses{dp: 2, reviews: 1}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	snap, err := src.SnapshotFor(context.Background(), "u1", testWindow(), quest.SnapshotAdjustment{})
	require.NoError(t, err)
	assert.InDelta(t, 90.0, snap.ActiveMinutes, 0.01)
	assert.Equal(t, 2, snap.DPPasses)
	assert.Equal(t, 1, snap.PeerReviews)
	assert.InDelta(t, 7.0/9.0, snap.QualityAvg, 0.001)
	assert.Equal(t, 2, snap.ConsistencyDays)
}

func TestSnapshotForAppliesAdjustment(t *testing.T) {
	sessions := &stubSessions{aggregates: map[session.UserID]session.Aggregate{
		"u1": {
			UserID:         "u1",
			ActiveMinutes:  90,
			QualitySamples: []float64{3, 3, 1},
			ActiveDays:     []time.Time{time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		},
	}}
	src := NewMetricsSource(sessions, &stubQuests{}, &stubPasses{}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	snap, err := src.SnapshotFor(context.Background(), "u1", testWindow(), quest.SnapshotAdjustment{
		ExtraActiveMinutes: 15,
		DropWorstQuality:   true,
		FillMissedDay:      true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 105.0, snap.ActiveMinutes, 0.01)

	// Dropping the worst sample leaves two perfect scores.
	assert.InDelta(t, 1.0, snap.QualityAvg, 0.001)
	assert.Equal(t, 2, snap.ConsistencyDays)
}

func TestSnapshotForFailsWhenPassLookupFails(t *testing.T) {
	sessions := &stubSessions{aggregates: map[session.UserID]session.Aggregate{}}
	src := NewMetricsSource(sessions, &stubQuests{}, &stubPasses{err: errors.New("service down")}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := src.SnapshotFor(context.Background(), "u1", testWindow(), quest.SnapshotAdjustment{})
	assert.True(t, shared.IsRetryable(err))
}

func TestMetricsForUsers(t *testing.T) {
	window := testWindow()
	completedAt := window.Start.Add(48 * time.Hour)

	def, err := quest.NewDefinition("q1", "Weekly", window,
		[]quest.Requirement{{Kind: quest.ReqActiveMinutes, Threshold: 60}},
		quest.Reward{Points: 300, BoostFactor: 0.2})
	require.NoError(t, err)

	sessions := &stubSessions{aggregates: map[session.UserID]session.Aggregate{
		"u1": {UserID: "u1", ActiveMinutes: 100, QualitySamples: []float64{3}},
		"u2": {UserID: "u2", ActiveMinutes: 50, QualitySamples: []float64{2}},
	}}
	quests := &stubQuests{
		definitions: map[quest.QuestID]*quest.Definition{"q1": def},
		completed:   map[string]int{"u1": 1},
		completions: map[string][]*quest.Completion{
			"u1": {{
				UserID: "u1", QuestID: "q1",
				IsCompleted: true, CompletedAt: &completedAt, PointsEarned: 300,
			}},
		},
	}
	names := &stubNames{names: map[string]string{"u1": "Aida", "u2": "Bekzat"}}
	src := NewMetricsSource(sessions, quests, &stubPasses{}, names,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	// "ghost" has no aggregate and is omitted from the ranking input.
	metrics, err := src.MetricsForUsers(context.Background(), []string{"u1", "u2", "ghost"}, leaderboard.WindowAllTime)
	require.NoError(t, err)
	require.Len(t, metrics, 2)

	byID := make(map[string]leaderboard.UserMetrics)
	for _, m := range metrics {
		byID[m.UserID] = m
	}

	u1 := byID["u1"]
	assert.Equal(t, "Aida", u1.DisplayName)
	assert.Equal(t, 1, u1.QuestsCompleted)
	assert.Equal(t, 300, u1.BonusPoints)
	assert.InDelta(t, 0.2, u1.BoostFactor, 0.001)

	u2 := byID["u2"]
	assert.Zero(t, u2.BonusPoints)
	assert.Zero(t, u2.BoostFactor)
}

func TestMetricsForUsersDegradesWithoutNames(t *testing.T) {
	sessions := &stubSessions{aggregates: map[session.UserID]session.Aggregate{
		"u1": {UserID: "u1", ActiveMinutes: 100},
	}}
	names := &stubNames{err: errors.New("directory down")}
	src := NewMetricsSource(sessions, &stubQuests{}, &stubPasses{}, names,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	metrics, err := src.MetricsForUsers(context.Background(), []string{"u1"}, leaderboard.WindowWeekly)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Empty(t, metrics[0].DisplayName)
}

func TestActiveUsers(t *testing.T) {
	sessions := &stubSessions{active: []session.UserID{"u1", "u2", "u3"}}
	src := NewMetricsSource(sessions, &stubQuests{}, &stubPasses{}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	users, err := src.ActiveUsers(context.Background(), leaderboard.WindowWeekly, time.Now().UTC(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)
}
