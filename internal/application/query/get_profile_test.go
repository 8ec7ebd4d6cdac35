package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensai-hub/active-learning-core/internal/domain/quest"
	"github.com/sensai-hub/active-learning-core/internal/domain/session"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
	"github.com/sensai-hub/active-learning-core/internal/domain/token"
)

type stubQuestReads struct {
	quest.Repository

	definitions map[quest.QuestID]*quest.Definition
	completions []*quest.Completion

	active []*quest.Definition
}

func (s *stubQuestReads) FindDefinition(_ context.Context, id quest.QuestID) (*quest.Definition, error) {
	if def, ok := s.definitions[id]; ok {
		return def, nil
	}
	return nil, shared.ErrQuestNotFound
}

func (s *stubQuestReads) ListActiveDefinitions(context.Context, time.Time, string) ([]*quest.Definition, error) {
	return s.active, nil
}

func (s *stubQuestReads) FindCompletion(_ context.Context, userID string, questID quest.QuestID) (*quest.Completion, error) {
	for _, c := range s.completions {
		if c.UserID == userID && c.QuestID == questID {
			return c, nil
		}
	}
	return nil, shared.ErrQuestNotFound
}

func (s *stubQuestReads) ListCompletionsForUser(_ context.Context, userID string, _ int) ([]*quest.Completion, error) {
	var out []*quest.Completion
	for _, c := range s.completions {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

type stubTokenReads struct {
	token.Ledger

	active []*token.GraceToken
}

func (s *stubTokenReads) ListActive(context.Context, string, time.Time) ([]*token.GraceToken, error) {
	return s.active, nil
}

func TestGetProfile(t *testing.T) {
	completedAt := time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC)
	grantedAt := time.Date(2026, 3, 4, 18, 0, 1, 0, time.UTC)

	sessions := &stubSessionReads{
		agg: session.Aggregate{
			UserID:         "u1",
			ActiveMinutes:  300,
			TotalMinutes:   400,
			Sessions:       6,
			QualitySamples: []float64{3, 3, 3},
			ActiveDays: []time.Time{
				time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
				time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
				time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
			},
		},
	}
	quests := &stubQuestReads{
		definitions: map[quest.QuestID]*quest.Definition{
			"q1": {ID: "q1", Reward: quest.Reward{BoostFactor: 0.1}},
			"q2": {ID: "q2", Reward: quest.Reward{BoostFactor: 0.05}},
		},
		completions: []*quest.Completion{
			{
				UserID: "u1", QuestID: "q1",
				IsCompleted: true, CompletedAt: &completedAt,
				PointsEarned: 500, BadgesEarned: []string{"Active Learner"},
			},
			{
				UserID: "u1", QuestID: "q2",
				IsCompleted: true, CompletedAt: &completedAt,
				PointsEarned: 250, BadgesEarned: []string{"Active Learner", "Streak"},
			},
			{UserID: "u1", QuestID: "q3"}, // in progress, must not count
		},
	}

	tok, err := token.Grant("tok-1", "u1", token.TypeSessionExtension, "quest reward",
		grantedAt, grantedAt.Add(30*24*time.Hour))
	require.NoError(t, err)
	ledger := &stubTokenReads{active: []*token.GraceToken{tok}}

	h := NewGetProfileHandler(sessions, quests, ledger)

	res, err := h.Handle(context.Background(), GetProfileQuery{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, 300.0, res.ActiveMinutes)
	assert.Equal(t, 400.0, res.TotalMinutes)
	assert.Equal(t, 6, res.Sessions)
	assert.InDelta(t, 1.0, res.QualityAvg, 1e-9)
	assert.Equal(t, 3, res.ConsistencyDays)

	assert.Equal(t, 2, res.QuestsCompleted)
	assert.Equal(t, 750, res.TotalPoints)
	assert.Equal(t, []string{"Active Learner", "Streak"}, res.Badges)
	assert.InDelta(t, 0.15, res.BoostFactor, 1e-9)

	require.Len(t, res.ActiveTokens, 1)
	assert.Equal(t, "tok-1", res.ActiveTokens[0].TokenID)
	assert.Equal(t, string(token.TypeSessionExtension), res.ActiveTokens[0].Type)
	assert.Equal(t, grantedAt, res.ActiveTokens[0].GrantedAt)
}

func TestGetProfileIgnoresMissingDefinitions(t *testing.T) {
	completedAt := time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC)
	quests := &stubQuestReads{
		completions: []*quest.Completion{{
			UserID: "u1", QuestID: "gone",
			IsCompleted: true, CompletedAt: &completedAt, PointsEarned: 100,
		}},
	}
	h := NewGetProfileHandler(&stubSessionReads{}, quests, &stubTokenReads{})

	res, err := h.Handle(context.Background(), GetProfileQuery{UserID: "u1"})
	require.NoError(t, err)

	// Points still count even when the definition was removed; only the
	// boost lookup degrades.
	assert.Equal(t, 1, res.QuestsCompleted)
	assert.Equal(t, 100, res.TotalPoints)
	assert.Zero(t, res.BoostFactor)
}

func TestGetProfileRequiresUser(t *testing.T) {
	h := NewGetProfileHandler(&stubSessionReads{}, &stubQuestReads{}, &stubTokenReads{})

	_, err := h.Handle(context.Background(), GetProfileQuery{})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}
