package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensai-hub/active-learning-core/internal/domain/quest"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

func TestCreateQuest(t *testing.T) {
	repo := newFakeQuestRepo()
	pub := &capturePublisher{}
	handler := NewCreateQuestHandler(repo, pub)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	res, err := handler.Handle(ctx, CreateQuestCommand{
		ID:          "q1",
		Name:        "Deep Work Week",
		Description: "Clock two hours of focused work",
		WindowStart: start,
		WindowEnd:   start.AddDate(0, 0, 7),
		Requirements: []quest.Requirement{
			{Kind: quest.ReqActiveMinutes, Threshold: 120},
		},
		Reward: quest.Reward{Points: 300},
	})
	require.NoError(t, err)
	assert.Equal(t, quest.QuestID("q1"), res.Quest.ID)
	assert.Equal(t, 300, res.Quest.Reward.Points)
	assert.Len(t, pub.byType(shared.EventQuestPublished), 1)

	stored, err := repo.FindDefinition(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "Deep Work Week", stored.Name)
}

func TestCreateQuestDefaults(t *testing.T) {
	repo := newFakeQuestRepo()
	handler := NewCreateQuestHandler(repo, &capturePublisher{})

	res, err := handler.Handle(context.Background(), CreateQuestCommand{Name: "Weekly"})
	require.NoError(t, err)

	// An omitted ID, window, requirement set, and reward all fall back to
	// the standard weekly values.
	assert.NotEmpty(t, res.Quest.ID)
	assert.Equal(t, quest.DefaultRequirements(), res.Quest.Requirements)
	assert.Equal(t, quest.DefaultReward(), res.Quest.Reward)
	assert.Equal(t, time.Monday, res.Quest.Window.Start.Weekday())
	assert.Equal(t, 7*24*time.Hour, res.Quest.Window.End.Sub(res.Quest.Window.Start))
}

func TestCreateQuestRejectsDuplicateID(t *testing.T) {
	repo := newFakeQuestRepo()
	handler := NewCreateQuestHandler(repo, &capturePublisher{})
	ctx := context.Background()

	_, err := handler.Handle(ctx, CreateQuestCommand{ID: "q1", Name: "First"})
	require.NoError(t, err)

	_, err = handler.Handle(ctx, CreateQuestCommand{ID: "q1", Name: "Second"})
	assert.True(t, shared.IsConflict(err))
}

func TestCreateQuestRejectsBadRequirement(t *testing.T) {
	handler := NewCreateQuestHandler(newFakeQuestRepo(), &capturePublisher{})

	_, err := handler.Handle(context.Background(), CreateQuestCommand{
		Name: "Broken",
		Requirements: []quest.Requirement{
			{Kind: "mystery_metric", Threshold: 10},
		},
	})
	assert.ErrorIs(t, err, shared.ErrRequirementUnknown)
}
