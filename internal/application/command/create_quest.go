package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sensai-hub/active-learning-core/internal/domain/quest"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
	"github.com/sensai-hub/active-learning-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE QUEST COMMAND
// Publishes a quest definition for a validity window. Definitions are
// immutable once published; a new week gets a new definition.
// ══════════════════════════════════════════════════════════════════════════════

// CreateQuestCommand contains the data to publish a quest.
type CreateQuestCommand struct {
	// ID is optional; a UUID is assigned when empty.
	ID string

	Name        string
	Description string

	// WindowStart/WindowEnd bound the validity window [start, end).
	// When both are zero the current week (Monday to Monday, UTC) is used.
	WindowStart time.Time
	WindowEnd   time.Time

	// CohortID scopes the quest to one cohort; empty means all users.
	CohortID string

	// Requirements defaults to the standard weekly set when empty.
	Requirements []quest.Requirement

	// Reward defaults to the standard weekly reward when zero.
	Reward quest.Reward
}

// CreateQuestResult contains the published definition.
type CreateQuestResult struct {
	Quest *quest.Definition
}

// CreateQuestHandler handles the CreateQuestCommand.
type CreateQuestHandler struct {
	repo      quest.Repository
	publisher shared.EventPublisher
}

// NewCreateQuestHandler creates a new CreateQuestHandler.
func NewCreateQuestHandler(repo quest.Repository, publisher shared.EventPublisher) *CreateQuestHandler {
	return &CreateQuestHandler{repo: repo, publisher: publisher}
}

// Handle publishes the quest definition.
func (h *CreateQuestHandler) Handle(ctx context.Context, cmd CreateQuestCommand) (*CreateQuestResult, error) {
	id := cmd.ID
	if id == "" {
		id = uuid.NewString()
	}

	window := shared.TimeWindow{Start: cmd.WindowStart, End: cmd.WindowEnd}
	if window.IsZero() {
		window = currentWeek(time.Now().UTC())
	}

	reqs := cmd.Requirements
	if len(reqs) == 0 {
		reqs = quest.DefaultRequirements()
	}

	reward := cmd.Reward
	if reward.Points == 0 && len(reward.Badges) == 0 && reward.GraceTokens == 0 && reward.BoostFactor == 0 {
		reward = quest.DefaultReward()
	}

	def, err := quest.NewDefinition(quest.QuestID(id), cmd.Name, window, reqs, reward)
	if err != nil {
		return nil, err
	}
	def.Description = cmd.Description
	def.CohortID = cmd.CohortID

	if err := h.repo.SaveDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("create_quest: save: %w", err)
	}

	_ = h.publisher.Publish(shared.NewQuestPublishedEvent(def.ID.String(), def.Name, def.Window.Start, def.Window.End))

	return &CreateQuestResult{Quest: def}, nil
}

// currentWeek resolves the Monday-to-Monday UTC week containing now.
func currentWeek(now time.Time) shared.TimeWindow {
	start := timeutil.StartOfWeek(now)
	return shared.TimeWindow{Start: start, End: start.AddDate(0, 0, 7)}
}
