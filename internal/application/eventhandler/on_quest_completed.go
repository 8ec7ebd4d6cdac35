package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/application/command"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
	"github.com/sensai-hub/active-learning-core/internal/domain/token"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON QUEST COMPLETED
// Issues the token portion of a quest reward. Points, badges, and the boost
// factor live on the completion record and are derived at read time; grace
// tokens are the only reward that mutates another aggregate. Exactly-once
// holds because the completed transition fires at most once per (user, quest).
// ══════════════════════════════════════════════════════════════════════════════

// QuestCompletedHandler reacts to quest.completed events.
type QuestCompletedHandler struct {
	grants *command.GrantTokenHandler
	logger *slog.Logger

	opTimeout time.Duration
}

// NewQuestCompletedHandler creates a new QuestCompletedHandler.
func NewQuestCompletedHandler(grants *command.GrantTokenHandler, logger *slog.Logger) *QuestCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestCompletedHandler{
		grants:    grants,
		logger:    logger,
		opTimeout: 10 * time.Second,
	}
}

// Handle implements shared.EventHandler.
func (h *QuestCompletedHandler) Handle(event shared.Event) error {
	completed, ok := event.(shared.QuestCompletedEvent)
	if !ok {
		return fmt.Errorf("on_quest_completed: unexpected event type %s", event.EventType())
	}
	if completed.GraceTokens <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
	defer cancel()

	result, err := h.grants.Handle(ctx, command.GrantTokenCommand{
		UserID:  completed.UserID,
		Type:    token.TypeStreakSave,
		Reason:  fmt.Sprintf("quest %s completed", completed.QuestID),
		Count:   completed.GraceTokens,
		QuestID: completed.QuestID,
	})
	if shared.IsLimitExceeded(err) {
		// Reward tokens past the active cap are dropped, not queued. The
		// completion itself stands.
		h.logger.Info("reward grant capped",
			"user_id", completed.UserID,
			"quest_id", completed.QuestID,
			"granted", 0,
			"dropped", completed.GraceTokens,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("on_quest_completed: grant tokens: %w", err)
	}

	if result.Dropped > 0 {
		h.logger.Info("reward grant capped",
			"user_id", completed.UserID,
			"quest_id", completed.QuestID,
			"granted", len(result.Granted),
			"dropped", result.Dropped,
		)
	}

	return nil
}
