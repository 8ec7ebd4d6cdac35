package command

import (
	"context"
	"fmt"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/quest"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
	"github.com/sensai-hub/active-learning-core/internal/domain/token"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY GRACE COMMAND
// Consumes a grace token and applies its capability to a quest evaluation:
// extra active minutes, a filled consistency day, a dropped worst quality
// sample, or a plain re-evaluation for quest_retry. Consumption is a
// compare-and-set in the ledger, so concurrent uses of one token resolve to
// exactly one success.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyGraceCommand contains the data to apply a grace token.
type ApplyGraceCommand struct {
	UserID  string
	TokenID token.TokenID

	// QuestID is the quest to re-evaluate with the capability applied.
	QuestID quest.QuestID

	// Reason records why the token is being used.
	Reason string

	// Now defaults to time.Now when zero.
	Now time.Time
}

// Validate validates the command.
func (c ApplyGraceCommand) Validate() error {
	if c.UserID == "" {
		return shared.WrapError("token", "Apply", shared.ErrInvalidID, "user_id is required", nil)
	}
	if !c.TokenID.IsValid() {
		return shared.WrapError("token", "Apply", shared.ErrInvalidID, "token_id is required", nil)
	}
	if !c.QuestID.IsValid() {
		return shared.WrapError("token", "Apply", shared.ErrInvalidID, "quest_id is required", nil)
	}
	return nil
}

// ApplyGraceResult contains the outcome of applying a token.
type ApplyGraceResult struct {
	Capability token.Capability

	// Completed is true when the adjusted evaluation completed the quest.
	Completed bool

	Progress *quest.Completion
}

// ApplyGraceHandler handles the ApplyGraceCommand.
type ApplyGraceHandler struct {
	ledger    token.Ledger
	quests    quest.Repository
	snapshots quest.SnapshotSource
	publisher shared.EventPublisher
}

// NewApplyGraceHandler creates a new ApplyGraceHandler.
func NewApplyGraceHandler(
	ledger token.Ledger,
	quests quest.Repository,
	snapshots quest.SnapshotSource,
	publisher shared.EventPublisher,
) *ApplyGraceHandler {
	return &ApplyGraceHandler{
		ledger:    ledger,
		quests:    quests,
		snapshots: snapshots,
		publisher: publisher,
	}
}

// Handle consumes the token and re-evaluates the quest with the capability
// applied. The token is burned once consumption succeeds, even if the
// adjusted evaluation still falls short of the thresholds.
func (h *ApplyGraceHandler) Handle(ctx context.Context, cmd ApplyGraceCommand) (*ApplyGraceResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := cmd.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	def, err := h.quests.FindDefinition(ctx, cmd.QuestID)
	if err != nil {
		return nil, err
	}

	// Ownership check before the CAS so a wrong token ID does not burn.
	t, err := h.ledger.FindByID(ctx, cmd.TokenID)
	if err != nil {
		return nil, err
	}
	if t.UserID != cmd.UserID {
		return nil, shared.WrapError("token", "Apply", shared.ErrInvalidInput, "token belongs to another user", nil)
	}

	consumed, err := h.ledger.ConsumeCAS(ctx, cmd.TokenID, now, cmd.Reason)
	if err != nil {
		return nil, err
	}
	capability := consumed.Capability()

	_ = h.publisher.Publish(shared.NewTokenConsumedEvent(cmd.UserID, cmd.TokenID.String(), string(consumed.Type), cmd.Reason))

	adj := quest.SnapshotAdjustment{
		ExtraActiveMinutes: float64(capability.ExtensionMinutes),
		DropWorstQuality:   capability.DropWorstQuality,
		FillMissedDay:      capability.FillDays > 0,
	}

	snap, err := h.snapshots.SnapshotFor(ctx, cmd.UserID, def.Window, adj)
	if err != nil {
		return nil, fmt.Errorf("apply_grace: snapshot: %w", err)
	}

	completion, err := h.quests.FindCompletion(ctx, cmd.UserID, def.ID)
	if shared.IsNotFound(err) {
		completion = quest.NewCompletion(newCompletionID(cmd.UserID, def.ID), cmd.UserID, def.ID, now)
	} else if err != nil {
		return nil, err
	}

	transitioned, err := completion.Evaluate(def, snap, now)
	if err != nil {
		return nil, err
	}

	if err := h.quests.SaveCompletion(ctx, completion); err != nil {
		return nil, fmt.Errorf("apply_grace: save completion: %w", err)
	}

	if transitioned {
		_ = h.publisher.Publish(shared.NewQuestCompletedEvent(
			cmd.UserID, def.ID.String(),
			def.Reward.Points, def.Reward.Badges, def.Reward.GraceTokens, def.Reward.BoostFactor,
		))
	}

	return &ApplyGraceResult{
		Capability: capability,
		Completed:  transitioned,
		Progress:   completion,
	}, nil
}

func newCompletionID(userID string, questID quest.QuestID) string {
	return fmt.Sprintf("%s:%s", userID, questID)
}
