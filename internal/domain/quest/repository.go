package quest

import (
	"context"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// Repository defines the interface for quest persistence.
type Repository interface {
	// SaveDefinition persists a quest definition. Definitions are immutable
	// once published; saving an existing ID fails with shared.ErrAlreadyExists.
	SaveDefinition(ctx context.Context, def *Definition) error

	// FindDefinition returns a definition by ID, or shared.ErrQuestNotFound.
	FindDefinition(ctx context.Context, id QuestID) (*Definition, error)

	// ListActiveDefinitions returns definitions whose validity window
	// contains the given instant, optionally filtered by cohort.
	ListActiveDefinitions(ctx context.Context, at time.Time, cohortID string) ([]*Definition, error)

	// ListExpiredUnarchived returns definitions whose window closed before
	// the cutoff and that still have unarchived completions.
	ListExpiredUnarchived(ctx context.Context, cutoff time.Time) ([]*Definition, error)

	// SaveCompletion persists a completion (create or update).
	SaveCompletion(ctx context.Context, c *Completion) error

	// FindCompletion returns the completion for (user, quest), or
	// shared.ErrCompletionNotFound.
	FindCompletion(ctx context.Context, userID string, questID QuestID) (*Completion, error)

	// ListCompletionsForUser returns a user's completions, newest first.
	ListCompletionsForUser(ctx context.Context, userID string, limit int) ([]*Completion, error)

	// CountCompleted returns how many quests a user completed within the
	// window. Feeds the leaderboard tiebreak.
	CountCompleted(ctx context.Context, userID string, window shared.TimeWindow) (int, error)

	// ArchiveForQuest marks all completions of a quest archived.
	// Returns the number archived.
	ArchiveForQuest(ctx context.Context, questID QuestID, now time.Time) (int, error)
}

// CompletionLookup resolves quest requirements not derivable from sessions
// alone. Implemented by the external completion/review service client.
type CompletionLookup interface {
	// PassCountsOf returns defense-point pass and peer review counts for a
	// user within the window.
	PassCountsOf(ctx context.Context, userID string, window shared.TimeWindow) (dpPasses, peerReviews int, err error)
}

// SnapshotAdjustment carries grace-token capabilities into snapshot assembly.
// The zero value means no adjustment.
type SnapshotAdjustment struct {
	// ExtraActiveMinutes adds credit from a session_extension token.
	ExtraActiveMinutes float64

	// DropWorstQuality excludes the worst session-quality sample.
	DropWorstQuality bool

	// FillMissedDay counts one missed consistency day as active.
	FillMissedDay bool
}

// SnapshotSource assembles the metric snapshot a quest is evaluated against.
// Implemented by the infrastructure layer composing session aggregates with
// the completion service.
type SnapshotSource interface {
	SnapshotFor(ctx context.Context, userID string, window shared.TimeWindow, adj SnapshotAdjustment) (MetricsSnapshot, error)
}
