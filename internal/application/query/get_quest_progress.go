package query

import (
	"context"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/leaderboard"
	"github.com/sensai-hub/active-learning-core/internal/domain/quest"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET QUEST PROGRESS QUERY
// Returns a user's progress against every quest active at the query instant.
// Progress is computed fresh from the current snapshot; the stored completion
// record only contributes the completed flag and earned rewards, so this read
// never mutates state.
// ══════════════════════════════════════════════════════════════════════════════

// GetQuestProgressQuery contains the quest progress request parameters.
type GetQuestProgressQuery struct {
	UserID string

	// At defaults to now when zero.
	At time.Time
}

// Validate checks the query parameters.
func (q *GetQuestProgressQuery) Validate() error {
	if q.UserID == "" {
		return shared.WrapError("query", "GetQuestProgress", shared.ErrInvalidID, "user_id is required", nil)
	}
	return nil
}

// RequirementProgressDTO is the progress on one requirement.
type RequirementProgressDTO struct {
	Kind      quest.RequirementKind `json:"kind"`
	Current   float64               `json:"current"`
	Threshold float64               `json:"threshold"`
	Fraction  float64               `json:"fraction"`
}

// QuestProgressDTO is one quest's progress view.
type QuestProgressDTO struct {
	QuestID     string `json:"quest_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	Requirements    []RequirementProgressDTO `json:"requirements"`
	OverallFraction float64                  `json:"overall_fraction"`

	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PointsEarned int      `json:"points_earned,omitempty"`
	BadgesEarned []string `json:"badges_earned,omitempty"`
}

// GetQuestProgressResult contains the progress across active quests.
type GetQuestProgressResult struct {
	UserID      string             `json:"user_id"`
	Quests      []QuestProgressDTO `json:"quests"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// GetQuestProgressHandler handles quest progress read requests.
type GetQuestProgressHandler struct {
	quests    quest.Repository
	snapshots quest.SnapshotSource
	directory leaderboard.Directory
}

// NewGetQuestProgressHandler creates a new GetQuestProgressHandler.
func NewGetQuestProgressHandler(
	quests quest.Repository,
	snapshots quest.SnapshotSource,
	directory leaderboard.Directory,
) *GetQuestProgressHandler {
	return &GetQuestProgressHandler{
		quests:    quests,
		snapshots: snapshots,
		directory: directory,
	}
}

// Handle executes the quest progress query.
func (h *GetQuestProgressHandler) Handle(ctx context.Context, query GetQuestProgressQuery) (*GetQuestProgressResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	at := query.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	defs, err := h.quests.ListActiveDefinitions(ctx, at, "")
	if err != nil {
		return nil, err
	}

	cohorts := h.userCohorts(ctx, query.UserID)

	result := &GetQuestProgressResult{
		UserID:      query.UserID,
		Quests:      make([]QuestProgressDTO, 0, len(defs)),
		GeneratedAt: at,
	}

	for _, def := range defs {
		if !appliesToAny(def, cohorts) {
			continue
		}
		dto, err := h.progressFor(ctx, query.UserID, def, at)
		if err != nil {
			return nil, err
		}
		result.Quests = append(result.Quests, dto)
	}

	return result, nil
}

func (h *GetQuestProgressHandler) progressFor(ctx context.Context, userID string, def *quest.Definition, at time.Time) (QuestProgressDTO, error) {
	dto := QuestProgressDTO{
		QuestID:     def.ID.String(),
		Name:        def.Name,
		Description: def.Description,
		WindowStart: def.Window.Start,
		WindowEnd:   def.Window.End,
	}

	completion, err := h.quests.FindCompletion(ctx, userID, def.ID)
	if err != nil && !shared.IsNotFound(err) {
		return QuestProgressDTO{}, err
	}
	if completion != nil && completion.IsCompleted {
		dto.IsCompleted = true
		dto.CompletedAt = completion.CompletedAt
		dto.PointsEarned = completion.PointsEarned
		dto.BadgesEarned = completion.BadgesEarned
	}

	snap, err := h.snapshots.SnapshotFor(ctx, userID, def.Window, quest.SnapshotAdjustment{})
	if err != nil {
		return QuestProgressDTO{}, err
	}

	sum := 0.0
	for _, req := range def.Requirements {
		current, err := quest.CurrentValue(req.Kind, snap)
		if err != nil {
			return QuestProgressDTO{}, err
		}
		frac := req.Fraction(current)
		sum += frac
		dto.Requirements = append(dto.Requirements, RequirementProgressDTO{
			Kind:      req.Kind,
			Current:   current,
			Threshold: req.Threshold,
			Fraction:  frac,
		})
	}
	if len(def.Requirements) > 0 {
		dto.OverallFraction = sum / float64(len(def.Requirements))
	}

	return dto, nil
}

func (h *GetQuestProgressHandler) userCohorts(ctx context.Context, userID string) []string {
	if h.directory == nil {
		return nil
	}
	keys, err := h.directory.ScopesOf(ctx, userID)
	if err != nil {
		return nil
	}
	var cohorts []string
	for _, k := range keys {
		if k.Scope == leaderboard.ScopeCohort {
			cohorts = append(cohorts, k.ScopeID)
		}
	}
	return cohorts
}

func appliesToAny(def *quest.Definition, cohorts []string) bool {
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
