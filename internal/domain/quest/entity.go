package quest

import (
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// QuestID represents a unique identifier for a quest.
type QuestID string

// IsValid checks if the quest ID is valid.
func (q QuestID) IsValid() bool {
	return q != ""
}

// String returns the string representation of QuestID.
func (q QuestID) String() string {
	return string(q)
}

// Reward describes what completing a quest grants.
type Reward struct {
	Points      int      `json:"points"`
	Badges      []string `json:"badges"`
	GraceTokens int      `json:"grace_tokens"`
	BoostFactor float64  `json:"boost_factor"` // leaderboard score multiplier delta
}

// DefaultReward returns the standard weekly reward descriptor.
func DefaultReward() Reward {
	return Reward{
		Points:      500,
		Badges:      []string{"Active Learner"},
		GraceTokens: 2,
		BoostFactor: 0.1,
	}
}

// Definition is a quest: immutable once published for its week.
type Definition struct {
	ID          QuestID
	Name        string
	Description string

	// Window is the validity window [week_start, week_end).
	Window shared.TimeWindow

	// CohortID scopes the quest to one cohort; empty means all users.
	CohortID string

	Requirements []Requirement
	Reward       Reward

	CreatedAt time.Time
}

// NewDefinition creates a quest definition with validation.
func NewDefinition(id QuestID, name string, window shared.TimeWindow, reqs []Requirement, reward Reward) (*Definition, error) {
	if !id.IsValid() {
		return nil, shared.WrapError("quest", "New", shared.ErrInvalidID, "invalid quest ID", nil)
	}
	if name == "" {
		return nil, shared.WrapError("quest", "New", shared.ErrEmptyValue, "quest name is empty", nil)
	}
	if window.IsZero() || !window.End.After(window.Start) {
		return nil, shared.ErrQuestWindowInvalid
	}
	if len(reqs) == 0 {
		return nil, shared.WrapError("quest", "New", shared.ErrEmptyValue, "quest has no requirements", nil)
	}
	seen := make(map[RequirementKind]bool, len(reqs))
	for _, r := range reqs {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Kind] {
			return nil, shared.WrapError("quest", "New", shared.ErrInvalidInput, "duplicate requirement kind", nil)
		}
		seen[r.Kind] = true
	}

	return &Definition{
		ID:           id,
		Name:         name,
		Window:       window,
		Requirements: reqs,
		Reward:       reward,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// ActiveAt reports whether the quest's validity window contains t.
func (d *Definition) ActiveAt(t time.Time) bool {
	return d.Window.Contains(t)
}

// AppliesTo reports whether the quest applies to a user in the given cohort.
func (d *Definition) AppliesTo(cohortID string) bool {
	return d.CohortID == "" || d.CohortID == cohortID
}

// RequirementProgress is the scored state of one requirement.
type RequirementProgress struct {
	Current   float64 `json:"current"`
	Threshold float64 `json:"threshold"`
	Fraction  float64 `json:"fraction"`
}

// Completion tracks one user's progress on one quest. Created lazily on the
// first metric update touching the quest within its validity window; never
// deleted, archived after the window closes.
type Completion struct {
	ID      string
	UserID  string
	QuestID QuestID

	Progress map[RequirementKind]RequirementProgress

	// IsCompleted is monotonic: false -> true exactly once, never reverted.
	IsCompleted bool
	CompletedAt *time.Time

	PointsEarned int
	BadgesEarned []string

	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCompletion creates an empty completion record.
func NewCompletion(id, userID string, questID QuestID, now time.Time) *Completion {
	return &Completion{
		ID:        id,
		UserID:    userID,
		QuestID:   questID,
		Progress:  make(map[RequirementKind]RequirementProgress),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// OverallFraction is the mean progress fraction across requirements.
func (c *Completion) OverallFraction() float64 {
	if len(c.Progress) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range c.Progress {
		sum += p.Fraction
	}
	return sum / float64(len(c.Progress))
}

// Evaluate rescores the completion against the snapshot. Returns true when
// this call transitions the quest to completed; the transition happens at
// most once, so reward issuance stays exactly-once. Evaluating an already
// completed quest is a no-op.
func (c *Completion) Evaluate(def *Definition, snap MetricsSnapshot, now time.Time) (bool, error) {
	if c.IsCompleted {
		return false, nil
	}
	if c.QuestID != def.ID {
		return false, shared.WrapError("quest", "Evaluate", shared.ErrInvalidInput, "completion belongs to a different quest", nil)
	}

	allMet := true
	progress := make(map[RequirementKind]RequirementProgress, len(def.Requirements))
	for _, req := range def.Requirements {
		current, err := CurrentValue(req.Kind, snap)
		if err != nil {
			return false, err
		}
		frac := req.Fraction(current)
		progress[req.Kind] = RequirementProgress{
			Current:   current,
			Threshold: req.Threshold,
			Fraction:  frac,
		}
		if frac < 1 {
			allMet = false
		}
	}

	c.Progress = progress
	c.UpdatedAt = now

	if !allMet {
		return false, nil
	}

	completedAt := now
	c.IsCompleted = true
	c.CompletedAt = &completedAt
	c.PointsEarned = def.Reward.Points
	c.BadgesEarned = append([]string(nil), def.Reward.Badges...)
	return true, nil
}

// Archive marks the completion archived once the quest window has closed.
func (c *Completion) Archive(now time.Time) {
	if c.Archived {
		return
	}
	c.Archived = true
	c.UpdatedAt = now
}
