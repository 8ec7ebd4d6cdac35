package query

import (
	"context"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/quest"
	"github.com/sensai-hub/active-learning-core/internal/domain/session"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
	"github.com/sensai-hub/active-learning-core/internal/domain/token"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROFILE QUERY
// Assembles the gamification profile read model: lifetime activity totals,
// quest rewards earned, and the current grace token balance. Everything here
// is derived; the profile is never stored as its own aggregate.
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileQuery contains the profile request parameters.
type GetProfileQuery struct {
	UserID string
}

// Validate checks the query parameters.
func (q *GetProfileQuery) Validate() error {
	if q.UserID == "" {
		return shared.WrapError("query", "GetProfile", shared.ErrInvalidID, "user_id is required", nil)
	}
	return nil
}

// TokenDTO is one active grace token view.
type TokenDTO struct {
	TokenID   string    `json:"token_id"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GetProfileResult is the assembled gamification profile.
type GetProfileResult struct {
	UserID string `json:"user_id"`

	// Lifetime session totals.
	ActiveMinutes   float64 `json:"active_minutes"`
	TotalMinutes    float64 `json:"total_minutes"`
	Sessions        int     `json:"sessions"`
	QualityAvg      float64 `json:"quality_avg"`
	ConsistencyDays int     `json:"consistency_days"`

	// Quest rewards.
	QuestsCompleted int      `json:"quests_completed"`
	TotalPoints     int      `json:"total_points"`
	Badges          []string `json:"badges"`
	BoostFactor     float64  `json:"boost_factor"`

	// Grace token balance.
	ActiveTokens []TokenDTO `json:"active_tokens"`

	GeneratedAt time.Time `json:"generated_at"`
}

// GetProfileHandler handles profile read requests.
type GetProfileHandler struct {
	sessions session.Repository
	quests   quest.Repository
	ledger   token.Ledger
}

// NewGetProfileHandler creates a new GetProfileHandler.
func NewGetProfileHandler(sessions session.Repository, quests quest.Repository, ledger token.Ledger) *GetProfileHandler {
	return &GetProfileHandler{
		sessions: sessions,
		quests:   quests,
		ledger:   ledger,
	}
}

// Handle executes the profile query.
func (h *GetProfileHandler) Handle(ctx context.Context, query GetProfileQuery) (*GetProfileResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	// Zero Start means unbounded, matching the all-time leaderboard window.
	allTime := shared.TimeWindow{Start: time.Time{}, End: now}

	agg, err := h.sessions.AggregateFor(ctx, session.UserID(query.UserID), allTime)
	if err != nil {
		return nil, err
	}

	completions, err := h.quests.ListCompletionsForUser(ctx, query.UserID, 0)
	if err != nil {
		return nil, err
	}

	result := &GetProfileResult{
		UserID:          query.UserID,
		ActiveMinutes:   agg.ActiveMinutes,
		TotalMinutes:    agg.TotalMinutes,
		Sessions:        agg.Sessions,
		QualityAvg:      agg.QualityAverage(false),
		ConsistencyDays: agg.ConsistencyDays(false),
		Badges:          make([]string, 0),
		GeneratedAt:     now,
	}

	seenBadges := make(map[string]bool)
	for _, c := range completions {
		if !c.IsCompleted {
			continue
		}
		result.QuestsCompleted++
		result.TotalPoints += c.PointsEarned
		for _, b := range c.BadgesEarned {
			if !seenBadges[b] {
				seenBadges[b] = true
				result.Badges = append(result.Badges, b)
			}
		}
		if def, derr := h.quests.FindDefinition(ctx, c.QuestID); derr == nil {
			result.BoostFactor += def.Reward.BoostFactor
		}
	}

	active, err := h.ledger.ListActive(ctx, query.UserID, now)
	if err != nil {
		return nil, err
	}
	for _, t := range active {
		result.ActiveTokens = append(result.ActiveTokens, TokenDTO{
			TokenID:   t.ID.String(),
			Type:      string(t.Type),
			Reason:    t.Reason,
			GrantedAt: t.GrantedAt,
			ExpiresAt: t.ExpiresAt,
		})
	}

	return result, nil
}
