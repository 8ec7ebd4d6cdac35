// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/leaderboard"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Returns a page of the cached standings for a (scope, window) key,
// recomputing through the aggregator on miss or staleness.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery contains the leaderboard request parameters.
type GetLeaderboardQuery struct {
	Scope   leaderboard.ScopeType
	ScopeID string
	Window  leaderboard.Window

	// Limit is the page size (default 20, max 100).
	Limit int

	// Offset is the pagination offset.
	Offset int
}

// Validate checks the query parameters and applies paging defaults.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	return nil
}

// GetLeaderboardResult contains one page of standings plus row metadata.
type GetLeaderboardResult struct {
	Entries []leaderboard.Entry `json:"entries"`

	TotalParticipants int `json:"total_participants"`

	// Version identifies the cached computation the page came from.
	Version    uint64    `json:"version"`
	ComputedAt time.Time `json:"computed_at"`

	// Stale is true when the aggregator served the last valid row because a
	// recompute was already in flight.
	Stale bool `json:"stale"`

	HasMore  bool `json:"has_more"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
}

// GetLeaderboardHandler handles leaderboard read requests.
type GetLeaderboardHandler struct {
	aggregator leaderboard.Aggregator
}

// NewGetLeaderboardHandler creates a new GetLeaderboardHandler.
func NewGetLeaderboardHandler(aggregator leaderboard.Aggregator) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{aggregator: aggregator}
}

// Handle executes the leaderboard query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrValidation, err.Error(), err)
	}

	key, err := leaderboard.NewKey(query.Scope, query.ScopeID, query.Window)
	if err != nil {
		return nil, err
	}

	row, err := h.aggregator.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	page := paginate(row.Entries, query.Offset, query.Limit)

	pageNum := 1
	if query.Limit > 0 {
		pageNum = (query.Offset / query.Limit) + 1
	}

	return &GetLeaderboardResult{
		Entries:           page,
		TotalParticipants: row.TotalParticipants,
		Version:           row.Version,
		ComputedAt:        row.ComputedAt,
		Stale:             row.Stale,
		HasMore:           query.Offset+len(page) < len(row.Entries),
		Page:              pageNum,
		PageSize:          query.Limit,
	}, nil
}

func paginate(entries []leaderboard.Entry, offset, limit int) []leaderboard.Entry {
	if offset >= len(entries) {
		return []leaderboard.Entry{}
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end]
}
