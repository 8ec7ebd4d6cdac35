package query

import (
	"context"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/session"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SESSION METRICS QUERY
// Returns a user's rolled-up session metrics over a window plus the most
// recent finalized sessions.
// ══════════════════════════════════════════════════════════════════════════════

// GetSessionMetricsQuery contains the session metrics request parameters.
type GetSessionMetricsQuery struct {
	UserID session.UserID

	// WindowStart/WindowEnd bound the rollup; a zero window means the last
	// 7 days ending now.
	WindowStart time.Time
	WindowEnd   time.Time

	// RecentLimit is how many recent sessions to include (default 10).
	RecentLimit int
}

// Validate checks the query parameters.
func (q *GetSessionMetricsQuery) Validate() error {
	if !q.UserID.IsValid() {
		return shared.WrapError("query", "GetSessionMetrics", shared.ErrInvalidID, "user_id is required", nil)
	}
	if q.RecentLimit <= 0 {
		q.RecentLimit = 10
	}
	if q.RecentLimit > 50 {
		q.RecentLimit = 50
	}
	return nil
}

// SessionDTO is one finalized session view.
type SessionDTO struct {
	SessionID string     `json:"session_id"`
	TaskID    string     `json:"task_id"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	ActiveMinutes float64 `json:"active_minutes"`
	TotalMinutes  float64 `json:"total_minutes"`
	Interactions  int     `json:"interactions"`

	Quality          string  `json:"quality"`
	LearningVelocity float64 `json:"learning_velocity"`
	Suspicious       bool    `json:"suspicious"`
}

// GetSessionMetricsResult contains the rollup and recent sessions.
type GetSessionMetricsResult struct {
	UserID string `json:"user_id"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	ActiveMinutes   float64 `json:"active_minutes"`
	TotalMinutes    float64 `json:"total_minutes"`
	Sessions        int     `json:"sessions"`
	Interactions    int     `json:"interactions"`
	QualityAvg      float64 `json:"quality_avg"` // normalized to [0,1]
	ConsistencyDays int     `json:"consistency_days"`
	Suspicious      int     `json:"suspicious"`

	Recent []SessionDTO `json:"recent"`
}

// GetSessionMetricsHandler handles session metrics read requests.
type GetSessionMetricsHandler struct {
	sessions session.Repository
}

// NewGetSessionMetricsHandler creates a new GetSessionMetricsHandler.
func NewGetSessionMetricsHandler(sessions session.Repository) *GetSessionMetricsHandler {
	return &GetSessionMetricsHandler{sessions: sessions}
}

// Handle executes the session metrics query.
func (h *GetSessionMetricsHandler) Handle(ctx context.Context, query GetSessionMetricsQuery) (*GetSessionMetricsResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	window := shared.TimeWindow{Start: query.WindowStart, End: query.WindowEnd}
	if window.IsZero() {
		now := time.Now().UTC()
		window = shared.TimeWindow{Start: now.AddDate(0, 0, -7), End: now}
	}

	agg, err := h.sessions.AggregateFor(ctx, query.UserID, window)
	if err != nil {
		return nil, err
	}

	recent, err := h.sessions.ListRecent(ctx, query.UserID, query.RecentLimit)
	if err != nil {
		return nil, err
	}

	result := &GetSessionMetricsResult{
		UserID:          query.UserID.String(),
		WindowStart:     window.Start,
		WindowEnd:       window.End,
		ActiveMinutes:   agg.ActiveMinutes,
		TotalMinutes:    agg.TotalMinutes,
		Sessions:        agg.Sessions,
		Interactions:    agg.Interactions,
		QualityAvg:      agg.QualityAverage(false),
		ConsistencyDays: agg.ConsistencyDays(false),
		Suspicious:      agg.Suspicious,
		Recent:          make([]SessionDTO, 0, len(recent)),
	}

	for _, s := range recent {
		result.Recent = append(result.Recent, SessionDTO{
			SessionID:        s.ID.String(),
			TaskID:           s.TaskID.String(),
			Status:           string(s.Status),
			StartedAt:        s.StartedAt,
			ClosedAt:         s.ClosedAt,
			ActiveMinutes:    s.ActiveMinutes,
			TotalMinutes:     s.TotalMinutes,
			Interactions:     s.Interactions,
			Quality:          string(s.Quality),
			LearningVelocity: s.LearningVelocity,
			Suspicious:       s.Suspicious,
		})
	}

	return result, nil
}
