package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensai-hub/active-learning-core/internal/domain/session"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// stubSessionReads implements only the read side of session.Repository.
type stubSessionReads struct {
	session.Repository

	agg    session.Aggregate
	recent []*session.LearningSession

	gotWindow shared.TimeWindow
	gotLimit  int
}

func (s *stubSessionReads) AggregateFor(_ context.Context, _ session.UserID, window shared.TimeWindow) (session.Aggregate, error) {
	s.gotWindow = window
	return s.agg, nil
}

func (s *stubSessionReads) ListRecent(_ context.Context, _ session.UserID, limit int) ([]*session.LearningSession, error) {
	s.gotLimit = limit
	if limit < len(s.recent) {
		return s.recent[:limit], nil
	}
	return s.recent, nil
}

func TestGetSessionMetrics(t *testing.T) {
	closedAt := time.Date(2026, 3, 3, 11, 0, 0, 0, time.UTC)
	repo := &stubSessionReads{
		agg: session.Aggregate{
			UserID:         "u1",
			ActiveMinutes:  90,
			TotalMinutes:   120,
			Sessions:       3,
			Interactions:   42,
			QualitySamples: []float64{3, 3, 1},
			ActiveDays: []time.Time{
				time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
				time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
			},
			Suspicious: 1,
		},
		recent: []*session.LearningSession{{
			ID:               "s1",
			UserID:           "u1",
			TaskID:           "t1",
			Status:           session.StatusClosed,
			StartedAt:        closedAt.Add(-time.Hour),
			ClosedAt:         &closedAt,
			ActiveMinutes:    45,
			TotalMinutes:     60,
			Interactions:     20,
			Quality:          session.QualityHigh,
			LearningVelocity: 1.5,
		}},
	}
	h := NewGetSessionMetricsHandler(repo)

	window := shared.TimeWindow{
		Start: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
	}
	res, err := h.Handle(context.Background(), GetSessionMetricsQuery{
		UserID:      "u1",
		WindowStart: window.Start,
		WindowEnd:   window.End,
	})
	require.NoError(t, err)

	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, window.Start, res.WindowStart)
	assert.Equal(t, 90.0, res.ActiveMinutes)
	assert.Equal(t, 120.0, res.TotalMinutes)
	assert.Equal(t, 3, res.Sessions)
	assert.Equal(t, 42, res.Interactions)
	assert.InDelta(t, 7.0/9.0, res.QualityAvg, 1e-9)
	assert.Equal(t, 2, res.ConsistencyDays)
	assert.Equal(t, 1, res.Suspicious)

	require.Len(t, res.Recent, 1)
	dto := res.Recent[0]
	assert.Equal(t, "s1", dto.SessionID)
	assert.Equal(t, "t1", dto.TaskID)
	assert.Equal(t, "closed", dto.Status)
	assert.Equal(t, &closedAt, dto.ClosedAt)
	assert.Equal(t, "high", dto.Quality)
	assert.Equal(t, 1.5, dto.LearningVelocity)
}

func TestGetSessionMetricsDefaultWindow(t *testing.T) {
	repo := &stubSessionReads{}
	h := NewGetSessionMetricsHandler(repo)

	_, err := h.Handle(context.Background(), GetSessionMetricsQuery{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 7*24*time.Hour, repo.gotWindow.End.Sub(repo.gotWindow.Start))
	assert.WithinDuration(t, time.Now().UTC(), repo.gotWindow.End, time.Minute)
}

func TestGetSessionMetricsClampsRecentLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default", 0, 10},
		{"explicit", 25, 25},
		{"capped", 200, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubSessionReads{}
			h := NewGetSessionMetricsHandler(repo)

			_, err := h.Handle(context.Background(), GetSessionMetricsQuery{UserID: "u1", RecentLimit: tt.limit})
			require.NoError(t, err)
			assert.Equal(t, tt.want, repo.gotLimit)
		})
	}
}

func TestGetSessionMetricsRequiresUser(t *testing.T) {
	h := NewGetSessionMetricsHandler(&stubSessionReads{})

	_, err := h.Handle(context.Background(), GetSessionMetricsQuery{})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}
