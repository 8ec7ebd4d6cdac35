package session

import (
	"context"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// Aggregate is the per-user rollup of finalized sessions within a window.
// It feeds quest evaluation and leaderboard scoring.
type Aggregate struct {
	UserID UserID

	// Totals over finalized sessions in the window.
	ActiveMinutes float64
	TotalMinutes  float64
	Sessions      int
	Interactions  int

	// QualitySamples holds one score per finalized session (high=3, medium=2,
	// low=1). Kept as samples so a quality_adjustment grace token can exclude
	// the single worst one.
	QualitySamples []float64

	// ActiveDays are the distinct midnight-UTC days with finalized activity.
	ActiveDays []time.Time

	// Suspicious counts sessions flagged by the pattern guard.
	Suspicious int
}

// QualityAverage returns the mean quality score normalized to [0,1]
// (score/3), optionally excluding the single worst sample.
func (a Aggregate) QualityAverage(dropWorst bool) float64 {
	samples := a.QualitySamples
	if len(samples) == 0 {
		return 0
	}
	if dropWorst && len(samples) > 1 {
		worst := 0
		for i, s := range samples {
			if s < samples[worst] {
				worst = i
			}
		}
		trimmed := make([]float64, 0, len(samples)-1)
		trimmed = append(trimmed, samples[:worst]...)
		trimmed = append(trimmed, samples[worst+1:]...)
		samples = trimmed
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples)) / 3.0
}

// ConsistencyDays returns the count of distinct active days, optionally
// filling exactly one missed day with a streak_save grace token.
func (a Aggregate) ConsistencyDays(fillOne bool) int {
	days := len(a.ActiveDays)
	if fillOne && days > 0 {
		days++
	}
	return days
}

// Repository defines the interface for session persistence.
// Implemented by the infrastructure layer; the domain has no knowledge of the
// actual storage mechanism.
type Repository interface {
	// Save persists a session (create or update).
	Save(ctx context.Context, s *LearningSession) error

	// FindByID returns a session by ID, or shared.ErrSessionNotFound.
	FindByID(ctx context.Context, id SessionID) (*LearningSession, error)

	// FindOpen returns the open session for (user, task), or
	// shared.ErrSessionNotFound when none exists.
	FindOpen(ctx context.Context, userID UserID, taskID TaskID) (*LearningSession, error)

	// ListIdleOpen returns open sessions with no activity since the cutoff.
	// Consumed by the idle-timeout sweep.
	ListIdleOpen(ctx context.Context, cutoff time.Time, limit int) ([]*LearningSession, error)

	// ListRecent returns a user's most recently finalized sessions.
	ListRecent(ctx context.Context, userID UserID, limit int) ([]*LearningSession, error)

	// FindRecentClosed returns the most recently finalized session for
	// (user, task), or shared.ErrSessionNotFound when none exists. Backs
	// idempotent close: a repeated close returns the prior outcome.
	FindRecentClosed(ctx context.Context, userID UserID, taskID TaskID) (*LearningSession, error)

	// AggregateFor rolls up a user's finalized sessions within the window.
	AggregateFor(ctx context.Context, userID UserID, window shared.TimeWindow) (Aggregate, error)

	// AggregateForUsers rolls up finalized sessions for multiple users at
	// once. Used by leaderboard recomputation over scope members.
	AggregateForUsers(ctx context.Context, userIDs []UserID, window shared.TimeWindow) (map[UserID]Aggregate, error)

	// ListActiveUsers returns the users with finalized activity in the
	// window. The global leaderboard ranks over this set, since the global
	// scope has no directory membership to enumerate.
	ListActiveUsers(ctx context.Context, window shared.TimeWindow, limit int) ([]UserID, error)
}
