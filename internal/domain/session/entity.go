package session

import (
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// Status represents the lifecycle state of a learning session.
// A session transitions open -> closed (or expired) exactly once and is
// never reopened.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusExpired Status = "expired" // auto-closed by the idle-timeout sweep
)

// LearningSession is the mutable aggregate owned exclusively by the session
// tracker for its lifetime. Invariant: ActiveMinutes <= TotalMinutes, and at
// most one open session exists per (user, task) pair.
type LearningSession struct {
	ID     SessionID
	UserID UserID
	TaskID TaskID
	Status Status

	StartedAt      time.Time
	LastActivityAt time.Time
	ClosedAt       *time.Time

	// Accumulators, in wall-clock minutes.
	TotalMinutes  float64
	ActiveMinutes float64

	Interactions int

	// QualityWeightSum is the running sum of (interaction weight x credited
	// active minutes). The average over ActiveMinutes yields the final class.
	QualityWeightSum float64

	// ProgressUnits is the accumulated task-progress delta, reported by the
	// grading collaborator via submissions. Feeds learning velocity at close.
	ProgressUnits float64

	// Suspicious is set by the pattern guard; once flagged the session accrues
	// active minutes at half rate and is surfaced for review.
	Suspicious bool

	// TrailingGaps holds the most recent inter-event gaps (bounded by the
	// guard's cadence window) so guard decisions survive persistence.
	TrailingGaps []time.Duration

	// Finalized fields, set once on close.
	Quality          QualityClass
	LearningVelocity float64
}

// Open creates a new open session. The tracker enforces the one-open-session
// per (user, task) invariant before calling this.
func Open(id SessionID, userID UserID, taskID TaskID, at time.Time) (*LearningSession, error) {
	if !id.IsValid() {
		return nil, shared.WrapError("session", "Open", shared.ErrInvalidID, "invalid session ID", nil)
	}
	if !userID.IsValid() {
		return nil, shared.WrapError("session", "Open", shared.ErrInvalidID, "invalid user ID", nil)
	}
	if !taskID.IsValid() {
		return nil, shared.WrapError("session", "Open", shared.ErrInvalidID, "invalid task ID", nil)
	}
	if at.IsZero() {
		return nil, shared.WrapError("session", "Open", shared.ErrInvalidInput, "open timestamp is zero", nil)
	}

	return &LearningSession{
		ID:             id,
		UserID:         userID,
		TaskID:         taskID,
		Status:         StatusOpen,
		StartedAt:      at,
		LastActivityAt: at,
	}, nil
}

// IsOpen reports whether the session still accepts events.
func (s *LearningSession) IsOpen() bool {
	return s.Status == StatusOpen
}

// RecordResult reports what a recorded event contributed.
type RecordResult struct {
	Weight          Weight
	Idle            bool
	CreditedActive  float64 // minutes credited to the active accumulator
	NewlySuspicious bool    // true on the event that tripped the cadence guard
}

// Record folds one interaction event into the session accumulators.
// The gap since the previous activity is credited to total minutes (capped),
// and to active minutes only when the guard does not rule it idle. The event's
// weight class scales the quality sum, never the elapsed time itself.
func (s *LearningSession) Record(ev InteractionEvent, guard *Guard) (RecordResult, error) {
	if !s.IsOpen() {
		return RecordResult{}, shared.ErrSessionClosed
	}
	if err := ev.Validate(); err != nil {
		return RecordResult{}, err
	}
	if ev.UserID != s.UserID || ev.TaskID != s.TaskID {
		return RecordResult{}, shared.WrapError("session", "Record", shared.ErrInvalidInput, "event does not belong to this session", nil)
	}
	if ev.At.Before(s.LastActivityAt) {
		return RecordResult{}, shared.ErrEventOutOfOrder
	}

	gap := ev.At.Sub(s.LastActivityAt)
	verdict := guard.Inspect(gap, s.TrailingGaps)

	s.TotalMinutes += verdict.CreditedTotal.Minutes()

	res := RecordResult{
		Weight: Classify(ev.Kind, ev.ContentLength),
		Idle:   verdict.Idle,
	}

	if !verdict.Idle {
		credit := gap.Minutes()
		if s.Suspicious {
			// Halved, not zeroed: avoids total loss on a false positive.
			credit /= 2
		}
		s.ActiveMinutes += credit
		s.QualityWeightSum += res.Weight.Value() * credit
		res.CreditedActive = credit
	}

	if verdict.Suspicious && !s.Suspicious {
		s.Suspicious = true
		res.NewlySuspicious = true
	}

	s.TrailingGaps = append(s.TrailingGaps, gap)
	if window := guard.Config().CadenceWindow; len(s.TrailingGaps) > window {
		s.TrailingGaps = s.TrailingGaps[len(s.TrailingGaps)-window:]
	}

	if ev.Kind == KindCodeSubmission {
		s.ProgressUnits++
	}
	s.Interactions++
	s.LastActivityAt = ev.At

	return res, nil
}

// QualityAverage returns the running average interaction weight over active
// minutes, resolving division by zero to the defined floor of 0.
func (s *LearningSession) QualityAverage() float64 {
	if s.ActiveMinutes <= 0 {
		return 0
	}
	return s.QualityWeightSum / s.ActiveMinutes
}

// Close finalizes the session. The trailing gap since the last activity
// contributes to total minutes (capped) but never to active minutes.
// Closing an already-closed session is a no-op returning the prior result,
// so the operation is idempotent.
func (s *LearningSession) Close(at time.Time, guard *Guard) (shared.MetricDelta, error) {
	return s.finalize(at, guard, StatusClosed)
}

// Expire finalizes the session on behalf of the idle-timeout sweep. Same
// accounting as Close; only the final status differs.
func (s *LearningSession) Expire(at time.Time, guard *Guard) (shared.MetricDelta, error) {
	return s.finalize(at, guard, StatusExpired)
}

func (s *LearningSession) finalize(at time.Time, guard *Guard, status Status) (shared.MetricDelta, error) {
	if !s.IsOpen() {
		return s.Delta(), nil
	}
	if at.Before(s.LastActivityAt) {
		return shared.MetricDelta{}, shared.WrapError("session", "Close", shared.ErrOutOfOrder, "close time precedes last activity", nil)
	}

	trailing := at.Sub(s.LastActivityAt)
	if limit := guard.Config().MaxGapCredit; trailing > limit {
		trailing = limit
	}
	s.TotalMinutes += trailing.Minutes()

	s.Quality = ClassifyAverage(s.QualityAverage())
	if s.ActiveMinutes > 0 {
		s.LearningVelocity = s.ProgressUnits / s.ActiveMinutes
	} else {
		s.LearningVelocity = 0
	}

	closedAt := at
	s.ClosedAt = &closedAt
	s.Status = status
	s.TrailingGaps = nil

	return s.Delta(), nil
}

// Delta builds the metric delta describing this session's contribution.
// Valid on closed sessions; on an open session it reflects the running state.
func (s *LearningSession) Delta() shared.MetricDelta {
	closedAt := s.LastActivityAt
	if s.ClosedAt != nil {
		closedAt = *s.ClosedAt
	}
	quality := s.Quality
	if quality == "" {
		quality = ClassifyAverage(s.QualityAverage())
	}
	return shared.MetricDelta{
		UserID:        s.UserID.String(),
		TaskID:        s.TaskID.String(),
		SessionID:     s.ID.String(),
		ActiveMinutes: s.ActiveMinutes,
		TotalMinutes:  s.TotalMinutes,
		QualityWeight: s.QualityAverage(),
		QualityClass:  string(quality),
		Interactions:  s.Interactions,
		Suspicious:    s.Suspicious,
		ActivityDay:   shared.Day(closedAt),
		ClosedAt:      closedAt,
	}
}

// IdleSince reports whether the session has seen no activity since the cutoff.
func (s *LearningSession) IdleSince(cutoff time.Time) bool {
	return s.IsOpen() && s.LastActivityAt.Before(cutoff)
}
