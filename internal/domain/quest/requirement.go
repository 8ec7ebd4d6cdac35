// Package quest contains the quest-progress evaluator: declarative weekly
// requirement sets scored continuously against a user's accumulated metrics.
// This is a pure domain layer with zero external dependencies.
package quest

import (
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// RequirementKind is the tagged variant over requirement types. New kinds
// extend the closed evaluation switch in CurrentValue; there is no
// inheritance hierarchy to grow.
type RequirementKind string

const (
	// ReqActiveMinutes - total active minutes within the quest window.
	ReqActiveMinutes RequirementKind = "active_minutes"

	// ReqDPPasses - defense-point passes, resolved via the completion service.
	ReqDPPasses RequirementKind = "dp_passes"

	// ReqPeerReviews - peer reviews given, resolved via the completion service.
	ReqPeerReviews RequirementKind = "peer_reviews"

	// ReqSessionQualityAvg - average session quality normalized to [0,1].
	ReqSessionQualityAvg RequirementKind = "session_quality_avg"

	// ReqConsistencyDays - distinct days with finalized activity.
	ReqConsistencyDays RequirementKind = "consistency_days"
)

// IsValid checks the kind against the closed set.
func (k RequirementKind) IsValid() bool {
	switch k {
	case ReqActiveMinutes, ReqDPPasses, ReqPeerReviews, ReqSessionQualityAvg, ReqConsistencyDays:
		return true
	}
	return false
}

// Requirement is one threshold within a quest's requirement set.
type Requirement struct {
	Kind      RequirementKind `json:"kind"`
	Threshold float64         `json:"threshold"`
}

// Validate checks the requirement.
func (r Requirement) Validate() error {
	if !r.Kind.IsValid() {
		return shared.ErrRequirementUnknown
	}
	if r.Threshold <= 0 {
		return shared.ErrQuestZeroThreshold
	}
	return nil
}

// Fraction is the uniform (current, threshold) -> progress evaluation shared
// by every requirement kind: min(current/threshold, 1.0).
func (r Requirement) Fraction(current float64) float64 {
	if r.Threshold <= 0 {
		return 1
	}
	f := current / r.Threshold
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// MetricsSnapshot is the per-user metric view a quest is evaluated against.
// Session-derived fields come from the session aggregate; pass and review
// counts come from the external completion service.
type MetricsSnapshot struct {
	ActiveMinutes   float64
	DPPasses        int
	PeerReviews     int
	QualityAvg      float64 // normalized to [0,1]
	ConsistencyDays int
}

// CurrentValue resolves a requirement kind to its current value in the
// snapshot. The switch is the single extension point for new kinds.
func CurrentValue(kind RequirementKind, snap MetricsSnapshot) (float64, error) {
	switch kind {
	case ReqActiveMinutes:
		return snap.ActiveMinutes, nil
	case ReqDPPasses:
		return float64(snap.DPPasses), nil
	case ReqPeerReviews:
		return float64(snap.PeerReviews), nil
	case ReqSessionQualityAvg:
		return snap.QualityAvg, nil
	case ReqConsistencyDays:
		return float64(snap.ConsistencyDays), nil
	default:
		return 0, shared.ErrRequirementUnknown
	}
}

// DefaultRequirements returns the standard weekly requirement set.
func DefaultRequirements() []Requirement {
	return []Requirement{
		{Kind: ReqActiveMinutes, Threshold: 120},
		{Kind: ReqDPPasses, Threshold: 3},
		{Kind: ReqPeerReviews, Threshold: 1},
		{Kind: ReqSessionQualityAvg, Threshold: 0.8},
		{Kind: ReqConsistencyDays, Threshold: 5},
	}
}
