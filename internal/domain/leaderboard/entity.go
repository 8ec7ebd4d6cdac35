// Package leaderboard contains the domain model for ranked standings across
// organizational scopes and time windows. A leaderboard is entirely derivable
// from session and quest data; cached rows are never a source of truth.
// This is a pure domain layer with zero external dependencies.
package leaderboard

import (
	"fmt"
	"sort"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ScopeType enumerates the organizational groupings a leaderboard covers.
type ScopeType string

const (
	ScopeCourse ScopeType = "course"
	ScopeCohort ScopeType = "cohort"
	ScopeTopic  ScopeType = "topic"
	ScopeCampus ScopeType = "campus"
	ScopeGlobal ScopeType = "global"
)

// IsValid checks the scope type against the closed set.
func (s ScopeType) IsValid() bool {
	switch s {
	case ScopeCourse, ScopeCohort, ScopeTopic, ScopeCampus, ScopeGlobal:
		return true
	}
	return false
}

// Anonymous reports whether entries in this scope hide identity. The global
// board exposes rank and score only.
func (s ScopeType) Anonymous() bool {
	return s == ScopeGlobal
}

// Window enumerates the time windows a leaderboard covers.
type Window string

const (
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
	WindowAllTime Window = "all_time"
)

// IsValid checks the window against the closed set.
func (w Window) IsValid() bool {
	switch w {
	case WindowWeekly, WindowMonthly, WindowAllTime:
		return true
	}
	return false
}

// Range resolves the window to a concrete time span ending at now. The
// all-time window has a zero Start, meaning unbounded.
func (w Window) Range(now time.Time) shared.TimeWindow {
	switch w {
	case WindowWeekly:
		return shared.TimeWindow{Start: now.AddDate(0, 0, -7), End: now}
	case WindowMonthly:
		return shared.TimeWindow{Start: now.AddDate(0, 0, -30), End: now}
	default:
		return shared.TimeWindow{Start: time.Time{}, End: now}
	}
}

// Key identifies one cached leaderboard: (scope type, scope id, window).
// The global scope has an empty scope ID.
type Key struct {
	Scope   ScopeType `json:"scope"`
	ScopeID string    `json:"scope_id"`
	Window  Window    `json:"window"`
}

// NewKey creates a validated cache key.
func NewKey(scope ScopeType, scopeID string, window Window) (Key, error) {
	if !scope.IsValid() {
		return Key{}, shared.ErrInvalidScope
	}
	if scope != ScopeGlobal && scopeID == "" {
		return Key{}, shared.ErrInvalidScope
	}
	if !window.IsValid() {
		return Key{}, shared.ErrInvalidWindow
	}
	if scope == ScopeGlobal {
		scopeID = ""
	}
	return Key{Scope: scope, ScopeID: scopeID, Window: window}, nil
}

// String returns the canonical "scope:id:window" form used as a cache key.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Scope, k.ScopeID, k.Window)
}

// ScoreBreakdown itemizes how an entry's score was composed.
type ScoreBreakdown struct {
	ActiveMinutes   float64 `json:"active_minutes"`
	QualityAvg      float64 `json:"quality_avg"` // normalized to [0,1]
	QuestsCompleted int     `json:"quests_completed"`
	ConsistencyDays int     `json:"consistency_days"`
	BonusPoints     int     `json:"bonus_points"`
	BoostFactor     float64 `json:"boost_factor"`
}

// Entry is one row of a computed leaderboard.
type Entry struct {
	UserID      string         `json:"user_id,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Rank        int            `json:"rank"`
	Score       float64        `json:"score"`
	Breakdown   ScoreBreakdown `json:"breakdown"`
}

// UserMetrics is the per-user input to ranking, assembled by the aggregator
// from session aggregates, quest completions, and reward adjustments.
type UserMetrics struct {
	UserID      string
	DisplayName string

	ActiveMinutes   float64
	QualityAvg      float64
	QuestsCompleted int
	ConsistencyDays int

	// BonusPoints and BoostFactor are quest-reward score adjustments.
	BonusPoints int
	BoostFactor float64
}

// Score computes the composite score: active minutes scaled by the reward
// boost, plus flat bonus points earned from quests. Quality and quest
// completions act as tiebreakers, not score inputs.
func (m UserMetrics) Score() float64 {
	return m.ActiveMinutes*(1+m.BoostFactor) + float64(m.BonusPoints)
}

// Rank orders metrics into a deterministic total order: score descending,
// quality average descending, quests completed descending, and finally user
// ID ascending so re-ranking identical inputs yields identical output.
func Rank(metrics []UserMetrics) []Entry {
	sorted := make([]UserMetrics, len(metrics))
	copy(sorted, metrics)

	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if as, bs := a.Score(), b.Score(); as != bs {
			return as > bs
		}
		if a.QualityAvg != b.QualityAvg {
			return a.QualityAvg > b.QualityAvg
		}
		if a.QuestsCompleted != b.QuestsCompleted {
			return a.QuestsCompleted > b.QuestsCompleted
		}
		return a.UserID < b.UserID
	})

	entries := make([]Entry, len(sorted))
	for i, m := range sorted {
		entries[i] = Entry{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			Rank:        i + 1,
			Score:       m.Score(),
			Breakdown: ScoreBreakdown{
				ActiveMinutes:   m.ActiveMinutes,
				QualityAvg:      m.QualityAvg,
				QuestsCompleted: m.QuestsCompleted,
				ConsistencyDays: m.ConsistencyDays,
				BonusPoints:     m.BonusPoints,
				BoostFactor:     m.BoostFactor,
			},
		}
	}
	return entries
}

// Anonymize strips personal identifiers from entries, leaving rank and score
// breakdown. Applied to the global scope before caching.
func Anonymize(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.UserID = ""
		e.DisplayName = ""
		out[i] = e
	}
	return out
}
