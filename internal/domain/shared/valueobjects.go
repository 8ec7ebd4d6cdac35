// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import "time"

// TimeWindow is a half-open interval [Start, End) used for quest validity
// windows and leaderboard time periods.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewTimeWindow creates a time window with validation.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	if !end.After(start) {
		return TimeWindow{}, NewDomainError("shared", "NewTimeWindow", ErrValueOutOfRange, "window end must be after start")
	}
	return TimeWindow{Start: start, End: end}, nil
}

// Contains reports whether t falls within the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ClosedBefore reports whether the window has fully elapsed at t.
func (w TimeWindow) ClosedBefore(t time.Time) bool {
	return !t.Before(w.End)
}

// Duration returns the span of the window.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// IsZero reports whether the window is unset.
func (w TimeWindow) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Day returns the midnight-UTC date of t. Consistency-day counting and
// quest archiving key on this.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
