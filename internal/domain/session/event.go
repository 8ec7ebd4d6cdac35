// Package session contains domain entities and business logic for the
// active-learning session engine: folding interaction events into active-minute
// and quality accumulators while rejecting gaming patterns.
// This is a pure domain layer with zero external dependencies.
package session

import (
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// UserID represents a unique identifier for a user.
type UserID string

// IsValid checks if the user ID is valid.
func (u UserID) IsValid() bool {
	return u != ""
}

// String returns the string representation of UserID.
func (u UserID) String() string {
	return string(u)
}

// TaskID represents a unique identifier for a task (e.g., "dp-knapsack-02").
type TaskID string

// IsValid checks if the task ID is valid.
func (t TaskID) IsValid() bool {
	return t != ""
}

// String returns the string representation of TaskID.
func (t TaskID) String() string {
	return string(t)
}

// SessionID represents a unique identifier for a learning session.
type SessionID string

// IsValid checks if the session ID is valid.
func (s SessionID) IsValid() bool {
	return s != ""
}

// String returns the string representation of SessionID.
func (s SessionID) String() string {
	return string(s)
}

// EventKind identifies the type of a raw interaction event.
type EventKind string

const (
	// KindChatMessage - the user sent a chat message to the tutor.
	KindChatMessage EventKind = "chat_message"

	// KindCodeSubmission - the user submitted code for execution/grading.
	KindCodeSubmission EventKind = "code_submission"

	// KindPeerReview - the user reviewed another user's work.
	KindPeerReview EventKind = "peer_review"

	// KindNavigation - the user navigated between tasks or materials.
	KindNavigation EventKind = "navigation"
)

// IsValid checks the event kind against the closed set.
func (k EventKind) IsValid() bool {
	switch k {
	case KindChatMessage, KindCodeSubmission, KindPeerReview, KindNavigation:
		return true
	}
	return false
}

// InteractionEvent is an immutable fact produced by external collaborators
// (chat, code execution, review subsystems) and consumed exactly once by the
// session tracker. ContentLength is the content-derived feature: text length
// for chat, diff size for submissions, review body length for reviews.
type InteractionEvent struct {
	UserID        UserID
	TaskID        TaskID
	At            time.Time
	Kind          EventKind
	ContentLength int
}

// Validate checks the event at the ingress boundary. A malformed event is
// rejected whole, never partially applied.
func (e InteractionEvent) Validate() error {
	if !e.UserID.IsValid() {
		return shared.WrapError("session", "Validate", shared.ErrInvalidInput, "event user ID is empty", nil)
	}
	if !e.TaskID.IsValid() {
		return shared.WrapError("session", "Validate", shared.ErrInvalidInput, "event task ID is empty", nil)
	}
	if e.At.IsZero() {
		return shared.WrapError("session", "Validate", shared.ErrInvalidInput, "event timestamp is zero", nil)
	}
	if !e.Kind.IsValid() {
		return shared.WrapError("session", "Validate", shared.ErrInvalidInput, "unknown event kind", nil)
	}
	if e.ContentLength < 0 {
		return shared.WrapError("session", "Validate", shared.ErrNegativeValue, "content length cannot be negative", nil)
	}
	return nil
}
