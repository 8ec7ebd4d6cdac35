// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrOutOfOrder      = errors.New("timestamp out of order")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")
	ErrLimitExceeded    = errors.New("limit exceeded")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "session", "quest", "token", "leaderboard"
	Op      string // Operation that failed, e.g., "Open", "Consume"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Session domain errors
var (
	ErrSessionNotFound     = NewDomainError("session", "Find", ErrNotFound, "session not found")
	ErrSessionConflict     = NewDomainError("session", "Open", ErrAlreadyExists, "open session already exists for user and task")
	ErrSessionClosed       = NewDomainError("session", "Record", ErrInvalidState, "session already closed")
	ErrEventOutOfOrder     = NewDomainError("session", "Record", ErrOutOfOrder, "event timestamp precedes last activity")
	ErrInvalidInteraction  = NewDomainError("session", "Validate", ErrInvalidInput, "malformed interaction event")
)

// Quest domain errors
var (
	ErrQuestNotFound      = NewDomainError("quest", "Find", ErrNotFound, "quest not found")
	ErrQuestWindowInvalid = NewDomainError("quest", "Validate", ErrValueOutOfRange, "quest validity window is invalid")
	ErrQuestAlreadyDone   = NewDomainError("quest", "Complete", ErrAlreadyProcessed, "quest already completed")
	ErrRequirementUnknown = NewDomainError("quest", "Evaluate", ErrInvalidInput, "unknown requirement kind")
	ErrCompletionNotFound = NewDomainError("quest", "FindCompletion", ErrNotFound, "quest completion not found")
	ErrQuestZeroThreshold = NewDomainError("quest", "Validate", ErrValueOutOfRange, "requirement threshold must be positive")
)

// Grace token domain errors
var (
	ErrTokenNotFound     = NewDomainError("token", "Find", ErrNotFound, "grace token not found")
	ErrTokenUsed         = NewDomainError("token", "Consume", ErrInvalidState, "grace token already consumed")
	ErrTokenExpired      = NewDomainError("token", "Consume", ErrExpired, "grace token has expired")
	ErrTokenLimitReached = NewDomainError("token", "Grant", ErrLimitExceeded, "active grace token limit reached")
	ErrInvalidTokenType  = NewDomainError("token", "Validate", ErrInvalidInput, "invalid grace token type")
)

// Leaderboard domain errors
var (
	ErrLeaderboardNotFound = NewDomainError("leaderboard", "Find", ErrNotFound, "leaderboard not found")
	ErrInvalidScope        = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "invalid scope")
	ErrInvalidWindow       = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "invalid time window")
	ErrRecomputeInFlight   = NewDomainError("leaderboard", "Recompute", ErrConcurrentModification, "recompute already in progress")
	ErrLeaderboardStale    = NewDomainError("leaderboard", "Get", ErrExpired, "leaderboard cache row is stale")
)

// External service errors
var (
	ErrDirectoryUnavailable  = NewDomainError("directory", "Request", ErrServiceUnavailable, "directory service is unavailable")
	ErrCompletionUnavailable = NewDomainError("completion", "Request", ErrServiceUnavailable, "completion service is unavailable")
	ErrDirectoryTimeout      = NewDomainError("directory", "Request", ErrTimeout, "directory lookup timeout")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if the error is a duplicate/conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrOutOfOrder)
}

// IsInvalidState checks if the error is an invalid-state rejection.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrStateTransition) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrExpired)
}

// IsLimitExceeded checks if the error is a limit rejection.
func IsLimitExceeded(err error) bool {
	return errors.Is(err, ErrLimitExceeded)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
