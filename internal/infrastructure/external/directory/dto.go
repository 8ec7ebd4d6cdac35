package directory

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// APIResponse is the generic envelope every directory endpoint returns.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

// APIErrorDTO is a structured error response.
type APIErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	return fmt.Sprintf("directory api error [%s]: %s", e.Code, e.Message)
}

// Retryable reports whether the server marked this failure transient.
func (e *APIErrorDTO) Retryable() bool {
	return e.Code == "SERVER_ERROR" || e.Code == "TEMPORARILY_UNAVAILABLE"
}

// ══════════════════════════════════════════════════════════════════════════════
// SCOPE AND MEMBERSHIP DTOs
// ══════════════════════════════════════════════════════════════════════════════

// MembersDTO lists the user IDs belonging to one scope.
type MembersDTO struct {
	ScopeType string   `json:"scope_type"`
	ScopeID   string   `json:"scope_id"`
	UserIDs   []string `json:"user_ids"`
}

// ScopeDTO is one scope a user belongs to.
type ScopeDTO struct {
	ScopeType string `json:"scope_type"`
	ScopeID   string `json:"scope_id"`
}

// UserScopesDTO lists a user's scope memberships.
type UserScopesDTO struct {
	UserID string     `json:"user_id"`
	Scopes []ScopeDTO `json:"scopes"`
}

// ProfileDTO is the subset of a user profile the leaderboard displays.
type ProfileDTO struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION SERVICE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// PassCountsDTO carries the pass and review counts for one user and window.
type PassCountsDTO struct {
	UserID      string    `json:"user_id"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	DPPasses    int       `json:"dp_passes"`
	PeerReviews int       `json:"peer_reviews"`
}
