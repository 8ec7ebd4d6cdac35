// Package token contains the grace token ledger: a bounded per-user balance
// of consumable forgiveness units applied to specific, enumerated shortfalls.
// This is a pure domain layer with zero external dependencies.
package token

import (
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// TokenID represents a unique identifier for a grace token.
type TokenID string

// IsValid checks if the token ID is valid.
func (t TokenID) IsValid() bool {
	return t != ""
}

// String returns the string representation of TokenID.
func (t TokenID) String() string {
	return string(t)
}

// Type enumerates the shortfalls a grace token can forgive.
type Type string

const (
	// TypeSessionExtension - extends one session's active-minute credit.
	TypeSessionExtension Type = "session_extension"

	// TypeQuestRetry - reopens one failed quest for re-evaluation.
	TypeQuestRetry Type = "quest_retry"

	// TypeStreakSave - fills exactly one missed consistency day.
	TypeStreakSave Type = "streak_save"

	// TypeQualityAdjustment - excludes the single worst session-quality
	// sample from the weekly quality average.
	TypeQualityAdjustment Type = "quality_adjustment"
)

// IsValid checks the type against the closed set.
func (t Type) IsValid() bool {
	switch t {
	case TypeSessionExtension, TypeQuestRetry, TypeStreakSave, TypeQualityAdjustment:
		return true
	}
	return false
}

// Ledger defaults.
const (
	// DefaultMaxActive bounds a user's unexpired, unused token count.
	DefaultMaxActive = 5

	// DefaultExpiry is the grant-to-expiry span.
	DefaultExpiry = 30 * 24 * time.Hour

	// SessionExtensionMinutes is the credit a session_extension grants.
	SessionExtensionMinutes = 15
)

// GraceToken is a single ledger entry. A token is consumed at most once;
// expiry is time-based and lazy - a token past its expiry is unusable at read
// time even before any sweep touches it.
type GraceToken struct {
	ID       TokenID
	UserID   string
	Type     Type
	Reason   string // why it was granted
	QuestID  string // optional association
	SessionID string // optional association

	GrantedAt time.Time
	ExpiresAt time.Time

	UsedAt            *time.Time
	ConsumptionReason string
}

// Grant creates a new unused token.
func Grant(id TokenID, userID string, typ Type, reason string, now, expiresAt time.Time) (*GraceToken, error) {
	if !id.IsValid() {
		return nil, shared.WrapError("token", "Grant", shared.ErrInvalidID, "invalid token ID", nil)
	}
	if userID == "" {
		return nil, shared.WrapError("token", "Grant", shared.ErrInvalidID, "invalid user ID", nil)
	}
	if !typ.IsValid() {
		return nil, shared.ErrInvalidTokenType
	}
	if !expiresAt.After(now) {
		return nil, shared.WrapError("token", "Grant", shared.ErrValueOutOfRange, "expiry must be in the future", nil)
	}

	return &GraceToken{
		ID:        id,
		UserID:    userID,
		Type:      typ,
		Reason:    reason,
		GrantedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// IsUsed reports whether the token has been consumed.
func (t *GraceToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsExpired reports whether the token is past its expiry at now.
func (t *GraceToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive reports whether the token is unused and unexpired at now.
// Active tokens count against the per-user cap.
func (t *GraceToken) IsActive(now time.Time) bool {
	return !t.IsUsed() && !t.IsExpired(now)
}

// Capability is what a consumed token entitles the caller to apply to its own
// computation. The ledger never applies the effect itself.
type Capability struct {
	Type Type

	// ExtensionMinutes is set for session_extension tokens.
	ExtensionMinutes int

	// FillDays is set for streak_save tokens: number of missed days to fill.
	FillDays int

	// DropWorstQuality is set for quality_adjustment tokens.
	DropWorstQuality bool

	// RetryQuest is set for quest_retry tokens.
	RetryQuest bool
}

// Consume marks the token used and returns its capability. Fails with an
// invalid-state rejection when already used, and an expiry rejection when
// past expiry. The repository layer makes this a compare-and-set so
// concurrent consumes resolve to exactly one success.
func (t *GraceToken) Consume(now time.Time, reason string) (Capability, error) {
	if t.IsUsed() {
		return Capability{}, shared.ErrTokenUsed
	}
	if t.IsExpired(now) {
		return Capability{}, shared.ErrTokenExpired
	}

	usedAt := now
	t.UsedAt = &usedAt
	t.ConsumptionReason = reason
	return t.Capability(), nil
}

// Capability returns the effect this token type grants.
func (t *GraceToken) Capability() Capability {
	c := Capability{Type: t.Type}
	switch t.Type {
	case TypeSessionExtension:
		c.ExtensionMinutes = SessionExtensionMinutes
	case TypeStreakSave:
		c.FillDays = 1
	case TypeQualityAdjustment:
		c.DropWorstQuality = true
	case TypeQuestRetry:
		c.RetryQuest = true
	}
	return c
}
