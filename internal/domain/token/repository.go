package token

import (
	"context"
	"time"
)

// Ledger defines the interface for grace token persistence.
type Ledger interface {
	// Save persists a token (create or update).
	Save(ctx context.Context, t *GraceToken) error

	// FindByID returns a token by ID, or shared.ErrTokenNotFound.
	FindByID(ctx context.Context, id TokenID) (*GraceToken, error)

	// ListActive returns a user's unused, unexpired tokens at now.
	ListActive(ctx context.Context, userID string, now time.Time) ([]*GraceToken, error)

	// CountActive returns the number of active tokens for the cap check.
	CountActive(ctx context.Context, userID string, now time.Time) (int, error)

	// ConsumeCAS atomically transitions a token from unused to used.
	// Exactly one concurrent caller succeeds; the rest fail with
	// shared.ErrTokenUsed (or shared.ErrTokenExpired past expiry).
	// Returns the consumed token on success.
	ConsumeCAS(ctx context.Context, id TokenID, now time.Time, reason string) (*GraceToken, error)
}
