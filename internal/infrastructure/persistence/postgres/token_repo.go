package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
	"github.com/sensai-hub/active-learning-core/internal/domain/token"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOKEN LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// TokenLedger implements token.Ledger using PostgreSQL.
type TokenLedger struct {
	conn *Connection
}

// NewTokenLedger creates a new grace token ledger.
func NewTokenLedger(conn *Connection) *TokenLedger {
	return &TokenLedger{conn: conn}
}

const tokenColumns = `
	id, user_id, token_type, reason, quest_id, session_id,
	granted_at, expires_at, used_at, consumption_reason
`

// Save persists a token, creating or updating as needed.
func (r *TokenLedger) Save(ctx context.Context, t *token.GraceToken) error {
	query := `
		INSERT INTO grace_tokens (
			id, user_id, token_type, reason, quest_id, session_id,
			granted_at, expires_at, used_at, consumption_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			used_at = EXCLUDED.used_at,
			consumption_reason = EXCLUDED.consumption_reason
	`

	_, err := r.conn.Exec(ctx, query,
		t.ID.String(),
		t.UserID,
		string(t.Type),
		t.Reason,
		t.QuestID,
		t.SessionID,
		t.GrantedAt,
		t.ExpiresAt,
		t.UsedAt,
		t.ConsumptionReason,
	)
	if err != nil {
		return fmt.Errorf("failed to save grace token: %w", err)
	}

	return nil
}

// FindByID returns a token by ID.
func (r *TokenLedger) FindByID(ctx context.Context, id token.TokenID) (*token.GraceToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM grace_tokens WHERE id = $1`

	row := r.conn.QueryRow(ctx, query, id.String())
	return r.scanToken(row)
}

// ListActive returns a user's unused, unexpired tokens at now, soonest to
// expire first.
func (r *TokenLedger) ListActive(ctx context.Context, userID string, now time.Time) ([]*token.GraceToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM grace_tokens
		WHERE user_id = $1 AND used_at IS NULL AND expires_at > $2
		ORDER BY expires_at ASC
	`

	rows, err := r.conn.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*token.GraceToken
	for rows.Next() {
		t, err := r.scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// CountActive returns the number of active tokens for the cap check.
func (r *TokenLedger) CountActive(ctx context.Context, userID string, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM grace_tokens
		WHERE user_id = $1 AND used_at IS NULL AND expires_at > $2
	`

	var count int
	err := r.conn.QueryRow(ctx, query, userID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active tokens: %w", err)
	}
	return count, nil
}

// ConsumeCAS atomically transitions a token from unused to used. The
// conditional UPDATE is the compare-and-swap: exactly one concurrent caller
// matches the unused row, the rest fall through to the diagnostic re-read.
func (r *TokenLedger) ConsumeCAS(ctx context.Context, id token.TokenID, now time.Time, reason string) (*token.GraceToken, error) {
	query := `
		UPDATE grace_tokens
		SET used_at = $2, consumption_reason = $3
		WHERE id = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING ` + tokenColumns

	row := r.conn.QueryRow(ctx, query, id.String(), now, reason)
	t, err := r.scanToken(row)
	if err == nil {
		return t, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}

	// The swap missed. Re-read to tell the caller why.
	existing, ferr := r.FindByID(ctx, id)
	if ferr != nil {
		return nil, ferr
	}
	if existing.UsedAt != nil {
		return nil, shared.ErrTokenUsed
	}
	if !existing.ExpiresAt.After(now) {
		return nil, shared.ErrTokenExpired
	}
	return nil, shared.ErrTokenNotFound
}

// ══════════════════════════════════════════════════════════════════════════════
// SCANNING
// ══════════════════════════════════════════════════════════════════════════════

func (r *TokenLedger) scanToken(row pgx.Row) (*token.GraceToken, error) {
	var (
		t   token.GraceToken
		id  string
		typ string
	)

	err := row.Scan(
		&id, &t.UserID, &typ, &t.Reason, &t.QuestID, &t.SessionID,
		&t.GrantedAt, &t.ExpiresAt, &t.UsedAt, &t.ConsumptionReason,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to scan grace token: %w", err)
	}

	t.ID = token.TokenID(id)
	t.Type = token.Type(typ)

	return &t, nil
}
