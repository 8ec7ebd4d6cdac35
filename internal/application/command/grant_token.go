package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
	"github.com/sensai-hub/active-learning-core/internal/domain/token"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRANT TOKEN COMMAND
// Issues grace tokens against the per-user active cap. Grants past the cap
// are dropped, not queued.
// ══════════════════════════════════════════════════════════════════════════════

// GrantTokenCommand contains the data to grant grace tokens.
type GrantTokenCommand struct {
	UserID string
	Type   token.Type
	Reason string

	// Count is how many tokens to grant (defaults to 1).
	Count int

	// QuestID optionally associates the grant with a quest reward.
	QuestID string

	// Now defaults to time.Now when zero.
	Now time.Time
}

// Validate validates the command.
func (c GrantTokenCommand) Validate() error {
	if c.UserID == "" {
		return shared.WrapError("token", "Grant", shared.ErrInvalidID, "user_id is required", nil)
	}
	if !c.Type.IsValid() {
		return shared.ErrInvalidTokenType
	}
	return nil
}

// GrantTokenResult contains the outcome of a grant.
type GrantTokenResult struct {
	Granted []*token.GraceToken

	// Dropped is how many requested tokens the active cap rejected.
	Dropped int
}

// GrantTokenHandler handles the GrantTokenCommand.
type GrantTokenHandler struct {
	ledger    token.Ledger
	publisher shared.EventPublisher

	maxActive int
	expiry    time.Duration
}

// GrantTokenHandlerConfig contains configuration for the handler.
type GrantTokenHandlerConfig struct {
	MaxActive int
	Expiry    time.Duration
}

// DefaultGrantTokenHandlerConfig returns default configuration.
func DefaultGrantTokenHandlerConfig() GrantTokenHandlerConfig {
	return GrantTokenHandlerConfig{
		MaxActive: token.DefaultMaxActive,
		Expiry:    token.DefaultExpiry,
	}
}

// NewGrantTokenHandler creates a new GrantTokenHandler.
func NewGrantTokenHandler(ledger token.Ledger, publisher shared.EventPublisher, config GrantTokenHandlerConfig) *GrantTokenHandler {
	if config.MaxActive <= 0 {
		config.MaxActive = token.DefaultMaxActive
	}
	if config.Expiry <= 0 {
		config.Expiry = token.DefaultExpiry
	}

	return &GrantTokenHandler{
		ledger:    ledger,
		publisher: publisher,
		maxActive: config.MaxActive,
		expiry:    config.Expiry,
	}
}

// Handle grants up to Count tokens, stopping at the active cap. When the cap
// leaves no room at all it returns shared.ErrTokenLimitReached; a partial
// grant succeeds and reports the dropped count so the caller can surface it.
func (h *GrantTokenHandler) Handle(ctx context.Context, cmd GrantTokenCommand) (*GrantTokenResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := cmd.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	count := cmd.Count
	if count <= 0 {
		count = 1
	}

	active, err := h.ledger.CountActive(ctx, cmd.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("grant_token: count active: %w", err)
	}

	room := h.maxActive - active
	if room <= 0 {
		return nil, shared.ErrTokenLimitReached
	}
	grant := count
	if grant > room {
		grant = room
	}

	result := &GrantTokenResult{
		Granted: make([]*token.GraceToken, 0, grant),
		Dropped: count - grant,
	}

	for i := 0; i < grant; i++ {
		t, err := token.Grant(token.TokenID(uuid.NewString()), cmd.UserID, cmd.Type, cmd.Reason, now, now.Add(h.expiry))
		if err != nil {
			return nil, err
		}
		t.QuestID = cmd.QuestID

		if err := h.ledger.Save(ctx, t); err != nil {
			return nil, fmt.Errorf("grant_token: save: %w", err)
		}

		_ = h.publisher.Publish(shared.NewTokenGrantedEvent(cmd.UserID, t.ID.String(), string(cmd.Type), cmd.Reason))
		result.Granted = append(result.Granted, t)
	}

	return result, nil
}
