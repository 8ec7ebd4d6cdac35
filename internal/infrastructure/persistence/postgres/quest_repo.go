package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sensai-hub/active-learning-core/internal/domain/quest"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUEST REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// QuestRepository implements quest.Repository using PostgreSQL. Requirement
// sets and rewards live as JSONB documents; they are read as whole values and
// never queried field by field.
type QuestRepository struct {
	conn *Connection
}

// NewQuestRepository creates a new quest repository.
func NewQuestRepository(conn *Connection) *QuestRepository {
	return &QuestRepository{conn: conn}
}

// SaveDefinition persists a quest definition. Definitions are immutable once
// published, so a plain INSERT carries the rule: re-publishing an ID fails
// with the unique violation mapped to a domain conflict.
func (r *QuestRepository) SaveDefinition(ctx context.Context, def *quest.Definition) error {
	reqsJSON, err := json.Marshal(def.Requirements)
	if err != nil {
		return fmt.Errorf("failed to marshal requirements: %w", err)
	}
	rewardJSON, err := json.Marshal(def.Reward)
	if err != nil {
		return fmt.Errorf("failed to marshal reward: %w", err)
	}

	query := `
		INSERT INTO quest_definitions (
			id, name, description, window_start, window_end,
			cohort_id, requirements, reward, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.conn.Exec(ctx, query,
		def.ID.String(),
		def.Name,
		def.Description,
		def.Window.Start,
		def.Window.End,
		def.CohortID,
		reqsJSON,
		rewardJSON,
		def.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("quest", "SaveDefinition", shared.ErrAlreadyExists,
				fmt.Sprintf("quest %s is already published", def.ID), err)
		}
		return fmt.Errorf("failed to save quest definition: %w", err)
	}

	return nil
}

// FindDefinition returns a definition by ID.
func (r *QuestRepository) FindDefinition(ctx context.Context, id quest.QuestID) (*quest.Definition, error) {
	query := `
		SELECT id, name, description, window_start, window_end,
		       cohort_id, requirements, reward, created_at
		FROM quest_definitions
		WHERE id = $1
	`

	row := r.conn.QueryRow(ctx, query, id.String())
	return r.scanDefinition(row)
}

// ListActiveDefinitions returns definitions whose window contains the
// instant. An empty cohortID disables the cohort filter and returns every
// active quest; otherwise globally scoped quests plus the cohort's own match.
func (r *QuestRepository) ListActiveDefinitions(ctx context.Context, at time.Time, cohortID string) ([]*quest.Definition, error) {
	query := `
		SELECT id, name, description, window_start, window_end,
		       cohort_id, requirements, reward, created_at
		FROM quest_definitions
		WHERE window_start <= $1 AND window_end > $1
		  AND ($2 = '' OR cohort_id = '' OR cohort_id = $2)
		ORDER BY created_at ASC
	`

	rows, err := r.conn.Query(ctx, query, at, cohortID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active quests: %w", err)
	}
	defer rows.Close()

	return r.scanDefinitions(rows)
}

// ListExpiredUnarchived returns definitions whose window closed before the
// cutoff and that still have unarchived completions.
func (r *QuestRepository) ListExpiredUnarchived(ctx context.Context, cutoff time.Time) ([]*quest.Definition, error) {
	query := `
		SELECT DISTINCT d.id, d.name, d.description, d.window_start, d.window_end,
		       d.cohort_id, d.requirements, d.reward, d.created_at
		FROM quest_definitions d
		JOIN quest_completions c ON c.quest_id = d.id AND c.archived = FALSE
		WHERE d.window_end <= $1
		ORDER BY d.window_end ASC
	`

	rows, err := r.conn.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired quests: %w", err)
	}
	defer rows.Close()

	return r.scanDefinitions(rows)
}

// SaveCompletion persists a completion record, creating or updating.
func (r *QuestRepository) SaveCompletion(ctx context.Context, c *quest.Completion) error {
	progressJSON, err := json.Marshal(c.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	query := `
		INSERT INTO quest_completions (
			id, user_id, quest_id, progress,
			is_completed, completed_at, points_earned, badges_earned,
			archived, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			progress = EXCLUDED.progress,
			is_completed = quest_completions.is_completed OR EXCLUDED.is_completed,
			completed_at = COALESCE(quest_completions.completed_at, EXCLUDED.completed_at),
			points_earned = GREATEST(quest_completions.points_earned, EXCLUDED.points_earned),
			badges_earned = EXCLUDED.badges_earned,
			archived = EXCLUDED.archived,
			updated_at = EXCLUDED.updated_at
	`

	badges := c.BadgesEarned
	if badges == nil {
		badges = []string{}
	}

	_, err = r.conn.Exec(ctx, query,
		c.ID,
		c.UserID,
		c.QuestID.String(),
		progressJSON,
		c.IsCompleted,
		c.CompletedAt,
		c.PointsEarned,
		badges,
		c.Archived,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save quest completion: %w", err)
	}

	return nil
}

// FindCompletion returns the completion for (user, quest).
func (r *QuestRepository) FindCompletion(ctx context.Context, userID string, questID quest.QuestID) (*quest.Completion, error) {
	query := `
		SELECT id, user_id, quest_id, progress,
		       is_completed, completed_at, points_earned, badges_earned,
		       archived, created_at, updated_at
		FROM quest_completions
		WHERE user_id = $1 AND quest_id = $2
	`

	row := r.conn.QueryRow(ctx, query, userID, questID.String())
	return r.scanCompletion(row)
}

// ListCompletionsForUser returns a user's completions, newest first.
// A limit of 0 means no limit.
func (r *QuestRepository) ListCompletionsForUser(ctx context.Context, userID string, limit int) ([]*quest.Completion, error) {
	query := `
		SELECT id, user_id, quest_id, progress,
		       is_completed, completed_at, points_earned, badges_earned,
		       archived, created_at, updated_at
		FROM quest_completions
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	defer rows.Close()

	var completions []*quest.Completion
	for rows.Next() {
		c, err := r.scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		completions = append(completions, c)
	}
	return completions, rows.Err()
}

// CountCompleted returns how many quests a user completed within the window.
func (r *QuestRepository) CountCompleted(ctx context.Context, userID string, window shared.TimeWindow) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM quest_completions
		WHERE user_id = $1 AND is_completed = TRUE
		  AND completed_at >= $2 AND completed_at < $3
	`

	var count int
	err := r.conn.QueryRow(ctx, query, userID, window.Start, window.End).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed quests: %w", err)
	}
	return count, nil
}

// ArchiveForQuest marks all completions of a quest archived.
func (r *QuestRepository) ArchiveForQuest(ctx context.Context, questID quest.QuestID, now time.Time) (int, error) {
	query := `
		UPDATE quest_completions
		SET archived = TRUE, updated_at = $2
		WHERE quest_id = $1 AND archived = FALSE
	`

	tag, err := r.conn.Exec(ctx, query, questID.String(), now)
	if err != nil {
		return 0, fmt.Errorf("failed to archive completions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCANNING
// ══════════════════════════════════════════════════════════════════════════════

func (r *QuestRepository) scanDefinition(row pgx.Row) (*quest.Definition, error) {
	var (
		def        quest.Definition
		id         string
		reqsJSON   []byte
		rewardJSON []byte
	)

	err := row.Scan(
		&id, &def.Name, &def.Description,
		&def.Window.Start, &def.Window.End,
		&def.CohortID, &reqsJSON, &rewardJSON, &def.CreatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrQuestNotFound
		}
		return nil, fmt.Errorf("failed to scan quest definition: %w", err)
	}

	def.ID = quest.QuestID(id)
	if err := json.Unmarshal(reqsJSON, &def.Requirements); err != nil {
		return nil, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}
	if err := json.Unmarshal(rewardJSON, &def.Reward); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reward: %w", err)
	}

	return &def, nil
}

func (r *QuestRepository) scanDefinitions(rows pgx.Rows) ([]*quest.Definition, error) {
	var defs []*quest.Definition
	for rows.Next() {
		def, err := r.scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (r *QuestRepository) scanCompletion(row pgx.Row) (*quest.Completion, error) {
	var (
		c            quest.Completion
		questID      string
		progressJSON []byte
	)

	err := row.Scan(
		&c.ID, &c.UserID, &questID, &progressJSON,
		&c.IsCompleted, &c.CompletedAt, &c.PointsEarned, &c.BadgesEarned,
		&c.Archived, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCompletionNotFound
		}
		return nil, fmt.Errorf("failed to scan quest completion: %w", err)
	}

	c.QuestID = quest.QuestID(questID)
	if err := json.Unmarshal(progressJSON, &c.Progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}

	return &c, nil
}
