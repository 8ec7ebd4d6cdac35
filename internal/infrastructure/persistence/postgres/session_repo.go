package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sensai-hub/active-learning-core/internal/domain/session"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepository implements session.Repository using PostgreSQL.
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

const sessionColumns = `
	id, user_id, task_id, status,
	started_at, last_activity_at, closed_at,
	total_minutes, active_minutes, interactions,
	quality_weight_sum, progress_units, suspicious,
	trailing_gaps_ms, quality, learning_velocity
`

// Save persists a session, creating or updating as needed. The partial
// unique index on open (user_id, task_id) backs the one-open-session
// invariant; a concurrent duplicate open surfaces as a conflict.
func (r *SessionRepository) Save(ctx context.Context, s *session.LearningSession) error {
	query := `
		INSERT INTO sessions (
			id, user_id, task_id, status,
			started_at, last_activity_at, closed_at,
			total_minutes, active_minutes, interactions,
			quality_weight_sum, progress_units, suspicious,
			trailing_gaps_ms, quality, learning_velocity, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			last_activity_at = EXCLUDED.last_activity_at,
			closed_at = EXCLUDED.closed_at,
			total_minutes = EXCLUDED.total_minutes,
			active_minutes = EXCLUDED.active_minutes,
			interactions = EXCLUDED.interactions,
			quality_weight_sum = EXCLUDED.quality_weight_sum,
			progress_units = EXCLUDED.progress_units,
			suspicious = EXCLUDED.suspicious,
			trailing_gaps_ms = EXCLUDED.trailing_gaps_ms,
			quality = EXCLUDED.quality,
			learning_velocity = EXCLUDED.learning_velocity,
			updated_at = NOW()
	`

	_, err := r.conn.Exec(ctx, query,
		s.ID.String(),
		s.UserID.String(),
		s.TaskID.String(),
		string(s.Status),
		s.StartedAt,
		s.LastActivityAt,
		s.ClosedAt,
		s.TotalMinutes,
		s.ActiveMinutes,
		s.Interactions,
		s.QualityWeightSum,
		s.ProgressUnits,
		s.Suspicious,
		gapsToMillis(s.TrailingGaps),
		string(s.Quality),
		s.LearningVelocity,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrSessionConflict
		}
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// FindByID returns a session by ID.
func (r *SessionRepository) FindByID(ctx context.Context, id session.SessionID) (*session.LearningSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	row := r.conn.QueryRow(ctx, query, id.String())
	return r.scanSession(row)
}

// FindOpen returns the open session for (user, task), if any.
func (r *SessionRepository) FindOpen(ctx context.Context, userID session.UserID, taskID session.TaskID) (*session.LearningSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND task_id = $2 AND status = 'open'
	`

	row := r.conn.QueryRow(ctx, query, userID.String(), taskID.String())
	return r.scanSession(row)
}

// FindRecentClosed returns the most recently finalized session for (user, task).
func (r *SessionRepository) FindRecentClosed(ctx context.Context, userID session.UserID, taskID session.TaskID) (*session.LearningSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND task_id = $2 AND status != 'open'
		ORDER BY closed_at DESC
		LIMIT 1
	`

	row := r.conn.QueryRow(ctx, query, userID.String(), taskID.String())
	return r.scanSession(row)
}

// ListIdleOpen returns open sessions whose last activity precedes the cutoff.
func (r *SessionRepository) ListIdleOpen(ctx context.Context, cutoff time.Time, limit int) ([]*session.LearningSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE status = 'open' AND last_activity_at < $1
		ORDER BY last_activity_at ASC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	defer rows.Close()

	return r.scanSessions(rows)
}

// ListRecent returns a user's most recently finalized sessions.
func (r *SessionRepository) ListRecent(ctx context.Context, userID session.UserID, limit int) ([]*session.LearningSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND status != 'open'
		ORDER BY closed_at DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, userID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent sessions: %w", err)
	}
	defer rows.Close()

	return r.scanSessions(rows)
}

// AggregateFor rolls up a user's finalized sessions within the window.
func (r *SessionRepository) AggregateFor(ctx context.Context, userID session.UserID, window shared.TimeWindow) (session.Aggregate, error) {
	aggs, err := r.AggregateForUsers(ctx, []session.UserID{userID}, window)
	if err != nil {
		return session.Aggregate{}, err
	}
	if agg, ok := aggs[userID]; ok {
		return agg, nil
	}
	return session.Aggregate{UserID: userID}, nil
}

// AggregateForUsers rolls up finalized sessions for multiple users at once.
// Per-session quality classes are kept as individual samples so a grace
// token can later exclude the worst one, which rules out a pure SQL rollup.
func (r *SessionRepository) AggregateForUsers(ctx context.Context, userIDs []session.UserID, window shared.TimeWindow) (map[session.UserID]session.Aggregate, error) {
	result := make(map[session.UserID]session.Aggregate, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}

	query := `
		SELECT user_id, active_minutes, total_minutes, interactions,
		       quality, suspicious, closed_at
		FROM sessions
		WHERE user_id = ANY($1)
		  AND status != 'open'
		  AND closed_at >= $2 AND closed_at < $3
		ORDER BY user_id, closed_at ASC
	`

	rows, err := r.conn.Query(ctx, query, ids, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			userID        string
			activeMinutes float64
			totalMinutes  float64
			interactions  int
			quality       string
			suspicious    bool
			closedAt      time.Time
		)
		if err := rows.Scan(&userID, &activeMinutes, &totalMinutes, &interactions, &quality, &suspicious, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}

		uid := session.UserID(userID)
		agg, ok := result[uid]
		if !ok {
			agg = session.Aggregate{UserID: uid}
		}

		agg.ActiveMinutes += activeMinutes
		agg.TotalMinutes += totalMinutes
		agg.Sessions++
		agg.Interactions += interactions
		agg.QualitySamples = append(agg.QualitySamples, session.QualityClass(quality).Score())
		if suspicious {
			agg.Suspicious++
		}

		day := shared.Day(closedAt)
		if n := len(agg.ActiveDays); n == 0 || !agg.ActiveDays[n-1].Equal(day) {
			agg.ActiveDays = append(agg.ActiveDays, day)
		}

		result[uid] = agg
	}

	return result, rows.Err()
}

// ListActiveUsers returns the users with finalized activity in the window,
// most active minutes first. A limit of 0 means no limit.
func (r *SessionRepository) ListActiveUsers(ctx context.Context, window shared.TimeWindow, limit int) ([]session.UserID, error) {
	query := `
		SELECT user_id
		FROM sessions
		WHERE status != 'open' AND closed_at >= $1 AND closed_at < $2
		GROUP BY user_id
		ORDER BY SUM(active_minutes) DESC
	`
	args := []interface{}{window.Start, window.End}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var users []session.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, session.UserID(id))
	}
	return users, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// SCANNING
// ══════════════════════════════════════════════════════════════════════════════

func (r *SessionRepository) scanSession(row pgx.Row) (*session.LearningSession, error) {
	var (
		s       session.LearningSession
		id      string
		userID  string
		taskID  string
		status  string
		quality string
		gapsMS  []int64
	)

	err := row.Scan(
		&id, &userID, &taskID, &status,
		&s.StartedAt, &s.LastActivityAt, &s.ClosedAt,
		&s.TotalMinutes, &s.ActiveMinutes, &s.Interactions,
		&s.QualityWeightSum, &s.ProgressUnits, &s.Suspicious,
		&gapsMS, &quality, &s.LearningVelocity,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	s.ID = session.SessionID(id)
	s.UserID = session.UserID(userID)
	s.TaskID = session.TaskID(taskID)
	s.Status = session.Status(status)
	s.Quality = session.QualityClass(quality)
	s.TrailingGaps = millisToGaps(gapsMS)

	return &s, nil
}

func (r *SessionRepository) scanSessions(rows pgx.Rows) ([]*session.LearningSession, error) {
	var sessions []*session.LearningSession
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func gapsToMillis(gaps []time.Duration) []int64 {
	ms := make([]int64, len(gaps))
	for i, g := range gaps {
		ms[i] = g.Milliseconds()
	}
	return ms
}

func millisToGaps(ms []int64) []time.Duration {
	if len(ms) == 0 {
		return nil
	}
	gaps := make([]time.Duration, len(ms))
	for i, m := range ms {
		gaps[i] = time.Duration(m) * time.Millisecond
	}
	return gaps
}
