// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sensai-hub/active-learning-core/internal/domain/session"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION TRACKER
// Owns the session write path: opening sessions, folding interaction events
// into accumulators, and finalizing. All writes for one (user, task) pair are
// serialized on a striped lock so concurrent events never interleave inside
// an aggregate.
// ══════════════════════════════════════════════════════════════════════════════

const lockStripes = 64

// SessionTrackerConfig contains configuration for the tracker.
type SessionTrackerConfig struct {
	// Guard configures the anti-idle and pattern guard.
	Guard session.GuardConfig

	// IdleTimeout is how long an open session may sit without activity
	// before the sweep expires it.
	IdleTimeout time.Duration

	// SweepBatchSize bounds how many sessions one sweep pass finalizes.
	SweepBatchSize int
}

// DefaultSessionTrackerConfig returns default configuration.
func DefaultSessionTrackerConfig() SessionTrackerConfig {
	return SessionTrackerConfig{
		Guard:          session.DefaultGuardConfig(),
		IdleTimeout:    30 * time.Minute,
		SweepBatchSize: 100,
	}
}

// SessionTracker handles session write commands.
type SessionTracker struct {
	repo      session.Repository
	guard     *session.Guard
	publisher shared.EventPublisher

	idleTimeout    time.Duration
	sweepBatchSize int

	locks [lockStripes]sync.Mutex
}

// NewSessionTracker creates a new SessionTracker.
func NewSessionTracker(repo session.Repository, publisher shared.EventPublisher, config SessionTrackerConfig) *SessionTracker {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultSessionTrackerConfig().IdleTimeout
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = DefaultSessionTrackerConfig().SweepBatchSize
	}

	return &SessionTracker{
		repo:           repo,
		guard:          session.NewGuard(config.Guard),
		publisher:      publisher,
		idleTimeout:    config.IdleTimeout,
		sweepBatchSize: config.SweepBatchSize,
	}
}

// lockFor returns the stripe serializing writes for one (user, task) pair.
func (t *SessionTracker) lockFor(userID session.UserID, taskID session.TaskID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(taskID))
	return &t.locks[h.Sum32()%lockStripes]
}

// ──────────────────────────────────────────────────────────────────────────────
// OPEN
// ──────────────────────────────────────────────────────────────────────────────

// OpenSessionCommand starts a learning session for a (user, task) pair.
type OpenSessionCommand struct {
	UserID session.UserID
	TaskID session.TaskID

	// At is when the session starts (defaults to now if zero).
	At time.Time
}

// Validate validates the command.
func (c OpenSessionCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.WrapError("session", "Open", shared.ErrInvalidID, "user_id is required", nil)
	}
	if !c.TaskID.IsValid() {
		return shared.WrapError("session", "Open", shared.ErrInvalidID, "task_id is required", nil)
	}
	return nil
}

// OpenSessionResult contains the result of opening a session.
type OpenSessionResult struct {
	SessionID session.SessionID

	// Reused is true when an open session already existed for the pair and
	// was returned instead of creating a second one.
	Reused bool

	StartedAt time.Time
}

// Open opens a session, or returns the existing open one for the pair.
// At most one open session exists per (user, task).
func (t *SessionTracker) Open(ctx context.Context, cmd OpenSessionCommand) (*OpenSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	at := cmd.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	mu := t.lockFor(cmd.UserID, cmd.TaskID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := t.repo.FindOpen(ctx, cmd.UserID, cmd.TaskID)
	if err == nil {
		return &OpenSessionResult{
			SessionID: existing.ID,
			Reused:    true,
			StartedAt: existing.StartedAt,
		}, nil
	}
	if !shared.IsNotFound(err) {
		return nil, fmt.Errorf("open_session: find open: %w", err)
	}

	s, err := session.Open(newSessionID(), cmd.UserID, cmd.TaskID, at)
	if err != nil {
		return nil, err
	}

	if err := t.repo.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("open_session: save: %w", err)
	}

	_ = t.publisher.Publish(shared.NewSessionOpenedEvent(
		s.UserID.String(), s.TaskID.String(), s.ID.String()))

	return &OpenSessionResult{
		SessionID: s.ID,
		StartedAt: s.StartedAt,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// RECORD
// ──────────────────────────────────────────────────────────────────────────────

// RecordInteractionCommand folds one interaction event into its session.
type RecordInteractionCommand struct {
	Event session.InteractionEvent
}

// RecordInteractionResult contains the result of recording an event.
type RecordInteractionResult struct {
	SessionID session.SessionID

	// Opened is true when no session was open for the pair and the event
	// started a new one.
	Opened bool

	Idle            bool
	CreditedActive  float64
	NewlySuspicious bool

	ActiveMinutes float64
	TotalMinutes  float64
}

// Record applies an interaction event to the open session for its (user,
// task) pair, opening one at the event timestamp when none exists. A
// malformed or out-of-order event is rejected whole; the session state is
// untouched.
func (t *SessionTracker) Record(ctx context.Context, cmd RecordInteractionCommand) (*RecordInteractionResult, error) {
	ev := cmd.Event
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	mu := t.lockFor(ev.UserID, ev.TaskID)
	mu.Lock()
	defer mu.Unlock()

	opened := false
	s, err := t.repo.FindOpen(ctx, ev.UserID, ev.TaskID)
	if shared.IsNotFound(err) {
		s, err = session.Open(newSessionID(), ev.UserID, ev.TaskID, ev.At)
		if err != nil {
			return nil, err
		}
		opened = true
	} else if err != nil {
		return nil, fmt.Errorf("record_interaction: find open: %w", err)
	}

	res, err := s.Record(ev, t.guard)
	if err != nil {
		return nil, err
	}

	if err := t.repo.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("record_interaction: save: %w", err)
	}

	if opened {
		_ = t.publisher.Publish(shared.NewSessionOpenedEvent(
			s.UserID.String(), s.TaskID.String(), s.ID.String()))
	}
	if res.NewlySuspicious {
		_ = t.publisher.Publish(shared.NewSessionFlaggedEvent(
			ev.UserID.String(), s.ID.String(), "interaction cadence below human threshold"))
	}

	return &RecordInteractionResult{
		SessionID:       s.ID,
		Opened:          opened,
		Idle:            res.Idle,
		CreditedActive:  res.CreditedActive,
		NewlySuspicious: res.NewlySuspicious,
		ActiveMinutes:   s.ActiveMinutes,
		TotalMinutes:    s.TotalMinutes,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// CLOSE
// ──────────────────────────────────────────────────────────────────────────────

// CloseSessionCommand finalizes the open session for a (user, task) pair.
type CloseSessionCommand struct {
	UserID session.UserID
	TaskID session.TaskID

	// At is the close timestamp (defaults to now if zero).
	At time.Time
}

// Validate validates the command.
func (c CloseSessionCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.WrapError("session", "Close", shared.ErrInvalidID, "user_id is required", nil)
	}
	if !c.TaskID.IsValid() {
		return shared.WrapError("session", "Close", shared.ErrInvalidID, "task_id is required", nil)
	}
	return nil
}

// CloseSessionResult contains the finalized session's contribution.
type CloseSessionResult struct {
	SessionID session.SessionID
	Delta     shared.MetricDelta

	// AlreadyClosed is true when the session was finalized earlier; the
	// prior delta is returned and no event is re-published.
	AlreadyClosed bool
}

// Close finalizes the open session for the pair. Closing an already
// finalized session returns the prior result without emitting a second
// metric delta, so downstream accounting stays exactly-once.
func (t *SessionTracker) Close(ctx context.Context, cmd CloseSessionCommand) (*CloseSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	at := cmd.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	mu := t.lockFor(cmd.UserID, cmd.TaskID)
	mu.Lock()
	defer mu.Unlock()

	s, err := t.repo.FindOpen(ctx, cmd.UserID, cmd.TaskID)
	if shared.IsNotFound(err) {
		// No open session: report the most recent finalized one, if any.
		prior, rerr := t.repo.FindRecentClosed(ctx, cmd.UserID, cmd.TaskID)
		if rerr == nil {
			return &CloseSessionResult{
				SessionID:     prior.ID,
				Delta:         prior.Delta(),
				AlreadyClosed: true,
			}, nil
		}
		return nil, shared.ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("close_session: find open: %w", err)
	}

	delta, err := s.Close(at, t.guard)
	if err != nil {
		return nil, err
	}

	if err := t.repo.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("close_session: save: %w", err)
	}

	_ = t.publisher.Publish(shared.NewSessionClosedEvent(delta, false))

	return &CloseSessionResult{
		SessionID: s.ID,
		Delta:     delta,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// SWEEP
// ──────────────────────────────────────────────────────────────────────────────

// SweepResult summarizes one idle-sweep pass.
type SweepResult struct {
	Scanned int
	Expired int
	Errors  int
}

// Sweep expires open sessions with no activity for the idle timeout. The
// trailing idle gap is credited to total minutes only, same as an explicit
// close. Called periodically by the scheduler.
func (t *SessionTracker) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	cutoff := now.Add(-t.idleTimeout)

	idle, err := t.repo.ListIdleOpen(ctx, cutoff, t.sweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("sweep_sessions: list idle: %w", err)
	}

	result := &SweepResult{Scanned: len(idle)}
	for _, s := range idle {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := t.expireOne(ctx, s, now); err != nil {
			result.Errors++
			continue
		}
		result.Expired++
	}

	return result, nil
}

func (t *SessionTracker) expireOne(ctx context.Context, stale *session.LearningSession, now time.Time) error {
	mu := t.lockFor(stale.UserID, stale.TaskID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock: a concurrent event or close may have raced
	// the sweep's listing.
	s, err := t.repo.FindByID(ctx, stale.ID)
	if err != nil {
		return err
	}
	if !s.IdleSince(now.Add(-t.idleTimeout)) {
		return nil
	}

	delta, err := s.Expire(now, t.guard)
	if err != nil {
		return err
	}

	if err := t.repo.Save(ctx, s); err != nil {
		return err
	}

	_ = t.publisher.Publish(shared.NewSessionClosedEvent(delta, true))
	return nil
}

func newSessionID() session.SessionID {
	return session.SessionID(uuid.NewString())
}
