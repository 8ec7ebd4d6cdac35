package command

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensai-hub/active-learning-core/internal/domain/session"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ──────────────────────────────────────────────────────────────────────────────
// FAKES
// ──────────────────────────────────────────────────────────────────────────────

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[session.SessionID]*session.LearningSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[session.SessionID]*session.LearningSession)}
}

func (r *fakeSessionRepo) Save(_ context.Context, s *session.LearningSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) FindByID(_ context.Context, id session.SessionID) (*session.LearningSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) FindOpen(_ context.Context, userID session.UserID, taskID session.TaskID) (*session.LearningSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.TaskID == taskID && s.Status == session.StatusOpen {
			cp := *s
			return &cp, nil
		}
	}
	return nil, shared.ErrSessionNotFound
}

func (r *fakeSessionRepo) ListIdleOpen(_ context.Context, cutoff time.Time, limit int) ([]*session.LearningSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*session.LearningSession
	for _, s := range r.sessions {
		if s.Status == session.StatusOpen && !s.LastActivityAt.After(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSessionRepo) ListRecent(_ context.Context, userID session.UserID, limit int) ([]*session.LearningSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*session.LearningSession
	for _, s := range r.sessions {
		if s.UserID == userID && s.Status != session.StatusOpen {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClosedAt != nil && out[j].ClosedAt != nil && out[i].ClosedAt.After(*out[j].ClosedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSessionRepo) FindRecentClosed(_ context.Context, userID session.UserID, taskID session.TaskID) (*session.LearningSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *session.LearningSession
	for _, s := range r.sessions {
		if s.UserID != userID || s.TaskID != taskID || s.Status == session.StatusOpen {
			continue
		}
		if latest == nil || (s.ClosedAt != nil && latest.ClosedAt != nil && s.ClosedAt.After(*latest.ClosedAt)) {
			cp := *s
			latest = &cp
		}
	}
	if latest == nil {
		return nil, shared.ErrSessionNotFound
	}
	return latest, nil
}

func (r *fakeSessionRepo) AggregateFor(_ context.Context, userID session.UserID, _ shared.TimeWindow) (session.Aggregate, error) {
	return session.Aggregate{UserID: userID}, nil
}

func (r *fakeSessionRepo) AggregateForUsers(_ context.Context, _ []session.UserID, _ shared.TimeWindow) (map[session.UserID]session.Aggregate, error) {
	return map[session.UserID]session.Aggregate{}, nil
}

func (r *fakeSessionRepo) ListActiveUsers(_ context.Context, _ shared.TimeWindow, _ int) ([]session.UserID, error) {
	return nil, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturePublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestTracker(repo session.Repository, pub shared.EventPublisher) *SessionTracker {
	return NewSessionTracker(repo, pub, DefaultSessionTrackerConfig())
}

// ──────────────────────────────────────────────────────────────────────────────
// OPEN
// ──────────────────────────────────────────────────────────────────────────────

func TestOpenSession(t *testing.T) {
	repo := newFakeSessionRepo()
	pub := &capturePublisher{}
	tracker := newTestTracker(repo, pub)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	first, err := tracker.Open(ctx, OpenSessionCommand{UserID: "u1", TaskID: "t1", At: start})
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.Equal(t, start, first.StartedAt)

	// A second open for the same pair returns the existing session.
	second, err := tracker.Open(ctx, OpenSessionCommand{UserID: "u1", TaskID: "t1", At: start.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, start, second.StartedAt)

	// A different task opens independently.
	other, err := tracker.Open(ctx, OpenSessionCommand{UserID: "u1", TaskID: "t2", At: start})
	require.NoError(t, err)
	assert.False(t, other.Reused)
	assert.NotEqual(t, first.SessionID, other.SessionID)

	assert.Len(t, pub.byType(shared.EventSessionOpened), 2)
}

func TestOpenSessionValidation(t *testing.T) {
	tracker := newTestTracker(newFakeSessionRepo(), &capturePublisher{})

	_, err := tracker.Open(context.Background(), OpenSessionCommand{TaskID: "t1"})
	assert.True(t, shared.IsValidation(err))

	_, err = tracker.Open(context.Background(), OpenSessionCommand{UserID: "u1"})
	assert.True(t, shared.IsValidation(err))
}

// ──────────────────────────────────────────────────────────────────────────────
// RECORD
// ──────────────────────────────────────────────────────────────────────────────

func TestRecordAutoOpens(t *testing.T) {
	repo := newFakeSessionRepo()
	pub := &capturePublisher{}
	tracker := newTestTracker(repo, pub)
	ctx := context.Background()

	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	res, err := tracker.Record(ctx, RecordInteractionCommand{Event: session.InteractionEvent{
		UserID: "u1", TaskID: "t1", At: at, Kind: session.KindChatMessage, ContentLength: 60,
	}})
	require.NoError(t, err)
	assert.True(t, res.Opened)
	assert.Len(t, pub.byType(shared.EventSessionOpened), 1)
}

func TestRecordAccruesActiveMinutes(t *testing.T) {
	repo := newFakeSessionRepo()
	tracker := newTestTracker(repo, &capturePublisher{})
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := tracker.Open(ctx, OpenSessionCommand{UserID: "u1", TaskID: "t1", At: start})
	require.NoError(t, err)

	res, err := tracker.Record(ctx, RecordInteractionCommand{Event: session.InteractionEvent{
		UserID: "u1", TaskID: "t1", At: start.Add(time.Minute), Kind: session.KindCodeSubmission,
	}})
	require.NoError(t, err)
	assert.False(t, res.Idle)
	assert.InDelta(t, 1.0, res.CreditedActive, 0.01)
	assert.InDelta(t, 1.0, res.ActiveMinutes, 0.01)
	assert.InDelta(t, 1.0, res.TotalMinutes, 0.01)
}

func TestRecordIdleGapEarnsNoActiveCredit(t *testing.T) {
	repo := newFakeSessionRepo()
	tracker := newTestTracker(repo, &capturePublisher{})
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := tracker.Open(ctx, OpenSessionCommand{UserID: "u1", TaskID: "t1", At: start})
	require.NoError(t, err)

	// Ten minutes of silence exceeds the idle threshold.
	res, err := tracker.Record(ctx, RecordInteractionCommand{Event: session.InteractionEvent{
		UserID: "u1", TaskID: "t1", At: start.Add(10 * time.Minute), Kind: session.KindChatMessage, ContentLength: 40,
	}})
	require.NoError(t, err)
	assert.True(t, res.Idle)
	assert.Zero(t, res.CreditedActive)
	assert.Zero(t, res.ActiveMinutes)
	assert.InDelta(t, 10.0, res.TotalMinutes, 0.01)
}

func TestRecordRejectsOutOfOrder(t *testing.T) {
	repo := newFakeSessionRepo()
	tracker := newTestTracker(repo, &capturePublisher{})
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := tracker.Record(ctx, RecordInteractionCommand{Event: session.InteractionEvent{
		UserID: "u1", TaskID: "t1", At: start.Add(time.Minute), Kind: session.KindChatMessage, ContentLength: 20,
	}})
	require.NoError(t, err)

	// An event before the last activity is rejected whole.
	_, err = tracker.Record(ctx, RecordInteractionCommand{Event: session.InteractionEvent{
		UserID: "u1", TaskID: "t1", At: start, Kind: session.KindChatMessage, ContentLength: 20,
	}})
	assert.True(t, shared.IsValidation(err))

	// Session state is untouched by the rejection.
	s, err := repo.FindOpen(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Interactions)
}

func TestRecordFlagsRoboticCadence(t *testing.T) {
	repo := newFakeSessionRepo()
	pub := &capturePublisher{}
	tracker := newTestTracker(repo, pub)
	ctx := context.Background()

	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := tracker.Open(ctx, OpenSessionCommand{UserID: "u1", TaskID: "t1", At: at})
	require.NoError(t, err)

	flagged := 0
	for i := 0; i < 8; i++ {
		at = at.Add(500 * time.Millisecond)
		res, err := tracker.Record(ctx, RecordInteractionCommand{Event: session.InteractionEvent{
			UserID: "u1", TaskID: "t1", At: at, Kind: session.KindNavigation,
		}})
		require.NoError(t, err)
		if res.NewlySuspicious {
			flagged++
		}
	}

	// The guard trips exactly once per session.
	assert.Equal(t, 1, flagged)
	assert.Len(t, pub.byType(shared.EventSessionFlagged), 1)
}

// ──────────────────────────────────────────────────────────────────────────────
// CLOSE
// ──────────────────────────────────────────────────────────────────────────────

func TestCloseSession(t *testing.T) {
	repo := newFakeSessionRepo()
	pub := &capturePublisher{}
	tracker := newTestTracker(repo, pub)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := tracker.Open(ctx, OpenSessionCommand{UserID: "u1", TaskID: "t1", At: start})
	require.NoError(t, err)
	_, err = tracker.Record(ctx, RecordInteractionCommand{Event: session.InteractionEvent{
		UserID: "u1", TaskID: "t1", At: start.Add(time.Minute), Kind: session.KindChatMessage, ContentLength: 60,
	}})
	require.NoError(t, err)

	res, err := tracker.Close(ctx, CloseSessionCommand{UserID: "u1", TaskID: "t1", At: start.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.False(t, res.AlreadyClosed)
	assert.Equal(t, "u1", res.Delta.UserID)
	assert.InDelta(t, 1.0, res.Delta.ActiveMinutes, 0.01)
	assert.InDelta(t, 2.0, res.Delta.TotalMinutes, 0.01)
	assert.Len(t, pub.byType(shared.EventSessionClosed), 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	repo := newFakeSessionRepo()
	pub := &capturePublisher{}
	tracker := newTestTracker(repo, pub)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := tracker.Open(ctx, OpenSessionCommand{UserID: "u1", TaskID: "t1", At: start})
	require.NoError(t, err)

	first, err := tracker.Close(ctx, CloseSessionCommand{UserID: "u1", TaskID: "t1", At: start.Add(time.Minute)})
	require.NoError(t, err)

	second, err := tracker.Close(ctx, CloseSessionCommand{UserID: "u1", TaskID: "t1", At: start.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, second.AlreadyClosed)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.Delta, second.Delta)

	// No second close event: downstream accounting stays exactly-once.
	assert.Len(t, pub.byType(shared.EventSessionClosed), 1)
}

func TestCloseIsIdempotentAcrossTasks(t *testing.T) {
	repo := newFakeSessionRepo()
	pub := &capturePublisher{}
	tracker := newTestTracker(repo, pub)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := tracker.Open(ctx, OpenSessionCommand{UserID: "u1", TaskID: "t1", At: start})
	require.NoError(t, err)
	first, err := tracker.Close(ctx, CloseSessionCommand{UserID: "u1", TaskID: "t1", At: start.Add(time.Minute)})
	require.NoError(t, err)

	// Another task is opened and closed in between. The repeated close for
	// the first task must still find its own finalized session.
	_, err = tracker.Open(ctx, OpenSessionCommand{UserID: "u1", TaskID: "t2", At: start.Add(2 * time.Minute)})
	require.NoError(t, err)
	_, err = tracker.Close(ctx, CloseSessionCommand{UserID: "u1", TaskID: "t2", At: start.Add(3 * time.Minute)})
	require.NoError(t, err)

	again, err := tracker.Close(ctx, CloseSessionCommand{UserID: "u1", TaskID: "t1", At: start.Add(4 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, again.AlreadyClosed)
	assert.Equal(t, first.SessionID, again.SessionID)
	assert.Equal(t, first.Delta, again.Delta)
}

func TestCloseUnknownSession(t *testing.T) {
	tracker := newTestTracker(newFakeSessionRepo(), &capturePublisher{})

	_, err := tracker.Close(context.Background(), CloseSessionCommand{UserID: "u1", TaskID: "t1"})
	assert.True(t, shared.IsNotFound(err))
}

// ──────────────────────────────────────────────────────────────────────────────
// SWEEP
// ──────────────────────────────────────────────────────────────────────────────

func TestSweepExpiresIdleSessions(t *testing.T) {
	repo := newFakeSessionRepo()
	pub := &capturePublisher{}
	tracker := newTestTracker(repo, pub)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := tracker.Open(ctx, OpenSessionCommand{UserID: "idle", TaskID: "t1", At: start})
	require.NoError(t, err)
	_, err = tracker.Open(ctx, OpenSessionCommand{UserID: "busy", TaskID: "t1", At: start})
	require.NoError(t, err)

	now := start.Add(45 * time.Minute)
	_, err = tracker.Record(ctx, RecordInteractionCommand{Event: session.InteractionEvent{
		UserID: "busy", TaskID: "t1", At: now.Add(-time.Minute), Kind: session.KindChatMessage, ContentLength: 30,
	}})
	require.NoError(t, err)

	result, err := tracker.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Expired)
	assert.Zero(t, result.Errors)

	// The idle session is finalized as expired.
	_, err = repo.FindOpen(ctx, "idle", "t1")
	assert.True(t, shared.IsNotFound(err))

	// The active one survives.
	_, err = repo.FindOpen(ctx, "busy", "t1")
	assert.NoError(t, err)

	expired := pub.byType(shared.EventSessionExpired)
	require.Len(t, expired, 1)
	closed, ok := expired[0].(shared.SessionClosedEvent)
	require.True(t, ok)
	assert.True(t, closed.Expired)
	assert.Equal(t, "idle", closed.Delta.UserID)
}
