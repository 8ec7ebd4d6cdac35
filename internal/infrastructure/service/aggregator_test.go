package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensai-hub/active-learning-core/internal/domain/leaderboard"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

// ──────────────────────────────────────────────────────────────────────────────
// FAKES
// ──────────────────────────────────────────────────────────────────────────────

type fakeCache struct {
	mu      sync.Mutex
	rows    map[string]*leaderboard.CacheRow
	version uint64
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{rows: make(map[string]*leaderboard.CacheRow)}
}

func (c *fakeCache) Get(_ context.Context, key leaderboard.Key) (*leaderboard.CacheRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[key.String()]
	if !ok {
		return nil, shared.ErrLeaderboardNotFound
	}
	cp := *row
	return &cp, nil
}

func (c *fakeCache) Put(_ context.Context, row leaderboard.CacheRow) (*leaderboard.CacheRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.puts++
	row.Version = c.version
	row.Stale = false
	cp := row
	c.rows[row.Key.String()] = &cp
	out := row
	return &out, nil
}

func (c *fakeCache) Invalidate(_ context.Context, key leaderboard.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if row, ok := c.rows[key.String()]; ok {
		row.Stale = true
	}
	return nil
}

func (c *fakeCache) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, row := range c.rows {
		if row.WindowStart.Before(cutoff) {
			delete(c.rows, k)
			n++
		}
	}
	return n, nil
}

type fakeGuard struct {
	acquired   bool
	acquireErr error
	acquires   int
	releases   int
}

func (g *fakeGuard) TryAcquire(_ context.Context, _ leaderboard.Key, _ time.Duration) (bool, error) {
	g.acquires++
	if g.acquireErr != nil {
		return false, g.acquireErr
	}
	return g.acquired, nil
}

func (g *fakeGuard) Release(_ context.Context, _ leaderboard.Key) error {
	g.releases++
	return nil
}

type fakeDirectory struct {
	members map[string][]string
	scopes  map[string][]leaderboard.Key
	err     error
}

func (d *fakeDirectory) MembersOf(_ context.Context, scope leaderboard.ScopeType, scopeID string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.members[string(scope)+":"+scopeID], nil
}

func (d *fakeDirectory) ScopesOf(_ context.Context, userID string) ([]leaderboard.Key, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.scopes[userID], nil
}

type fakeMetrics struct {
	metrics map[string]leaderboard.UserMetrics
	err     error
	calls   int
}

func (m *fakeMetrics) MetricsForUsers(_ context.Context, userIDs []string, _ leaderboard.Window) ([]leaderboard.UserMetrics, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []leaderboard.UserMetrics
	for _, id := range userIDs {
		if um, ok := m.metrics[id]; ok {
			out = append(out, um)
		}
	}
	return out, nil
}

type fakeActivity struct {
	users []string
	err   error
}

func (a *fakeActivity) ActiveUsers(_ context.Context, _ leaderboard.Window, _ time.Time, limit int) ([]string, error) {
	if a.err != nil {
		return nil, a.err
	}
	if limit > 0 && len(a.users) > limit {
		return a.users[:limit], nil
	}
	return a.users, nil
}

type aggFixture struct {
	cache     *fakeCache
	guard     *fakeGuard
	directory *fakeDirectory
	metrics   *fakeMetrics
	activity  *fakeActivity
	agg       *LeaderboardAggregator
}

func newAggFixture() *aggFixture {
	f := &aggFixture{
		cache: newFakeCache(),
		guard: &fakeGuard{acquired: true},
		directory: &fakeDirectory{
			members: map[string][]string{"cohort:c1": {"u1", "u2"}},
			scopes:  map[string][]leaderboard.Key{},
		},
		metrics: &fakeMetrics{metrics: map[string]leaderboard.UserMetrics{
			"u1": {UserID: "u1", DisplayName: "Aida", ActiveMinutes: 200},
			"u2": {UserID: "u2", DisplayName: "Bekzat", ActiveMinutes: 100},
			"u3": {UserID: "u3", DisplayName: "Carl", ActiveMinutes: 50},
		}},
		activity: &fakeActivity{users: []string{"u1", "u2", "u3"}},
	}

	cfg := DefaultAggregatorConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	f.agg = NewLeaderboardAggregator(f.cache, f.guard, f.directory, f.metrics, f.activity, cfg)
	return f
}

func cohortKey(t *testing.T) leaderboard.Key {
	t.Helper()
	key, err := leaderboard.NewKey(leaderboard.ScopeCohort, "c1", leaderboard.WindowWeekly)
	require.NoError(t, err)
	return key
}

// ──────────────────────────────────────────────────────────────────────────────
// GET
// ──────────────────────────────────────────────────────────────────────────────

func TestAggregatorGetRecomputesOnMiss(t *testing.T) {
	f := newAggFixture()
	key := cohortKey(t)

	row, err := f.agg.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), row.Version)
	assert.Equal(t, 2, row.TotalParticipants)

	// Ranked by score descending, names intact for a non-global scope.
	require.Len(t, row.Entries, 2)
	assert.Equal(t, "u1", row.Entries[0].UserID)
	assert.Equal(t, 1, row.Entries[0].Rank)
	assert.Equal(t, "u2", row.Entries[1].UserID)
	assert.Equal(t, 2, row.Entries[1].Rank)

	// The guard bracketed the recompute.
	assert.Equal(t, 1, f.guard.acquires)
	assert.Equal(t, 1, f.guard.releases)
}

func TestAggregatorGetServesFreshFromCache(t *testing.T) {
	f := newAggFixture()
	key := cohortKey(t)
	ctx := context.Background()

	_, err := f.agg.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, f.metrics.calls)

	row, err := f.agg.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), row.Version)
	assert.Equal(t, 1, f.metrics.calls)
	assert.Equal(t, 1, f.cache.puts)
}

func TestAggregatorGetServesStaleWhenGuardBusy(t *testing.T) {
	f := newAggFixture()
	key := cohortKey(t)
	ctx := context.Background()

	first, err := f.agg.Get(ctx, key)
	require.NoError(t, err)
	require.NoError(t, f.cache.Invalidate(ctx, key))

	// Another recompute holds the lock: the reader gets the stale row
	// instead of waiting or failing.
	f.guard.acquired = false
	row, err := f.agg.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.Version, row.Version)
	assert.True(t, row.Stale)
}

func TestAggregatorGetMissWhileGuardBusy(t *testing.T) {
	f := newAggFixture()
	f.guard.acquired = false

	_, err := f.agg.Get(context.Background(), cohortKey(t))
	assert.ErrorIs(t, err, shared.ErrRecomputeInFlight)
}

func TestAggregatorGetServesStaleWhenGuardDown(t *testing.T) {
	f := newAggFixture()
	key := cohortKey(t)
	ctx := context.Background()

	first, err := f.agg.Get(ctx, key)
	require.NoError(t, err)
	require.NoError(t, f.cache.Invalidate(ctx, key))

	f.guard.acquireErr = errors.New("redis down")
	row, err := f.agg.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.Version, row.Version)
}

func TestAggregatorGetServesStaleWhenRecomputeFails(t *testing.T) {
	f := newAggFixture()
	key := cohortKey(t)
	ctx := context.Background()

	first, err := f.agg.Get(ctx, key)
	require.NoError(t, err)
	require.NoError(t, f.cache.Invalidate(ctx, key))

	f.metrics.err = errors.New("postgres down")
	row, err := f.agg.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.Version, row.Version)
}

func TestAggregatorGlobalBoardIsAnonymous(t *testing.T) {
	f := newAggFixture()
	key, err := leaderboard.NewKey(leaderboard.ScopeGlobal, "", leaderboard.WindowWeekly)
	require.NoError(t, err)

	row, err := f.agg.Get(context.Background(), key)
	require.NoError(t, err)

	// Members come from recorded activity, not the directory, and the
	// entries expose rank and score only.
	assert.Equal(t, 3, row.TotalParticipants)
	for _, e := range row.Entries {
		assert.Empty(t, e.UserID)
		assert.Empty(t, e.DisplayName)
		assert.NotZero(t, e.Rank)
	}
}

func TestAggregatorEmptyScope(t *testing.T) {
	f := newAggFixture()
	key, err := leaderboard.NewKey(leaderboard.ScopeCohort, "empty", leaderboard.WindowWeekly)
	require.NoError(t, err)

	row, err := f.agg.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, row.Entries)
	assert.Zero(t, row.TotalParticipants)
	assert.Zero(t, f.metrics.calls)
}

// ──────────────────────────────────────────────────────────────────────────────
// INVALIDATE
// ──────────────────────────────────────────────────────────────────────────────

func TestAggregatorInvalidateMarksScopedRowsStale(t *testing.T) {
	f := newAggFixture()
	key := cohortKey(t)
	ctx := context.Background()

	_, err := f.agg.Get(ctx, key)
	require.NoError(t, err)

	monthly, err := leaderboard.NewKey(leaderboard.ScopeCohort, "c1", leaderboard.WindowMonthly)
	require.NoError(t, err)
	f.directory.scopes["u1"] = []leaderboard.Key{key, monthly}

	// Only the weekly window changed; the monthly row stays fresh.
	require.NoError(t, f.agg.Invalidate(ctx, "u1", []leaderboard.Window{leaderboard.WindowWeekly}))

	row, err := f.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, row.Stale)
}

func TestAggregatorInvalidateFallsBackToGlobalWhenDirectoryDown(t *testing.T) {
	f := newAggFixture()
	ctx := context.Background()

	global, err := leaderboard.NewKey(leaderboard.ScopeGlobal, "", leaderboard.WindowWeekly)
	require.NoError(t, err)
	_, err = f.agg.Get(ctx, global)
	require.NoError(t, err)

	f.directory.err = errors.New("directory down")
	err = f.agg.Invalidate(ctx, "u1", []leaderboard.Window{leaderboard.WindowWeekly})
	assert.True(t, shared.IsRetryable(err))

	// The global row is still invalidated despite the directory failure.
	row, err := f.cache.Get(ctx, global)
	require.NoError(t, err)
	assert.True(t, row.Stale)
}

// ──────────────────────────────────────────────────────────────────────────────
// RECOMPUTE
// ──────────────────────────────────────────────────────────────────────────────

func TestAggregatorRecomputeBypassesFreshness(t *testing.T) {
	f := newAggFixture()
	key := cohortKey(t)
	ctx := context.Background()

	first, err := f.agg.Get(ctx, key)
	require.NoError(t, err)

	row, err := f.agg.Recompute(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.Version+1, row.Version)
	assert.Equal(t, 2, f.metrics.calls)
}

func TestAggregatorRecomputeHonorsGuard(t *testing.T) {
	f := newAggFixture()
	f.guard.acquired = false

	_, err := f.agg.Recompute(context.Background(), cohortKey(t))
	assert.ErrorIs(t, err, shared.ErrRecomputeInFlight)
}
