package quest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

func weekWindow(t *testing.T) shared.TimeWindow {
	t.Helper()
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	w, err := shared.NewTimeWindow(start, start.AddDate(0, 0, 7))
	require.NoError(t, err)
	return w
}

func testDefinition(t *testing.T) *Definition {
	t.Helper()
	def, err := NewDefinition("quest-1", "Weekly Grind", weekWindow(t), []Requirement{
		{Kind: ReqActiveMinutes, Threshold: 120},
		{Kind: ReqDPPasses, Threshold: 3},
		{Kind: ReqPeerReviews, Threshold: 1},
	}, DefaultReward())
	require.NoError(t, err)
	return def
}

func TestNewDefinition_Validation(t *testing.T) {
	w := weekWindow(t)

	_, err := NewDefinition("", "x", w, DefaultRequirements(), DefaultReward())
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = NewDefinition("q", "x", w, nil, DefaultReward())
	assert.ErrorIs(t, err, shared.ErrEmptyValue)

	_, err = NewDefinition("q", "x", w, []Requirement{{Kind: "nonsense", Threshold: 1}}, DefaultReward())
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = NewDefinition("q", "x", w, []Requirement{{Kind: ReqDPPasses, Threshold: 0}}, DefaultReward())
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	_, err = NewDefinition("q", "x", w, []Requirement{
		{Kind: ReqDPPasses, Threshold: 3},
		{Kind: ReqDPPasses, Threshold: 5},
	}, DefaultReward())
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

// The reference scenario: 90/3/1 against 120/3/1 gives fractions
// {0.75, 1.0, 1.0} and no completion.
func TestEvaluate_PartialProgress(t *testing.T) {
	def := testDefinition(t)
	now := def.Window.Start.Add(24 * time.Hour)
	c := NewCompletion("c-1", "user-1", def.ID, now)

	done, err := c.Evaluate(def, MetricsSnapshot{
		ActiveMinutes: 90,
		DPPasses:      3,
		PeerReviews:   1,
	}, now)
	require.NoError(t, err)

	assert.False(t, done)
	assert.False(t, c.IsCompleted)
	assert.InDelta(t, 0.75, c.Progress[ReqActiveMinutes].Fraction, 1e-9)
	assert.InDelta(t, 1.0, c.Progress[ReqDPPasses].Fraction, 1e-9)
	assert.InDelta(t, 1.0, c.Progress[ReqPeerReviews].Fraction, 1e-9)
}

func TestEvaluate_CompletionIsMonotonic(t *testing.T) {
	def := testDefinition(t)
	now := def.Window.Start.Add(24 * time.Hour)
	c := NewCompletion("c-1", "user-1", def.ID, now)

	full := MetricsSnapshot{ActiveMinutes: 150, DPPasses: 4, PeerReviews: 2}
	done, err := c.Evaluate(def, full, now)
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, c.IsCompleted)
	assert.Equal(t, def.Reward.Points, c.PointsEarned)
	firstCompletedAt := *c.CompletedAt

	// Metrics dropping afterwards must not revert completion, and the
	// transition must not fire a second time.
	done, err = c.Evaluate(def, MetricsSnapshot{}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, done)
	assert.True(t, c.IsCompleted)
	assert.Equal(t, firstCompletedAt, *c.CompletedAt)
}

func TestEvaluate_ProgressCapsAtOne(t *testing.T) {
	def := testDefinition(t)
	now := def.Window.Start
	c := NewCompletion("c-1", "user-1", def.ID, now)

	_, err := c.Evaluate(def, MetricsSnapshot{ActiveMinutes: 600, DPPasses: 1}, now)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c.Progress[ReqActiveMinutes].Fraction, 1e-9)
}

func TestCurrentValue_UnknownKind(t *testing.T) {
	_, err := CurrentValue("made_up", MetricsSnapshot{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestDefinition_Scoping(t *testing.T) {
	def := testDefinition(t)
	assert.True(t, def.AppliesTo("cohort-7"))

	def.CohortID = "cohort-7"
	assert.True(t, def.AppliesTo("cohort-7"))
	assert.False(t, def.AppliesTo("cohort-8"))

	assert.True(t, def.ActiveAt(def.Window.Start))
	assert.False(t, def.ActiveAt(def.Window.End))
}

func TestCompletion_Archive(t *testing.T) {
	def := testDefinition(t)
	c := NewCompletion("c-1", "user-1", def.ID, def.Window.Start)

	c.Archive(def.Window.End)
	assert.True(t, c.Archived)

	stamp := c.UpdatedAt
	c.Archive(def.Window.End.Add(time.Hour))
	assert.Equal(t, stamp, c.UpdatedAt)
}
