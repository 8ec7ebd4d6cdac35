package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failingOp(context.Context) error { return errBoom }
func okOp(context.Context) error      { return nil }

func testBreaker(timeout time.Duration) *CircuitBreaker {
	return New(Config{
		Name:                "test",
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             timeout,
		MaxHalfOpenRequests: 1,
	})
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := testBreaker(time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, cb.Execute(ctx, okOp))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := testBreaker(time.Minute)
	ctx := context.Background()

	require.ErrorIs(t, cb.Execute(ctx, failingOp), errBoom)
	assert.Equal(t, StateClosed, cb.State())

	require.ErrorIs(t, cb.Execute(ctx, failingOp), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	// An open breaker rejects without running the operation.
	ran := false
	err := cb.Execute(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := testBreaker(time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	require.NoError(t, cb.Execute(ctx, okOp))
	require.Error(t, cb.Execute(ctx, failingOp))

	// One failure after a success does not reach the threshold of two.
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := testBreaker(10 * time.Millisecond)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	require.Error(t, cb.Execute(ctx, failingOp))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Two probe successes close the circuit again.
	require.NoError(t, cb.Execute(ctx, okOp))
	require.NoError(t, cb.Execute(ctx, okOp))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReleasesProbeSlotAfterCompletion(t *testing.T) {
	cb := testBreaker(10 * time.Millisecond)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	require.Error(t, cb.Execute(ctx, failingOp))
	time.Sleep(15 * time.Millisecond)

	// One success is not enough to close the circuit, but the completed
	// request must free its slot for the next one.
	require.NoError(t, cb.Execute(ctx, okOp))
	require.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, okOp))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := testBreaker(10 * time.Millisecond)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	require.Error(t, cb.Execute(ctx, failingOp))

	time.Sleep(15 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.ErrorIs(t, cb.Execute(ctx, failingOp), errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerLimitsHalfOpenProbes(t *testing.T) {
	cb := testBreaker(10 * time.Millisecond)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	require.Error(t, cb.Execute(ctx, failingOp))
	time.Sleep(15 * time.Millisecond)

	// The first probe slot is taken by a slow request; a second concurrent
	// probe is rejected.
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			<-release
			return nil
		})
	}()

	time.Sleep(5 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(ctx, okOp), ErrTooManyRequests)

	close(release)
	require.NoError(t, <-done)
}

func TestBreakerIsFailurePredicate(t *testing.T) {
	benign := errors.New("not found")
	cb := New(Config{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		IsFailure: func(err error) bool {
			return !errors.Is(err, benign)
		},
	})
	ctx := context.Background()

	// Errors the predicate rules benign never trip the breaker.
	for i := 0; i < 5; i++ {
		require.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return benign }), benign)
	}
	assert.Equal(t, StateClosed, cb.State())

	require.Error(t, cb.Execute(ctx, failingOp))
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerOnStateChange(t *testing.T) {
	var changes []string
	cb := New(Config{
		Name:             "notify",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(name string, from, to State) {
			changes = append(changes, from.String()+">"+to.String())
		},
	})

	require.Error(t, cb.Execute(context.Background(), failingOp))
	assert.Equal(t, []string{"closed>open"}, changes)
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig("svc")
	assert.Equal(t, "svc", cfg.Name)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 2, cfg.SuccessThreshold)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.MaxHalfOpenRequests)
}
