package messaging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

func fastRetryDispatcher(maxRetries int) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		RetryConfig: RetryConfig{
			MaxRetries:        maxRetries,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		DeadLetterQueueSize: 10,
		Logger:              discardLogger(),
	})
}

func TestDispatcherRunsHandlersInOrder(t *testing.T) {
	d := fastRetryDispatcher(0)

	var order []string
	require.NoError(t, d.Register(shared.EventSessionClosed, "first", func(shared.Event) error {
		order = append(order, "first")
		return nil
	}))
	require.NoError(t, d.Register(shared.EventSessionClosed, "second", func(shared.Event) error {
		order = append(order, "second")
		return nil
	}))

	delta := shared.MetricDelta{UserID: "u1", TaskID: "t1", SessionID: "s1"}
	require.NoError(t, d.Dispatch(shared.NewSessionClosedEvent(delta, false)))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	d := fastRetryDispatcher(3)

	attempts := 0
	require.NoError(t, d.Register(shared.EventSessionClosed, "flaky", func(shared.Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	err := d.Dispatch(shared.NewSessionClosedEvent(shared.MetricDelta{UserID: "u1"}, false))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Zero(t, d.DeadLetterQueue().Size())
}

func TestDispatcherDeadLettersAfterExhaustion(t *testing.T) {
	d := fastRetryDispatcher(2)

	attempts := 0
	require.NoError(t, d.Register(shared.EventSessionClosed, "broken", func(shared.Event) error {
		attempts++
		return errors.New("permanent")
	}))

	err := d.Dispatch(shared.NewSessionClosedEvent(shared.MetricDelta{UserID: "u1"}, false))
	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	require.Equal(t, 1, d.DeadLetterQueue().Size())
	entry, ok := d.DeadLetterQueue().Pop()
	require.True(t, ok)
	assert.Equal(t, "broken", entry.HandlerName)
	assert.Equal(t, 3, entry.Attempts)
	assert.Equal(t, shared.EventSessionClosed, entry.Event.EventType())
	assert.Zero(t, d.DeadLetterQueue().Size())
}

func TestDispatcherFailureDoesNotSkipLaterHandlers(t *testing.T) {
	d := fastRetryDispatcher(0)

	var later bool
	require.NoError(t, d.Register(shared.EventSessionClosed, "broken", func(shared.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, d.Register(shared.EventSessionClosed, "later", func(shared.Event) error {
		later = true
		return nil
	}))

	err := d.Dispatch(shared.NewSessionClosedEvent(shared.MetricDelta{UserID: "u1"}, false))
	assert.Error(t, err)
	assert.True(t, later)
}

func TestDispatcherIgnoresUnregisteredTypes(t *testing.T) {
	d := fastRetryDispatcher(0)
	assert.NoError(t, d.Dispatch(shared.NewSessionOpenedEvent("u1", "t1", "s1")))
}

func TestDispatcherRejectsNilHandler(t *testing.T) {
	d := fastRetryDispatcher(0)
	assert.Error(t, d.Register(shared.EventSessionClosed, "nil", nil))
}

func TestDispatcherAttach(t *testing.T) {
	d := fastRetryDispatcher(0)
	bus := syncBus(t)
	require.NoError(t, d.Attach(bus))

	var got shared.EventType
	require.NoError(t, d.Register(shared.EventSessionFlagged, "capture", func(e shared.Event) error {
		got = e.EventType()
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewSessionFlaggedEvent("u1", "s1", "cadence")))
	assert.Equal(t, shared.EventSessionFlagged, got)
}

func TestDispatcherMiddlewareWrapsHandlers(t *testing.T) {
	d := fastRetryDispatcher(0)

	var order []string
	d.Use(func(next shared.EventHandler) shared.EventHandler {
		return func(e shared.Event) error {
			order = append(order, "before")
			err := next(e)
			order = append(order, "after")
			return err
		}
	})
	require.NoError(t, d.Register(shared.EventSessionClosed, "inner", func(shared.Event) error {
		order = append(order, "inner")
		return nil
	}))

	require.NoError(t, d.Dispatch(shared.NewSessionClosedEvent(shared.MetricDelta{UserID: "u1"}, false)))
	assert.Equal(t, []string{"before", "inner", "after"}, order)
}

func TestDeadLetterQueueEviction(t *testing.T) {
	q := NewDeadLetterQueue(2)
	for i := 0; i < 3; i++ {
		q.Add(DeadLetterEntry{HandlerName: string(rune('a' + i)), FailedAt: time.Now()})
	}

	// Oldest entry is evicted once the queue is full.
	entries := q.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].HandlerName)
	assert.Equal(t, "c", entries[1].HandlerName)
}
