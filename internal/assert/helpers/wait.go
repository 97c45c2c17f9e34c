package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/buildflow/internal/flow"
	"github.com/kode4food/buildflow/pkg/api"
)

// EventWaiter waits for an event accepted by a filter and then loads some
// state. Create it before triggering the action, since a hub consumer only
// sees events published after it exists
type EventWaiter[T any] struct {
	consumer topic.Consumer[*api.Event]
	filter   func(*api.Event) bool
	getState func(context.Context) (T, error)
	desc     string
}

// DefaultWaitTimeout bounds the convenience waits
const DefaultWaitTimeout = 5 * time.Second

// Wait blocks until a matching event and returns the state
func (w *EventWaiter[T]) Wait(
	t *testing.T, ctx context.Context, timeout time.Duration,
) T {
	t.Helper()
	defer w.consumer.Close()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				t.Fatalf("event hub closed waiting for %s", w.desc)
			}
			if ev != nil && w.filter(ev) {
				state, err := w.getState(ctx)
				assert.NoError(t, err)
				return state
			}
		case <-deadline.C:
			t.Fatalf("timeout waiting for %s", w.desc)
		case <-ctx.Done():
			t.FailNow()
		}
	}
}

// Close discards the waiter without waiting
func (w *EventWaiter[T]) Close() {
	w.consumer.Close()
}

// SubscribeToRunCompleted creates a waiter for the completion of the run
// returned by start. The run ID is not known until the run exists, so the
// subscription is made before start is called
func (e *TestEngineEnv) SubscribeToRunCompleted(
	t *testing.T, start func() (*flow.Run, error),
) (*flow.Run, *EventWaiter[*api.RunRecord]) {
	t.Helper()
	consumer := e.Hub.NewConsumer()
	run, err := start()
	if err != nil {
		consumer.Close()
		t.Fatalf("failed to start run: %v", err)
	}
	id := run.ID()
	return run, &EventWaiter[*api.RunRecord]{
		consumer: consumer,
		filter: func(ev *api.Event) bool {
			return ev.Type == api.EventTypeRunCompleted && ev.RunID == id
		},
		getState: func(ctx context.Context) (*api.RunRecord, error) {
			return e.WaitForPersisted(t, ctx, id), nil
		},
		desc: string(id),
	}
}

// RunProgram starts p on the environment's engine and waits for the stored
// record of the finished run
func (e *TestEngineEnv) RunProgram(
	t *testing.T, p *api.Program,
) *api.RunRecord {
	t.Helper()
	_, waiter := e.SubscribeToRunCompleted(t, func() (*flow.Run, error) {
		return e.Engine.RunProgram(&api.StartRunRequest{Program: p})
	})
	return waiter.Wait(t, context.Background(), DefaultWaitTimeout)
}

// WaitForPersisted polls until the run is no longer active, then returns
// its stored record
func (e *TestEngineEnv) WaitForPersisted(
	t *testing.T, ctx context.Context, id api.RunID,
) *api.RunRecord {
	t.Helper()
	assert.Eventually(t, func() bool {
		_, active := e.Engine.ActiveRun(id)
		return !active
	}, DefaultWaitTimeout, 5*time.Millisecond)

	rec, err := e.Store.Get(ctx, id)
	assert.NoError(t, err)
	return rec
}
