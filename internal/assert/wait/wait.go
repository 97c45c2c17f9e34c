package wait

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/buildflow/internal/util"
	"github.com/kode4food/buildflow/pkg/api"
)

type (
	Wait struct {
		t        *testing.T
		consumer topic.Consumer[*api.Event]
		timeout  time.Duration
	}

	Predicate[T any] func(T) bool

	EventFilter Predicate[*api.Event]

	jobEvent struct {
		RunID api.RunID   `json:"run_id"`
		Job   api.JobName `json:"job"`
	}

	resourceEvent struct {
		Node     api.NodeID       `json:"node"`
		Resource api.ResourceName `json:"resource"`
	}
)

const DefaultTimeout = time.Second * 5

func On(t *testing.T, consumer topic.Consumer[*api.Event]) *Wait {
	return &Wait{
		t:        t,
		consumer: consumer,
		timeout:  DefaultTimeout,
	}
}

func (w *Wait) WithTimeout(timeout time.Duration) *Wait {
	res := *w
	res.timeout = timeout
	return &res
}

// ForEvents waits for matching events from the consumer and returns them
func (w *Wait) ForEvents(count int, filter EventFilter) []*api.Event {
	w.t.Helper()

	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()

	var seen []*api.Event
	for len(seen) < count {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				w.t.Fatalf(
					"event consumer closed before receiving %d events", count,
				)
			}
			if !filter(ev) {
				continue
			}
			seen = append(seen, ev)
		case <-deadline.C:
			w.t.Fatalf("timeout waiting for %d events", count)
		}
	}
	return seen
}

// ForEvent waits for a single matching event
func (w *Wait) ForEvent(filter EventFilter) *api.Event {
	w.t.Helper()
	return w.ForEvents(1, filter)[0]
}

// And composes event filters and returns true when all match
func And(filters ...EventFilter) EventFilter {
	return func(ev *api.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

// Type creates a filter for a single event type
func Type(eventType api.EventType) EventFilter {
	return Types(eventType)
}

// Types creates a filter for the given event types
func Types(eventTypes ...api.EventType) EventFilter {
	if len(eventTypes) == 0 {
		return func(*api.Event) bool { return false }
	}
	lookup := util.SetOf(eventTypes...)
	return func(ev *api.Event) bool {
		return ev != nil && lookup.Contains(ev.Type)
	}
}

// RunStarted matches run started events for the provided run IDs
func RunStarted(ids ...api.RunID) EventFilter {
	return And(Type(api.EventTypeRunStarted), RunIDs(ids...))
}

// RunCompleted matches run completed events for the provided run IDs
func RunCompleted(ids ...api.RunID) EventFilter {
	return And(Type(api.EventTypeRunCompleted), RunIDs(ids...))
}

// RunStatus matches run completed events that ended with status
func RunStatus(id api.RunID, status api.RunStatus) EventFilter {
	return And(
		Type(api.EventTypeRunCompleted),
		Unmarshal(func(data api.RunCompletedEvent) bool {
			return data.RunID == id && data.Status == status
		}),
	)
}

// JobScheduled matches job scheduled events of a run for the given jobs
func JobScheduled(id api.RunID, jobs ...api.JobName) EventFilter {
	return And(Type(api.EventTypeJobScheduled), RunJobs(id, jobs...))
}

// JobCompleted matches job completed events of a run for the given jobs
func JobCompleted(id api.RunID, jobs ...api.JobName) EventFilter {
	return And(Type(api.EventTypeJobCompleted), RunJobs(id, jobs...))
}

// ResourceAcquired matches acquisitions of a resource on node
func ResourceAcquired(node api.NodeID, name api.ResourceName) EventFilter {
	return And(Type(api.EventTypeResourceAcquired), Resource(node, name))
}

// ResourceReclaimed matches reclaims of a resource on node
func ResourceReclaimed(node api.NodeID, name api.ResourceName) EventFilter {
	return And(Type(api.EventTypeResourceReclaimed), Resource(node, name))
}

// RunIDs matches events for the provided run IDs, each at most once
func RunIDs(ids ...api.RunID) EventFilter {
	expected := util.SetOf(ids...)
	return func(ev *api.Event) bool {
		if ev == nil || !expected.Contains(ev.RunID) {
			return false
		}
		expected.Remove(ev.RunID)
		return true
	}
}

// RunJobs matches events of a run for the provided jobs, each at most once
func RunJobs(id api.RunID, jobs ...api.JobName) EventFilter {
	expected := util.SetOf(jobs...)
	return Unmarshal(func(data jobEvent) bool {
		if data.RunID != id || !expected.Contains(data.Job) {
			return false
		}
		expected.Remove(data.Job)
		return true
	})
}

// Resource matches resource events for a resource on node
func Resource(node api.NodeID, name api.ResourceName) EventFilter {
	return Unmarshal(func(data resourceEvent) bool {
		return data.Node == node && data.Resource == name
	})
}

// Unmarshal creates a filter that unmarshals event data and applies pred
func Unmarshal[T any](pred Predicate[T]) EventFilter {
	return func(ev *api.Event) bool {
		if ev == nil {
			return false
		}
		var data T
		if json.Unmarshal(ev.Data, &data) != nil {
			return false
		}
		return pred(data)
	}
}
