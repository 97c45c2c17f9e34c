package api

import (
	"encoding/json"
	"time"
)

type (
	// EventType identifies a run lifecycle event
	EventType string

	// Event is the envelope published for every run lifecycle change
	Event struct {
		Timestamp time.Time       `json:"timestamp"`
		Type      EventType       `json:"type"`
		RunID     RunID           `json:"run_id"`
		Data      json.RawMessage `json:"data"`
	}

	// RunStartedEvent is emitted when a run enters the running state
	RunStartedEvent struct {
		RunID RunID  `json:"run_id"`
		Flow  string `json:"flow"`
		Node  NodeID `json:"node"`
	}

	// RunCompletedEvent is emitted when a run reaches a terminal state
	RunCompletedEvent struct {
		RunID  RunID     `json:"run_id"`
		Status RunStatus `json:"status"`
		Cause  string    `json:"cause,omitempty"`
		Result Result    `json:"result"`
	}

	// JobScheduledEvent is emitted once a job invocation has been linked into
	// the execution graph, just before it is dispatched
	JobScheduledEvent struct {
		RunID   RunID   `json:"run_id"`
		Job     JobName `json:"job"`
		Sources []int   `json:"sources"`
		Index   int     `json:"index"`
	}

	// JobCompletedEvent is emitted when a job invocation has a final result
	JobCompletedEvent struct {
		RunID   RunID        `json:"run_id"`
		Job     JobName      `json:"job"`
		Status  HandleStatus `json:"status"`
		BuildID string       `json:"build_id,omitempty"`
		Index   int          `json:"index"`
		Result  Result       `json:"result"`
	}

	// ResultOverriddenEvent is emitted when a script resets the run result
	ResultOverriddenEvent struct {
		RunID    RunID  `json:"run_id"`
		Previous Result `json:"previous"`
		Result   Result `json:"result"`
	}

	// ResourceEvent is emitted when a run acquires or releases a resource, or
	// when a stale holder is reclaimed. Previous names the stale holder
	ResourceEvent struct {
		RunID    RunID        `json:"run_id"`
		Node     NodeID       `json:"node"`
		Resource ResourceName `json:"resource"`
		Previous string       `json:"previous,omitempty"`
	}
)

const (
	EventTypeRunStarted        EventType = "run_started"
	EventTypeRunCompleted      EventType = "run_completed"
	EventTypeJobScheduled      EventType = "job_scheduled"
	EventTypeJobCompleted      EventType = "job_completed"
	EventTypeResultOverridden  EventType = "result_overridden"
	EventTypeResourceAcquired  EventType = "resource_acquired"
	EventTypeResourceReleased  EventType = "resource_released"
	EventTypeResourceReclaimed EventType = "resource_reclaimed"
)
