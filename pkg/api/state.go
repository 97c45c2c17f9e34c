package api

import "time"

type (
	// RunStatus represents the lifecycle state of a flow run
	RunStatus string

	// HandleStatus represents the lifecycle state of a single job invocation
	HandleStatus string

	// VertexKind distinguishes job invocations from synthetic graph vertices
	VertexKind string

	// Params carries the parameters passed to a job invocation
	Params map[string]any

	// Vertex describes one node of a run's execution graph
	Vertex struct {
		Params  Params       `json:"params,omitempty"`
		Job     JobName      `json:"job,omitempty"`
		Kind    VertexKind   `json:"kind"`
		Status  HandleStatus `json:"status"`
		BuildID string       `json:"build_id,omitempty"`
		Cause   string       `json:"cause,omitempty"`
		Index   int          `json:"index"`
		Result  Result       `json:"result"`
	}

	// Edge records that the From vertex triggered the To vertex
	Edge struct {
		From int `json:"from"`
		To   int `json:"to"`
	}

	// GraphSnapshot is a point-in-time copy of a run's execution graph. Rows
	// holds the display layout, one slice of vertex indexes per row
	GraphSnapshot struct {
		Vertices []*Vertex `json:"vertices"`
		Edges    []Edge    `json:"edges"`
		Rows     [][]int   `json:"rows,omitempty"`
	}

	// RunRecord is the retained record of a flow run
	RunRecord struct {
		CreatedAt   time.Time      `json:"created_at"`
		CompletedAt time.Time      `json:"completed_at,omitzero"`
		Graph       *GraphSnapshot `json:"graph"`
		ID          RunID          `json:"id"`
		Flow        string         `json:"flow"`
		Node        NodeID         `json:"node"`
		Status      RunStatus      `json:"status"`
		Cause       string         `json:"cause,omitempty"`
		Result      Result         `json:"result"`
	}

	// RunDigest provides summary information about a run
	RunDigest struct {
		CreatedAt   time.Time `json:"created_at"`
		CompletedAt time.Time `json:"completed_at,omitzero"`
		ID          RunID     `json:"id"`
		Flow        string    `json:"flow"`
		Node        NodeID    `json:"node"`
		Status      RunStatus `json:"status"`
		Cause       string    `json:"cause,omitempty"`
		Result      Result    `json:"result"`
	}
)

const (
	RunInitial   RunStatus = "initial"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunAborted   RunStatus = "aborted"
)

const (
	HandleScheduled HandleStatus = "scheduled"
	HandleRunning   HandleStatus = "running"
	HandleCompleted HandleStatus = "completed"
	HandleUnknown   HandleStatus = "unknown"
)

const (
	VertexStart VertexKind = "start"
	VertexJob   VertexKind = "job"
	VertexJoin  VertexKind = "join"
)

// IsTerminal reports whether the run can no longer change state
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunAborted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a job invocation has a final result
func (s HandleStatus) IsTerminal() bool {
	return s == HandleCompleted || s == HandleUnknown
}

// Digest returns the summary view of the record
func (r *RunRecord) Digest() *RunDigest {
	return &RunDigest{
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
		ID:          r.ID,
		Flow:        r.Flow,
		Node:        r.Node,
		Status:      r.Status,
		Cause:       r.Cause,
		Result:      r.Result,
	}
}
