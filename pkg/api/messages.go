package api

import (
	"errors"
	"fmt"
)

type (
	// StartRunRequest contains parameters for starting a new flow run
	StartRunRequest struct {
		Program *Program `json:"program"`
		Node    NodeID   `json:"node,omitempty"`
	}

	// RunStartedResponse is returned when a run start succeeds
	RunStartedResponse struct {
		Message string `json:"message"`
		RunID   RunID  `json:"run_id"`
	}

	// RunsListResponse contains a list of run summaries
	RunsListResponse struct {
		Runs  []*RunDigest `json:"runs"`
		Count int          `json:"count"`
	}

	// LocksResponse lists the current resource holders of a node
	LocksResponse struct {
		Holders map[ResourceName]string `json:"holders"`
		Node    NodeID                  `json:"node"`
		Count   int                     `json:"count"`
	}

	// HealthResponse provides service health information
	HealthResponse struct {
		Service    string `json:"service"`
		Version    string `json:"version"`
		Status     string `json:"status"`
		ActiveRuns int    `json:"active_runs"`
	}

	// MessageResponse contains a simple message string
	MessageResponse struct {
		Message string `json:"message"`
	}

	// ErrorResponse contains error details for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status,omitempty"`
	}
)

var (
	ErrProgramRequired = errors.New("program is required")
	ErrNodeInvalid     = errors.New("node contains invalid characters")
)

// Validate checks the request and its program
func (r *StartRunRequest) Validate() error {
	if r.Program == nil {
		return ErrProgramRequired
	}
	if r.Node != "" && !IsValidID(r.Node) {
		return fmt.Errorf("%w: %s", ErrNodeInvalid, r.Node)
	}
	return r.Program.Validate()
}
