// Package buildflow orchestrates build jobs into flows. A flow run schedules
// jobs on an external build system, records every invocation in an
// execution graph, folds job results into the run result and serializes
// access to named resources per execution node
package buildflow

const (
	Name    = "buildflow"
	Version = "0.3.0"
)

// UserAgent identifies the service on outgoing requests
const UserAgent = Name + "/" + Version
