package job

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kode4food/buildflow/pkg/api"
)

type (
	// Resolver finds invocable jobs by name
	Resolver interface {
		Resolve(context.Context, api.JobName) (Job, error)
	}

	// Job is a named job that can be scheduled on the execution facility
	Job interface {
		Name() api.JobName

		// Schedule submits a build of the job. A nil Build with a nil error
		// means the facility declined to schedule it
		Schedule(context.Context, *Request) (Build, error)
	}

	// Build is one scheduled execution of a job
	Build interface {
		ID() string

		// Await blocks until the build reaches a terminal result or the
		// context is done
		Await(context.Context) (api.Result, error)

		// Abort asks the facility to stop the build
		Abort(context.Context) error
	}

	// Request describes a build to be scheduled
	Request struct {
		Params api.Params
		Job    api.JobName
		Cause  Cause
	}

	// Cause records which flow run, and which vertices of its graph,
	// triggered an invocation
	Cause struct {
		RunID    api.RunID
		Flow     string
		Upstream []int
	}

	// ResolverFunc adapts a function to the Resolver interface
	ResolverFunc func(context.Context, api.JobName) (Job, error)
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrNotScheduled = errors.New("job has not been scheduled")
)

// Resolve calls fn
func (fn ResolverFunc) Resolve(
	ctx context.Context, name api.JobName,
) (Job, error) {
	return fn(ctx, name)
}

// String returns the short description shown on triggered builds
func (c Cause) String() string {
	if c.Flow == "" {
		return fmt.Sprintf("Started by build flow run %s", c.RunID)
	}
	return fmt.Sprintf("Started by build flow %s#%s", c.Flow, c.RunID)
}

// UpstreamString renders the triggering vertex indexes, e.g. "1,4"
func (c Cause) UpstreamString() string {
	parts := make([]string, len(c.Upstream))
	for i, u := range c.Upstream {
		parts[i] = fmt.Sprint(u)
	}
	return strings.Join(parts, ",")
}
