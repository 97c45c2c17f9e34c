package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kode4food/buildflow/internal/util"
	"github.com/kode4food/buildflow/pkg/api"
)

type (
	// Handle tracks one job invocation, or one synthetic vertex, of a flow
	// run. A Handle is safe for concurrent use
	Handle struct {
		job    Job
		params api.Params
		build  Build
		err    error
		done   chan struct{}
		notify CompletionFunc
		name   api.JobName
		kind   api.VertexKind
		status api.HandleStatus
		cause  Cause
		index  int
		result api.Result
		final  bool
		mu     sync.Mutex
	}

	// CompletionFunc is called once a dispatched handle reaches a terminal
	// status
	CompletionFunc func(*Handle)
)

var handleTransitions = util.StateTransitions[api.HandleStatus]{
	api.HandleScheduled: util.SetOf(
		api.HandleRunning,
		api.HandleCompleted,
		api.HandleUnknown,
	),
	api.HandleRunning:   util.SetOf(api.HandleCompleted),
	api.HandleCompleted: {},
	api.HandleUnknown:   {},
}

var (
	ErrAlreadyDispatched = errors.New("handle already dispatched")
	ErrNotFinishable     = errors.New("only a start handle can be finished")
)

// NewHandle returns a handle for an invocation of j. The handle stays in the
// scheduled status until it is dispatched
func NewHandle(index int, j Job, params api.Params, cause Cause) *Handle {
	return &Handle{
		job:    j,
		params: params,
		name:   j.Name(),
		kind:   api.VertexJob,
		status: api.HandleScheduled,
		cause:  cause,
		index:  index,
		done:   make(chan struct{}),
	}
}

// NewStartHandle returns the root handle of a run graph. It is completed
// with Success from the outset, and takes the final run result once the run
// finishes it
func NewStartHandle(index int, flow string) *Handle {
	h := &Handle{
		name:   api.JobName(flow),
		kind:   api.VertexStart,
		status: api.HandleCompleted,
		index:  index,
		done:   make(chan struct{}),
	}
	close(h.done)
	return h
}

// NewJoinHandle returns an already completed synthetic vertex standing for
// the join of several parallel branches
func NewJoinHandle(index int, result api.Result) *Handle {
	h := &Handle{
		kind:   api.VertexJoin,
		status: api.HandleCompleted,
		index:  index,
		result: result,
		done:   make(chan struct{}),
	}
	close(h.done)
	return h
}

// Index returns the handle's vertex index in its run graph
func (h *Handle) Index() int {
	return h.index
}

// Name returns the invoked job name, or the flow name for a start handle
func (h *Handle) Name() api.JobName {
	return h.name
}

// Kind returns the kind of graph vertex the handle represents
func (h *Handle) Kind() api.VertexKind {
	return h.kind
}

// Cause returns the cause the invocation was scheduled with
func (h *Handle) Cause() Cause {
	return h.cause
}

// Status returns the current lifecycle status
func (h *Handle) Status() api.HandleStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Result returns the current result of the handle. For invocations that are
// still pending the result is Success, the identity of Combine, so that
// folding pending handles does not worsen an accumulator
func (h *Handle) Result() api.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Err returns the error that terminated the invocation, if any
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// BuildID returns the identifier of the scheduled build, or an empty string
// if no build exists
func (h *Handle) BuildID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.build == nil {
		return ""
	}
	return h.build.ID()
}

// Done returns a channel that is closed once the handle is terminal
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Dispatch schedules the build and starts awaiting its result in the
// background. The background wait outlives ctx, so that a build left running
// by a cancelled run stays visible until it is aborted. A declined schedule
// completes the handle immediately with the unknown status and a NotBuilt
// result. onDone, if not nil, is invoked once the handle is terminal
func (h *Handle) Dispatch(ctx context.Context, onDone CompletionFunc) error {
	h.mu.Lock()
	if h.job == nil || h.status != api.HandleScheduled || h.notify != nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyDispatched, h)
	}
	h.notify = onDone
	if h.notify == nil {
		h.notify = func(*Handle) {}
	}
	req := &Request{
		Params: h.params,
		Job:    h.name,
		Cause:  h.cause,
	}
	h.mu.Unlock()

	b, err := h.job.Schedule(ctx, req)
	if err != nil {
		h.complete(api.HandleCompleted, api.NotBuilt, err)
		return err
	}
	if b == nil {
		h.complete(api.HandleUnknown, api.NotBuilt, nil)
		return nil
	}

	h.mu.Lock()
	h.build = b
	if handleTransitions.CanTransition(h.status, api.HandleRunning) {
		h.status = api.HandleRunning
	}
	h.mu.Unlock()

	go func() {
		res, err := b.Await(context.WithoutCancel(ctx))
		if err != nil {
			h.complete(api.HandleCompleted, api.Failure, err)
			return
		}
		h.complete(api.HandleCompleted, res, nil)
	}()
	return nil
}

// Await blocks until the handle is terminal and returns its result. If the
// context ends first, Aborted is returned along with the context error
func (h *Handle) Await(ctx context.Context) (api.Result, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return api.Aborted, ctx.Err()
	}
}

// Abort requests cancellation of a running build. Terminal or undispatched
// handles are left untouched
func (h *Handle) Abort(ctx context.Context) error {
	h.mu.Lock()
	b := h.build
	terminal := h.status.IsTerminal()
	h.mu.Unlock()
	if b == nil || terminal {
		return nil
	}
	return b.Abort(ctx)
}

// Finish records the final run result on a start handle. Only the first
// call has any effect
func (h *Handle) Finish(res api.Result) error {
	if h.kind != api.VertexStart {
		return fmt.Errorf("%w: %s", ErrNotFinishable, h)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.final {
		h.result = res
		h.final = true
	}
	return nil
}

// Vertex returns a point-in-time description of the handle
func (h *Handle) Vertex() *api.Vertex {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := &api.Vertex{
		Params: h.params,
		Kind:   h.kind,
		Status: h.status,
		Index:  h.index,
		Result: h.result,
	}
	if h.kind != api.VertexJoin {
		v.Job = h.name
	}
	if h.build != nil {
		v.BuildID = h.build.ID()
	}
	if h.kind == api.VertexJob {
		v.Cause = h.cause.String()
	}
	return v
}

func (h *Handle) String() string {
	switch h.kind {
	case api.VertexJoin:
		return fmt.Sprintf("join#%d", h.index)
	case api.VertexStart:
		return fmt.Sprintf("start(%s)", h.name)
	default:
		return fmt.Sprintf("%s#%d", h.name, h.index)
	}
}

func (h *Handle) complete(
	status api.HandleStatus, res api.Result, err error,
) {
	h.mu.Lock()
	if !handleTransitions.CanTransition(h.status, status) {
		h.mu.Unlock()
		return
	}
	h.status = status
	h.result = res
	h.err = err
	notify := h.notify
	h.mu.Unlock()

	if notify != nil {
		notify(h)
	}
	close(h.done)
}
