package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kode4food/buildflow/internal/graph"
	"github.com/kode4food/buildflow/internal/job"
	"github.com/kode4food/buildflow/internal/lock"
	"github.com/kode4food/buildflow/internal/util"
	"github.com/kode4food/buildflow/pkg/api"
	"github.com/kode4food/buildflow/pkg/log"
)

type (
	// Run is one execution of a build flow. It moves from initial to
	// running, and from running to exactly one terminal status
	Run struct {
		createdAt   time.Time
		completedAt time.Time
		graph       *Graph
		start       *job.Handle
		resolver    job.Resolver
		alloc       *lock.Allocator
		publisher   Publisher
		cancel      context.CancelCauseFunc
		done        chan struct{}
		held        []*lock.Resource
		id          api.RunID
		flow        string
		node        api.NodeID
		status      api.RunStatus
		cause       string
		result      api.Result
		branches    atomic.Uint64
		mu          sync.RWMutex
	}

	// Config carries the collaborators of a Run
	Config struct {
		Resolver  job.Resolver
		Locks     *lock.Registry
		Publisher Publisher
		ID        api.RunID
		Flow      string
		Node      api.NodeID
	}

	// Publisher receives run lifecycle events
	Publisher interface {
		Publish(api.EventType, api.RunID, any)
	}

	// PublisherFunc adapts a function to the Publisher interface
	PublisherFunc func(api.EventType, api.RunID, any)
)

// TeardownTimeout bounds the best-effort abort and release work performed
// when a run stops abnormally
const TeardownTimeout = 10 * time.Second

const graphCapacity = 16

var runTransitions = util.StateTransitions[api.RunStatus]{
	api.RunInitial: util.SetOf(api.RunRunning),
	api.RunRunning: util.SetOf(
		api.RunSucceeded,
		api.RunFailed,
		api.RunAborted,
	),
	api.RunSucceeded: {},
	api.RunFailed:    {},
	api.RunAborted:   {},
}

var (
	ErrRunStarted    = errors.New("run already started")
	ErrRunNotRunning = errors.New("run is not running")
	ErrRunAborted    = errors.New("aborted by cancellation")
	ErrNotHeld       = errors.New("resource not held by thread")
	ErrNoResolver    = errors.New("run has no job resolver")
)

// NewRun returns a run in the initial status. Its graph holds only the start
// vertex
func NewRun(cfg Config) *Run {
	node := cfg.Node
	if node == "" {
		node = api.DefaultNode
	}
	locks := cfg.Locks
	if locks == nil {
		locks = lock.NewRegistry()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = PublisherFunc(func(api.EventType, api.RunID, any) {})
	}

	g := graph.New[*job.Handle](graphCapacity)
	start := job.NewStartHandle(int(g.NextID()), cfg.Flow)
	g.AddVertex(graph.ID(start.Index()), start)

	return &Run{
		createdAt: time.Now(),
		graph:     g,
		start:     start,
		resolver:  cfg.Resolver,
		alloc:     locks.ForNode(node),
		publisher: pub,
		done:      make(chan struct{}),
		id:        cfg.ID,
		flow:      cfg.Flow,
		node:      node,
		status:    api.RunInitial,
		result:    api.Success,
	}
}

// Publish calls fn
func (fn PublisherFunc) Publish(typ api.EventType, id api.RunID, data any) {
	fn(typ, id, data)
}

// ID returns the run identifier
func (r *Run) ID() api.RunID {
	return r.id
}

// Flow returns the name of the flow being run
func (r *Run) Flow() string {
	return r.flow
}

// Node returns the execution node the run allocates resources on
func (r *Run) Node() api.NodeID {
	return r.node
}

// Graph returns the run's execution graph
func (r *Run) Graph() *Graph {
	return r.graph
}

// Status returns the current lifecycle status
func (r *Run) Status() api.RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Result returns the terminal result, or Success while the run is live
func (r *Run) Result() api.Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result
}

// Done returns a channel that is closed when the run reaches a terminal
// status
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// HolderID identifies the run as a resource holder
func (r *Run) HolderID() string {
	return string(r.id)
}

// Stopped reports whether the run has reached a terminal status
func (r *Run) Stopped() bool {
	return r.Status().IsTerminal()
}

// Cancel interrupts a running run. Blocking waits return and the run ends
// aborted. It reports whether the run was running
func (r *Run) Cancel() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.status != api.RunRunning || r.cancel == nil {
		return false
	}
	r.cancel(ErrRunAborted)
	return true
}

// Execute runs the evaluator on the run's root thread and drives the run to a
// terminal status. The returned error is the one that stopped the run early,
// if any; a job that merely fails is reported through the result
func (r *Run) Execute(ctx context.Context, ev Evaluator) (api.Result, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if err := r.begin(cancel); err != nil {
		return api.NotBuilt, err
	}

	root := r.newThread(NewState(r.start), nil)
	err := r.evaluate(ctx, ev, root)
	if err == nil && root.state.IsParallel() {
		_, err = root.ExitParallel(ctx)
	}
	if err != nil && context.Cause(ctx) != nil {
		err = fmt.Errorf("%w: %w", context.Cause(ctx), err)
	}

	r.teardown(ctx, err)
	return r.finish(root.state.Result(), err)
}

// Record returns a snapshot of the run and its graph
func (r *Run) Record() *api.RunRecord {
	r.mu.RLock()
	rec := &api.RunRecord{
		CreatedAt:   r.createdAt,
		CompletedAt: r.completedAt,
		ID:          r.id,
		Flow:        r.flow,
		Node:        r.node,
		Status:      r.status,
		Cause:       r.cause,
		Result:      r.result,
	}
	r.mu.RUnlock()
	rec.Graph = Snapshot(r.graph)
	return rec
}

// WriteDOT renders the execution graph in Graphviz DOT form
func (r *Run) WriteDOT(w io.Writer) error {
	name := fmt.Sprintf("%s#%s", r.flow, r.id)
	return graph.WriteDOT(w, r.graph, name, vertexLabel)
}

// Held returns the resources held by any thread of the run, in acquisition
// order
func (r *Run) Held() []*lock.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.held)
}

func (r *Run) begin(cancel context.CancelCauseFunc) error {
	r.mu.Lock()
	if !runTransitions.CanTransition(r.status, api.RunRunning) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunStarted, r.id)
	}
	r.status = api.RunRunning
	r.cancel = cancel
	r.mu.Unlock()

	slog.Info("Run started",
		log.RunID(r.id),
		slog.String("flow", r.flow),
		log.Node(r.node))
	r.publisher.Publish(api.EventTypeRunStarted, r.id, api.RunStartedEvent{
		RunID: r.id,
		Flow:  r.flow,
		Node:  r.node,
	})
	return nil
}

func (r *Run) evaluate(
	ctx context.Context, ev Evaluator, t *Thread,
) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrEvaluatorPanic, rec)
		}
	}()
	return ev.Evaluate(ctx, t)
}

// teardown aborts builds still in flight when the run stops early, then
// releases every resource the run holds in reverse acquisition order
func (r *Run) teardown(ctx context.Context, err error) {
	tctx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), TeardownTimeout,
	)
	defer cancel()

	if err != nil {
		for _, id := range r.graph.IDs() {
			h, ok := r.graph.Vertex(id)
			if !ok || h.Kind() != api.VertexJob || h.Status().IsTerminal() {
				continue
			}
			if aerr := h.Abort(tctx); aerr != nil {
				slog.Warn("Failed to abort build",
					log.RunID(r.id),
					log.Job(h.Name()),
					log.Error(aerr))
			}
		}
	}

	r.mu.Lock()
	held := r.held
	r.held = nil
	r.mu.Unlock()
	for _, res := range slices.Backward(held) {
		if res.Free() {
			r.publishResource(api.EventTypeResourceReleased, res.Name())
		}
	}
}

func (r *Run) finish(res api.Result, err error) (api.Result, error) {
	var status api.RunStatus
	var cause string
	switch {
	case err == nil && res.IsBetterOrEqualTo(api.Unstable):
		status = api.RunSucceeded
	case err == nil:
		status = api.RunFailed
	case isAbort(err):
		status = api.RunAborted
		res = res.Combine(api.Aborted)
		cause = ErrRunAborted.Error()
		if errors.Is(err, lock.ErrAllocationInterrupted) {
			cause = err.Error()
		}
	default:
		status = api.RunFailed
		res = res.Combine(api.Failure)
		cause = err.Error()
	}

	r.mu.Lock()
	if !runTransitions.CanTransition(r.status, status) {
		r.mu.Unlock()
		return r.Result(), err
	}
	r.status = status
	r.result = res
	r.cause = cause
	r.completedAt = time.Now()
	r.cancel = nil
	r.mu.Unlock()
	_ = r.start.Finish(res)

	attrs := []any{log.RunID(r.id), log.Status(status), log.Result(res)}
	if err != nil {
		slog.Warn("Run stopped", append(attrs, log.Error(err))...)
	} else {
		slog.Info("Run completed", attrs...)
	}
	r.publisher.Publish(api.EventTypeRunCompleted, r.id,
		api.RunCompletedEvent{
			RunID:  r.id,
			Status: status,
			Cause:  cause,
			Result: res,
		},
	)
	close(r.done)
	return res, err
}

func (r *Run) isRunning() bool {
	return r.Status() == api.RunRunning
}

func (r *Run) hold(res *lock.Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held = append(r.held, res)
}

func (r *Run) holds(holder lock.Holder, name api.ResourceName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.ContainsFunc(r.held, func(res *lock.Resource) bool {
		return res.Name() == name && res.Holder() == holder
	})
}

func (r *Run) unhold(
	holder lock.Holder, name api.ResourceName,
) (*lock.Resource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, res := range slices.Backward(r.held) {
		if res.Name() == name && res.Holder() == holder {
			r.held = slices.Delete(r.held, i, i+1)
			return res, true
		}
	}
	return nil, false
}

func (r *Run) publishResource(typ api.EventType, name api.ResourceName) {
	r.publisher.Publish(typ, r.id, api.ResourceEvent{
		RunID:    r.id,
		Node:     r.node,
		Resource: name,
	})
}

func isAbort(err error) bool {
	return errors.Is(err, ErrRunAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, lock.ErrAllocationInterrupted)
}

func vertexLabel(_ graph.ID, h *job.Handle) string {
	if h.Kind() == api.VertexStart {
		return fmt.Sprintf("%s\n%s", h.Name(), h.Result())
	}
	return fmt.Sprintf("%s\n%s", h, h.Result())
}
