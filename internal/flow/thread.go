package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kode4food/buildflow/internal/graph"
	"github.com/kode4food/buildflow/internal/job"
	"github.com/kode4food/buildflow/internal/lock"
	"github.com/kode4food/buildflow/pkg/api"
	"github.com/kode4food/buildflow/pkg/log"
)

type (
	// Thread is one logical thread of control within a run. Directives
	// issued through a Thread advance its own State; a Thread must not be
	// used from more than one goroutine at a time
	Thread struct {
		run    *Run
		state  *State
		parent *Thread
		holder lock.Holder
	}

	// Branch is the body of one parallel branch
	Branch func(context.Context, *Thread) error

	// lease holds resources on behalf of a parallel branch. It is stopped
	// once the branch has returned or its run has stopped
	lease struct {
		run   *Run
		id    string
		ended atomic.Bool
	}
)

func (r *Run) newThread(s *State, parent *Thread) *Thread {
	t := &Thread{run: r, state: s, parent: parent, holder: r}
	if parent != nil {
		t.holder = &lease{
			run: r,
			id:  fmt.Sprintf("%s/%d", r.id, r.branches.Add(1)),
		}
	}
	return t
}

// HolderRun returns the ID of the run a resource holder belongs to. Holders
// that are not part of a run are identified by their holder ID
func HolderRun(h lock.Holder) api.RunID {
	switch h := h.(type) {
	case *Run:
		return h.id
	case *lease:
		return h.run.id
	default:
		return api.RunID(h.HolderID())
	}
}

func (l *lease) HolderID() string {
	return l.id
}

func (l *lease) Stopped() bool {
	return l.ended.Load() || l.run.Stopped()
}

// Run returns the run the thread belongs to
func (t *Thread) Run() *Run {
	return t.run
}

// Result returns the thread's aggregate result
func (t *Thread) Result() api.Result {
	return t.state.Result()
}

// Frontier returns the vertex indexes the next invocation is linked from
func (t *Thread) Frontier() []int {
	return indexes(t.state.Frontier())
}

// LocalResult folds the results of every vertex upstream of the thread's
// frontier, including the frontier itself
func (t *Thread) LocalResult() api.Result {
	res := api.Success
	for _, h := range t.state.Frontier() {
		res = graph.Fold(t.run.graph, graph.ID(h.Index()), graph.Upstream,
			res, func(acc api.Result, v *job.Handle) api.Result {
				return acc.Combine(v.Result())
			},
		)
	}
	return res
}

// Invoke resolves the named job, links a new handle into the graph and
// dispatches it. Sequentially, Invoke waits for the build and folds its
// result into the thread's result. While collecting parallel branches the
// build is left running until the next join
func (t *Thread) Invoke(
	ctx context.Context, name api.JobName, params api.Params,
) (*job.Handle, error) {
	r := t.run
	if !r.isRunning() {
		return nil, ErrRunNotRunning
	}
	if r.resolver == nil {
		return nil, ErrNoResolver
	}
	j, err := r.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := t.state.collapse(r.graph); err != nil {
		return nil, err
	}

	sources := indexes(t.state.frontier)
	idx := int(r.graph.NextID())
	h := job.NewHandle(idx, j, params, job.Cause{
		RunID:    r.id,
		Flow:     r.flow,
		Upstream: sources,
	})
	if err := t.state.Advance(r.graph, h); err != nil {
		return nil, err
	}

	slog.Debug("Job scheduled",
		log.RunID(r.id),
		log.Job(name),
		slog.Int("index", idx))
	r.publisher.Publish(api.EventTypeJobScheduled, r.id,
		api.JobScheduledEvent{
			RunID:   r.id,
			Job:     name,
			Sources: sources,
			Index:   idx,
		},
	)

	if err := h.Dispatch(ctx, r.jobCompleted); err != nil {
		return h, fmt.Errorf("%s: %w", h, err)
	}
	if t.state.IsParallel() {
		return h, nil
	}

	res, err := h.Await(ctx)
	if err != nil {
		return h, fmt.Errorf("%s: %w", h, err)
	}
	t.state.result = t.state.result.Combine(res)
	return h, nil
}

// EnterParallel starts collecting parallel branches. Jobs invoked until
// ExitParallel are linked from the current frontier and not awaited
func (t *Thread) EnterParallel() error {
	if !t.run.isRunning() {
		return ErrRunNotRunning
	}
	return t.state.enterParallel(t.run.graph)
}

// ExitParallel waits for every branch started since EnterParallel and
// returns the joined result
func (t *Thread) ExitParallel(ctx context.Context) (api.Result, error) {
	if !t.state.IsParallel() {
		return t.state.Result(), ErrNotParallel
	}
	return t.Join(ctx)
}

// Join waits for the frontier and returns the thread's combined result
func (t *Thread) Join(ctx context.Context) (api.Result, error) {
	return t.state.Join(ctx, t.run.graph)
}

// Parallel runs each branch on its own thread, all starting from the current
// frontier. Once every branch is done, their results are folded into this
// thread and the combined branch result is returned. The first branch error
// cancels the others
func (t *Thread) Parallel(
	ctx context.Context, branches ...Branch,
) (api.Result, error) {
	if !t.run.isRunning() {
		return t.state.Result(), ErrRunNotRunning
	}
	if t.state.IsParallel() {
		return t.state.Result(), ErrAlreadyParallel
	}
	if err := t.state.collapse(t.run.graph); err != nil {
		return t.state.Result(), err
	}

	grp, gctx := errgroup.WithContext(ctx)
	states := make([]*State, len(branches))
	for i, branch := range branches {
		states[i] = t.state.fork()
		bt := t.run.newThread(states[i], t)
		grp.Go(func() (err error) {
			defer bt.end()
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("%w: %v", ErrEvaluatorPanic, rec)
				}
			}()
			if err := branch(gctx, bt); err != nil {
				return err
			}
			if bt.state.IsParallel() {
				_, err := bt.ExitParallel(gctx)
				return err
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return api.Aborted, err
	}

	joined := api.Success
	for _, s := range states {
		joined = joined.Combine(s.Result())
	}
	t.state.merge(t.run.graph, states)
	return joined, nil
}

// Acquire blocks until the thread holds the named resource on the run's
// node. Parallel branches of one run compete for a resource like separate
// runs do. A resource held by an enclosing thread cannot be acquired again
// and fails with lock.ErrAlreadyHeld
func (t *Thread) Acquire(ctx context.Context, name api.ResourceName) error {
	r := t.run
	if !r.isRunning() {
		return ErrRunNotRunning
	}
	for p := t.parent; p != nil; p = p.parent {
		if r.holds(p.holder, name) {
			return fmt.Errorf("%w: %s on %s",
				lock.ErrAlreadyHeld, name, r.node)
		}
	}
	res, ok, err := r.alloc.TryAllocate(name, t.holder)
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("Waiting for resource",
			log.RunID(r.id),
			log.Node(r.node),
			log.Resource(name))
		res, err = r.alloc.Allocate(ctx, name, t.holder)
		if err != nil {
			return err
		}
	}
	r.hold(res)
	r.publishResource(api.EventTypeResourceAcquired, name)
	return nil
}

// Release frees a resource acquired by this thread
func (t *Thread) Release(name api.ResourceName) error {
	r := t.run
	res, ok := r.unhold(t.holder, name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotHeld, name)
	}
	if !res.Free() {
		slog.Warn("Resource was reclaimed before release",
			log.RunID(r.id),
			log.Node(r.node),
			log.Resource(name))
		return nil
	}
	r.publishResource(api.EventTypeResourceReleased, name)
	return nil
}

// OverrideResult replaces the thread's aggregate result. Graph vertices keep
// their own results
func (t *Thread) OverrideResult(res api.Result) error {
	r := t.run
	if !r.isRunning() {
		return ErrRunNotRunning
	}
	if !res.IsValid() {
		return fmt.Errorf("%w: %d", api.ErrInvalidResult, res)
	}
	prev := t.state.Result()
	t.state.Reset(res)
	r.publisher.Publish(api.EventTypeResultOverridden, r.id,
		api.ResultOverriddenEvent{
			RunID:    r.id,
			Previous: prev,
			Result:   res,
		},
	)
	return nil
}

// Apply performs a single directive
func (t *Thread) Apply(ctx context.Context, d *api.Directive) error {
	if err := d.Validate(); err != nil {
		return err
	}
	switch d.Type {
	case api.DirectiveInvoke:
		_, err := t.Invoke(ctx, d.Job, d.Params)
		return err
	case api.DirectiveEnterParallel:
		return t.EnterParallel()
	case api.DirectiveExitParallel:
		_, err := t.ExitParallel(ctx)
		return err
	case api.DirectiveAcquire:
		return t.Acquire(ctx, d.Resource)
	case api.DirectiveRelease:
		return t.Release(d.Resource)
	case api.DirectiveOverride:
		return t.OverrideResult(*d.Result)
	default:
		return fmt.Errorf("%w: %q", api.ErrInvalidDirective, d.Type)
	}
}

func (t *Thread) end() {
	if l, ok := t.holder.(*lease); ok {
		l.ended.Store(true)
	}
}

func (r *Run) jobCompleted(h *job.Handle) {
	res := h.Result()
	slog.Debug("Job completed",
		log.RunID(r.id),
		log.Job(h.Name()),
		log.Status(h.Status()),
		log.Result(res))
	r.publisher.Publish(api.EventTypeJobCompleted, r.id,
		api.JobCompletedEvent{
			RunID:   r.id,
			Job:     h.Name(),
			Status:  h.Status(),
			BuildID: h.BuildID(),
			Index:   h.Index(),
			Result:  res,
		},
	)
}

func indexes(hs []*job.Handle) []int {
	res := make([]int, len(hs))
	for i, h := range hs {
		res[i] = h.Index()
	}
	return res
}
