package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kode4food/buildflow/pkg/api"
)

type (
	// Registry is an in-process execution facility. Registered functions
	// run as builds on their own goroutines
	Registry struct {
		jobs     map[api.JobName]Func
		disabled map[api.JobName]bool
		seq      atomic.Int64
		mu       sync.RWMutex
	}

	// Func performs the work of a locally registered job. Returning an error
	// marks the build as a Failure
	Func func(context.Context, *Request) (api.Result, error)

	localJob struct {
		registry *Registry
		fn       Func
		name     api.JobName
	}

	localBuild struct {
		done   chan struct{}
		cancel context.CancelFunc
		id     string
		result api.Result
	}
)

// NewRegistry returns an empty in-process job registry
func NewRegistry() *Registry {
	return &Registry{
		jobs:     map[api.JobName]Func{},
		disabled: map[api.JobName]bool{},
	}
}

// Register binds name to fn, replacing any previous binding
func (r *Registry) Register(name api.JobName, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[name] = fn
}

// Unregister removes the named job
func (r *Registry) Unregister(name api.JobName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, name)
	delete(r.disabled, name)
}

// SetEnabled controls whether scheduling requests for the named job are
// accepted. Disabled jobs decline to schedule
func (r *Registry) SetEnabled(name api.JobName, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		delete(r.disabled, name)
		return
	}
	r.disabled[name] = true
}

// Names returns the registered job names
func (r *Registry) Names() []api.JobName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]api.JobName, 0, len(r.jobs))
	for name := range r.jobs {
		res = append(res, name)
	}
	return res
}

// Resolve returns the named job or ErrJobNotFound
func (r *Registry) Resolve(_ context.Context, name api.JobName) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return &localJob{registry: r, fn: fn, name: name}, nil
}

func (r *Registry) isEnabled(name api.JobName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.disabled[name]
}

func (j *localJob) Name() api.JobName {
	return j.name
}

func (j *localJob) Schedule(ctx context.Context, req *Request) (Build, error) {
	if !j.registry.isEnabled(j.name) {
		return nil, nil
	}
	id := fmt.Sprintf("%s-%d", j.name, j.registry.seq.Add(1))
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &localBuild{
		done:   make(chan struct{}),
		cancel: cancel,
		id:     id,
	}
	go b.run(bctx, j.fn, req)
	return b, nil
}

func (b *localBuild) run(ctx context.Context, fn Func, req *Request) {
	defer close(b.done)
	defer b.cancel()
	defer func() {
		if r := recover(); r != nil {
			b.result = api.Failure
		}
	}()

	res, err := fn(ctx, req)
	switch {
	case ctx.Err() != nil:
		b.result = api.Aborted
	case err != nil:
		b.result = api.Failure
	case !res.IsValid():
		b.result = api.Failure
	default:
		b.result = res
	}
}

func (b *localBuild) ID() string {
	return b.id
}

func (b *localBuild) Await(ctx context.Context) (api.Result, error) {
	select {
	case <-b.done:
		return b.result, nil
	case <-ctx.Done():
		return api.Aborted, ctx.Err()
	}
}

func (b *localBuild) Abort(context.Context) error {
	b.cancel()
	return nil
}
