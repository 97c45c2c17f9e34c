package helpers

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kode4food/buildflow/internal/job"
	"github.com/kode4food/buildflow/pkg/api"
)

// MockFacility is an in-process execution facility whose jobs are scripted
// by tests. It records every build it runs
type MockFacility struct {
	*job.Registry
	results   map[api.JobName]api.Result
	errors    map[api.JobName]error
	blocks    map[api.JobName]chan struct{}
	requests  map[api.JobName][]*job.Request
	invokedCh map[api.JobName]chan struct{}
	invoked   []api.JobName
	mu        sync.Mutex
}

// Succeed returns a job function that always succeeds
func Succeed() job.Func {
	return Returning(api.Success)
}

// Fail returns a job function that always fails
func Fail() job.Func {
	return Returning(api.Failure)
}

// Returning returns a job function that always reports res
func Returning(res api.Result) job.Func {
	return func(context.Context, *job.Request) (api.Result, error) {
		return res, nil
	}
}

// Block returns a job function that waits for release, or for its build to
// be aborted, and then reports res
func Block(release <-chan struct{}, res api.Result) job.Func {
	return func(ctx context.Context, _ *job.Request) (api.Result, error) {
		select {
		case <-release:
			return res, nil
		case <-ctx.Done():
			return api.Aborted, ctx.Err()
		}
	}
}

// NewMockFacility creates a facility where each named job succeeds until
// scripted otherwise
func NewMockFacility(names ...api.JobName) *MockFacility {
	m := &MockFacility{
		Registry:  job.NewRegistry(),
		results:   map[api.JobName]api.Result{},
		errors:    map[api.JobName]error{},
		blocks:    map[api.JobName]chan struct{}{},
		requests:  map[api.JobName][]*job.Request{},
		invokedCh: map[api.JobName]chan struct{}{},
	}
	m.Add(names...)
	return m
}

// Add registers each named job
func (m *MockFacility) Add(names ...api.JobName) {
	for _, name := range names {
		m.Register(name, m.perform)
	}
}

// SetResult configures the result reported by builds of the named job
func (m *MockFacility) SetResult(name api.JobName, res api.Result) {
	m.Add(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[name] = res
}

// SetError configures builds of the named job to crash with err
func (m *MockFacility) SetError(name api.JobName, err error) {
	m.Add(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[name] = err
}

// Decline configures the facility to refuse scheduling the named job
func (m *MockFacility) Decline(name api.JobName) {
	m.Add(name)
	m.SetEnabled(name, false)
}

// Block makes builds of the named job wait until the returned function is
// called or the build is aborted
func (m *MockFacility) Block(name api.JobName) func() {
	m.Add(name)
	ch := make(chan struct{})
	m.mu.Lock()
	m.blocks[name] = ch
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(ch) })
	}
}

// GetInvocations returns the names of the jobs built so far, in order
func (m *MockFacility) GetInvocations() []api.JobName {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.invoked)
}

// WasInvoked returns whether a build of the named job has started
func (m *MockFacility) WasInvoked(name api.JobName) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.invoked, name)
}

// WaitForInvocation blocks until a build of the named job starts or the
// timeout expires
func (m *MockFacility) WaitForInvocation(
	name api.JobName, timeout time.Duration,
) bool {
	m.mu.Lock()
	if slices.Contains(m.invoked, name) {
		m.mu.Unlock()
		return true
	}
	ch, ok := m.invokedCh[name]
	if !ok {
		ch = make(chan struct{}, 1)
		m.invokedCh[name] = ch
	}
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return m.WasInvoked(name)
	}
}

// LastRequest returns the most recent request made for the named job
func (m *MockFacility) LastRequest(name api.JobName) *job.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := m.requests[name]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

func (m *MockFacility) perform(
	ctx context.Context, req *job.Request,
) (api.Result, error) {
	m.mu.Lock()
	m.invoked = append(m.invoked, req.Job)
	m.requests[req.Job] = append(m.requests[req.Job], req)
	if ch, ok := m.invokedCh[req.Job]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	res := m.results[req.Job]
	err := m.errors[req.Job]
	block := m.blocks[req.Job]
	m.mu.Unlock()

	if block != nil {
		return Block(block, res)(ctx, req)
	}
	return res, err
}
