package helpers

import (
	"github.com/google/uuid"

	"github.com/kode4food/buildflow/pkg/api"
)

// NewProgram creates a program from directives, with a unique name
func NewProgram(directives ...*api.Directive) *api.Program {
	return &api.Program{
		Name:       "test-flow-" + uuid.New().String()[:8],
		Directives: directives,
	}
}

// Invoke creates a directive that schedules the named job
func Invoke(name api.JobName) *api.Directive {
	return &api.Directive{Type: api.DirectiveInvoke, Job: name}
}

// InvokeWith creates a directive that schedules the named job with params
func InvokeWith(name api.JobName, params api.Params) *api.Directive {
	d := Invoke(name)
	d.Params = params
	return d
}

// EnterParallel creates a directive that opens a parallel block
func EnterParallel() *api.Directive {
	return &api.Directive{Type: api.DirectiveEnterParallel}
}

// ExitParallel creates a directive that joins the open parallel block
func ExitParallel() *api.Directive {
	return &api.Directive{Type: api.DirectiveExitParallel}
}

// Acquire creates a directive that acquires the named resource
func Acquire(name api.ResourceName) *api.Directive {
	return &api.Directive{Type: api.DirectiveAcquire, Resource: name}
}

// Release creates a directive that releases the named resource
func Release(name api.ResourceName) *api.Directive {
	return &api.Directive{Type: api.DirectiveRelease, Resource: name}
}

// Override creates a directive that resets the run result
func Override(res api.Result) *api.Directive {
	return &api.Directive{Type: api.DirectiveOverride, Result: &res}
}
