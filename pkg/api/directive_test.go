package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/buildflow/pkg/api"
)

func result(r api.Result) *api.Result {
	return &r
}

func TestDirectiveValidate(t *testing.T) {
	tests := []struct {
		name string
		dir  *api.Directive
		err  error
	}{
		{
			name: "invoke",
			dir:  &api.Directive{Type: api.DirectiveInvoke, Job: "compile"},
		},
		{
			name: "invoke_without_job",
			dir:  &api.Directive{Type: api.DirectiveInvoke, Job: "  "},
			err:  api.ErrJobNameRequired,
		},
		{
			name: "acquire",
			dir: &api.Directive{
				Type: api.DirectiveAcquire, Resource: "workspace",
			},
		},
		{
			name: "release_without_resource",
			dir:  &api.Directive{Type: api.DirectiveRelease},
			err:  api.ErrResourceRequired,
		},
		{
			name: "acquire_invalid_resource",
			dir: &api.Directive{
				Type: api.DirectiveAcquire, Resource: "a/b",
			},
			err: api.ErrResourceInvalid,
		},
		{
			name: "override",
			dir: &api.Directive{
				Type: api.DirectiveOverride, Result: result(api.Unstable),
			},
		},
		{
			name: "override_without_result",
			dir:  &api.Directive{Type: api.DirectiveOverride},
			err:  api.ErrResultRequired,
		},
		{
			name: "override_invalid_result",
			dir: &api.Directive{
				Type: api.DirectiveOverride, Result: result(api.Result(7)),
			},
			err: api.ErrInvalidResult,
		},
		{
			name: "unknown",
			dir:  &api.Directive{Type: "loop"},
			err:  api.ErrInvalidDirective,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dir.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDirectiveString(t *testing.T) {
	assert.Equal(t, "invoke(compile)",
		(&api.Directive{Type: api.DirectiveInvoke, Job: "compile"}).String(),
	)
	assert.Equal(t, "acquire(ws)",
		(&api.Directive{Type: api.DirectiveAcquire, Resource: "ws"}).String(),
	)
	assert.Equal(t, "override_result(FAILURE)",
		(&api.Directive{
			Type: api.DirectiveOverride, Result: result(api.Failure),
		}).String(),
	)
	assert.Equal(t, "enter_parallel",
		(&api.Directive{Type: api.DirectiveEnterParallel}).String(),
	)
}

func TestProgramValidate(t *testing.T) {
	enter := &api.Directive{Type: api.DirectiveEnterParallel}
	exit := &api.Directive{Type: api.DirectiveExitParallel}
	invoke := &api.Directive{Type: api.DirectiveInvoke, Job: "a"}

	p := &api.Program{Directives: []*api.Directive{enter, invoke, exit}}
	assert.NoError(t, p.Validate())

	p = &api.Program{Directives: []*api.Directive{enter, invoke}}
	assert.NoError(t, p.Validate())

	p = &api.Program{}
	assert.ErrorIs(t, p.Validate(), api.ErrProgramEmpty)

	p = &api.Program{Directives: []*api.Directive{enter, enter}}
	assert.ErrorIs(t, p.Validate(), api.ErrUnbalancedParallel)

	p = &api.Program{Directives: []*api.Directive{exit}}
	assert.ErrorIs(t, p.Validate(), api.ErrUnbalancedParallel)

	p = &api.Program{Directives: []*api.Directive{invoke, nil}}
	assert.ErrorIs(t, p.Validate(), api.ErrInvalidDirective)

	p = &api.Program{Directives: []*api.Directive{
		invoke, {Type: api.DirectiveInvoke},
	}}
	err := p.Validate()
	assert.ErrorIs(t, err, api.ErrJobNameRequired)
	assert.Contains(t, err.Error(), "directive #1")
}

func TestParseProgramYAML(t *testing.T) {
	p, err := api.ParseProgram([]byte(`
name: nightly
directives:
  - type: acquire
    resource: workspace
  - type: invoke
    job: compile
    params:
      branch: main
  - type: override_result
    result: unstable
`))
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	assert.Equal(t, "nightly", p.Name)
	require.Len(t, p.Directives, 3)
	assert.Equal(t, api.ResourceName("workspace"), p.Directives[0].Resource)
	assert.Equal(t, api.Params{"branch": "main"}, p.Directives[1].Params)
	assert.Equal(t, api.Unstable, *p.Directives[2].Result)
}

func TestParseProgramJSON(t *testing.T) {
	data := []byte(`{"name":"ci","directives":[
		{"type":"invoke","job":"compile"},
		{"type":"override_result","result":"FAILURE"}
	]}`)

	p, err := api.ParseProgram(data)
	require.NoError(t, err)
	assert.Equal(t, "ci", p.Name)
	assert.Equal(t, api.Failure, *p.Directives[1].Result)

	strict, err := api.ParseProgramJSON(data)
	require.NoError(t, err)
	assert.Equal(t, p.Name, strict.Name)

	_, err = api.ParseProgramJSON([]byte("name: ci"))
	assert.Error(t, err)
}

func TestStartRunRequestValidate(t *testing.T) {
	req := &api.StartRunRequest{}
	assert.ErrorIs(t, req.Validate(), api.ErrProgramRequired)

	req.Program = &api.Program{Directives: []*api.Directive{
		{Type: api.DirectiveInvoke, Job: "a"},
	}}
	assert.NoError(t, req.Validate())

	req.Node = "bad/node"
	assert.ErrorIs(t, req.Validate(), api.ErrNodeInvalid)
}
