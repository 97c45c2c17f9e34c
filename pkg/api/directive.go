package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
)

type (
	// DirectiveType identifies one instruction in a directive stream
	DirectiveType string

	// Directive is a single instruction fed to a flow run, in program order
	Directive struct {
		Params   Params        `json:"params,omitempty" yaml:"params,omitempty"`
		Result   *Result       `json:"result,omitempty" yaml:"result,omitempty"`
		Type     DirectiveType `json:"type" yaml:"type"`
		Job      JobName       `json:"job,omitempty" yaml:"job,omitempty"`
		Resource ResourceName  `json:"resource,omitempty" yaml:"resource,omitempty"`
	}

	// Program is a named, linear sequence of directives
	Program struct {
		Name       string       `json:"name" yaml:"name"`
		Directives []*Directive `json:"directives" yaml:"directives"`
	}
)

const (
	DirectiveInvoke        DirectiveType = "invoke"
	DirectiveEnterParallel DirectiveType = "enter_parallel"
	DirectiveExitParallel  DirectiveType = "exit_parallel"
	DirectiveAcquire       DirectiveType = "acquire"
	DirectiveRelease       DirectiveType = "release"
	DirectiveOverride      DirectiveType = "override_result"
)

var (
	ErrInvalidDirective   = errors.New("invalid directive")
	ErrJobNameRequired    = errors.New("job name is required")
	ErrResourceRequired   = errors.New("resource name is required")
	ErrResourceInvalid    = errors.New("invalid resource name")
	ErrResultRequired     = errors.New("result is required")
	ErrProgramEmpty       = errors.New("program has no directives")
	ErrUnbalancedParallel = errors.New("unbalanced parallel block")
)

// Validate checks that the directive carries the fields its type requires
func (d *Directive) Validate() error {
	switch d.Type {
	case DirectiveInvoke:
		if strings.TrimSpace(string(d.Job)) == "" {
			return ErrJobNameRequired
		}
	case DirectiveAcquire, DirectiveRelease:
		if d.Resource == "" {
			return ErrResourceRequired
		}
		if !IsValidID(d.Resource) {
			return fmt.Errorf("%w: %s", ErrResourceInvalid, d.Resource)
		}
	case DirectiveOverride:
		if d.Result == nil {
			return ErrResultRequired
		}
		if !d.Result.IsValid() {
			return fmt.Errorf("%w: %d", ErrInvalidResult, *d.Result)
		}
	case DirectiveEnterParallel, DirectiveExitParallel:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDirective, d.Type)
	}
	return nil
}

func (d *Directive) String() string {
	switch d.Type {
	case DirectiveInvoke:
		return fmt.Sprintf("%s(%s)", d.Type, d.Job)
	case DirectiveAcquire, DirectiveRelease:
		return fmt.Sprintf("%s(%s)", d.Type, d.Resource)
	case DirectiveOverride:
		if d.Result != nil {
			return fmt.Sprintf("%s(%s)", d.Type, *d.Result)
		}
	}
	return string(d.Type)
}

// Validate checks every directive and that parallel blocks are balanced and
// not nested
func (p *Program) Validate() error {
	if len(p.Directives) == 0 {
		return ErrProgramEmpty
	}
	inParallel := false
	for i, d := range p.Directives {
		if d == nil {
			return fmt.Errorf("%w: #%d is empty", ErrInvalidDirective, i)
		}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("directive #%d: %w", i, err)
		}
		switch d.Type {
		case DirectiveEnterParallel:
			if inParallel {
				return fmt.Errorf("%w: nested at #%d",
					ErrUnbalancedParallel, i)
			}
			inParallel = true
		case DirectiveExitParallel:
			if !inParallel {
				return fmt.Errorf("%w: exit without enter at #%d",
					ErrUnbalancedParallel, i)
			}
			inParallel = false
		}
	}
	return nil
}

// ParseProgram decodes a program from YAML or JSON. JSON is accepted because
// it is a subset of YAML
func ParseProgram(data []byte) (*Program, error) {
	var p Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseProgramJSON decodes a program from strict JSON
func ParseProgramJSON(data []byte) (*Program, error) {
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
