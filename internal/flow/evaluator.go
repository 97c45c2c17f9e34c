package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/kode4food/buildflow/pkg/api"
)

type (
	// Evaluator feeds directives to a run's root thread in program order
	Evaluator interface {
		Evaluate(context.Context, *Thread) error
	}

	// EvaluatorFunc adapts a function to the Evaluator interface
	EvaluatorFunc func(context.Context, *Thread) error

	// ProgramEvaluator applies the directives of a Program one by one
	ProgramEvaluator struct {
		program *api.Program
	}
)

var ErrEvaluatorPanic = errors.New("evaluator panicked")

// Evaluate calls fn
func (fn EvaluatorFunc) Evaluate(ctx context.Context, t *Thread) error {
	return fn(ctx, t)
}

// NewProgramEvaluator returns an evaluator for p
func NewProgramEvaluator(p *api.Program) *ProgramEvaluator {
	return &ProgramEvaluator{program: p}
}

// Evaluate applies every directive, stopping at the first error
func (e *ProgramEvaluator) Evaluate(ctx context.Context, t *Thread) error {
	if err := e.program.Validate(); err != nil {
		return err
	}
	for i, d := range e.program.Directives {
		if err := t.Apply(ctx, d); err != nil {
			return fmt.Errorf("directive #%d %s: %w", i, d, err)
		}
	}
	return nil
}
