package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/kode4food/buildflow/internal/archive"
	"github.com/kode4food/buildflow/internal/flow"
	"github.com/kode4food/buildflow/internal/store"
	"github.com/kode4food/buildflow/pkg/api"
	"github.com/kode4food/buildflow/pkg/log"
)

// StartRun creates a run of the named flow on node and executes ev on it in
// the background. An empty node selects the engine's own node
func (e *Engine) StartRun(
	flowName string, node api.NodeID, ev flow.Evaluator,
) (*flow.Run, error) {
	if node == "" {
		node = e.config.NodeName
	}
	if !api.IsValidID(node) {
		return nil, fmt.Errorf("%w: %s", api.ErrNodeInvalid, node)
	}

	run := flow.NewRun(flow.Config{
		Resolver:  e.resolver,
		Locks:     e.locks,
		Publisher: e.hub,
		ID:        api.RunID(uuid.New().String()),
		Flow:      flowName,
		Node:      node,
	})

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped.Load() {
		return nil, ErrEngineStopped
	}
	e.runs.Store(run.ID(), run)
	e.wg.Go(func() {
		e.execute(run, ev)
	})
	return run, nil
}

// RunProgram validates a directive program and starts a run that applies it
func (e *Engine) RunProgram(req *api.StartRunRequest) (*flow.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ev := flow.NewProgramEvaluator(req.Program)
	return e.StartRun(req.Program.Name, req.Node, ev)
}

// CancelRun aborts an active run. Builds it scheduled are asked to abort and
// its resources are released
func (e *Engine) CancelRun(ctx context.Context, id api.RunID) error {
	if run, ok := e.ActiveRun(id); ok {
		if run.Cancel() {
			slog.Info("Run cancellation requested", log.RunID(id))
			return nil
		}
		return fmt.Errorf("%w: %s", ErrRunNotActive, id)
	}
	if _, err := e.GetRun(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrRunNotActive, id)
}

// GetRun returns the record of an active, stored, or archived run
func (e *Engine) GetRun(
	ctx context.Context, id api.RunID,
) (*api.RunRecord, error) {
	if run, ok := e.ActiveRun(id); ok {
		return run.Record(), nil
	}

	rec, err := e.store.Get(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrRunNotFound) {
		return nil, err
	}

	if e.archiver != nil {
		rec, err := e.archiver.Get(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, archive.ErrNotArchived) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
}

// GetGraph renders the execution graph of a run in DOT form
func (e *Engine) GetGraph(ctx context.Context, id api.RunID) ([]byte, error) {
	var buf bytes.Buffer
	if run, ok := e.ActiveRun(id); ok {
		if err := run.WriteDOT(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	if e.archiver != nil {
		dot, err := e.archiver.Graph(ctx, id)
		if err == nil {
			return dot, nil
		}
		if !errors.Is(err, archive.ErrNotArchived) {
			return nil, err
		}
	}

	rec, err := e.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := flow.WriteRecordDOT(&buf, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ListRuns returns the active runs followed by up to limit stored runs,
// newest first
func (e *Engine) ListRuns(
	ctx context.Context, limit int,
) ([]*api.RunDigest, error) {
	var active []*api.RunDigest
	seen := map[api.RunID]bool{}
	e.runs.Range(func(_, v any) bool {
		rec := v.(*flow.Run).Record()
		active = append(active, rec.Digest())
		seen[rec.ID] = true
		return true
	})
	slices.SortFunc(active, newestFirst)

	stored, err := e.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	res := active
	for _, d := range stored {
		if !seen[d.ID] {
			res = append(res, d)
		}
	}
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// ActiveRuns returns the number of runs that have not been persisted yet
func (e *Engine) ActiveRuns() int {
	count := 0
	e.runs.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// ActiveRun returns a run that is still executing or being persisted
func (e *Engine) ActiveRun(id api.RunID) (*flow.Run, bool) {
	if v, ok := e.runs.Load(id); ok {
		return v.(*flow.Run), true
	}
	return nil, false
}

func (e *Engine) execute(run *flow.Run, ev flow.Evaluator) {
	defer e.runs.Delete(run.ID())

	res, err := run.Execute(e.ctx, ev)
	if err != nil {
		slog.Debug("Run ended early",
			log.RunID(run.ID()),
			log.Result(res),
			log.Error(err))
	}
	e.persist(run)
}

// persist saves the record of a finished run and copies it to the archive.
// The run stays visible as active until this returns
func (e *Engine) persist(run *flow.Run) {
	ctx, cancel := context.WithTimeout(
		context.WithoutCancel(e.ctx), persistTimeout,
	)
	defer cancel()

	rec := run.Record()
	if err := e.store.Save(ctx, rec); err != nil {
		slog.Error("Failed to persist run",
			log.RunID(rec.ID),
			log.Error(err))
	}

	if e.archiver == nil {
		return
	}
	var dot bytes.Buffer
	if err := run.WriteDOT(&dot); err != nil {
		slog.Warn("Failed to render run graph",
			log.RunID(rec.ID),
			log.Error(err))
	}
	if err := e.archiver.Archive(ctx, rec, dot.Bytes()); err != nil {
		slog.Error("Failed to archive run",
			log.RunID(rec.ID),
			log.Error(err))
	}
}

func newestFirst(a, b *api.RunDigest) int {
	return b.CreatedAt.Compare(a.CreatedAt)
}
