package flow

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/kode4food/buildflow/internal/graph"
	"github.com/kode4food/buildflow/internal/job"
	"github.com/kode4food/buildflow/pkg/api"
)

type (
	// Graph is the execution graph of a run, keyed by handle index
	Graph = graph.Graph[*job.Handle]

	// State is the cursor of one logical thread of a run. It is not safe
	// for concurrent use; each thread owns its own State
	State struct {
		frontier []*job.Handle
		heads    []*job.Handle
		joinID   graph.ID
		result   api.Result
		parallel bool
		pending  bool
	}
)

var (
	ErrAlreadyParallel = errors.New("already collecting parallel branches")
	ErrNotParallel     = errors.New("not collecting parallel branches")
	ErrEmptyFrontier   = errors.New("frontier is empty")
)

// NewState returns a state positioned at from with a Success result
func NewState(from ...*job.Handle) *State {
	return &State{
		frontier: slices.Clone(from),
		result:   api.Success,
	}
}

// Result returns the aggregate result of the thread
func (s *State) Result() api.Result {
	return s.result
}

// Frontier returns the handles the next invocation would be linked from. In
// parallel mode this includes the branch heads collected so far
func (s *State) Frontier() []*job.Handle {
	if s.parallel {
		return append(slices.Clone(s.frontier), s.heads...)
	}
	return slices.Clone(s.frontier)
}

// IsParallel reports whether the state is collecting parallel branches
func (s *State) IsParallel() bool {
	return s.parallel
}

// Advance links h into g from the current frontier and moves the cursor.
// Sequentially the frontier becomes {h}. While collecting parallel branches
// h is linked from the frontier as it was on entering parallel mode, and
// joins the set of branch heads. Every edge is in place before Advance
// returns, and nothing is inserted if any edge would be invalid
func (s *State) Advance(g *Graph, h *job.Handle) error {
	if err := s.collapse(g); err != nil {
		return err
	}
	if len(s.frontier) == 0 {
		return ErrEmptyFrontier
	}
	if err := link(g, s.frontier, h); err != nil {
		return err
	}
	if s.parallel {
		s.heads = append(s.heads, h)
		return nil
	}
	s.frontier = []*job.Handle{h}
	return nil
}

// Join waits for every frontier member to reach a terminal result and folds
// those results into the state's result, which it returns. Leaving parallel
// mode only the branch heads are folded, as the frontier they started from
// was folded when it was reached. Parallel mode ends, and the frontier is
// left holding the branch heads. If more than one member remains, a join
// vertex is reserved and inserted on the next Advance
func (s *State) Join(ctx context.Context, g *Graph) (api.Result, error) {
	members := s.frontier
	if s.parallel {
		members = s.heads
	}
	joined := api.Success
	for _, h := range members {
		res, err := h.Await(ctx)
		if err != nil {
			return api.Aborted, fmt.Errorf("%s: %w", h, err)
		}
		joined = joined.Combine(res)
	}
	s.result = s.result.Combine(joined)

	if s.parallel {
		if len(s.heads) > 0 {
			s.frontier = s.heads
		}
		s.heads = nil
		s.parallel = false
	}
	if len(s.frontier) > 1 && !s.pending {
		s.joinID = g.NextID()
		s.pending = true
	}
	return s.result, nil
}

// Reset overrides the aggregate result
func (s *State) Reset(res api.Result) {
	s.result = res
}

func (s *State) enterParallel(g *Graph) error {
	if s.parallel {
		return ErrAlreadyParallel
	}
	if err := s.collapse(g); err != nil {
		return err
	}
	s.parallel = true
	s.heads = nil
	return nil
}

func (s *State) fork() *State {
	return NewState(s.frontier...)
}

func (s *State) merge(g *Graph, branches []*State) {
	var frontier []*job.Handle
	for _, b := range branches {
		s.result = s.result.Combine(b.result)
		for _, h := range b.frontier {
			if !slices.Contains(frontier, h) {
				frontier = append(frontier, h)
			}
		}
	}
	if len(frontier) == 0 {
		return
	}
	s.frontier = frontier
	if len(frontier) > 1 {
		s.joinID = g.NextID()
		s.pending = true
	}
}

// collapse inserts the reserved join vertex in front of a multi-member
// frontier so the next vertex has a single source
func (s *State) collapse(g *Graph) error {
	if !s.pending {
		return nil
	}
	joined := api.Success
	for _, h := range s.frontier {
		joined = joined.Combine(h.Result())
	}
	jh := job.NewJoinHandle(int(s.joinID), joined)
	if err := link(g, s.frontier, jh); err != nil {
		return err
	}
	s.frontier = []*job.Handle{jh}
	s.pending = false
	return nil
}

func link(g *Graph, from []*job.Handle, h *job.Handle) error {
	to := graph.ID(h.Index())
	for _, f := range from {
		id := graph.ID(f.Index())
		if !g.Has(id) {
			return fmt.Errorf("%w: %d", graph.ErrUnknownVertex, id)
		}
		if id >= to {
			return fmt.Errorf("%w: %d -> %d", graph.ErrBackEdge, id, to)
		}
	}
	if !g.AddVertex(to, h) {
		return fmt.Errorf("%w: vertex %d already linked",
			graph.ErrIntegrity, to)
	}
	for _, f := range from {
		if err := g.AddEdge(graph.ID(f.Index()), to); err != nil {
			return err
		}
	}
	return nil
}
