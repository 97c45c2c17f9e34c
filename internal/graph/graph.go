package graph

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

type (
	// ID identifies a vertex within a single graph
	ID int

	// Direction selects which edges a traversal follows
	Direction uint8

	// Edge is a directed edge between two vertices
	Edge struct {
		From ID
		To   ID
	}

	// Graph is an append-only directed acyclic graph safe for concurrent use
	Graph[V any] struct {
		vertices []V
		present  []bool
		out      [][]ID
		in       [][]ID
		edges    []Edge
		next     ID
		mu       sync.RWMutex
	}
)

const (
	// Downstream follows outgoing edges
	Downstream Direction = iota

	// Upstream follows incoming edges
	Upstream
)

var (
	// ErrIntegrity is the root of every graph invariant violation
	ErrIntegrity = errors.New("graph integrity violation")

	// ErrUnknownVertex is returned when an edge references a missing vertex
	ErrUnknownVertex = fmt.Errorf("%w: unknown vertex", ErrIntegrity)

	// ErrBackEdge is returned when an edge does not point to a later vertex
	ErrBackEdge = fmt.Errorf("%w: edge must point to a later vertex",
		ErrIntegrity)
)

// New creates an empty graph with room for capacity vertices
func New[V any](capacity int) *Graph[V] {
	return &Graph[V]{
		vertices: make([]V, 0, capacity),
		present:  make([]bool, 0, capacity),
		out:      make([][]ID, 0, capacity),
		in:       make([][]ID, 0, capacity),
	}
}

// NextID reserves and returns the next vertex ID. IDs increase monotonically
func (g *Graph[V]) NextID() ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	g.next++
	return id
}

// AddVertex inserts v under id unless a vertex with that ID already exists.
// It reports whether the vertex was inserted
func (g *Graph[V]) AddVertex(id ID, v V) bool {
	if id < 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.grow(id)
	if g.present[id] {
		return false
	}
	g.vertices[id] = v
	g.present[id] = true
	if id >= g.next {
		g.next = id + 1
	}
	return true
}

// AddEdge records that from triggered to. Both vertices must exist and from
// must precede to. Adding an existing edge is a no-op
func (g *Graph[V]) AddEdge(from, to ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.has(from) {
		return fmt.Errorf("%w: %d", ErrUnknownVertex, from)
	}
	if !g.has(to) {
		return fmt.Errorf("%w: %d", ErrUnknownVertex, to)
	}
	if from >= to {
		return fmt.Errorf("%w: %d -> %d", ErrBackEdge, from, to)
	}
	if slices.Contains(g.out[from], to) {
		return nil
	}
	g.out[from] = append(g.out[from], to)
	g.in[to] = append(g.in[to], from)
	g.edges = append(g.edges, Edge{From: from, To: to})
	return nil
}

// Has reports whether a vertex with the given ID exists
func (g *Graph[V]) Has(id ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.has(id)
}

// Vertex returns the vertex stored under id
func (g *Graph[V]) Vertex(id ID) (V, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.has(id) {
		var zero V
		return zero, false
	}
	return g.vertices[id], true
}

// Len returns the number of vertices
func (g *Graph[V]) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := 0
	for _, ok := range g.present {
		if ok {
			res++
		}
	}
	return res
}

// IDs returns the IDs of all vertices in insertion order
func (g *Graph[V]) IDs() []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := make([]ID, 0, len(g.present))
	for id, ok := range g.present {
		if ok {
			res = append(res, ID(id))
		}
	}
	return res
}

// Edges returns every edge in the order it was added
func (g *Graph[V]) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.edges)
}

// Outgoing returns the vertices directly triggered by id
func (g *Graph[V]) Outgoing(id ID) []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.has(id) {
		return nil
	}
	return slices.Clone(g.out[id])
}

// Incoming returns the vertices that directly triggered id
func (g *Graph[V]) Incoming(id ID) []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.has(id) {
		return nil
	}
	return slices.Clone(g.in[id])
}

// Sources returns the vertices that have no incoming edges
func (g *Graph[V]) Sources() []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var res []ID
	for id, ok := range g.present {
		if ok && len(g.in[id]) == 0 {
			res = append(res, ID(id))
		}
	}
	return res
}

// Reachable returns id and every vertex reachable from it in the given
// direction, in discovery order
func (g *Graph[V]) Reachable(id ID, dir Direction) []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.has(id) {
		return nil
	}

	adj := g.out
	if dir == Upstream {
		adj = g.in
	}

	seen := make([]bool, len(g.present))
	seen[id] = true
	res := []ID{id}
	for i := 0; i < len(res); i++ {
		for _, n := range adj[res[i]] {
			if !seen[n] {
				seen[n] = true
				res = append(res, n)
			}
		}
	}
	return res
}

// Fold combines the values of every vertex reachable from id, including id
func Fold[V, T any](
	g *Graph[V], id ID, dir Direction, init T, fn func(T, V) T,
) T {
	res := init
	for _, n := range g.Reachable(id, dir) {
		if v, ok := g.Vertex(n); ok {
			res = fn(res, v)
		}
	}
	return res
}

func (g *Graph[V]) has(id ID) bool {
	return id >= 0 && int(id) < len(g.present) && g.present[id]
}

func (g *Graph[V]) grow(id ID) {
	for int(id) >= len(g.present) {
		var zero V
		g.vertices = append(g.vertices, zero)
		g.present = append(g.present, false)
		g.out = append(g.out, nil)
		g.in = append(g.in, nil)
	}
}
