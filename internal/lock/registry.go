package lock

import (
	"runtime"
	"slices"
	"sync"
	"weak"

	"github.com/kode4food/buildflow/pkg/api"
)

// Registry lazily creates one Allocator per node. Entries are weak, so an
// allocator that nothing references any more (no lease, no caller) is
// dropped and recreated on next use
type Registry struct {
	allocs map[api.NodeID]weak.Pointer[Allocator]
	opts   []Option
	mu     sync.Mutex
}

// NewRegistry returns a registry whose allocators are built with opts
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		allocs: map[api.NodeID]weak.Pointer[Allocator]{},
		opts:   opts,
	}
}

// ForNode returns the allocator for node, creating it if needed
func (r *Registry) ForNode(node api.NodeID) *Allocator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wp, ok := r.allocs[node]; ok {
		if a := wp.Value(); a != nil {
			return a
		}
	}
	a := NewAllocator(node, r.opts...)
	r.allocs[node] = weak.Make(a)
	runtime.AddCleanup(a, r.evict, node)
	return a
}

// Lookup returns the allocator for node only if one is alive
func (r *Registry) Lookup(node api.NodeID) (*Allocator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wp, ok := r.allocs[node]; ok {
		if a := wp.Value(); a != nil {
			return a, true
		}
	}
	return nil, false
}

// Nodes returns the nodes that currently have a live allocator
func (r *Registry) Nodes() []api.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]api.NodeID, 0, len(r.allocs))
	for node, wp := range r.allocs {
		if wp.Value() != nil {
			res = append(res, node)
		}
	}
	slices.Sort(res)
	return res
}

func (r *Registry) evict(node api.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wp, ok := r.allocs[node]; ok && wp.Value() == nil {
		delete(r.allocs, node)
	}
}
