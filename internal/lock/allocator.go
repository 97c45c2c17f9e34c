package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/kode4food/buildflow/pkg/api"
	"github.com/kode4food/buildflow/pkg/log"
)

type (
	// Holder is anything that can hold a resource, typically a flow run
	Holder interface {
		HolderID() string

		// Stopped reports whether the holder is known to have finished
		// running. A stopped holder that still holds a resource is stale
		Stopped() bool
	}

	// Allocator hands out exclusive leases on named resources of one node
	Allocator struct {
		holders   map[api.ResourceName]Holder
		changed   chan struct{}
		onReclaim ReclaimFunc
		node      api.NodeID
		poll      time.Duration
		mu        sync.Mutex
	}

	// Resource is a lease on a named resource
	Resource struct {
		alloc  *Allocator
		holder Holder
		name   api.ResourceName
	}

	// ReclaimFunc is notified when a stale holder's lease is force-freed
	ReclaimFunc func(
		node api.NodeID, name api.ResourceName, stale, next Holder,
	)

	// Option configures an Allocator
	Option func(*Allocator)
)

// DefaultPollInterval is how often a blocked allocation re-checks whether
// the current holder has stopped
const DefaultPollInterval = time.Second

var (
	ErrAllocationInterrupted = errors.New("resource allocation interrupted")
	ErrAlreadyHeld           = errors.New("resource already held by requester")
)

// WithPollInterval sets the stale-holder re-check interval
func WithPollInterval(d time.Duration) Option {
	return func(a *Allocator) {
		if d > 0 {
			a.poll = d
		}
	}
}

// WithReclaimHandler registers a function called after a stale holder has
// been replaced
func WithReclaimHandler(fn ReclaimFunc) Option {
	return func(a *Allocator) {
		a.onReclaim = fn
	}
}

// NewAllocator returns an allocator for the given node
func NewAllocator(node api.NodeID, opts ...Option) *Allocator {
	a := &Allocator{
		holders: map[api.ResourceName]Holder{},
		changed: make(chan struct{}),
		node:    node,
		poll:    DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Node returns the node the allocator belongs to
func (a *Allocator) Node() api.NodeID {
	return a.node
}

// Allocate blocks until holder can be assigned the named resource and returns
// the lease. Cancelling the context interrupts the wait with
// ErrAllocationInterrupted
func (a *Allocator) Allocate(
	ctx context.Context, name api.ResourceName, holder Holder,
) (*Resource, error) {
	var ticker *time.Ticker
	for {
		res, wait, err := a.tryAllocate(name, holder)
		if res != nil || err != nil {
			if ticker != nil {
				ticker.Stop()
			}
			return res, err
		}

		if ticker == nil {
			ticker = time.NewTicker(a.poll)
		}
		select {
		case <-wait:
		case <-ticker.C:
		case <-ctx.Done():
			ticker.Stop()
			return nil, fmt.Errorf("%w: %s on %s: %w",
				ErrAllocationInterrupted, name, a.node, ctx.Err())
		}
	}
}

// TryAllocate assigns the named resource to holder only if it is available
// right now
func (a *Allocator) TryAllocate(
	name api.ResourceName, holder Holder,
) (*Resource, bool, error) {
	res, _, err := a.tryAllocate(name, holder)
	return res, res != nil, err
}

// Free removes the holder of the named resource, whoever it is, and wakes
// all blocked allocations. Freeing an unheld resource is a no-op
func (a *Allocator) Free(name api.ResourceName) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.holders[name]; !ok {
		return false
	}
	a.release(name)
	return true
}

// Holder returns the current holder of the named resource
func (a *Allocator) Holder(name api.ResourceName) (Holder, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.holders[name]
	return h, ok
}

// Holders returns a snapshot of every held resource and its holder
func (a *Allocator) Holders() map[api.ResourceName]Holder {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.holders)
}

func (a *Allocator) tryAllocate(
	name api.ResourceName, holder Holder,
) (*Resource, <-chan struct{}, error) {
	a.mu.Lock()
	cur, ok := a.holders[name]
	switch {
	case !ok:
	case cur.HolderID() == holder.HolderID():
		a.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s on %s",
			ErrAlreadyHeld, name, a.node)
	case cur.Stopped():
		slog.Warn("Reclaiming resource from stopped holder",
			log.Node(a.node),
			log.Resource(name),
			slog.String("stale_holder", cur.HolderID()),
			slog.String("holder", holder.HolderID()))
	default:
		wait := a.changed
		a.mu.Unlock()
		return nil, wait, nil
	}

	a.holders[name] = holder
	onReclaim := a.onReclaim
	a.mu.Unlock()

	if ok && onReclaim != nil {
		onReclaim(a.node, name, cur, holder)
	}
	return &Resource{alloc: a, holder: holder, name: name}, nil, nil
}

func (a *Allocator) release(name api.ResourceName) {
	delete(a.holders, name)
	close(a.changed)
	a.changed = make(chan struct{})
}

// Name returns the leased resource name
func (r *Resource) Name() api.ResourceName {
	return r.name
}

// Node returns the node the lease was granted on
func (r *Resource) Node() api.NodeID {
	return r.alloc.node
}

// Holder returns the holder the lease was granted to
func (r *Resource) Holder() Holder {
	return r.holder
}

// Free releases the lease. It returns false if the lease had already been
// freed or reclaimed by another holder
func (r *Resource) Free() bool {
	a := r.alloc
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.holders[r.name]
	if !ok || cur.HolderID() != r.holder.HolderID() {
		return false
	}
	a.release(r.name)
	return true
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s@%s", r.name, r.alloc.node)
}
