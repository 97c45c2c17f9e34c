package engine

import (
	"log/slog"

	"github.com/kode4food/buildflow/internal/flow"
	"github.com/kode4food/buildflow/internal/lock"
	"github.com/kode4food/buildflow/pkg/api"
	"github.com/kode4food/buildflow/pkg/log"
)

// Locks returns the holder of every resource currently held on node
func (e *Engine) Locks(node api.NodeID) map[api.ResourceName]string {
	res := map[api.ResourceName]string{}
	alloc, ok := e.locks.Lookup(node)
	if !ok {
		return res
	}
	for name, holder := range alloc.Holders() {
		res[name] = holder.HolderID()
	}
	return res
}

// Nodes returns the nodes that currently have a resource allocator
func (e *Engine) Nodes() []api.NodeID {
	return e.locks.Nodes()
}

// FreeLock forcibly releases a resource on node, whoever holds it. It
// reports whether the resource was held
func (e *Engine) FreeLock(node api.NodeID, name api.ResourceName) bool {
	alloc, ok := e.locks.Lookup(node)
	if !ok {
		return false
	}
	holder, held := alloc.Holder(name)
	if !held || !alloc.Free(name) {
		return false
	}
	slog.Warn("Resource forcibly freed",
		log.Node(node),
		log.Resource(name),
		slog.String("holder", holder.HolderID()))
	return true
}

func (e *Engine) resourceReclaimed(
	node api.NodeID, name api.ResourceName, stale, next lock.Holder,
) {
	id := flow.HolderRun(next)
	e.hub.Publish(api.EventTypeResourceReclaimed, id, api.ResourceEvent{
		RunID:    id,
		Node:     node,
		Resource: name,
		Previous: stale.HolderID(),
	})
}
