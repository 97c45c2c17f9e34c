package helpers

import "sync/atomic"

// FakeHolder is a resource holder whose stopped state is set by tests
type FakeHolder struct {
	id      string
	stopped atomic.Bool
}

// NewFakeHolder returns a running holder with the given ID
func NewFakeHolder(id string) *FakeHolder {
	return &FakeHolder{id: id}
}

// HolderID returns the holder's ID
func (h *FakeHolder) HolderID() string {
	return h.id
}

// Stopped reports whether Stop has been called
func (h *FakeHolder) Stopped() bool {
	return h.stopped.Load()
}

// Stop marks the holder as no longer running
func (h *FakeHolder) Stop() {
	h.stopped.Store(true)
}
