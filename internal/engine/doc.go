// Package engine runs many build flows concurrently. It owns the live runs,
// the per-node resource allocators and the event hub runs publish to, and it
// hands every finished run to the run store and the archive
package engine
