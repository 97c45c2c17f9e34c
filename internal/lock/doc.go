// Package lock serializes access to named resources on an execution node
//
// Each node has one Allocator. A resource has at most one holder at a time;
// competing requesters block until the holder frees it, or until the holder
// is seen to have stopped without freeing, in which case the stale entry is
// reclaimed
package lock
