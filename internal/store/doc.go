// Package store retains the records of finished flow runs in redis. Each run
// is a single JSON document indexed by creation time, with a bounded LRU
// cache in front of the reads
package store
