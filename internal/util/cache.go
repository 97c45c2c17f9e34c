package util

import (
	"container/list"
	"sync"
)

type (
	// LRUCache is a size-bounded cache that evicts the least recently used
	// entry first
	LRUCache[K comparable, T any] struct {
		cache   map[K]*list.Element
		lru     *list.List
		maxSize int
		mu      sync.Mutex
	}

	Constructor[T any] func() (T, error)

	cacheEntry[K comparable, T any] struct {
		value T
		key   K
	}
)

func NewLRUCache[K comparable, T any](maxSize int) *LRUCache[K, T] {
	return &LRUCache[K, T]{
		cache:   map[K]*list.Element{},
		lru:     list.New(),
		maxSize: max(maxSize, 1),
	}
}

// Get returns the cached value for key, calling create to fill a miss
func (c *LRUCache[K, T]) Get(key K, create Constructor[T]) (T, error) {
	if value, ok := c.Peek(key); ok {
		return value, nil
	}

	value, err := create()
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry[K, T]).value, nil
	}
	c.insert(key, value)
	return value, nil
}

// Peek returns the cached value for key without filling a miss
func (c *LRUCache[K, T]) Peek(key K) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.cache[key]
	if !ok {
		var zero T
		return zero, false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry[K, T]).value, true
}

// Put stores value under key, replacing any previous entry
func (c *LRUCache[K, T]) Put(key K, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		elem.Value.(*cacheEntry[K, T]).value = value
		c.lru.MoveToFront(elem)
		return
	}
	c.insert(key, value)
}

// Remove drops the entry for key, if present
func (c *LRUCache[K, T]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.lru.Remove(elem)
		delete(c.cache, key)
	}
}

// Len returns the number of cached entries
func (c *LRUCache[K, T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *LRUCache[K, T]) insert(key K, value T) {
	entry := &cacheEntry[K, T]{key: key, value: value}
	c.cache[key] = c.lru.PushFront(entry)
	if c.lru.Len() > c.maxSize {
		c.evictLast()
	}
}

func (c *LRUCache[K, T]) evictLast() {
	back := c.lru.Back()
	if back != nil {
		c.lru.Remove(back)
		backEntry := back.Value.(*cacheEntry[K, T])
		delete(c.cache, backEntry.key)
	}
}
