// Package cache provides the bounded in-memory recency tier that sits in
// front of the persistent store. It is an optimization only: every cached
// entry also exists in the store, so wiping the cache never loses data.
package cache

import "sync"

// Recency is a bounded newest-first buffer. Pushing beyond capacity drops
// the oldest entry.
type Recency[T any] struct {
	mu    sync.RWMutex
	max   int
	items []T
}

// New creates a recency cache holding at most max items.
func New[T any](max int) *Recency[T] {
	if max <= 0 {
		max = 50
	}
	return &Recency[T]{max: max}
}

// Push inserts an item at the front, evicting the oldest when full.
func (c *Recency[T]) Push(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append([]T{item}, c.items...)
	if len(c.items) > c.max {
		c.items = c.items[:c.max]
	}
}

// Recent returns up to n items, newest first, and whether the cache alone
// could satisfy the request. When ok is false the caller falls back to the
// persistent store.
func (c *Recency[T]) Recent(n int) (items []T, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 {
		return nil, true
	}
	if len(c.items) < n {
		return append([]T(nil), c.items...), false
	}
	return append([]T(nil), c.items[:n]...), true
}

// Len returns the number of cached items.
func (c *Recency[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear drops every cached item. Used when a caller needs to prove the
// store can reproduce cache-backed reads.
func (c *Recency[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}
