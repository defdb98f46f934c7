// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import "fmt"

// LRUCache is a fixed-capacity, least-recently-used value cache built
// on LinkedList for its eviction order. Unlike the teacher's
// lib/caching.Cache, entries here carry no loader or pinning semantics
// a caller that already serializes its own access (as diskio's
// buffered file does) has no use for: a miss is reported via Get's ok
// return, and the caller is expected to fill it with Add itself.
type LRUCache[K comparable, V any] struct {
	cap   int
	order LinkedList[lruCacheEntry[K, V]]
	byKey map[K]*LinkedListEntry[lruCacheEntry[K, V]]
}

type lruCacheEntry[K comparable, V any] struct {
	key K
	val V
}

// NewLRUCache returns an empty cache holding at most cap entries.
//
// It is invalid (runtime-panic) to call NewLRUCache with a
// non-positive capacity.
func NewLRUCache[K comparable, V any](cap int) *LRUCache[K, V] {
	if cap <= 0 {
		panic(fmt.Errorf("containers.NewLRUCache: invalid capacity: %v", cap))
	}
	return &LRUCache[K, V]{
		cap:   cap,
		byKey: make(map[K]*LinkedListEntry[lruCacheEntry[K, V]], cap),
	}
}

// Get returns the cached value for k, if present, and marks it most
// recently used.
func (c *LRUCache[K, V]) Get(k K) (V, bool) {
	entry, ok := c.byKey[k]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToNewest(entry)
	return entry.Value.val, true
}

// Add inserts or replaces the cached value for k, evicting the least
// recently used entry first if the cache is already at capacity.
func (c *LRUCache[K, V]) Add(k K, v V) {
	if entry, ok := c.byKey[k]; ok {
		entry.Value.val = v
		c.order.MoveToNewest(entry)
		return
	}
	if len(c.byKey) >= c.cap {
		if oldest := c.order.Oldest; oldest != nil {
			delete(c.byKey, oldest.Value.key)
			c.order.Delete(oldest)
		}
	}
	entry := &LinkedListEntry[lruCacheEntry[K, V]]{Value: lruCacheEntry[K, V]{key: k, val: v}}
	c.order.Store(entry)
	c.byKey[k] = entry
}

// Remove evicts k, if present.
func (c *LRUCache[K, V]) Remove(k K) {
	entry, ok := c.byKey[k]
	if !ok {
		return
	}
	delete(c.byKey, k)
	c.order.Delete(entry)
}
