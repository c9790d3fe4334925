// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package cache provides a recency-ordered cache bounded by entry count
// and by estimated byte size.
package cache

import (
	"container/list"
	"encoding/json"
	"sync"

	"github.com/poiesic/docvault/core"
)

// Sizer estimates the memory footprint of a value in bytes.
type Sizer[V any] func(V) int64

// JSONSizer estimates size as the length of the JSON encoding.
// Values that cannot be encoded count as zero bytes.
func JSONSizer[V any](v V) int64 {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int64
}

// LRU is a least-recently-used cache. It is safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	maxItems int
	maxBytes int64
	sizer    Sizer[V]
	order    *list.List // front is most recently used
	items    map[K]*list.Element
	bytes    int64
}

// Option configures an LRU.
type Option[K comparable, V any] func(*LRU[K, V])

// WithMaxItems bounds the number of entries. Non-positive means unbounded.
func WithMaxItems[K comparable, V any](n int) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.maxItems = n
	}
}

// WithMaxBytes bounds the estimated total size. Non-positive means unbounded.
func WithMaxBytes[K comparable, V any](n int64) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.maxBytes = n
	}
}

// WithSizer overrides the size estimator.
func WithSizer[K comparable, V any](s Sizer[V]) Option[K, V] {
	return func(c *LRU[K, V]) {
		if s != nil {
			c.sizer = s
		}
	}
}

// New creates an empty LRU.
func New[K comparable, V any](opts ...Option[K, V]) *LRU[K, V] {
	c := &LRU[K, V]{
		sizer: JSONSizer[V],
		order: list.New(),
		items: make(map[K]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry[K, V]).value, true
}

// Set stores value under key and evicts least-recently-used entries until
// both bounds hold. The new entry is itself eligible for eviction, so a
// value larger than the byte budget empties the cache.
// Returns the number of evicted entries.
func (c *LRU[K, V]) Set(key K, value V) int {
	size := c.sizer(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		c.bytes += size - e.size
		e.value = value
		e.size = size
		c.order.MoveToFront(el)
	} else {
		c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, size: size})
		c.bytes += size
	}

	evicted := 0
	for c.overBudget() {
		c.removeElement(c.order.Back())
		evicted++
	}
	return evicted
}

func (c *LRU[K, V]) overBudget() bool {
	if c.order.Len() == 0 {
		return false
	}
	if c.maxItems > 0 && c.order.Len() > c.maxItems {
		return true
	}
	return c.maxBytes > 0 && c.bytes > c.maxBytes
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
	c.bytes -= e.size
}

// Delete removes key and reports whether it was present.
func (c *LRU[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// BatchDelete removes every key and returns how many were present.
func (c *LRU[K, V]) BatchDelete(keys ...K) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, key := range keys {
		if el, ok := c.items[key]; ok {
			c.removeElement(el)
			n++
		}
	}
	return n
}

// Clear removes every entry.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element)
	c.bytes = 0
}

// EvictOldest removes up to n least-recently-used entries and returns how
// many were removed.
func (c *LRU[K, V]) EvictOldest(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for removed < n && c.order.Len() > 0 {
		c.removeElement(c.order.Back())
		removed++
	}
	return removed
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns the keys from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

// MemoryUsage reports the tracked byte size against the byte budget.
// Percentage is zero when the cache has no byte bound.
func (c *LRU[K, V]) MemoryUsage() core.MemoryUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	usage := core.MemoryUsage{Current: c.bytes, Max: c.maxBytes}
	if c.maxBytes > 0 {
		usage.Percentage = float64(c.bytes) / float64(c.maxBytes) * 100
	}
	return usage
}
