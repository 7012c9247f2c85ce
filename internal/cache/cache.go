// Package cache provides a byte-budgeted LRU for immutable blobs.
// Remote blob stores wrap it around manifest and index reads so
// repeated snapshot loads don't round-trip to object storage.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// ByteCache caches immutable byte values under string keys.
// Returned slices must be treated as read-only.
type ByteCache interface {
	// Get returns a cached value, ok=false if missing.
	Get(key string) (b []byte, ok bool)
	// Set caches a value. The cache retains b; callers must not mutate it.
	Set(key string, b []byte)
	// Invalidate removes entries whose key matches the predicate.
	Invalidate(match func(key string) bool)
	// Stats returns hit and miss counters.
	Stats() (hits, misses int64)
}

// LRU is a ByteCache with a byte-size capacity. Values larger than the
// per-entry limit are never admitted, so one bulk archive read cannot
// evict every cached manifest.
type LRU struct {
	mu        sync.Mutex
	capacity  int64
	maxEntry  int64
	size      int64
	items     map[string]*list.Element
	evictList *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   string
	value []byte
}

// NewLRU creates an LRU holding at most capacity bytes. maxEntry caps
// the size of a single admitted value; <= 0 defaults to capacity/8.
func NewLRU(capacity, maxEntry int64) *LRU {
	if maxEntry <= 0 {
		maxEntry = capacity / 8
	}
	return &LRU{
		capacity:  capacity,
		maxEntry:  maxEntry,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// Get returns a cached value.
func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a value, evicting least-recently-used entries to fit.
func (c *LRU) Set(key string, b []byte) {
	if int64(len(b)) > c.maxEntry {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		old := el.Value.(*entry)
		c.size += int64(len(b)) - int64(len(old.value))
		old.value = b
		c.evictList.MoveToFront(el)
	} else {
		el := c.evictList.PushFront(&entry{key: key, value: b})
		c.items[key] = el
		c.size += int64(len(b))
	}

	for c.size > c.capacity {
		tail := c.evictList.Back()
		if tail == nil {
			break
		}
		c.removeElement(tail)
	}
}

// Invalidate removes entries whose key matches the predicate.
func (c *LRU) Invalidate(match func(key string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.items {
		if match(key) {
			c.removeElement(el)
		}
	}
}

// Stats returns hit and miss counters.
func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the current cached byte total.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU) removeElement(el *list.Element) {
	ent := el.Value.(*entry)
	c.evictList.Remove(el)
	delete(c.items, ent.key)
	c.size -= int64(len(ent.value))
}
