// Package slab implements a fixed-size object cache for detector metadata.
//
// Every long-lived detector structure (shadow cells, sync objects, memory
// blocks) is carved out of a Cache instead of the general allocator. A Cache
// reserves one power-of-two arena at construction time and links its free
// slots through an index stack, so Alloc and Free are O(1) and never grow
// the heap after New returns.
//
// Exhaustion is not an error: Alloc returns (-1, nil) and the caller drops
// the event it was trying to track.
package slab

import (
	"math/bits"
	"sync"
)

// none terminates the free list.
const none = -1

// Cache is a pool of Capacity objects of type T.
//
// Objects are addressed by their arena index. Indices stay valid for the
// lifetime of the cache, which lets other structures link objects by index
// instead of by pointer.
//
// Thread Safety: Alloc, Free and Stats are safe for concurrent use.
type Cache[T any] struct {
	mu sync.Mutex

	// objs is the arena. It never moves.
	objs []T

	// next[i] is the index of the free slot after i, valid while i is free.
	next []int32

	// free is the head of the free list, or none.
	free int32

	inUse    int
	failures uint64

	// reset returns an object to its zero state before it is reused.
	reset func(*T)
}

// Stats describes cache occupancy.
type Stats struct {
	Capacity int
	InUse    int
	Failures uint64
}

// New creates a cache holding at least capacity objects. The capacity is
// rounded up to a power of two.
//
// reset is called on every freed object; when nil, the object is overwritten
// with the zero value of T.
func New[T any](capacity int, reset func(*T)) *Cache[T] {
	if capacity < 1 {
		capacity = 1
	}
	capacity = roundPow2(capacity)

	c := &Cache[T]{
		objs:  make([]T, capacity),
		next:  make([]int32, capacity),
		reset: reset,
	}
	for i := range c.next {
		c.next[i] = int32(i + 1)
	}
	c.next[capacity-1] = none
	c.free = 0
	return c
}

// Alloc takes an object from the free list.
//
// The returned object is in its zero (reset) state. Returns (-1, nil) when
// the cache is exhausted.
func (c *Cache[T]) Alloc() (int32, *T) {
	c.mu.Lock()
	idx := c.free
	if idx == none {
		c.failures++
		c.mu.Unlock()
		return none, nil
	}
	c.free = c.next[idx]
	c.next[idx] = none
	c.inUse++
	c.mu.Unlock()
	return idx, &c.objs[idx]
}

// Free resets the object at idx and returns it to the free list.
//
// Freeing an index that is out of range is ignored.
func (c *Cache[T]) Free(idx int32) {
	if idx < 0 || int(idx) >= len(c.objs) {
		return
	}
	obj := &c.objs[idx]
	if c.reset != nil {
		c.reset(obj)
	} else {
		var zero T
		*obj = zero
	}

	c.mu.Lock()
	c.next[idx] = c.free
	c.free = idx
	c.inUse--
	c.mu.Unlock()
}

// At returns the object stored at idx, or nil for an invalid index.
//
// At does not check whether the object is currently allocated.
func (c *Cache[T]) At(idx int32) *T {
	if idx < 0 || int(idx) >= len(c.objs) {
		return nil
	}
	return &c.objs[idx]
}

// Capacity returns the arena size.
func (c *Cache[T]) Capacity() int {
	return len(c.objs)
}

// Stats returns a snapshot of cache occupancy.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Capacity: len(c.objs),
		InUse:    c.inUse,
		Failures: c.failures,
	}
}

func roundPow2(n int) int {
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len(uint(n))
}
