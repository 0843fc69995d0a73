// Package hashtab implements the address-keyed hash table behind the
// synchronization and memory-block tables.
//
// Objects are allocated from a slab dedicated to the table and chained per
// bucket by slab index. Each bucket has its own lock, and each object starts
// with its own lock: lookups return the object already locked, so callers
// update it without holding the bucket.
//
// Lock order is bucket → object. An object can only be found while its
// bucket is held, and Destroy holds the bucket while it waits for the object,
// so no caller can be left waiting on an object that has been freed.
package hashtab

import (
	"sync"

	"github.com/kolkov/ktsan/internal/race/slab"
)

const none = -1

// Object is a table entry: header followed by the caller's payload.
type Object[T any] struct {
	mu   sync.Mutex
	key  uintptr
	next int32
	idx  int32

	// Val is the payload. It is zero when the object is first created and
	// may only be touched while the object is locked.
	Val T
}

// Key returns the address the object is registered under.
func (o *Object[T]) Key() uintptr {
	return o.key
}

// Index returns the object's slab index. It stays valid until the object is
// freed and can be turned back into the object with Table.At.
func (o *Object[T]) Index() int32 {
	return o.idx
}

// Lock locks an object held outside any table. Objects found through a
// table are returned locked already.
func (o *Object[T]) Lock() {
	o.mu.Lock()
}

// Unlock releases an object returned by Get or GetOrCreate.
func (o *Object[T]) Unlock() {
	o.mu.Unlock()
}

type bucket struct {
	mu   sync.Mutex
	head int32
}

// Table maps addresses to objects of type Object[T].
//
// Thread Safety: All methods are safe for concurrent use.
type Table[T any] struct {
	buckets []bucket
	mask    uint64
	objs    *slab.Cache[Object[T]]
}

// New creates a table with at least nbuckets buckets and room for maxObjects
// live objects. Both are rounded up to powers of two.
func New[T any](nbuckets, maxObjects int) *Table[T] {
	n := 1
	for n < nbuckets {
		n <<= 1
	}
	t := &Table[T]{
		buckets: make([]bucket, n),
		mask:    uint64(n - 1),
		objs: slab.New[Object[T]](maxObjects, func(o *Object[T]) {
			var zero T
			o.key = 0
			o.next = none
			o.Val = zero
		}),
	}
	for i := range t.buckets {
		t.buckets[i].head = none
	}
	return t
}

func (t *Table[T]) bucketFor(key uintptr) *bucket {
	const goldenRatio = 0x9E3779B97F4A7C15
	h := uint64(key) * goldenRatio
	return &t.buckets[(h>>32)&t.mask]
}

// find walks the chain of b. The bucket must be held.
func (t *Table[T]) find(b *bucket, key uintptr) (prev, obj *Object[T]) {
	for idx := b.head; idx != none; {
		o := t.objs.At(idx)
		if o.key == key {
			return prev, o
		}
		prev = o
		idx = o.next
	}
	return nil, nil
}

// Get returns the object registered under key, locked, or nil.
func (t *Table[T]) Get(key uintptr) *Object[T] {
	b := t.bucketFor(key)
	b.mu.Lock()
	_, o := t.find(b, key)
	if o != nil {
		o.mu.Lock()
	}
	b.mu.Unlock()
	return o
}

// GetOrCreate returns the object registered under key, creating it if
// needed. The object is returned locked; created reports whether it is new.
//
// Returns (nil, false) when the table's slab is exhausted.
func (t *Table[T]) GetOrCreate(key uintptr) (obj *Object[T], created bool) {
	b := t.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, o := t.find(b, key); o != nil {
		o.mu.Lock()
		return o, false
	}

	idx, o := t.objs.Alloc()
	if o == nil {
		return nil, false
	}
	o.key = key
	o.idx = idx
	o.next = b.head
	b.head = idx
	o.mu.Lock()
	return o, true
}

// Destroy unlinks the object registered under key and returns it locked so
// the caller can finalize it before calling Free. Returns nil when key is
// not registered.
func (t *Table[T]) Destroy(key uintptr) *Object[T] {
	b := t.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, o := t.find(b, key)
	if o == nil {
		return nil
	}
	o.mu.Lock()
	if prev == nil {
		b.head = o.next
	} else {
		prev.next = o.next
	}
	o.next = none
	return o
}

// Free returns a destroyed, still locked object to the slab.
func (t *Table[T]) Free(o *Object[T]) {
	idx := o.idx
	o.mu.Unlock()
	t.objs.Free(idx)
}

// At returns the object at slab index idx without locking it.
//
// Only fields the caller protects by other means may be accessed through it.
func (t *Table[T]) At(idx int32) *Object[T] {
	return t.objs.At(idx)
}

// Len returns the number of live objects.
func (t *Table[T]) Len() int {
	return t.objs.Stats().InUse
}

// Stats returns slab occupancy for the table.
func (t *Table[T]) Stats() slab.Stats {
	return t.objs.Stats()
}

// Range calls fn for each live object, locked, until fn returns false.
//
// Range holds one bucket at a time; objects created or destroyed concurrently
// may or may not be visited.
func (t *Table[T]) Range(fn func(o *Object[T]) bool) {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		for idx := b.head; idx != none; {
			o := t.objs.At(idx)
			idx = o.next
			o.mu.Lock()
			cont := fn(o)
			o.mu.Unlock()
			if !cont {
				b.mu.Unlock()
				return
			}
		}
		b.mu.Unlock()
	}
}
