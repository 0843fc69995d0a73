// Package stackdepot implements stack trace storage and deduplication for race reports.
//
// A Depot stores each distinct stack once, keyed by a 64-bit FNV-1a hash of
// its program counters. Race reports refer to the two stacks involved by
// hash, which makes "have we reported this pair already" a cheap map lookup
// and keeps the memory for repeated reports constant.
//
// Usage:
//
//	d := stackdepot.New()
//	h := d.Put(pcs)
//	...
//	pcs, ok := d.Get(h)
package stackdepot

import (
	"encoding/binary"
	"hash/fnv"
	"slices"
	"sync"
	"sync/atomic"
)

// Depot is a deduplicating store of stacks.
//
// Thread Safety: All methods are safe for concurrent calls.
type Depot struct {
	stacks sync.Map // uint64 (hash) → []uintptr
	count  atomic.Int64
}

// New creates an empty depot.
func New() *Depot {
	return &Depot{}
}

// Put stores pcs, outermost frame first, and returns its hash. Storing the
// same stack again returns the same hash without allocating. An empty stack
// hashes to zero and is not stored.
func (d *Depot) Put(pcs []uintptr) uint64 {
	if len(pcs) == 0 {
		return 0
	}
	hash := Hash(pcs)
	if _, exists := d.stacks.Load(hash); exists {
		return hash
	}
	if _, loaded := d.stacks.LoadOrStore(hash, slices.Clone(pcs)); !loaded {
		d.count.Add(1)
	}
	return hash
}

// Get returns the stack stored under hash.
func (d *Depot) Get(hash uint64) ([]uintptr, bool) {
	if hash == 0 {
		return nil, false
	}
	val, ok := d.stacks.Load(hash)
	if !ok {
		return nil, false
	}
	return val.([]uintptr), true
}

// Len returns the number of distinct stacks stored.
func (d *Depot) Len() int {
	return int(d.count.Load())
}

// Hash computes the FNV-1a hash of program counters. It never returns zero
// for a non-empty stack.
func Hash(pcs []uintptr) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(buf[:], uint64(pc))
		_, _ = h.Write(buf[:]) // Write never returns error for hash.Hash.
	}
	if sum := h.Sum64(); sum != 0 {
		return sum
	}
	return 1
}
