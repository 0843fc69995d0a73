// Package vectorclock implements vector clocks for tracking happens-before relations.
//
// Every thread owns one VectorClock. Entry vc[i] is the latest logical time of
// thread i that the owner has observed; vc[owner] is the owner's own time.
// Synchronization objects carry a VectorClock as well, so that a release can
// publish the releasing thread's view and a later acquire can import it.
//
// Key operations:
//   - Tick: the owner advances its own entry (one tick per modeled event)
//   - Acquire: point-wise maximum, dst = dst ⊔ src
//   - LessOrEqual: partial order check
//
// A VectorClock is not internally synchronized. Callers hold whatever lock
// protects the clock (the owning thread, or the sync object lock).
package vectorclock

import "strings"

// MaxThreads is the number of thread slots, and therefore the length of
// every vector clock. Thread IDs are dense integers in [0, MaxThreads).
const MaxThreads = 256

// VectorClock represents logical time across all thread slots.
//
// The clock tracks the highest slot index ever set (maxTID) so that merges
// only touch the populated prefix. Most programs use few threads, which keeps
// Acquire far below the O(MaxThreads) worst case.
type VectorClock struct {
	clocks [MaxThreads]uint64
	maxTID int
}

// New creates a zero-initialized vector clock.
func New() *VectorClock {
	return &VectorClock{}
}

// Valid reports whether tid addresses a slot of the clock.
func Valid(tid int) bool {
	return tid >= 0 && tid < MaxThreads
}

// Clone creates a deep copy of the vector clock.
func (vc *VectorClock) Clone() *VectorClock {
	clone := &VectorClock{}
	*clone = *vc
	return clone
}

// CopyFrom overwrites vc with src.
func (vc *VectorClock) CopyFrom(src *VectorClock) {
	*vc = *src
}

// Reset sets every entry back to zero.
func (vc *VectorClock) Reset() {
	for i := 0; i <= vc.maxTID; i++ {
		vc.clocks[i] = 0
	}
	vc.maxTID = 0
}

// Acquire performs point-wise maximum: vc = vc ⊔ src.
//
// This is the single merge primitive. Acquiring a lock merges the lock clock
// into the thread clock; releasing merges the thread clock into the lock
// clock. Acquire(vc, vc) leaves vc unchanged, and no entry ever decreases.
func (vc *VectorClock) Acquire(src *VectorClock) {
	if src == nil || src == vc {
		return
	}
	for i := 0; i <= src.maxTID; i++ {
		if src.clocks[i] > vc.clocks[i] {
			vc.clocks[i] = src.clocks[i]
		}
	}
	if src.maxTID > vc.maxTID {
		vc.maxTID = src.maxTID
	}
}

// LessOrEqual checks partial order: vc ⊑ other.
func (vc *VectorClock) LessOrEqual(other *VectorClock) bool {
	for i := 0; i <= vc.maxTID; i++ {
		if vc.clocks[i] > other.clocks[i] {
			return false
		}
	}
	return true
}

// Tick advances the clock of thread tid and returns the new value.
//
// The caller must validate tid with Valid first.
func (vc *VectorClock) Tick(tid int) uint64 {
	vc.clocks[tid]++
	if tid > vc.maxTID {
		vc.maxTID = tid
	}
	return vc.clocks[tid]
}

// Get returns the clock value for thread tid.
//
// The caller must validate tid with Valid first.
func (vc *VectorClock) Get(tid int) uint64 {
	return vc.clocks[tid]
}

// Set sets the clock value for thread tid.
func (vc *VectorClock) Set(tid int, clock uint64) {
	vc.clocks[tid] = clock
	if clock != 0 && tid > vc.maxTID {
		vc.maxTID = tid
	}
}

// MaxTID returns the highest slot index that may be non-zero.
func (vc *VectorClock) MaxTID() int {
	return vc.maxTID
}

// String returns a debug representation of the vector clock.
//
// Format: "{tid1:clock1, tid2:clock2, ...}" showing only non-zero clocks.
func (vc *VectorClock) String() string {
	var parts []string
	for i := 0; i <= vc.maxTID; i++ {
		if vc.clocks[i] != 0 {
			parts = append(parts, itoa(uint64(i))+":"+itoa(vc.clocks[i]))
		}
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// itoa converts an integer to string without fmt import.
func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
