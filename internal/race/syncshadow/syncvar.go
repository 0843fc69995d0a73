package syncshadow

import "github.com/kolkov/ktsan/internal/race/vectorclock"

// Kind describes how an address has been used for synchronization.
type Kind uint8

// Sync kinds, recorded on first use.
const (
	KindUnknown Kind = iota
	KindMutex
	KindAtomic
	KindSeqcount
	KindPercpu
	KindRCUPointer
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMutex:
		return "mutex"
	case KindAtomic:
		return "atomic"
	case KindSeqcount:
		return "seqcount"
	case KindPercpu:
		return "percpu"
	case KindRCUPointer:
		return "rcu-pointer"
	default:
		return "unknown"
	}
}

// NoOwner is returned by Owner for locks that are not held exclusively.
const NoOwner = -1

// SyncVar tracks happens-before relationships for one synchronization address.
//
// The zero value is an unowned object with an empty clock. A SyncVar is only
// read or written while its table object is locked; the block link fields
// are the exception and belong to the block lock.
type SyncVar struct {
	// Clock accumulates the clocks of every release on the address.
	Clock vectorclock.VectorClock

	// Kind is set by the first protocol handler touching the address.
	Kind Kind

	// LastLock and LastUnlock are the owner's clocks at the last exclusive
	// lock and unlock, kept for diagnostics.
	LastLock   uint64
	LastUnlock uint64

	// owner is the exclusive holder's tid plus one; zero means unowned.
	owner int

	// block is the start of the memory block anchoring this var, or zero.
	block uintptr

	// nextInBlock is the slab index plus one of the next var anchored in
	// the same block. Guarded by the block lock.
	nextInBlock int32
}

// Owner returns the tid holding the lock exclusively, or NoOwner.
func (s *SyncVar) Owner() int {
	return s.owner - 1
}

// SetOwner records tid as the exclusive holder.
func (s *SyncVar) SetOwner(tid int) {
	s.owner = tid + 1
}

// ClearOwner marks the lock as not held exclusively.
func (s *SyncVar) ClearOwner() {
	s.owner = 0
}

// Block returns the start of the anchoring memory block, or zero.
func (s *SyncVar) Block() uintptr {
	return s.block
}

// Release merges the releasing thread's clock into the sync clock.
func (s *SyncVar) Release(thread *vectorclock.VectorClock) {
	s.Clock.Acquire(thread)
}

// AcquireInto merges the sync clock into the acquiring thread's clock.
func (s *SyncVar) AcquireInto(thread *vectorclock.VectorClock) {
	thread.Acquire(&s.Clock)
}
