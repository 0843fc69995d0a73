package syncshadow

import (
	"sync/atomic"

	"github.com/kolkov/ktsan/internal/race/hashtab"
)

// Var is a locked table object holding a SyncVar.
type Var = hashtab.Object[SyncVar]

// SyncShadow maps synchronization addresses to their SyncVar.
//
// SyncVars are created lazily by GetOrCreate and live until Destroy is
// called for their address, or until the memory block anchoring them is
// freed.
//
// When the table is full, every address that cannot get its own SyncVar
// shares one overflow SyncVar. Sharing only adds ordering, so exhaustion
// loses coverage and never invents a race.
//
// Thread Safety: All methods are safe for concurrent calls.
type SyncShadow struct {
	vars   *hashtab.Table[SyncVar]
	blocks *BlockTable

	overflow     Var
	overflowUsed atomic.Bool
}

// NewSyncShadow creates a table with room for maxVars SyncVars. New vars are
// anchored in the blocks of bt, which may be nil.
func NewSyncShadow(maxVars int, bt *BlockTable) *SyncShadow {
	return &SyncShadow{
		vars:   hashtab.New[SyncVar](maxVars/2, maxVars),
		blocks: bt,
	}
}

// GetOrCreate returns the SyncVar for addr, locked, creating it if needed.
//
// Returns (nil, false) when the table is exhausted; the caller falls back
// to Overflow.
func (s *SyncShadow) GetOrCreate(addr uintptr) (*Var, bool) {
	v, created := s.vars.GetOrCreate(addr)
	if v == nil {
		return nil, false
	}
	if created && s.blocks != nil {
		s.blocks.anchor(v)
	}
	return v, created
}

// Get returns the SyncVar for addr, locked, or nil if none was created.
//
// Get never allocates: operations that only import ordering (acquire loads)
// have nothing to import from an address nobody released.
func (s *SyncShadow) Get(addr uintptr) *Var {
	return s.vars.Get(addr)
}

// Overflow returns the shared overflow SyncVar, locked. From then on
// OverflowIfUsed returns it too.
func (s *SyncShadow) Overflow() *Var {
	s.overflowUsed.Store(true)
	s.overflow.Lock()
	return &s.overflow
}

// OverflowIfUsed returns the overflow SyncVar, locked, once some address
// has fallen back to it, and nil before that. Acquires of addresses without
// a SyncVar import it, since their release may have landed there.
func (s *SyncShadow) OverflowIfUsed() *Var {
	if !s.overflowUsed.Load() {
		return nil
	}
	s.overflow.Lock()
	return &s.overflow
}

// IsOverflow reports whether v is the shared overflow SyncVar.
func (s *SyncShadow) IsOverflow(v *Var) bool {
	return v == &s.overflow
}

// Destroy removes the SyncVar for addr. It reports whether one existed.
func (s *SyncShadow) Destroy(addr uintptr) bool {
	v := s.vars.Destroy(addr)
	if v == nil {
		return false
	}
	if s.blocks != nil {
		s.blocks.unanchor(v, s.vars)
	}
	s.vars.Free(v)
	return true
}

// FreeBlock unregisters the memory block starting at addr and destroys every
// SyncVar it anchored. It returns the number of vars destroyed.
func (s *SyncShadow) FreeBlock(addr uintptr) int {
	if s.blocks == nil {
		return 0
	}
	keys, ok := s.blocks.remove(addr, s.vars)
	if !ok {
		return 0
	}
	n := 0
	for _, key := range keys {
		if s.Destroy(key) {
			n++
		}
	}
	return n
}

// Len returns the number of live SyncVars.
func (s *SyncShadow) Len() int {
	return s.vars.Len()
}

// Failures returns how many creations failed for lack of space.
func (s *SyncShadow) Failures() uint64 {
	return s.vars.Stats().Failures
}

// Range calls fn for every live SyncVar until fn returns false.
func (s *SyncShadow) Range(fn func(v *Var) bool) {
	s.vars.Range(fn)
}
