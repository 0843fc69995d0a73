package shadowmem

import "github.com/kolkov/ktsan/internal/race/vectorclock"

// Outcome describes what Access did with a candidate record.
type Outcome struct {
	// Race is set when a conflicting, unordered slot was found. Old holds
	// that slot's record; only the first conflict of the call is returned.
	Race bool
	Old  Record

	// Evicted is set when no slot absorbed the candidate and one was
	// overwritten by the eviction policy.
	Evicted bool

	// Dropped is set when the granule could not be tracked (cell slab
	// exhausted). Nothing was checked or stored.
	Dropped bool

	// BadTID is set when a slot held a thread ID outside the vector clock.
	// Such slots are cleared as if they were empty.
	BadTID bool
}

// Access reconciles the candidate record cur against the granule's slots.
//
// clk is the accessing thread's vector clock; it decides whether a slot's
// access happened before cur. For each slot, in order:
//
//   - empty: cur is stored there unless it was already stored this call.
//   - identical range and ordered (same thread, or clk[old.tid] >= old.clock):
//     the slot is replaced by cur when the old access is not stronger than
//     cur; a duplicate is cleared if cur already sits in another slot.
//   - overlapping and unordered: a race, unless both are reads or both are
//     atomic.
//   - disjoint ranges never conflict.
//
// If cur found no home it overwrites the slot chosen by the eviction policy.
// Losing that slot's history is the bound that keeps the cost per access
// constant.
//
// The granule's shard is read-locked for the whole reconcile, so the cell
// cannot be cleared and handed to another granule underneath it.
func (s *Shadow) Access(clk *vectorclock.VectorClock, granule uintptr, cur Record) Outcome {
	sh := s.shardFor(granule)
	for {
		sh.mu.RLock()
		if idx, ok := sh.cells[granule]; ok {
			out := s.reconcile(s.cells.At(idx), clk, cur)
			sh.mu.RUnlock()
			return out
		}
		sh.mu.RUnlock()
		if _, ok := s.create(sh, granule); !ok {
			return Outcome{Dropped: true}
		}
	}
}

// reconcile runs the slot walk of Access on c. The shard of c must be held.
func (s *Shadow) reconcile(c *Cell, clk *vectorclock.VectorClock, cur Record) Outcome {
	var out Outcome
	stored := false

	for i := range c.slots {
		slot := &c.slots[i]
	retry:
		old := Record(slot.Load())

		if old.IsEmpty() {
			if stored {
				continue
			}
			if !slot.CompareAndSwap(0, uint64(cur)) {
				goto retry
			}
			stored = true
			continue
		}

		if !vectorclock.Valid(old.TID()) {
			out.BadTID = true
			slot.CompareAndSwap(uint64(old), 0)
			goto retry
		}

		if !old.Overlaps(cur) {
			continue
		}

		ordered := old.TID() == cur.TID() || clk.Get(old.TID()) >= old.Clock()

		if ordered {
			if old.SameRange(cur) && old.weakerOrEqual(cur) {
				next := uint64(cur)
				if stored {
					next = 0
				}
				if !slot.CompareAndSwap(uint64(old), next) {
					goto retry
				}
				stored = true
			}
			continue
		}

		if old.IsRead() && cur.IsRead() {
			continue
		}
		if old.IsAtomic() && cur.IsAtomic() {
			continue
		}
		if !out.Race {
			out.Race = true
			out.Old = old
		}
	}

	if !stored {
		i := s.evict(cur.Clock(), SlotCount)
		if i < 0 || i >= SlotCount {
			i = ClockModulo(cur.Clock(), SlotCount)
		}
		c.slots[i].Store(uint64(cur))
		out.Evicted = true
	}
	return out
}
