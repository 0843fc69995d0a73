package detector

import (
	"github.com/kolkov/ktsan/internal/race/thread"
)

// MemblockAlloc registers the memory block [addr, addr+size). Blocks it
// overlaps are dropped as if freed, and the range starts with empty shadow.
func (d *Detector) MemblockAlloc(thr *thread.Thread, pc, addr, size uintptr) {
	if size == 0 {
		return
	}
	d.stats.Inc(thr.CPU, StatMemblockAllocs)
	for _, stale := range d.blocks.Overlapping(addr, size) {
		d.syncs.FreeBlock(stale)
	}
	if !d.blocks.Alloc(addr, size) {
		d.stats.Inc(thr.CPU, StatBlockAllocFailures)
	}
	d.shadow.ClearRange(addr, size)
}

// MemblockFree unregisters the block at addr. Freeing counts as a write of
// the whole block, so accesses racing with the free are reported. The
// block's shadow is then cleared and every sync object created inside it
// is destroyed.
func (d *Detector) MemblockFree(thr *thread.Thread, pc, addr, size uintptr) {
	if size == 0 {
		return
	}
	d.stats.Inc(thr.CPU, StatMemblockFrees)
	d.Write(thr, pc, addr, size)
	d.shadow.ClearRange(addr, size)
	n := d.syncs.FreeBlock(addr)
	d.verbosef("memblock %#x+%#x freed by T%d, %d sync objects dropped", addr, size, thr.ID, n)
}
