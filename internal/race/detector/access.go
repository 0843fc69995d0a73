package detector

import (
	"github.com/kolkov/ktsan/internal/race/shadowmem"
	"github.com/kolkov/ktsan/internal/race/thread"
	"github.com/kolkov/ktsan/internal/race/trace"
)

// Read records a plain read of size bytes at addr made at pc.
func (d *Detector) Read(thr *thread.Thread, pc, addr, size uintptr) {
	d.access(thr, trace.EventAccess, pc, addr, size, true, false)
}

// Write records a plain write of size bytes at addr made at pc.
func (d *Detector) Write(thr *thread.Thread, pc, addr, size uintptr) {
	d.access(thr, trace.EventAccess, pc, addr, size, false, false)
}

// access is the memory access algorithm:
//
//  1. Nothing happens while checking is disabled, and plain reads inside a
//     read-suppressing region are ignored.
//  2. The thread's clock advances and the access enters its trace.
//  3. The range is split into aligned pieces, none crossing a granule.
//  4. Each piece is reconciled with its granule's shadow slots; the first
//     conflicting unordered slot of a piece is reported.
func (d *Detector) access(thr *thread.Thread, typ trace.EventType, pc, addr, size uintptr, read, atomic bool) {
	if size == 0 || !d.enabled.Load() {
		return
	}
	if read && !atomic && thr.ReadSuppress > 0 {
		d.stats.Inc(thr.CPU, StatReadsSuppressed)
		return
	}
	if read {
		d.stats.Inc(thr.CPU, StatReads)
	} else {
		d.stats.Inc(thr.CPU, StatWrites)
	}

	clock := d.event(thr, typ, pc)
	shadowmem.Split(addr, size, func(a uintptr, sizeLog2 uint) {
		granule := shadowmem.Granule(a)
		cur := shadowmem.NewRecord(thr.ID, clock, a-granule, sizeLog2, read, atomic)
		out := d.shadow.Access(thr.Clock, granule, cur)
		switch {
		case out.Dropped:
			d.stats.Inc(thr.CPU, StatShadowAllocFailures)
			return
		case out.Evicted:
			d.stats.Inc(thr.CPU, StatShadowEvictions)
		}
		if out.BadTID {
			d.clockRangeError(thr, "access", a)
		}
		if out.Race {
			d.reportRace(thr, pc, granule, cur, out.Old)
		}
	})
}
