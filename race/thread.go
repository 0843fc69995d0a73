package race

import (
	"github.com/kolkov/ktsan/internal/race/detector"
	"github.com/kolkov/ktsan/internal/race/thread"
)

// Thread is the handle of one monitored thread. All of its methods must
// be called by the goroutine currently acting as that thread.
//
// Every entry point is a no-op when it is reached from inside the runtime
// itself (a nested call). While detection is disabled only Read, Write and
// the access half of atomics are skipped.
type Thread struct {
	rt  *Runtime
	thr *thread.Thread
}

// enter reports whether an entry point may dispatch. A true result must be
// paired with leave.
func (t *Thread) enter() bool {
	st := t.rt.det.Stats()
	if !t.thr.Enter() {
		st.Inc(t.thr.CPU, detector.StatNestedCalls)
		return false
	}
	st.Inc(t.thr.CPU, detector.StatEvents)
	return true
}

func (t *Thread) leave() {
	t.thr.Leave()
}

// ID returns the dense thread ID used in reports.
func (t *Thread) ID() int { return t.thr.ID }

// PID returns the external id given to ThreadCreate.
func (t *Thread) PID() int { return t.thr.PID }

// Start marks the thread as running on cpu.
func (t *Thread) Start(cpu int) {
	t.rt.det.ThreadStart(t.thr, cpu)
}

// Stop marks the thread as descheduled.
func (t *Thread) Stop() {
	t.rt.det.ThreadStop(t.thr)
}

// Finish ends the thread. Its ID may be handed to a later thread; the
// handle must not be used afterwards.
func (t *Thread) Finish() {
	t.rt.det.ThreadFinish(t.thr)
}

// Read reports a plain read of size bytes at addr made at pc.
func (t *Thread) Read(pc, addr, size uintptr) {
	if !t.rt.det.Enabled() || !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.Read(t.thr, pc, addr, size)
}

// Write reports a plain write of size bytes at addr made at pc.
func (t *Thread) Write(pc, addr, size uintptr) {
	if !t.rt.det.Enabled() || !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.Write(t.thr, pc, addr, size)
}

// ReadRange reports a read of an arbitrary range, such as the source of a
// memcpy.
func (t *Thread) ReadRange(pc, addr, size uintptr) {
	t.Read(pc, addr, size)
}

// WriteRange reports a write of an arbitrary range.
func (t *Thread) WriteRange(pc, addr, size uintptr) {
	t.Write(pc, addr, size)
}

// FuncEntry reports a call made at pc.
func (t *Thread) FuncEntry(pc uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.FuncEntry(t.thr, pc)
}

// FuncExit reports a return.
func (t *Thread) FuncExit() {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.FuncExit(t.thr)
}

// Acquire imports everything released on addr.
func (t *Thread) Acquire(pc, addr uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.Acquire(t.thr, pc, addr)
}

// Release publishes the thread's history on addr.
func (t *Thread) Release(pc, addr uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.Release(t.thr, pc, addr)
}

// PreLock reports a lock attempt on addr.
func (t *Thread) PreLock(pc, addr uintptr, write bool) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.PreLock(t.thr, pc, addr, write)
}

// PostLock reports the outcome of a lock attempt. success may only be
// false for a trylock.
func (t *Thread) PostLock(pc, addr uintptr, write, try, success bool) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.PostLock(t.thr, pc, addr, write, try, success)
}

// PreUnlock reports that the lock at addr is about to be released.
func (t *Thread) PreUnlock(pc, addr uintptr, write bool) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.PreUnlock(t.thr, pc, addr, write)
}

// Lock reports a blocking lock acquisition: PreLock then a successful
// PostLock.
func (t *Thread) Lock(pc, addr uintptr, write bool) {
	t.PreLock(pc, addr, write)
	t.PostLock(pc, addr, write, false, true)
}

// Unlock reports a lock release.
func (t *Thread) Unlock(pc, addr uintptr, write bool) {
	t.PreUnlock(pc, addr, write)
}

// SyncDestroy reports that the lock or other primitive at addr is being
// destroyed. Its history is forgotten and its table slot reused.
func (t *Thread) SyncDestroy(pc, addr uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.SyncDestroy(t.thr, pc, addr)
}

// Membar reports a memory barrier.
func (t *Thread) Membar(pc uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.Membar(t.thr, pc)
}

// RCUReadLock enters a read-side critical section of dom.
func (t *Thread) RCUReadLock(pc uintptr, dom RCUDomain) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.RCUReadLock(t.thr, pc, dom)
}

// RCUReadUnlock leaves a read-side critical section of dom.
func (t *Thread) RCUReadUnlock(pc uintptr, dom RCUDomain) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.RCUReadUnlock(t.thr, pc, dom)
}

// RCUSynchronize waits for a grace period of dom.
func (t *Thread) RCUSynchronize(pc uintptr, dom RCUDomain) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.RCUSynchronize(t.thr, pc, dom)
}

// RCUCallback marks the start of an RCU callback of dom.
func (t *Thread) RCUCallback(pc uintptr, dom RCUDomain) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.RCUCallback(t.thr, pc, dom)
}

// RCUAssignPointer reports the publication of the pointer stored at addr.
func (t *Thread) RCUAssignPointer(pc, addr uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.RCUAssignPointer(t.thr, pc, addr)
}

// RCUDereference reports the read of a pointer published at addr.
func (t *Thread) RCUDereference(pc, addr uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.RCUDereference(t.thr, pc, addr)
}

// SeqBegin opens a seqcount read section on addr.
func (t *Thread) SeqBegin(pc, addr uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.SeqBegin(t.thr, pc, addr)
}

// SeqEnd closes the seqcount read section on addr.
func (t *Thread) SeqEnd(pc, addr uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.SeqEnd(t.thr, pc, addr)
}

// SeqIgnoreBegin opens a region where plain reads are not checked.
func (t *Thread) SeqIgnoreBegin(pc uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.SeqIgnoreBegin(t.thr, pc)
}

// SeqIgnoreEnd closes the region opened by SeqIgnoreBegin.
func (t *Thread) SeqIgnoreEnd(pc uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.SeqIgnoreEnd(t.thr, pc)
}

// PercpuAcquire reports an access to the per-CPU variable at addr.
func (t *Thread) PercpuAcquire(pc, addr uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.PercpuAcquire(t.thr, pc, addr)
}

// PreemptDisable reports preempt_disable.
func (t *Thread) PreemptDisable(pc uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.PreemptDisable(t.thr, pc)
}

// PreemptEnable reports preempt_enable.
func (t *Thread) PreemptEnable(pc uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.PreemptEnable(t.thr, pc)
}

// IRQDisable reports that interrupts were disabled.
func (t *Thread) IRQDisable(pc uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.IRQDisable(t.thr, pc)
}

// IRQEnable reports that interrupts were enabled.
func (t *Thread) IRQEnable(pc uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.IRQEnable(t.thr, pc)
}

// IRQSave disables interrupts and returns the state to restore.
func (t *Thread) IRQSave(pc uintptr) IRQFlags {
	if !t.enter() {
		return 0
	}
	defer t.leave()
	return t.rt.det.IRQSave(t.thr, pc)
}

// IRQRestore restores the state returned by IRQSave.
func (t *Thread) IRQRestore(pc uintptr, flags IRQFlags) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.IRQRestore(t.thr, pc, flags)
}

// MemblockAlloc registers the memory block [addr, addr+size).
func (t *Thread) MemblockAlloc(pc, addr, size uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.MemblockAlloc(t.thr, pc, addr, size)
}

// MemblockFree unregisters the block at addr. The free counts as a write
// of the whole block.
func (t *Thread) MemblockFree(pc, addr, size uintptr) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.MemblockFree(t.thr, pc, addr, size)
}
