package detector

import (
	"strings"
	"sync"
	"testing"

	"github.com/kolkov/ktsan/internal/race/thread"
)

const (
	lockAddr  = uintptr(0x5000)
	flagAddr  = uintptr(0x5100)
	blockAddr = uintptr(0x10000)
)

// TestMutex_LockOrdering tests that critical sections of one lock are
// ordered.
func TestMutex_LockOrdering(t *testing.T) {
	h := newHarness(t, nil)
	t0, t1 := h.thread(t, 1), h.thread(t, 2)

	h.d.PostLock(t0, pcA, lockAddr, true, false, true)
	h.d.Write(t0, pcA, addrX, 8)
	h.d.PreUnlock(t0, pcA, lockAddr, true)

	h.d.PreLock(t1, pcB, lockAddr, true)
	h.d.PostLock(t1, pcB, lockAddr, true, false, true)
	h.d.Write(t1, pcB, addrX, 8)
	h.d.PreUnlock(t1, pcB, lockAddr, true)

	h.wantRaces(t, 0)
}

// TestMutex_FailedTryLock tests that a failed trylock orders nothing.
func TestMutex_FailedTryLock(t *testing.T) {
	h := newHarness(t, nil)
	t0, t1 := h.thread(t, 1), h.thread(t, 2)

	h.d.PostLock(t0, pcA, lockAddr, true, false, true)
	h.d.Write(t0, pcA, addrX, 8)
	h.d.PreUnlock(t0, pcA, lockAddr, true)

	h.d.PostLock(t1, pcB, lockAddr, true, true, false)
	h.d.Write(t1, pcB, addrX, 8)

	h.wantRaces(t, 1)
}

// TestRWLock_ReadUnlocksAccumulate tests that a writer is ordered after
// every reader, not just the last one.
func TestRWLock_ReadUnlocksAccumulate(t *testing.T) {
	h := newHarness(t, nil)
	w, r1, r2 := h.thread(t, 1), h.thread(t, 2), h.thread(t, 3)

	h.d.PostLock(w, pcA, lockAddr, true, false, true)
	h.d.Write(w, pcA, addrX, 8)
	h.d.PreUnlock(w, pcA, lockAddr, true)

	h.d.PostLock(r1, 0x30, lockAddr, false, false, true)
	h.d.Read(r1, 0x30, addrX, 8)
	h.d.PostLock(r2, 0x40, lockAddr, false, false, true)
	h.d.Read(r2, 0x40, addrX, 8)
	h.d.PreUnlock(r1, 0x30, lockAddr, false)
	h.d.PreUnlock(r2, 0x40, lockAddr, false)

	h.d.PostLock(w, pcA, lockAddr, true, false, true)
	h.d.Write(w, pcA, addrX, 8)
	h.d.PreUnlock(w, pcA, lockAddr, true)

	h.wantRaces(t, 0)
}

// TestPreUnlock_NonOwner tests the non-owner unlock violation in both
// modes.
func TestPreUnlock_NonOwner(t *testing.T) {
	t.Run("counted", func(t *testing.T) {
		h := newHarness(t, nil)
		t0, t1 := h.thread(t, 1), h.thread(t, 2)
		h.d.PostLock(t0, pcA, lockAddr, true, false, true)
		h.d.PreUnlock(t1, pcB, lockAddr, true)
		h.d.PreUnlock(t1, pcB, lockAddr+8, true)
		if got := h.d.Stats().Get(StatProtocolViolations); got != 2 {
			t.Errorf("protocol_violations = %d, want 2", got)
		}
	})
	t.Run("fatal in debug", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.Debug = true })
		t0, t1 := h.thread(t, 1), h.thread(t, 2)
		h.d.PostLock(t0, pcA, lockAddr, true, false, true)
		perr := mustPanicProtocol(t, func() { h.d.PreUnlock(t1, pcB, lockAddr, true) })
		if perr.Op != "pre_unlock" || perr.Thread != t1.ID || perr.Addr != lockAddr {
			t.Errorf("ProtocolError = %+v", perr)
		}
	})
}

// TestAtomic_MessagePassing tests release/acquire publication of plain
// data through an atomic flag, and its absence with relaxed order.
func TestAtomic_MessagePassing(t *testing.T) {
	tests := []struct {
		name        string
		store, load MemoryOrder
		races       int
	}{
		{"release acquire", Release, Acquire, 0},
		{"seq_cst", SeqCst, SeqCst, 0},
		{"release consume", Release, Consume, 0},
		{"relaxed", Relaxed, Relaxed, 1},
		{"release relaxed", Release, Relaxed, 1},
		{"relaxed acquire", Relaxed, Acquire, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			t0, t1 := h.thread(t, 1), h.thread(t, 2)

			h.d.Write(t0, pcA, addrX, 8)
			h.d.AtomicOp(t0, pcA, flagAddr, 4, OpStore, tt.store)

			h.d.AtomicOp(t1, pcB, flagAddr, 4, OpLoad, tt.load)
			h.d.Read(t1, pcB, addrX, 8)

			h.wantRaces(t, tt.races)
		})
	}
}

// TestAtomic_ReleaseSequenceThroughRMW tests that an acq_rel
// read-modify-write passes on what it acquired.
func TestAtomic_ReleaseSequenceThroughRMW(t *testing.T) {
	h := newHarness(t, nil)
	t0, t1, t2 := h.thread(t, 1), h.thread(t, 2), h.thread(t, 3)

	h.d.Write(t0, pcA, addrX, 8)
	h.d.AtomicOp(t0, pcA, flagAddr, 8, OpFetchAdd, Release)
	h.d.AtomicOp(t1, pcB, flagAddr, 8, OpFetchAdd, AcqRel)
	h.d.AtomicOp(t2, 0x30, flagAddr, 8, OpLoad, Acquire)
	h.d.Read(t2, 0x30, addrX, 8)

	h.wantRaces(t, 0)
}

// TestAtomic_AtomicPairsNeverRace tests concurrent atomic accesses.
func TestAtomic_AtomicPairsNeverRace(t *testing.T) {
	h := newHarness(t, nil)
	t0, t1 := h.thread(t, 1), h.thread(t, 2)

	kinds := []AtomicKind{OpLoad, OpStore, OpExchange, OpCompareExchange, OpFetchAdd, OpFetchOr, OpBitTestAndSet}
	for _, k := range kinds {
		h.d.AtomicOp(t0, pcA, addrX, 8, k, Relaxed)
		h.d.AtomicOp(t1, pcB, addrX, 8, k, Relaxed)
	}
	h.wantRaces(t, 0)
}

// TestAtomic_PlainRacesWithAtomic tests that a plain access racing with an
// atomic one is reported.
func TestAtomic_PlainRacesWithAtomic(t *testing.T) {
	h := newHarness(t, nil)
	t0, t1 := h.thread(t, 1), h.thread(t, 2)

	h.d.AtomicOp(t0, pcA, addrX, 8, OpStore, Relaxed)
	h.d.Write(t1, pcB, addrX, 8)

	h.wantRaces(t, 1)
	if len(h.reports) == 1 && !h.reports[0].Previous.Atomic {
		t.Error("Previous.Atomic = false, want true")
	}
}

// TestAtomic_AcquireLoadDoesNotMaterialize tests that loads never create
// sync objects and release stores do.
func TestAtomic_AcquireLoadDoesNotMaterialize(t *testing.T) {
	h := newHarness(t, nil)
	thr := h.thread(t, 1)

	h.d.AtomicOp(thr, pcA, flagAddr, 4, OpLoad, SeqCst)
	h.d.AtomicOp(thr, pcA, flagAddr, 4, OpStore, Relaxed)
	if n := h.d.SyncObjects(); n != 0 {
		t.Errorf("SyncObjects() after load and relaxed store = %d, want 0", n)
	}
	h.d.AtomicOp(thr, pcA, flagAddr, 4, OpStore, Release)
	if n := h.d.SyncObjects(); n != 1 {
		t.Errorf("SyncObjects() after release store = %d, want 1", n)
	}
}

// TestAtomic_FailedCompareExchangeIsLoad tests that a failed CAS publishes
// nothing, whatever its order.
func TestAtomic_FailedCompareExchangeIsLoad(t *testing.T) {
	h := newHarness(t, nil)
	t0, t1 := h.thread(t, 1), h.thread(t, 2)

	h.d.Write(t0, pcA, addrX, 8)
	h.d.AtomicOp(t0, pcA, flagAddr, 8, OpCompareExchangeFailed, SeqCst)
	h.d.AtomicOp(t1, pcB, flagAddr, 8, OpLoad, Acquire)
	h.d.Read(t1, pcB, addrX, 8)

	h.wantRaces(t, 1)
	if n := h.d.SyncObjects(); n != 0 {
		t.Errorf("SyncObjects() = %d, want 0", n)
	}
}

// TestAtomic_BadSize tests the size check.
func TestAtomic_BadSize(t *testing.T) {
	h := newHarness(t, nil)
	thr := h.thread(t, 1)
	h.d.AtomicOp(thr, pcA, flagAddr, 3, OpLoad, Relaxed)
	if got := h.d.Stats().Get(StatProtocolViolations); got != 1 {
		t.Errorf("protocol_violations = %d, want 1", got)
	}

	hd := newHarness(t, func(c *Config) { c.Debug = true })
	thr = hd.thread(t, 1)
	perr := mustPanicProtocol(t, func() { hd.d.AtomicOp(thr, pcA, flagAddr, 16, OpStore, Release) })
	if perr.Op != "atomic_op" {
		t.Errorf("Op = %q, want atomic_op", perr.Op)
	}
}

// TestMembar_NoOrdering tests that a barrier alone orders nothing.
func TestMembar_NoOrdering(t *testing.T) {
	h := newHarness(t, nil)
	t0, t1 := h.thread(t, 1), h.thread(t, 2)

	h.d.Write(t0, pcA, addrX, 8)
	h.d.Membar(t0, pcA)
	h.d.Membar(t1, pcB)
	h.d.Read(t1, pcB, addrX, 8)
	h.wantRaces(t, 1)
}

// TestRCU_GracePeriod tests reader/updater ordering through a domain.
func TestRCU_GracePeriod(t *testing.T) {
	tests := []struct {
		name  string
		wait  func(d *Detector, updater *thread.Thread)
		races int
	}{
		{"synchronize", func(d *Detector, u *thread.Thread) { d.RCUSynchronize(u, pcA, RCU) }, 0},
		{"callback", func(d *Detector, u *thread.Thread) { d.RCUCallback(u, pcA, RCU) }, 0},
		{"other domain", func(d *Detector, u *thread.Thread) { d.RCUSynchronize(u, pcA, SRCU) }, 1},
		{"no grace period", func(*Detector, *thread.Thread) {}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			updater, reader := h.thread(t, 1), h.thread(t, 2)

			h.d.RCUReadLock(reader, pcB, RCU)
			h.d.Read(reader, pcB, addrX, 8)
			h.d.RCUReadUnlock(reader, pcB, RCU)

			tt.wait(h.d, updater)
			h.d.Write(updater, pcA, addrX, 8)
			h.wantRaces(t, tt.races)
		})
	}
}

// TestRCU_AssignDereference tests pointer publication.
func TestRCU_AssignDereference(t *testing.T) {
	h := newHarness(t, nil)
	t0, t1 := h.thread(t, 1), h.thread(t, 2)

	h.d.Write(t0, pcA, addrX, 8) // initialize the object
	h.d.RCUAssignPointer(t0, pcA, flagAddr)

	h.d.RCUReadLock(t1, pcB, RCU)
	h.d.RCUDereference(t1, pcB, flagAddr)
	h.d.Read(t1, pcB, addrX, 8)
	h.d.RCUReadUnlock(t1, pcB, RCU)

	h.wantRaces(t, 0)
}

// TestRCU_BadDomain tests that an unknown domain is rejected.
func TestRCU_BadDomain(t *testing.T) {
	h := newHarness(t, nil)
	thr := h.thread(t, 1)
	h.d.RCUReadLock(thr, pcA, RCUDomain(9))
	if got := h.d.Stats().Get(StatProtocolViolations); got != 1 {
		t.Errorf("protocol_violations = %d, want 1", got)
	}
}

// TestSeqcount_ReadsSuppressed tests that reads inside a read section are
// not checked while writes are.
func TestSeqcount_ReadsSuppressed(t *testing.T) {
	h := newHarness(t, nil)
	writer, reader := h.thread(t, 1), h.thread(t, 2)
	const seq = uintptr(0x6000)

	h.d.Write(writer, pcA, addrX, 8)

	h.d.SeqBegin(reader, pcB, seq)
	h.d.Read(reader, pcB, addrX, 8)
	h.d.SeqEnd(reader, pcB, seq)
	h.wantRaces(t, 0)
	if got := h.d.Stats().Get(StatReadsSuppressed); got != 1 {
		t.Errorf("reads_suppressed = %d, want 1", got)
	}

	h.d.SeqBegin(reader, 0x30, seq)
	h.d.Write(reader, 0x30, addrX, 8)
	h.d.SeqEnd(reader, 0x30, seq)
	h.wantRaces(t, 1)
}

// TestSeqcount_WriterRelease tests that a reader acquires the writer's
// release on the seqcount.
func TestSeqcount_WriterRelease(t *testing.T) {
	h := newHarness(t, nil)
	writer, reader := h.thread(t, 1), h.thread(t, 2)
	const seq = uintptr(0x6000)

	h.d.Write(writer, pcA, addrX, 8)
	h.d.Release(writer, pcA, seq)

	h.d.SeqBegin(reader, pcB, seq)
	h.d.SeqEnd(reader, pcB, seq)
	h.d.Read(reader, pcB, addrX, 8)
	h.wantRaces(t, 0)
}

// TestSeqcount_Ignore tests the ignore region.
func TestSeqcount_Ignore(t *testing.T) {
	h := newHarness(t, nil)
	t0, t1 := h.thread(t, 1), h.thread(t, 2)

	h.d.Write(t0, pcA, addrX, 8)
	h.d.SeqIgnoreBegin(t1, pcB)
	h.d.Read(t1, pcB, addrX, 8)
	h.d.SeqIgnoreEnd(t1, pcB)
	h.wantRaces(t, 0)

	h.d.Read(t1, 0x30, addrX, 8)
	h.wantRaces(t, 1)
}

// TestSeqcount_Violations tests the fatal seqcount protocol errors.
func TestSeqcount_Violations(t *testing.T) {
	tests := []struct {
		name string
		run  func(d *Detector, thr *thread.Thread)
		op   string
	}{
		{"mismatched end", func(d *Detector, thr *thread.Thread) {
			d.SeqBegin(thr, pcA, 0x100)
			d.SeqEnd(thr, pcA, 0x200)
		}, "seq_end"},
		{"end without begin", func(d *Detector, thr *thread.Thread) {
			d.SeqEnd(thr, pcA, 0x100)
		}, "seq_end"},
		{"overflow", func(d *Detector, thr *thread.Thread) {
			for i := 0; i <= thread.MaxSeqDepth; i++ {
				d.SeqBegin(thr, pcA, uintptr(0x100+8*i))
			}
		}, "seq_begin"},
		{"ignore end inside a read section", func(d *Detector, thr *thread.Thread) {
			d.SeqBegin(thr, pcA, 0x100)
			d.SeqIgnoreEnd(thr, pcA)
		}, "seq_ignore_end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			thr := h.thread(t, 1)
			perr := mustPanicProtocol(t, func() { tt.run(h.d, thr) })
			if perr.Op != tt.op {
				t.Errorf("Op = %q, want %q", perr.Op, tt.op)
			}
			if !strings.Contains(h.out.String(), "FATAL: ktsan:") {
				t.Errorf("output lacks the fatal banner:\n%s", h.out.String())
			}
		})
	}
}

// TestPercpu_ReleaseOnEnable tests that a per-CPU section ends when
// preemption is enabled again.
func TestPercpu_ReleaseOnEnable(t *testing.T) {
	h := newHarness(t, nil)
	t0, t1 := h.thread(t, 1), h.thread(t, 2)
	const pcpu = uintptr(0x7000)

	h.d.PreemptDisable(t0, pcA)
	h.d.PercpuAcquire(t0, pcA, pcpu)
	h.d.Write(t0, pcA, addrX, 8)
	h.d.PreemptEnable(t0, pcA)

	h.d.PreemptDisable(t1, pcB)
	h.d.PercpuAcquire(t1, pcB, pcpu)
	h.d.Write(t1, pcB, addrX, 8)
	h.d.PreemptEnable(t1, pcB)

	h.wantRaces(t, 0)
}

// TestPercpu_HeldWhileDisabled tests that nothing is published before the
// section ends.
func TestPercpu_HeldWhileDisabled(t *testing.T) {
	h := newHarness(t, nil)
	t0, t1 := h.thread(t, 1), h.thread(t, 2)
	const pcpu = uintptr(0x7000)

	h.d.PreemptDisable(t0, pcA)
	h.d.PercpuAcquire(t0, pcA, pcpu)
	h.d.Write(t0, pcA, addrX, 8)

	h.d.PercpuAcquire(t1, pcB, pcpu)
	h.d.Write(t1, pcB, addrX, 8)

	h.wantRaces(t, 1)
}

// TestPercpu_IRQSaveRestoreNesting tests that only the outermost restore
// ends the section.
func TestPercpu_IRQSaveRestoreNesting(t *testing.T) {
	h := newHarness(t, nil)
	thr := h.thread(t, 1)
	const pcpu = uintptr(0x7000)

	outer := h.d.IRQSave(thr, pcA)
	inner := h.d.IRQSave(thr, pcA)
	h.d.PercpuAcquire(thr, pcA, pcpu)

	h.d.IRQRestore(thr, pcA, inner)
	if !thr.IRQOff {
		t.Fatal("inner IRQRestore() enabled interrupts")
	}
	if n := h.d.SyncObjects(); n != 0 {
		t.Errorf("SyncObjects() after inner restore = %d, want 0", n)
	}

	h.d.IRQRestore(thr, pcA, outer)
	if thr.IRQOff {
		t.Fatal("outer IRQRestore() left interrupts disabled")
	}
	if n := h.d.SyncObjects(); n != 1 {
		t.Errorf("SyncObjects() after outer restore = %d, want 1", n)
	}
}

// TestPercpu_PreemptAndIRQ tests that both conditions must clear.
func TestPercpu_PreemptAndIRQ(t *testing.T) {
	h := newHarness(t, nil)
	thr := h.thread(t, 1)

	h.d.PreemptDisable(thr, pcA)
	h.d.IRQDisable(thr, pcA)
	h.d.PercpuAcquire(thr, pcA, 0x7000)
	h.d.PreemptEnable(thr, pcA)
	if n := h.d.SyncObjects(); n != 0 {
		t.Errorf("SyncObjects() with interrupts still off = %d, want 0", n)
	}
	h.d.IRQEnable(thr, pcA)
	if n := h.d.SyncObjects(); n != 1 {
		t.Errorf("SyncObjects() = %d, want 1", n)
	}
}

// TestPercpu_Overflow tests the held-list bound.
func TestPercpu_Overflow(t *testing.T) {
	h := newHarness(t, nil)
	thr := h.thread(t, 1)
	h.d.PreemptDisable(thr, pcA)
	perr := mustPanicProtocol(t, func() {
		for i := 0; i <= thread.MaxPercpu; i++ {
			h.d.PercpuAcquire(thr, pcA, uintptr(0x7000+8*i))
		}
	})
	if perr.Op != "percpu_acquire" {
		t.Errorf("Op = %q, want percpu_acquire", perr.Op)
	}
}

// TestPreemptEnable_Unbalanced tests the non-fatal violation.
func TestPreemptEnable_Unbalanced(t *testing.T) {
	h := newHarness(t, nil)
	thr := h.thread(t, 1)
	h.d.PreemptEnable(thr, pcA)
	if thr.PreemptDepth != 0 {
		t.Errorf("PreemptDepth = %d, want 0", thr.PreemptDepth)
	}
	if got := h.d.Stats().Get(StatProtocolViolations); got != 1 {
		t.Errorf("protocol_violations = %d, want 1", got)
	}
}

// TestMemblock_FreeDestroysSyncObjects tests garbage collection of the sync
// objects of a freed block.
func TestMemblock_FreeDestroysSyncObjects(t *testing.T) {
	h := newHarness(t, nil)
	thr := h.thread(t, 1)

	h.d.MemblockAlloc(thr, pcA, blockAddr, 0x100)
	h.d.PostLock(thr, pcA, blockAddr+0x10, true, false, true)
	h.d.PreUnlock(thr, pcA, blockAddr+0x10, true)
	h.d.Release(thr, pcA, lockAddr) // outside any block

	if n := h.d.SyncObjects(); n != 2 {
		t.Fatalf("SyncObjects() = %d, want 2", n)
	}
	h.d.MemblockFree(thr, pcA, blockAddr, 0x100)
	if n := h.d.SyncObjects(); n != 1 {
		t.Errorf("SyncObjects() after free = %d, want 1", n)
	}
	if n := h.d.MemBlocks(); n != 0 {
		t.Errorf("MemBlocks() after free = %d, want 0", n)
	}
}

// TestMemblock_RaceWithFree tests that an access racing with the free is
// reported and that reused memory starts clean.
func TestMemblock_RaceWithFree(t *testing.T) {
	h := newHarness(t, nil)
	owner, user := h.thread(t, 1), h.thread(t, 2)

	h.d.MemblockAlloc(owner, pcA, blockAddr, 0x100)
	h.d.Write(user, pcB, blockAddr+0x20, 8)
	h.d.MemblockFree(owner, pcA, blockAddr, 0x100)
	h.wantRaces(t, 1)

	h.d.MemblockAlloc(owner, pcA, blockAddr, 0x100)
	h.d.Write(user, 0x30, blockAddr+0x20, 8)
	h.d.Write(owner, 0x40, blockAddr+0x28, 8)
	h.wantRaces(t, 1)
}

// TestMemblock_FreeConcurrentWithAccess tests that shadow freed while other
// threads access memory is never charged to an address they did not touch.
func TestMemblock_FreeConcurrentWithAccess(t *testing.T) {
	const (
		blockX = blockAddr
		blockY = blockAddr + 0x1000
		rounds = 2000
	)
	h := newHarness(t, func(c *Config) { c.ShadowCells = 2 })
	freer, writer, loner := h.thread(t, 1), h.thread(t, 2), h.thread(t, 3)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			h.d.MemblockAlloc(freer, pcA, blockX, 8)
			h.d.MemblockFree(freer, pcA, blockX, 8)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			h.d.Write(writer, pcB, blockX, 8)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			h.d.MemblockAlloc(loner, 0x30, blockY, 8)
			h.d.Write(loner, 0x30, blockY, 8)
			h.d.MemblockFree(loner, 0x30, blockY, 8)
		}
	}()
	wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.reports {
		if r.Addr >= blockY && r.Addr < blockY+8 {
			t.Errorf("race reported at %#x between T%d and T%d; only T%d touched it",
				r.Addr, r.Current.ThreadID, r.Previous.ThreadID, loner.ID)
		}
	}
}

// TestMemblock_OverlappingAlloc tests that a block allocated over a stale
// one drops the stale block's sync objects.
func TestMemblock_OverlappingAlloc(t *testing.T) {
	h := newHarness(t, nil)
	thr := h.thread(t, 1)

	h.d.MemblockAlloc(thr, pcA, blockAddr, 0x100)
	h.d.Release(thr, pcA, blockAddr+8)
	h.d.MemblockAlloc(thr, pcA, blockAddr+0x80, 0x100)

	if n := h.d.SyncObjects(); n != 0 {
		t.Errorf("SyncObjects() = %d, want 0", n)
	}
	if n := h.d.MemBlocks(); n != 1 {
		t.Errorf("MemBlocks() = %d, want 1", n)
	}
}

// TestThreadFinish_ReleasesHeldPercpu tests that exiting ends a per-CPU
// section.
func TestThreadFinish_ReleasesHeldPercpu(t *testing.T) {
	h := newHarness(t, nil)
	thr := h.thread(t, 1)
	h.d.PreemptDisable(thr, pcA)
	h.d.PercpuAcquire(thr, pcA, 0x7000)
	h.d.ThreadFinish(thr)
	if n := h.d.SyncObjects(); n != 1 {
		t.Errorf("SyncObjects() = %d, want 1", n)
	}
}

// TestSyncExhaustion_OverSynchronizes tests that a full sync table loses
// ordering precision in the direction of missed races, never false ones.
func TestSyncExhaustion_OverSynchronizes(t *testing.T) {
	const otherLock = lockAddr + 0x10
	h := newHarness(t, func(c *Config) { c.SyncObjects = 1 })
	a, b := h.thread(t, 1), h.thread(t, 2)

	h.d.PostLock(a, pcA, otherLock, true, false, true)
	h.d.PreUnlock(a, pcA, otherLock, true)

	h.d.PostLock(a, pcA, lockAddr, true, false, true)
	h.d.Write(a, pcA, addrX, 8)
	h.d.PreUnlock(a, pcA, lockAddr, true)

	h.d.PostLock(b, pcB, lockAddr, true, false, true)
	h.d.Write(b, pcB, addrX, 8)
	h.d.PreUnlock(b, pcB, lockAddr, true)

	h.wantRaces(t, 0)
	st := h.d.Stats()
	if st.Get(StatSyncAllocFailures) == 0 {
		t.Error("sync_alloc_failures = 0, want > 0")
	}
	if got := st.Get(StatProtocolViolations); got != 0 {
		t.Errorf("protocol_violations = %d, want 0 for locks sharing the overflow object", got)
	}
}

// TestSyncExhaustion_AcquireImportsOverflow tests that an acquire of an
// address whose release overflowed still sees that release.
func TestSyncExhaustion_AcquireImportsOverflow(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.SyncObjects = 1 })
	t0, t1 := h.thread(t, 1), h.thread(t, 2)

	h.d.Release(t0, pcA, lockAddr)
	h.d.Write(t0, pcA, addrX, 8)
	h.d.Release(t0, pcA, flagAddr)

	h.d.Acquire(t1, pcB, flagAddr)
	h.d.Write(t1, pcB, addrX, 8)

	h.wantRaces(t, 0)
}

// TestSyncDestroy tests that destroyed sync objects free their slots and
// that a later use of the address starts without history.
func TestSyncDestroy(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.SyncObjects = 2 })
	t0, t1 := h.thread(t, 1), h.thread(t, 2)

	for i := uintptr(0); i < 10; i++ {
		lock := lockAddr + i*0x10
		h.d.PostLock(t0, pcA, lock, true, false, true)
		h.d.PreUnlock(t0, pcA, lock, true)
		h.d.SyncDestroy(t0, pcA, lock)
	}
	st := h.d.Stats()
	if got := st.Get(StatSyncAllocFailures); got != 0 {
		t.Errorf("sync_alloc_failures = %d, want 0 with destroyed locks", got)
	}
	if got := st.Get(StatSyncDestroys); got != 10 {
		t.Errorf("sync_destroys = %d, want 10", got)
	}
	if got := h.d.SyncObjects(); got != 0 {
		t.Errorf("SyncObjects() = %d, want 0", got)
	}

	h.d.Write(t0, pcA, addrX, 8)
	h.d.Release(t0, pcA, flagAddr)
	h.d.SyncDestroy(t0, pcA, flagAddr)
	h.d.Acquire(t1, pcB, flagAddr)
	h.d.Write(t1, pcB, addrX, 8)
	h.wantRaces(t, 1)

	h.d.SyncDestroy(t0, pcA, flagAddr)
	if got := st.Get(StatSyncDestroys); got != 11 {
		t.Errorf("sync_destroys after destroying twice = %d, want 11", got)
	}
}
