// Package race is the public API of ktsan, a dynamic data race detector
// runtime for kernel-style code.
//
// The host (an instrumentation pass, a simulator, a test harness) reports
// every memory access and every synchronization event of the threads it
// monitors. The runtime keeps a happens-before model of those events and
// prints a report whenever two threads touch the same bytes, at least one
// of them writing, with nothing ordering the two accesses.
//
// # Quick Start
//
//	rt, err := race.New(race.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Close()
//
//	t0, _ := rt.ThreadCreate(1, nil)
//	t1, _ := rt.ThreadCreate(2, nil)
//
//	t0.Write(race.CallerPC(), addr, 8)
//	t1.Read(race.CallerPC(), addr, 8) // reported: nothing orders the two
//
// # API Overview
//
// The package provides:
//   - Lifecycle: [New], [Runtime.Close], [Runtime.ThreadCreate],
//     [Thread.Start], [Thread.Stop], [Thread.Finish]
//   - Memory accesses: [Thread.Read], [Thread.Write], [Thread.ReadRange],
//     [Thread.WriteRange], [Thread.FuncEntry], [Thread.FuncExit]
//   - Locks: [Thread.PreLock], [Thread.PostLock], [Thread.PreUnlock],
//     [Thread.Acquire], [Thread.Release]
//   - Atomics: [Thread.AtomicOp] and the typed wrappers such as
//     [Thread.LoadUint32] that also perform the operation
//   - Kernel primitives: RCU, seqcounts, per-CPU variables with preemption
//     and interrupt state, memory blocks
//   - Control: [Runtime.Enable], [Runtime.Disable], [Runtime.Stats],
//     [Runtime.Command], [RunSelfTests], [CheckVersion]
//
// # How It Works
//
// Each thread carries a vector clock. Each 8-byte granule of memory has a
// shadow cell holding up to four recent accesses, each packed into one
// word: thread, clock, offset, size, read and atomic bits. A new access is
// compared with the slots of its granule; a slot whose clock is not covered
// by the accessing thread's vector clock, overlaps the new access and
// conflicts with it (not two reads, not two atomics) is a race.
//
// Synchronization objects (locks, atomics with release semantics, per-CPU
// variables, RCU pointers) carry the clocks released on them and are
// created lazily. Objects created inside a memory block are destroyed when
// the block is freed.
//
// To print the stack of the earlier access, every thread keeps a ring of
// compact events. The stack is rebuilt by replaying the ring from the
// closest segment header up to the access.
//
// # Configuration
//
// [ConfigFromEnv] reads KTSAN_OPTIONS, for example:
//
//	KTSAN_OPTIONS="debug=1 verbose=1 sync_objects=4096 shadow_cells=65536"
//
// # Protocol violations
//
// Misuse of the synchronization protocol (unlocking a lock held by another
// thread, unbalanced seqcount sections, overflowing one of the bounded
// per-thread stacks) is a [ProtocolError]. Fatal ones print the thread
// state and panic; the others are counted, and are fatal only in debug
// mode.
package race
