// Package detector implements the race detection engine.
//
// A Detector owns the shadow memory, the sync object and memory block
// tables, the thread pool and the RCU domains of one monitored program.
// The runtime calls its entry points with the calling thread's state; the
// detector never looks up "the current thread" by itself.
//
// # Happens-before
//
// Every thread carries a vector clock. Each event a thread performs ticks
// its own entry and is appended to its trace. Synchronization moves clocks
// around:
//
//   - release (unlock, release store, RCU read unlock, per-CPU release):
//     the thread's clock is merged into the sync object's clock
//   - acquire (lock, acquire load, RCU synchronize, per-CPU acquire):
//     the sync object's clock is merged into the thread's clock
//
// An access recorded as (tid, clock) happens before thread T's current
// point iff T.clock[tid] >= clock.
//
// # Memory accesses
//
// Each 8-byte granule keeps up to four access records. A new access is
// compared with each record of its granule; an overlapping record from an
// unordered access is a race unless both are reads or both are atomic.
// Reports rebuild the stack of the earlier access from its thread's trace.
//
// # Protocol violations
//
// Misuse of the synchronization API is reported as a *ProtocolError.
// Violations that leave the per-thread bookkeeping unusable (stack
// overflows, unmatched seqcount ends) are always fatal; the rest are fatal
// with Config.Debug and counted otherwise.
//
// # Thread Safety
//
// Methods taking a *thread.Thread must only be called by the goroutine
// acting as that thread. The detector itself is safe for concurrent use:
// shadow slots are updated with compare-and-swap, table buckets and objects
// have their own locks, and no lock is global.
package detector
