// Package thread holds the per-thread state of the detector and the pool of
// dense thread IDs.
//
// Each monitored thread owns a Thread: its ID in [0, MaxThreads), the
// external id the host knows it by, its vector clock, the live call stack
// and the nesting state used by the protocol handlers (preemption, IRQs,
// read suppression, seqcount readers and held per-CPU variables).
//
// IDs are recycled through a FIFO pool. The pool remembers the last clock
// each ID reached so that a reused ID continues from there: records left in
// shadow memory by the previous owner stay historical and never look like
// accesses of the new owner. Traces belong to the ID and survive reuse.
package thread
