// Package shadowmem implements shadow memory for the race detector.
//
// Shadow memory is the foundation of dynamic race detection. Every 8-byte
// granule of monitored memory that has been accessed owns a Cell of SlotCount
// Records. A Record packs one access (thread, clock, offset, size, read or
// write, atomic or plain) into a uint64, so slots are updated with plain
// atomic loads and compare-and-swap and never need a lock.
//
// # Access algorithm
//
// Access reconciles a new record against the granule's slots: it replaces
// slots it is ordered after, ignores disjoint ranges and read/read pairs, and
// reports the first unordered conflicting slot. When no slot takes the new
// record, one is evicted (clock mod SlotCount by default).
//
// The slot set is a bounded history, not a log. A race whose witnessing
// access was evicted is missed; that bound is what keeps the cost per access
// constant.
//
// # Ranges
//
// Split decomposes multi-byte accesses into aligned pieces that each stay
// inside one granule.
//
// # Thread Safety
//
// All Shadow methods are safe for concurrent use. The granule directory is
// striped across independently locked shards.
package shadowmem
