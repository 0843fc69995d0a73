package detector

import (
	"github.com/kolkov/ktsan/internal/race/syncshadow"
	"github.com/kolkov/ktsan/internal/race/thread"
	"github.com/kolkov/ktsan/internal/race/trace"
)

// MemoryOrder is the ordering constraint of an atomic operation.
type MemoryOrder uint8

// Memory orders, weakest first.
const (
	Relaxed MemoryOrder = iota
	Consume
	Acquire
	Release
	AcqRel
	SeqCst
)

var orderNames = [...]string{"relaxed", "consume", "acquire", "release", "acq_rel", "seq_cst"}

func (o MemoryOrder) String() string {
	if int(o) < len(orderNames) {
		return orderNames[o]
	}
	return "unknown"
}

func (o MemoryOrder) acquires() bool {
	return o == Consume || o == Acquire || o == AcqRel || o == SeqCst
}

func (o MemoryOrder) releases() bool {
	return o == Release || o == AcqRel || o == SeqCst
}

// AtomicKind is the operation performed by an atomic access.
type AtomicKind uint8

// Atomic operations.
const (
	OpLoad AtomicKind = iota
	OpStore
	OpExchange
	OpCompareExchange
	// OpCompareExchangeFailed is a compare-exchange that did not store. It
	// is modeled as a load with the failure order.
	OpCompareExchangeFailed
	OpFetchAdd
	OpFetchAnd
	OpFetchOr
	OpFetchXor
	OpBitSet
	OpBitClear
	OpBitTestAndSet
)

var kindNames = [...]string{
	OpLoad:                  "load",
	OpStore:                 "store",
	OpExchange:              "exchange",
	OpCompareExchange:       "compare_exchange",
	OpCompareExchangeFailed: "compare_exchange_failed",
	OpFetchAdd:              "fetch_add",
	OpFetchAnd:              "fetch_and",
	OpFetchOr:               "fetch_or",
	OpFetchXor:              "fetch_xor",
	OpBitSet:                "bit_set",
	OpBitClear:              "bit_clear",
	OpBitTestAndSet:         "bit_test_and_set",
}

func (k AtomicKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

func (k AtomicKind) loads() bool {
	return k != OpStore
}

func (k AtomicKind) stores() bool {
	return k != OpLoad && k != OpCompareExchangeFailed
}

// AtomicOp models an atomic operation of size bytes (1, 2, 4 or 8) at addr.
//
// The ordering effect follows the memory order:
//
//   - a load with an acquire-like order imports the clock released on addr,
//     without creating a sync object;
//   - a store with a release-like order publishes thr's clock on addr;
//   - a read-modify-write does whichever of the two its order asks for;
//   - relaxed operations order nothing.
//
// Every atomic operation is also recorded in shadow memory as an atomic
// access: plain accesses racing with it are reported, other atomic accesses
// never are.
func (d *Detector) AtomicOp(thr *thread.Thread, pc, addr, size uintptr, kind AtomicKind, order MemoryOrder) {
	switch {
	case size != 1 && size != 2 && size != 4 && size != 8:
		d.violation(thr, false, "atomic_op", addr, "bad size %d for %v", size, kind)
		return
	case int(kind) >= len(kindNames) || int(order) >= len(orderNames):
		d.violation(thr, false, "atomic_op", addr, "bad operation %d/%d", kind, order)
		return
	}
	d.stats.Inc(thr.CPU, StatAtomicOps)
	d.atomic(thr, pc, addr, size, kind, order, syncshadow.KindAtomic)
}

// atomic imports ordering before the access is checked and publishes it
// after the access is recorded, so the operation is ordered on both sides
// like the real one.
func (d *Detector) atomic(thr *thread.Thread, pc, addr, size uintptr, kind AtomicKind, order MemoryOrder, sk syncshadow.Kind) {
	load, store := kind.loads(), kind.stores()
	if load && order.acquires() {
		d.acquireFrom(thr, addr)
	}
	d.access(thr, trace.EventAtomic, pc, addr, size, !store, true)
	if store && order.releases() {
		d.releaseTo(thr, addr, sk)
	}
}

// Membar records a memory barrier. Barriers alone create no ordering.
func (d *Detector) Membar(thr *thread.Thread, pc uintptr) {
	d.stats.Inc(thr.CPU, StatMembars)
	d.event(thr, trace.EventMembar, pc)
}
