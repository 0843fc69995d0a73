package race

import (
	"sync/atomic"
	"unsafe"

	"github.com/kolkov/ktsan/internal/race/detector"
)

// MemoryOrder is the ordering constraint of an atomic operation.
type MemoryOrder = detector.MemoryOrder

// Memory orders.
const (
	Relaxed = detector.Relaxed
	Consume = detector.Consume
	Acquire = detector.Acquire
	Release = detector.Release
	AcqRel  = detector.AcqRel
	SeqCst  = detector.SeqCst
)

// AtomicKind is the operation performed by an atomic access.
type AtomicKind = detector.AtomicKind

// Atomic operations.
const (
	OpLoad                  = detector.OpLoad
	OpStore                 = detector.OpStore
	OpExchange              = detector.OpExchange
	OpCompareExchange       = detector.OpCompareExchange
	OpCompareExchangeFailed = detector.OpCompareExchangeFailed
	OpFetchAdd              = detector.OpFetchAdd
	OpFetchAnd              = detector.OpFetchAnd
	OpFetchOr               = detector.OpFetchOr
	OpFetchXor              = detector.OpFetchXor
	OpBitSet                = detector.OpBitSet
	OpBitClear              = detector.OpBitClear
	OpBitTestAndSet         = detector.OpBitTestAndSet
)

// RCUDomain selects an RCU flavor.
type RCUDomain = detector.RCUDomain

// RCU domains.
const (
	RCU      = detector.RCU
	RCUBH    = detector.RCUBH
	RCUSched = detector.RCUSched
	SRCU     = detector.SRCU
)

// IRQFlags is the interrupt state returned by IRQSave.
type IRQFlags = detector.IRQFlags

const atomicStripes = 64

// AtomicOp reports an atomic operation the host performed itself.
func (t *Thread) AtomicOp(pc, addr, size uintptr, kind AtomicKind, order MemoryOrder) {
	if !t.enter() {
		return
	}
	defer t.leave()
	t.rt.det.AtomicOp(t.thr, pc, addr, size, kind, order)
}

// do runs op and models it as one indivisible step: no other modeled
// atomic on the same stripe can slip between the real operation and its
// effect on the happens-before graph.
func (t *Thread) do(pc, addr, size uintptr, order MemoryOrder, op func() AtomicKind) {
	if !t.enter() {
		op()
		return
	}
	defer t.leave()
	mu := &t.rt.atomics[stripeOf(addr)]
	mu.Lock()
	defer mu.Unlock()
	kind := op()
	t.rt.det.AtomicOp(t.thr, pc, addr, size, kind, order)
}

func stripeOf(addr uintptr) uintptr {
	const goldenRatio = 0x9E3779B97F4A7C15
	return uintptr((uint64(addr) * goldenRatio) >> 58)
}

func addrOf[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}

// LoadUint32 atomically loads *p.
func (t *Thread) LoadUint32(pc uintptr, p *uint32, order MemoryOrder) (v uint32) {
	t.do(pc, addrOf(p), 4, order, func() AtomicKind {
		v = atomic.LoadUint32(p)
		return OpLoad
	})
	return v
}

// LoadUint64 atomically loads *p.
func (t *Thread) LoadUint64(pc uintptr, p *uint64, order MemoryOrder) (v uint64) {
	t.do(pc, addrOf(p), 8, order, func() AtomicKind {
		v = atomic.LoadUint64(p)
		return OpLoad
	})
	return v
}

// StoreUint32 atomically stores v into *p.
func (t *Thread) StoreUint32(pc uintptr, p *uint32, v uint32, order MemoryOrder) {
	t.do(pc, addrOf(p), 4, order, func() AtomicKind {
		atomic.StoreUint32(p, v)
		return OpStore
	})
}

// StoreUint64 atomically stores v into *p.
func (t *Thread) StoreUint64(pc uintptr, p *uint64, v uint64, order MemoryOrder) {
	t.do(pc, addrOf(p), 8, order, func() AtomicKind {
		atomic.StoreUint64(p, v)
		return OpStore
	})
}

// AddUint32 atomically adds delta to *p and returns the new value.
func (t *Thread) AddUint32(pc uintptr, p *uint32, delta uint32, order MemoryOrder) (v uint32) {
	t.do(pc, addrOf(p), 4, order, func() AtomicKind {
		v = atomic.AddUint32(p, delta)
		return OpFetchAdd
	})
	return v
}

// AddUint64 atomically adds delta to *p and returns the new value.
func (t *Thread) AddUint64(pc uintptr, p *uint64, delta uint64, order MemoryOrder) (v uint64) {
	t.do(pc, addrOf(p), 8, order, func() AtomicKind {
		v = atomic.AddUint64(p, delta)
		return OpFetchAdd
	})
	return v
}

// SwapUint32 atomically stores v into *p and returns the old value.
func (t *Thread) SwapUint32(pc uintptr, p *uint32, v uint32, order MemoryOrder) (old uint32) {
	t.do(pc, addrOf(p), 4, order, func() AtomicKind {
		old = atomic.SwapUint32(p, v)
		return OpExchange
	})
	return old
}

// SwapUint64 atomically stores v into *p and returns the old value.
func (t *Thread) SwapUint64(pc uintptr, p *uint64, v uint64, order MemoryOrder) (old uint64) {
	t.do(pc, addrOf(p), 8, order, func() AtomicKind {
		old = atomic.SwapUint64(p, v)
		return OpExchange
	})
	return old
}

// CompareAndSwapUint32 executes the compare-and-swap operation on *p. A
// failed exchange is modeled as a load with the same order.
func (t *Thread) CompareAndSwapUint32(pc uintptr, p *uint32, old, new uint32, order MemoryOrder) (swapped bool) {
	t.do(pc, addrOf(p), 4, order, func() AtomicKind {
		swapped = atomic.CompareAndSwapUint32(p, old, new)
		return casKind(swapped)
	})
	return swapped
}

// CompareAndSwapUint64 executes the compare-and-swap operation on *p.
func (t *Thread) CompareAndSwapUint64(pc uintptr, p *uint64, old, new uint64, order MemoryOrder) (swapped bool) {
	t.do(pc, addrOf(p), 8, order, func() AtomicKind {
		swapped = atomic.CompareAndSwapUint64(p, old, new)
		return casKind(swapped)
	})
	return swapped
}

func casKind(swapped bool) AtomicKind {
	if swapped {
		return OpCompareExchange
	}
	return OpCompareExchangeFailed
}
