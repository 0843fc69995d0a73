package detector

import (
	"sync"

	"github.com/kolkov/ktsan/internal/race/syncshadow"
	"github.com/kolkov/ktsan/internal/race/thread"
	"github.com/kolkov/ktsan/internal/race/trace"
	"github.com/kolkov/ktsan/internal/race/vectorclock"
)

// RCUDomain selects one of the independent RCU flavors.
type RCUDomain uint8

// RCU domains.
const (
	RCU RCUDomain = iota
	RCUBH
	RCUSched
	SRCU
	numRCUDomains
)

var domainNames = [numRCUDomains]string{"rcu", "rcu_bh", "rcu_sched", "srcu"}

func (r RCUDomain) String() string {
	if r < numRCUDomains {
		return domainNames[r]
	}
	return "unknown"
}

// rcuDomain accumulates the clocks of every reader that left a read-side
// critical section of the domain.
type rcuDomain struct {
	mu    sync.Mutex
	clock vectorclock.VectorClock
}

func (d *Detector) domain(thr *thread.Thread, op string, dom RCUDomain) *rcuDomain {
	if dom >= numRCUDomains {
		d.violation(thr, false, op, 0, "unknown rcu domain %d", dom)
		return nil
	}
	d.stats.Inc(thr.CPU, StatRCUOps)
	return &d.rcu[dom]
}

// RCUReadLock enters a read-side critical section.
func (d *Detector) RCUReadLock(thr *thread.Thread, pc uintptr, dom RCUDomain) {
	if d.domain(thr, "rcu_read_lock", dom) == nil {
		return
	}
	d.event(thr, trace.EventRCU, pc)
}

// RCUReadUnlock leaves a read-side critical section: the reader's history
// becomes part of the domain's clock.
func (d *Detector) RCUReadUnlock(thr *thread.Thread, pc uintptr, dom RCUDomain) {
	r := d.domain(thr, "rcu_read_unlock", dom)
	if r == nil {
		return
	}
	d.event(thr, trace.EventRCU, pc)
	r.mu.Lock()
	r.clock.Acquire(thr.Clock)
	r.mu.Unlock()
}

// RCUSynchronize waits for a grace period: every reader that has left its
// critical section happens before thr's next events.
func (d *Detector) RCUSynchronize(thr *thread.Thread, pc uintptr, dom RCUDomain) {
	d.rcuWait(thr, "rcu_synchronize", pc, dom)
}

// RCUCallback models the start of an RCU callback. It orders like
// RCUSynchronize.
func (d *Detector) RCUCallback(thr *thread.Thread, pc uintptr, dom RCUDomain) {
	d.rcuWait(thr, "rcu_callback", pc, dom)
}

func (d *Detector) rcuWait(thr *thread.Thread, op string, pc uintptr, dom RCUDomain) {
	r := d.domain(thr, op, dom)
	if r == nil {
		return
	}
	d.event(thr, trace.EventRCU, pc)
	r.mu.Lock()
	thr.Clock.Acquire(&r.clock)
	r.mu.Unlock()
}

// RCUAssignPointer publishes a pointer stored at addr: a release store.
func (d *Detector) RCUAssignPointer(thr *thread.Thread, pc, addr uintptr) {
	d.stats.Inc(thr.CPU, StatRCUOps)
	d.atomic(thr, pc, addr, ptrSize, OpStore, Release, syncshadow.KindRCUPointer)
}

// RCUDereference reads a pointer published with RCUAssignPointer: an
// acquire load.
func (d *Detector) RCUDereference(thr *thread.Thread, pc, addr uintptr) {
	d.stats.Inc(thr.CPU, StatRCUOps)
	d.atomic(thr, pc, addr, ptrSize, OpLoad, Acquire, syncshadow.KindRCUPointer)
}

const ptrSize = 8
