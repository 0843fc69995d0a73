package detector

import (
	"github.com/kolkov/ktsan/internal/race/syncshadow"
	"github.com/kolkov/ktsan/internal/race/thread"
	"github.com/kolkov/ktsan/internal/race/trace"
)

// syncVar returns the locked sync object for addr, creating it when create
// is set. It returns nil when there is none. When the table is exhausted
// the shared overflow object stands in for addr.
func (d *Detector) syncVar(thr *thread.Thread, addr uintptr, kind syncshadow.Kind, create bool) *syncshadow.Var {
	if !create {
		return d.syncs.Get(addr)
	}
	v, _ := d.syncs.GetOrCreate(addr)
	if v == nil {
		d.stats.Inc(thr.CPU, StatSyncAllocFailures)
		return d.syncs.Overflow()
	}
	if v.Val.Kind == syncshadow.KindUnknown {
		v.Val.Kind = kind
	}
	return v
}

// acquireFrom merges the clock published on addr into thr. An address
// nobody released has nothing to import, so no object is created. Once the
// table has overflowed, such addresses import the overflow object.
func (d *Detector) acquireFrom(thr *thread.Thread, addr uintptr) {
	v := d.syncs.Get(addr)
	if v == nil {
		v = d.syncs.OverflowIfUsed()
	}
	if v == nil {
		return
	}
	v.Val.AcquireInto(thr.Clock)
	v.Unlock()
}

// releaseTo merges thr's clock into addr's sync object.
func (d *Detector) releaseTo(thr *thread.Thread, addr uintptr, kind syncshadow.Kind) {
	v := d.syncVar(thr, addr, kind, true)
	if v == nil {
		return
	}
	v.Val.Release(thr.Clock)
	v.Unlock()
}

// Acquire makes everything released on addr happen before thr's next
// events.
func (d *Detector) Acquire(thr *thread.Thread, pc, addr uintptr) {
	d.stats.Inc(thr.CPU, StatAcquires)
	d.event(thr, trace.EventLock, pc)
	d.acquireFrom(thr, addr)
}

// Release publishes thr's history on addr. Successive releases accumulate.
func (d *Detector) Release(thr *thread.Thread, pc, addr uintptr) {
	d.stats.Inc(thr.CPU, StatReleases)
	d.event(thr, trace.EventUnlock, pc)
	d.releaseTo(thr, addr, syncshadow.KindUnknown)
}

// PreLock is called before a lock attempt. It only records a trace event.
func (d *Detector) PreLock(thr *thread.Thread, pc, addr uintptr, write bool) {
	d.event(thr, trace.EventLock, pc)
}

// PostLock is called after a lock attempt. Failed attempts (success false,
// only possible when try is set) have no effect. A successful lock acquires
// the lock's clock; write locks also record the owner.
func (d *Detector) PostLock(thr *thread.Thread, pc, addr uintptr, write, try, success bool) {
	if !success {
		return
	}
	d.stats.Inc(thr.CPU, StatLocks)
	clock := d.event(thr, trace.EventLock, pc)

	v := d.syncVar(thr, addr, syncshadow.KindMutex, true)
	if v == nil {
		return
	}
	v.Val.AcquireInto(thr.Clock)
	if write && !d.syncs.IsOverflow(v) {
		v.Val.SetOwner(thr.ID)
		v.Val.LastLock = clock
	}
	v.Unlock()
}

// PreUnlock is called before a lock is released. It publishes thr's clock
// on the lock. Write-unlocking a lock owned by another thread is a protocol
// violation.
func (d *Detector) PreUnlock(thr *thread.Thread, pc, addr uintptr, write bool) {
	d.stats.Inc(thr.CPU, StatUnlocks)
	clock := d.event(thr, trace.EventUnlock, pc)

	v := d.syncVar(thr, addr, syncshadow.KindMutex, true)
	if v == nil {
		return
	}
	if d.syncs.IsOverflow(v) {
		v.Val.Release(thr.Clock)
		v.Unlock()
		return
	}
	owner := v.Val.Owner()
	v.Val.Release(thr.Clock)
	if write {
		v.Val.ClearOwner()
		v.Val.LastUnlock = clock
	}
	v.Unlock()

	switch {
	case !write || owner == thr.ID:
	case owner == syncshadow.NoOwner:
		d.violation(thr, false, "pre_unlock", addr, "write unlock of a lock that is not held")
	default:
		d.violation(thr, false, "pre_unlock", addr, "write unlock by non-owner (owner T%d)", owner)
	}
}

// SyncDestroy forgets the sync object at addr, for a lock or other
// primitive that is being destroyed. A later use of addr starts afresh.
func (d *Detector) SyncDestroy(thr *thread.Thread, pc, addr uintptr) {
	d.event(thr, trace.EventUnlock, pc)
	if d.syncs.Destroy(addr) {
		d.stats.Inc(thr.CPU, StatSyncDestroys)
	}
}
