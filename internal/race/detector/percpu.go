package detector

import (
	"github.com/kolkov/ktsan/internal/race/syncshadow"
	"github.com/kolkov/ktsan/internal/race/thread"
	"github.com/kolkov/ktsan/internal/race/trace"
)

// IRQFlags is the interrupt state saved by IRQSave.
type IRQFlags uint8

const irqWasOff IRQFlags = 1

// PercpuAcquire is called when thr touches the per-CPU variable at addr.
// It imports the history of the previous user of the variable. While
// preemption or interrupts are disabled the variable stays held and is
// released when both are enabled again; otherwise it is released at once.
// Holding more than thread.MaxPercpu variables is fatal.
func (d *Detector) PercpuAcquire(thr *thread.Thread, pc, addr uintptr) {
	d.stats.Inc(thr.CPU, StatPercpuAcquires)
	d.acquireFrom(thr, addr)
	if !thr.Atomic() {
		d.releaseTo(thr, addr, syncshadow.KindPercpu)
		return
	}
	if !thr.HoldPercpu(addr) {
		d.violation(thr, true, "percpu_acquire", addr, "more than %d per-cpu variables held", thread.MaxPercpu)
	}
}

// releasePercpu releases the held per-CPU variables once thr can be
// preempted again.
func (d *Detector) releasePercpu(thr *thread.Thread) {
	if thr.Atomic() {
		return
	}
	for _, addr := range thr.TakePercpu() {
		d.releaseTo(thr, addr, syncshadow.KindPercpu)
	}
}

// PreemptDisable enters a preemption-disabled section.
func (d *Detector) PreemptDisable(thr *thread.Thread, pc uintptr) {
	d.event(thr, trace.EventPreemptDisable, pc)
	thr.PreemptDepth++
}

// PreemptEnable leaves a preemption-disabled section.
func (d *Detector) PreemptEnable(thr *thread.Thread, pc uintptr) {
	if thr.PreemptDepth == 0 {
		d.violation(thr, false, "preempt_enable", 0, "preemption enabled without disable")
		return
	}
	d.event(thr, trace.EventPreemptEnable, pc)
	thr.PreemptDepth--
	d.releasePercpu(thr)
}

// IRQDisable disables interrupts.
func (d *Detector) IRQDisable(thr *thread.Thread, pc uintptr) {
	d.event(thr, trace.EventIRQDisable, pc)
	thr.IRQOff = true
}

// IRQEnable enables interrupts.
func (d *Detector) IRQEnable(thr *thread.Thread, pc uintptr) {
	d.event(thr, trace.EventIRQEnable, pc)
	thr.IRQOff = false
	d.releasePercpu(thr)
}

// IRQSave disables interrupts and returns the previous state.
func (d *Detector) IRQSave(thr *thread.Thread, pc uintptr) IRQFlags {
	var flags IRQFlags
	if thr.IRQOff {
		flags = irqWasOff
	}
	d.IRQDisable(thr, pc)
	return flags
}

// IRQRestore restores the interrupt state returned by IRQSave.
func (d *Detector) IRQRestore(thr *thread.Thread, pc uintptr, flags IRQFlags) {
	if flags&irqWasOff != 0 {
		d.IRQDisable(thr, pc)
		return
	}
	d.IRQEnable(thr, pc)
}
