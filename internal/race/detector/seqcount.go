package detector

import (
	"github.com/kolkov/ktsan/internal/race/thread"
)

// SeqBegin opens a seqcount read section on addr. Plain reads inside it are
// not checked, since a concurrent writer makes them retry anyway. Nesting
// deeper than thread.MaxSeqDepth is fatal.
func (d *Detector) SeqBegin(thr *thread.Thread, pc, addr uintptr) {
	if !thr.PushSeq(addr) {
		d.violation(thr, true, "seq_begin", addr, "seqcount nesting exceeds %d", thread.MaxSeqDepth)
		return
	}
	d.stats.Inc(thr.CPU, StatSeqBegins)
	thr.ReadSuppress++
	d.acquireFrom(thr, addr)
}

// SeqEnd closes the innermost seqcount read section, which must be addr.
// A mismatch or an end without a begin is fatal.
func (d *Detector) SeqEnd(thr *thread.Thread, pc, addr uintptr) {
	if !thr.PopSeq(addr) {
		if top := thr.SeqTop(); top != 0 {
			d.violation(thr, true, "seq_end", addr, "unmatched seqcount end (innermost %#x)", top)
		} else {
			d.violation(thr, true, "seq_end", addr, "seqcount end without begin")
		}
		return
	}
	thr.ReadSuppress--
}

// SeqIgnoreBegin opens a region in which plain reads are not checked.
func (d *Detector) SeqIgnoreBegin(thr *thread.Thread, pc uintptr) {
	thr.ReadSuppress++
}

// SeqIgnoreEnd closes a region opened by SeqIgnoreBegin. Closing more
// regions than were opened is fatal.
func (d *Detector) SeqIgnoreEnd(thr *thread.Thread, pc uintptr) {
	if thr.ReadSuppress <= thr.SeqDepth() {
		d.violation(thr, true, "seq_ignore_end", 0, "ignore end without begin")
		return
	}
	thr.ReadSuppress--
}
