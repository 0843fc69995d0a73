package detector

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/kolkov/ktsan/internal/race/shadowmem"
	"github.com/kolkov/ktsan/internal/race/thread"
)

// AccessType represents the type of memory access (Read or Write).
type AccessType int

const (
	// AccessRead indicates a read memory access.
	AccessRead AccessType = iota
	// AccessWrite indicates a write memory access.
	AccessWrite
)

// String returns the string representation of an AccessType.
func (a AccessType) String() string {
	switch a {
	case AccessRead:
		return "Read"
	case AccessWrite:
		return "Write"
	default:
		return "Unknown"
	}
}

// AccessInfo describes one side of a race.
type AccessInfo struct {
	// Type indicates whether this was a Read or Write access.
	Type AccessType

	// Atomic is set for accesses made by atomic operations.
	Atomic bool

	// Addr and Size give the bytes touched by the access.
	Addr uintptr
	Size uintptr

	// ThreadID is the dense ID of the accessing thread.
	ThreadID int

	// PID is the external id of the accessing thread, or -1 when the
	// thread is no longer known.
	PID int

	// Clock is the thread's own clock at the access.
	Clock uint64

	// Stack holds the call stack at the access, outermost frame first.
	// It is nil when the history needed to rebuild it was overwritten.
	Stack []uintptr
}

func (a AccessInfo) kind() string {
	if a.Atomic {
		return "atomic " + strings.ToLower(a.Type.String())
	}
	return strings.ToLower(a.Type.String())
}

// Report is a detected data race between two accesses.
type Report struct {
	// ID identifies the report in logs and callbacks.
	ID uuid.UUID

	// Addr and Size give the bytes both accesses touched.
	Addr uintptr
	Size uintptr

	// Current is the access that triggered detection.
	Current AccessInfo

	// Previous is the earlier conflicting access found in shadow memory.
	Previous AccessInfo

	// StackHashes are the stack depot hashes of Current and Previous. The
	// unordered pair is the deduplication key.
	StackHashes [2]uint64

	sym Symbolizer
}

// newAccessInfo builds one side of a report from its shadow record.
func newAccessInfo(granule uintptr, r shadowmem.Record, pid int, stack []uintptr) AccessInfo {
	typ := AccessWrite
	if r.IsRead() {
		typ = AccessRead
	}
	return AccessInfo{
		Type:     typ,
		Atomic:   r.IsAtomic(),
		Addr:     granule + r.Offset(),
		Size:     r.Size(),
		ThreadID: r.TID(),
		PID:      pid,
		Clock:    r.Clock(),
		Stack:    stack,
	}
}

// Format writes the report:
//
//	==================
//	WARNING: DATA RACE
//	Write of size 4 at 0x000000001004 by thread T1 (pid 101):
//	  #0 main.writer()
//	      /path/to/file.go:10 +0x48
//
//	Previous read of size 4 at 0x000000001004 by thread T0:
//	  <not available>
//
//	Report 7c1c...: addr=0x1004 size=4 clocks T1@12 T0@7
//	==================
//
//nolint:errcheck // Error handling omitted for diagnostic output formatting
func (r *Report) Format(w io.Writer) {
	sym := r.sym
	if sym == nil {
		sym = RuntimeSymbolizer{}
	}

	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: DATA RACE\n")

	cur := r.Current.kind()
	fmt.Fprintf(w, "%s%s of size %d at 0x%012x by thread T%d",
		strings.ToUpper(cur[:1]), cur[1:], r.Current.Size, r.Current.Addr, r.Current.ThreadID)
	if r.Current.PID >= 0 {
		fmt.Fprintf(w, " (pid %d)", r.Current.PID)
	}
	fmt.Fprintf(w, ":\n")
	fmt.Fprint(w, formatStackTrace(r.Current.Stack, sym))
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Previous %s of size %d at 0x%012x by thread T%d",
		r.Previous.kind(), r.Previous.Size, r.Previous.Addr, r.Previous.ThreadID)
	if r.Previous.PID >= 0 {
		fmt.Fprintf(w, " (pid %d)", r.Previous.PID)
	}
	fmt.Fprintf(w, ":\n")
	fmt.Fprint(w, formatStackTrace(r.Previous.Stack, sym))
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Report %s: addr=%#x size=%d clocks T%d@%d T%d@%d\n",
		r.ID, r.Addr, r.Size,
		r.Current.ThreadID, r.Current.Clock, r.Previous.ThreadID, r.Previous.Clock)
	fmt.Fprintf(w, "==================\n")
}

// String returns the formatted report.
func (r *Report) String() string {
	var buf strings.Builder
	r.Format(&buf)
	return buf.String()
}

// formatStackTrace formats a stack, innermost frame first.
func formatStackTrace(pcs []uintptr, sym Symbolizer) string {
	if len(pcs) == 0 {
		return "  <not available>\n"
	}

	var buf strings.Builder
	for i := len(pcs) - 1; i >= 0; i-- {
		f := sym.Symbolize(pcs[i])
		fmt.Fprintf(&buf, "  #%d %s()\n", len(pcs)-1-i, f.Function)
		if f.File != "" {
			fmt.Fprintf(&buf, "      %s:%d +0x%x\n", f.File, f.Line, pcs[i]&0xfff)
		} else {
			fmt.Fprintf(&buf, "      pc 0x%x\n", pcs[i])
		}
	}
	return buf.String()
}

// reportRace builds, filters and prints the report for a conflict between
// cur, just made by thr at pc, and old, found in the granule's shadow.
//
// Deduplication: a race is keyed by the unordered pair of its stack hashes,
// so the same two code paths racing again (in either role) are reported
// once. When the previous stack is lost, its address and thread join the
// key.
func (d *Detector) reportRace(thr *thread.Thread, pc, granule uintptr, cur, old shadowmem.Record) {
	curStack := append(slices.Clone(thr.Stack()), pc)
	var prevStack []uintptr
	if tr := d.threads.Trace(old.TID()); tr != nil {
		if s, ok := tr.Reconstruct(old.Clock()); ok {
			prevStack = s
		}
	}

	if name, ok := d.suppressed(curStack, prevStack); ok {
		d.stats.Inc(thr.CPU, StatRacesSuppressed)
		d.verbosef("race at %#x suppressed by %s", granule+cur.Offset(), name)
		return
	}

	ch, ph := d.depot.Put(curStack), d.depot.Put(prevStack)
	key := [3]uint64{min(ch, ph), max(ch, ph)}
	if prevStack == nil {
		// Without the other side's stack, the conflicting access itself
		// tells races from one code path apart.
		key[2] = uint64(granule+old.Offset())<<shadowmem.TIDBits | uint64(old.TID())
	}
	if _, dup := d.reported.LoadOrStore(key, struct{}{}); dup {
		d.stats.Inc(thr.CPU, StatRacesDuplicate)
		return
	}

	prevPID := -1
	if other := d.threads.Lookup(old.TID()); other != nil && old.Clock() > other.Born {
		prevPID = other.PID
	}
	off, size := cur.Intersect(old)
	report := &Report{
		ID:          uuid.New(),
		Addr:        granule + off,
		Size:        size,
		Current:     newAccessInfo(granule, cur, thr.PID, curStack),
		Previous:    newAccessInfo(granule, old, prevPID, prevStack),
		StackHashes: [2]uint64{ch, ph},
		sym:         d.cfg.Symbolizer,
	}

	d.stats.Inc(thr.CPU, StatRaces)

	// Lock to prevent interleaved output from multiple threads.
	d.mu.Lock()
	report.Format(d.cfg.Output)
	d.mu.Unlock()

	if d.cfg.OnReport != nil {
		d.cfg.OnReport(report)
	}
}
