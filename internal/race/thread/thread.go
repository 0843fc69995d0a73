package thread

import (
	"fmt"
	"io"
	"slices"

	"github.com/kolkov/ktsan/internal/race/trace"
	"github.com/kolkov/ktsan/internal/race/vectorclock"
)

// Limits of the per-thread bounded stacks.
const (
	MaxCallDepth = 64
	MaxSeqDepth  = 8
	MaxPercpu    = 16
)

// NoCPU is the CPU of a thread that is not running.
const NoCPU = -1

// Thread is the detector state of one monitored thread.
//
// A Thread is used by one goroutine at a time. Only the pool-protected
// fields (none exported) are touched by other goroutines.
type Thread struct {
	// ID is the dense thread ID, stored in shadow records.
	ID int

	// PID is the external id supplied by the host.
	PID int

	// CPU is the CPU the thread is running on, or NoCPU.
	CPU int

	// Born is the own clock value the ID had when the thread got it. Records
	// with a clock at or below Born belong to earlier owners of the ID.
	Born uint64

	// Clock is the thread's vector clock; Clock[ID] is its own time.
	Clock *vectorclock.VectorClock

	// Trace is the event ring of the thread's ID slot.
	Trace *trace.Trace

	// PreemptDepth counts nested preemption-disable sections.
	PreemptDepth int

	// IRQOff is set while interrupts are disabled.
	IRQOff bool

	// ReadSuppress counts nested regions in which plain reads are ignored.
	ReadSuppress int

	stack  []uintptr
	seq    []uintptr
	percpu []uintptr
	inside bool
}

func newThread(id int, tr *trace.Trace) *Thread {
	return &Thread{
		ID:     id,
		CPU:    NoCPU,
		Clock:  vectorclock.New(),
		Trace:  tr,
		stack:  make([]uintptr, 0, MaxCallDepth),
		seq:    make([]uintptr, 0, MaxSeqDepth),
		percpu: make([]uintptr, 0, MaxPercpu),
	}
}

// Now returns the thread's own clock.
func (t *Thread) Now() uint64 {
	return t.Clock.Get(t.ID)
}

// Tick advances the thread's own clock and returns the new value.
func (t *Thread) Tick() uint64 {
	return t.Clock.Tick(t.ID)
}

// Enter marks the thread as running inside the detector. It returns false
// when the thread already is, in which case the caller must not call Leave.
func (t *Thread) Enter() bool {
	if t.inside {
		return false
	}
	t.inside = true
	return true
}

// Leave clears the mark set by Enter.
func (t *Thread) Leave() {
	t.inside = false
}

// Stack returns the live call stack, outermost frame first. The slice is
// only valid until the next push or pop.
func (t *Thread) Stack() []uintptr {
	return t.stack
}

// PushFrame records a function entry. It returns false on overflow.
func (t *Thread) PushFrame(pc uintptr) bool {
	if len(t.stack) == MaxCallDepth {
		return false
	}
	t.stack = append(t.stack, pc)
	return true
}

// PopFrame records a function exit. It returns false when the stack is empty.
func (t *Thread) PopFrame() bool {
	if len(t.stack) == 0 {
		return false
	}
	t.stack = t.stack[:len(t.stack)-1]
	return true
}

// PushSeq enters a seqcount read section. It returns false on overflow.
func (t *Thread) PushSeq(addr uintptr) bool {
	if len(t.seq) == MaxSeqDepth {
		return false
	}
	t.seq = append(t.seq, addr)
	return true
}

// PopSeq leaves the innermost seqcount read section, which must be addr.
// On mismatch or underflow it returns false and leaves the stack unchanged.
func (t *Thread) PopSeq(addr uintptr) bool {
	n := len(t.seq)
	if n == 0 || t.seq[n-1] != addr {
		return false
	}
	t.seq = t.seq[:n-1]
	return true
}

// SeqDepth returns the number of open seqcount read sections.
func (t *Thread) SeqDepth() int {
	return len(t.seq)
}

// SeqTop returns the innermost seqcount, or zero.
func (t *Thread) SeqTop() uintptr {
	if len(t.seq) == 0 {
		return 0
	}
	return t.seq[len(t.seq)-1]
}

// HoldPercpu remembers a per-CPU variable accessed while preemption or
// interrupts were disabled. It returns false when the list is full.
func (t *Thread) HoldPercpu(addr uintptr) bool {
	for _, a := range t.percpu {
		if a == addr {
			return true
		}
	}
	if len(t.percpu) == MaxPercpu {
		return false
	}
	t.percpu = append(t.percpu, addr)
	return true
}

// TakePercpu returns and forgets the held per-CPU variables.
func (t *Thread) TakePercpu() []uintptr {
	if len(t.percpu) == 0 {
		return nil
	}
	held := slices.Clone(t.percpu)
	t.percpu = t.percpu[:0]
	return held
}

// Atomic reports whether the thread cannot be preempted: preemption or
// interrupts are disabled.
func (t *Thread) Atomic() bool {
	return t.PreemptDepth > 0 || t.IRQOff
}

// reset prepares a pooled Thread for a new owner.
func (t *Thread) reset(pid int, last uint64) {
	t.PID = pid
	t.Born = last
	t.CPU = NoCPU
	t.Clock.Reset()
	t.Clock.Set(t.ID, last)
	t.PreemptDepth = 0
	t.IRQOff = false
	t.ReadSuppress = 0
	t.stack = t.stack[:0]
	t.seq = t.seq[:0]
	t.percpu = t.percpu[:0]
	t.inside = false
}

// Dump writes the thread's state for a protocol violation report.
func (t *Thread) Dump(w io.Writer) {
	fmt.Fprintf(w, "Thread T%d (pid %d, cpu %d) clock %d\n", t.ID, t.PID, t.CPU, t.Now())
	fmt.Fprintf(w, "  preempt depth %d, irq off %v, read suppress %d\n",
		t.PreemptDepth, t.IRQOff, t.ReadSuppress)
	if len(t.seq) > 0 {
		fmt.Fprintf(w, "  seqcounts: %#x\n", t.seq)
	}
	if len(t.percpu) > 0 {
		fmt.Fprintf(w, "  percpu held: %#x\n", t.percpu)
	}
	fmt.Fprintf(w, "  call stack (%d frames):\n", len(t.stack))
	for i := len(t.stack) - 1; i >= 0; i-- {
		fmt.Fprintf(w, "    #%d %#x\n", len(t.stack)-1-i, t.stack[i])
	}
}
