// Package trace records a compact per-thread history of events so that the
// call stack of a past access can be rebuilt when a race is reported.
//
// A trace is a ring of fixed-size segments. Event number c of a thread (its
// own clock value c) lives at slot c mod (segments × segmentSize). The first
// event written into a segment snapshots the live call stack into the
// segment header; replaying the segment's function entries and exits from
// that snapshot yields the stack at any clock still held by the ring.
package trace

import "sync"

// EventType identifies what a trace event records.
type EventType uint8

// Event types. Only function entry and exit change the replayed stack.
const (
	EventAccess EventType = iota
	EventFuncEnter
	EventFuncExit
	EventLock
	EventUnlock
	EventAtomic
	EventMembar
	EventPreemptDisable
	EventPreemptEnable
	EventIRQDisable
	EventIRQEnable
	EventRCU
)

var eventNames = [...]string{
	EventAccess:         "access",
	EventFuncEnter:      "func-enter",
	EventFuncExit:       "func-exit",
	EventLock:           "lock",
	EventUnlock:         "unlock",
	EventAtomic:         "atomic",
	EventMembar:         "membar",
	EventPreemptDisable: "preempt-disable",
	EventPreemptEnable:  "preempt-enable",
	EventIRQDisable:     "irq-disable",
	EventIRQEnable:      "irq-enable",
	EventRCU:            "rcu",
}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

// Event is one packed trace entry:
//
//	[type:4][unused:12][pc:48]
//
// Only the low 48 bits of the pc are kept; the high bits are restored from
// the trace's pc prefix.
type Event uint64

const (
	pcBits    = 48
	pcMask    = 1<<pcBits - 1
	typeShift = 60
)

// NewEvent packs an event.
func NewEvent(typ EventType, pc uintptr) Event {
	return Event(uint64(typ)<<typeShift | uint64(pc)&pcMask)
}

// Type returns the event type.
func (e Event) Type() EventType {
	return EventType(e >> typeShift)
}

// PC returns the event's pc with the high bits taken from prefix.
func (e Event) PC(prefix uintptr) uintptr {
	return uintptr(uint64(e)&pcMask) | prefix&^pcMask
}

type header struct {
	// clock is the first clock written into the segment on its current lap.
	// Zero means the segment has never been written.
	clock uint64
	stack []uintptr
}

// Trace is one thread's event ring.
//
// The owning thread writes; report generation on another thread reads.
// Both go through mu.
type Trace struct {
	mu       sync.Mutex
	events   []Event
	headers  []header
	segSize  uint64
	last     uint64
	pcPrefix uintptr
}

// New creates a trace of segments × segmentSize events. pcPrefix supplies
// the high pc bits dropped by the event encoding.
func New(segments, segmentSize int, pcPrefix uintptr) *Trace {
	if segments < 1 {
		segments = 1
	}
	if segmentSize < 1 {
		segmentSize = 1
	}
	return &Trace{
		events:   make([]Event, segments*segmentSize),
		headers:  make([]header, segments),
		segSize:  uint64(segmentSize),
		pcPrefix: pcPrefix,
	}
}

// Add records ev as the event at clock. stack is the thread's live call
// stack before ev takes effect; it is copied when ev opens a segment.
//
// Clocks passed to Add must be consecutive for reconstruction to be exact.
func (t *Trace) Add(clock uint64, ev Event, stack []uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos := clock % uint64(len(t.events))
	h := &t.headers[pos/t.segSize]
	if pos%t.segSize == 0 || h.clock == 0 || h.clock > clock || clock-h.clock >= t.segSize {
		h.clock = clock
		h.stack = append(h.stack[:0], stack...)
	}
	t.events[pos] = ev
	t.last = clock
}

// Last returns the most recent clock added.
func (t *Trace) Last() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Reconstruct rebuilds the call stack at clock, outermost frame first. For
// any event other than a function exit the event's own pc is the innermost
// frame. It returns false when the segment holding clock has been
// overwritten or was never written.
func (t *Trace) Reconstruct(clock uint64) ([]uintptr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if clock == 0 || clock > t.last {
		return nil, false
	}
	pos := clock % uint64(len(t.events))
	h := &t.headers[pos/t.segSize]
	if h.clock == 0 || h.clock > clock || clock-h.clock >= t.segSize {
		return nil, false
	}

	stack := append([]uintptr(nil), h.stack...)
	for c := h.clock; c < clock; c++ {
		ev := t.events[c%uint64(len(t.events))]
		switch ev.Type() {
		case EventFuncEnter:
			stack = append(stack, ev.PC(t.pcPrefix))
		case EventFuncExit:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	ev := t.events[pos]
	switch ev.Type() {
	case EventFuncExit:
		if len(stack) > 0 {
			stack = stack[:len(stack)-1]
		}
	default:
		stack = append(stack, ev.PC(t.pcPrefix))
	}
	return stack, true
}

// Reset forgets all events.
func (t *Trace) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.headers {
		t.headers[i].clock = 0
		t.headers[i].stack = t.headers[i].stack[:0]
	}
	t.last = 0
}
