package detector

import (
	"fmt"

	"github.com/kolkov/ktsan/internal/race/thread"
)

// ErrThreadsExhausted is returned by ThreadCreate when every thread ID is
// in use.
var ErrThreadsExhausted = thread.ErrExhausted

// ProtocolError describes a violation of the synchronization protocol by
// the monitored program or its instrumentation: an unlock by a thread that
// does not own the lock, an unmatched seqcount end, an overflow of one of
// the bounded per-thread stacks.
//
// Fatal violations panic with a *ProtocolError after the thread state has
// been dumped.
type ProtocolError struct {
	// Op is the entry point that detected the violation.
	Op string

	// Thread is the dense ID of the offending thread.
	Thread int

	// Addr is the address involved, or zero.
	Addr uintptr

	// Msg describes the violation.
	Msg string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("%s: thread T%d at %#x: %s", e.Op, e.Thread, e.Addr, e.Msg)
	}
	return fmt.Sprintf("%s: thread T%d: %s", e.Op, e.Thread, e.Msg)
}
