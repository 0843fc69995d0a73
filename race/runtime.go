package race

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kolkov/ktsan/internal/race/detector"
	"github.com/kolkov/ktsan/internal/race/thread"
)

// Config configures a Runtime. See DefaultConfig for the defaults.
type Config = detector.Config

// Report is a data race report passed to Config.OnReport.
type Report = detector.Report

// Frame is a symbolized pc.
type Frame = detector.Frame

// Symbolizer resolves the pcs printed in reports.
type Symbolizer = detector.Symbolizer

// SymbolizerFunc adapts a function to Symbolizer.
type SymbolizerFunc = detector.SymbolizerFunc

// Suppression silences races whose stacks contain a pc in [Lo, Hi).
type Suppression = detector.Suppression

// ProtocolError is the panic value of a fatal protocol violation.
type ProtocolError = detector.ProtocolError

var (
	// ErrThreadsExhausted is returned by ThreadCreate when every thread ID
	// is in use.
	ErrThreadsExhausted = detector.ErrThreadsExhausted

	// ErrClosed is returned by operations on a closed Runtime.
	ErrClosed = errors.New("race: runtime closed")
)

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return detector.DefaultConfig()
}

// ConfigFromEnv returns the default configuration updated from the
// KTSAN_OPTIONS environment variable.
func ConfigFromEnv() (Config, error) {
	return detector.ConfigFromEnv()
}

// Runtime is a race detector instance. Monitored code reaches it through
// Thread handles.
//
// Thread Safety: Runtime methods are safe for concurrent use.
type Runtime struct {
	det    *detector.Detector
	closed atomic.Bool

	// atomics serializes each modeled atomic operation with the real one.
	atomics [atomicStripes]sync.Mutex
}

// New creates a runtime. Detection starts enabled.
func New(cfg Config) (*Runtime, error) {
	det, err := detector.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("race: %w", err)
	}
	return &Runtime{det: det}, nil
}

// Close disables detection and writes the race summary to the configured
// output. Closing twice returns ErrClosed.
func (rt *Runtime) Close() error {
	if rt.closed.Swap(true) {
		return ErrClosed
	}
	rt.det.SetEnabled(false)
	rt.det.Summary()
	return nil
}

// Enable turns detection on.
func (rt *Runtime) Enable() {
	if !rt.closed.Load() {
		rt.det.SetEnabled(true)
	}
}

// Disable turns detection off: memory accesses are no longer checked or
// recorded. Everything else keeps running, so call stacks, locks, seqcount
// sections and preemption state stay consistent across the toggle.
//
// Example:
//
//	rt.Disable()
//	// ... code with known-safe access patterns ...
//	rt.Enable()
func (rt *Runtime) Disable() {
	rt.det.SetEnabled(false)
}

// Enabled reports whether detection is on.
func (rt *Runtime) Enabled() bool {
	return rt.det.Enabled()
}

// Races returns the number of races reported so far.
func (rt *Runtime) Races() int {
	return rt.det.Races()
}

// Stats returns every counter by name, plus the gauges threads,
// sync_objects, mem_blocks and shadow_cells.
func (rt *Runtime) Stats() map[string]uint64 {
	s := rt.det.Stats().Snapshot()
	s["threads"] = uint64(rt.det.LiveThreads())
	s["sync_objects"] = uint64(rt.det.SyncObjects())
	s["mem_blocks"] = uint64(rt.det.MemBlocks())
	s["shadow_cells"] = uint64(rt.det.ShadowCells())
	return s
}

// ThreadCreate registers a new monitored thread with external id pid.
// When parent is not nil, everything parent did so far happens before the
// new thread's first event.
func (rt *Runtime) ThreadCreate(pid int, parent *Thread) (*Thread, error) {
	if rt.closed.Load() {
		return nil, ErrClosed
	}
	var ps *thread.Thread
	if parent != nil && parent.enter() {
		defer parent.leave()
		ps = parent.thr
	}
	t, err := rt.det.ThreadCreate(ps, pid)
	if err != nil {
		return nil, fmt.Errorf("race: create thread %d: %w", pid, err)
	}
	return &Thread{rt: rt, thr: t}, nil
}

// CallerPC returns a pc inside the function that calls it, for hosts that
// report accesses by hand.
func CallerPC() uintptr {
	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return 0
	}
	return pc
}
