package detector

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kolkov/ktsan/internal/race/shadowmem"
	"github.com/kolkov/ktsan/internal/race/stackdepot"
	"github.com/kolkov/ktsan/internal/race/syncshadow"
	"github.com/kolkov/ktsan/internal/race/thread"
	"github.com/kolkov/ktsan/internal/race/trace"
	"github.com/kolkov/ktsan/internal/race/vectorclock"
)

// Detector is one race detector instance: shadow memory, the sync object
// and memory block tables, the thread pool, the RCU domains and the report
// state. Nothing is global; every entry point takes the calling thread.
//
// Methods taking a *thread.Thread must be called by the goroutine currently
// acting as that thread. Everything else is safe for concurrent use.
type Detector struct {
	cfg Config

	shadow  *shadowmem.Shadow
	syncs   *syncshadow.SyncShadow
	blocks  *syncshadow.BlockTable
	threads *thread.Pool
	depot   *stackdepot.Depot
	rcu     [numRCUDomains]rcuDomain

	stats Stats

	// enabled gates access checking. Sync and thread bookkeeping run
	// regardless, so call pairs straddling a toggle stay balanced.
	enabled atomic.Bool

	// reported tracks which stack pairs have already been reported.
	reported sync.Map

	// mu serializes output.
	mu sync.Mutex
}

// New creates a detector. Zero fields of cfg take their default values.
func New(cfg Config) (*Detector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	blocks := syncshadow.NewBlockTable(cfg.MemBlocks)
	d := &Detector{
		cfg:    cfg,
		shadow: shadowmem.New(cfg.ShadowCells, cfg.Evict),
		syncs:  syncshadow.NewSyncShadow(cfg.SyncObjects, blocks),
		blocks: blocks,
		threads: thread.NewPool(cfg.Threads, thread.TraceConfig{
			Segments:    cfg.TraceSegments,
			SegmentSize: cfg.TraceSegmentSize,
			PCPrefix:    cfg.PCPrefix,
		}),
		depot: stackdepot.New(),
	}
	d.enabled.Store(true)
	return d, nil
}

// SetEnabled turns access checking on or off. While it is off, plain and
// atomic accesses are neither checked nor recorded; everything else keeps
// its effect.
func (d *Detector) SetEnabled(on bool) {
	d.enabled.Store(on)
}

// Enabled reports whether accesses are checked.
func (d *Detector) Enabled() bool {
	return d.enabled.Load()
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Stats returns the detector counters.
func (d *Detector) Stats() *Stats {
	return &d.stats
}

// Races returns the number of races reported so far.
func (d *Detector) Races() int {
	return int(d.stats.Get(StatRaces))
}

// LiveThreads returns the number of threads created and not yet finished.
func (d *Detector) LiveThreads() int {
	return d.threads.Live()
}

// SyncObjects returns the number of live sync objects.
func (d *Detector) SyncObjects() int {
	return d.syncs.Len()
}

// MemBlocks returns the number of registered memory blocks.
func (d *Detector) MemBlocks() int {
	return d.blocks.Len()
}

// ShadowCells returns the number of tracked granules.
func (d *Detector) ShadowCells() int {
	return d.shadow.Stats().InUse
}

// verbosef writes a lifecycle line when Verbose is set.
func (d *Detector) verbosef(format string, args ...any) {
	if !d.cfg.Verbose {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.cfg.Output, "ktsan: "+format+"\n", args...)
}

// event advances thr's clock and records the event in its trace. Every own
// clock tick goes through here, which keeps trace clocks consecutive.
func (d *Detector) event(thr *thread.Thread, typ trace.EventType, pc uintptr) uint64 {
	clock := thr.Tick()
	thr.Trace.Add(clock, trace.NewEvent(typ, pc), thr.Stack())
	return clock
}

// violation handles a protocol violation. Fatal violations, and every
// violation in debug mode, dump the thread state and panic with a
// *ProtocolError. Others are counted and logged in verbose mode.
func (d *Detector) violation(thr *thread.Thread, fatal bool, op string, addr uintptr, format string, args ...any) {
	d.stats.Inc(thr.CPU, StatProtocolViolations)
	err := &ProtocolError{
		Op:     op,
		Thread: thr.ID,
		Addr:   addr,
		Msg:    fmt.Sprintf(format, args...),
	}
	if !fatal && !d.cfg.Debug {
		d.verbosef("%v", err)
		return
	}

	d.mu.Lock()
	fmt.Fprintf(d.cfg.Output, "==================\n")
	fmt.Fprintf(d.cfg.Output, "FATAL: ktsan: %v\n", err)
	thr.Dump(d.cfg.Output)
	fmt.Fprintf(d.cfg.Output, "==================\n")
	d.mu.Unlock()
	panic(err)
}

// ThreadCreate allocates a thread with external id pid. When parent is not
// nil, everything parent did so far happens before the new thread starts.
func (d *Detector) ThreadCreate(parent *thread.Thread, pid int) (*thread.Thread, error) {
	thr, err := d.threads.Get(pid)
	if err != nil {
		cpu := 0
		if parent != nil {
			cpu = parent.CPU
		}
		d.stats.Inc(cpu, StatThreadAllocFailures)
		return nil, err
	}
	if parent != nil {
		d.event(parent, trace.EventUnlock, 0)
		thr.Clock.Acquire(parent.Clock)
	}
	d.stats.Inc(thr.ID, StatThreadsCreated)
	d.verbosef("thread T%d created (pid %d)", thr.ID, pid)
	return thr, nil
}

// ThreadStart marks thr as running on cpu.
func (d *Detector) ThreadStart(thr *thread.Thread, cpu int) {
	thr.CPU = cpu
}

// ThreadStop marks thr as not running.
func (d *Detector) ThreadStop(thr *thread.Thread) {
	thr.CPU = thread.NoCPU
}

// ThreadFinish releases thr's ID. Per-CPU variables still held are released
// first. thr must not be used afterwards.
func (d *Detector) ThreadFinish(thr *thread.Thread) {
	for _, addr := range thr.TakePercpu() {
		d.releaseTo(thr, addr, syncshadow.KindPercpu)
	}
	d.stats.Inc(thr.CPU, StatThreadsFinished)
	d.verbosef("thread T%d finished (pid %d) at clock %d", thr.ID, thr.PID, thr.Now())
	d.threads.Put(thr)
}

// FuncEntry records a call. Exceeding thread.MaxCallDepth is fatal.
func (d *Detector) FuncEntry(thr *thread.Thread, pc uintptr) {
	if len(thr.Stack()) == thread.MaxCallDepth {
		d.violation(thr, true, "func_entry", 0, "call depth exceeds %d", thread.MaxCallDepth)
		return
	}
	d.stats.Inc(thr.CPU, StatFuncEntries)
	d.event(thr, trace.EventFuncEnter, pc)
	thr.PushFrame(pc)
}

// FuncExit records a return.
func (d *Detector) FuncExit(thr *thread.Thread) {
	if len(thr.Stack()) == 0 {
		d.violation(thr, false, "func_exit", 0, "return without matching call")
		return
	}
	d.stats.Inc(thr.CPU, StatFuncExits)
	d.event(thr, trace.EventFuncExit, 0)
	thr.PopFrame()
}

// clockRangeError handles a shadow record naming a thread outside the
// vector clock.
func (d *Detector) clockRangeError(thr *thread.Thread, op string, addr uintptr) {
	d.stats.Inc(thr.CPU, StatClockRangeErrors)
	d.violation(thr, false, op, addr, "shadow record names a thread outside the vector clock (max %d)",
		vectorclock.MaxThreads)
}

// Summary writes the end-of-run banner with the number of races reported.
func (d *Detector) Summary() {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.cfg.Output
	fmt.Fprintf(w, "==================\n")
	if n := d.stats.Get(StatRaces); n == 0 {
		fmt.Fprintf(w, "ktsan: no data races detected\n")
	} else {
		fmt.Fprintf(w, "ktsan: %d data race(s) detected\n", n)
	}
	fmt.Fprintf(w, "==================\n")
}
