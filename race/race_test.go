package race

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

func newTestRuntime(t *testing.T, mod func(*Config)) (*Runtime, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	cfg := selfTestConfig()
	cfg.Output = &out
	if mod != nil {
		mod(&cfg)
	}
	rt, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return rt, &out
}

func mustThread(t *testing.T, rt *Runtime, pid int, parent *Thread) *Thread {
	t.Helper()
	thr, err := rt.ThreadCreate(pid, parent)
	if err != nil {
		t.Fatalf("ThreadCreate(%d) error = %v", pid, err)
	}
	return thr
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{Threads: -4}); err == nil || !strings.HasPrefix(err.Error(), "race: ") {
		t.Errorf("New() error = %v, want race-prefixed error", err)
	}
}

func TestRuntime_DisableSkipsEvents(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	t0, t1 := mustThread(t, rt, 1, nil), mustThread(t, rt, 2, nil)

	rt.Disable()
	if rt.Enabled() {
		t.Fatal("Enabled() = true after Disable()")
	}
	t0.Write(stPC0, stX, 8)
	t1.Write(stPC1, stX, 8)
	if rt.Races() != 0 || rt.Stats()["writes"] != 0 {
		t.Errorf("disabled runtime recorded events: %v", rt.Stats())
	}

	rt.Enable()
	t0.Write(stPC0, stX, 8)
	t1.Write(stPC1, stX, 8)
	if got := rt.Races(); got != 1 {
		t.Errorf("Races() = %d, want 1", got)
	}
}

// TestRuntime_DisableKeepsThreadState tests that balanced calls straddling
// a Disable/Enable toggle leave the thread state balanced.
func TestRuntime_DisableKeepsThreadState(t *testing.T) {
	tests := []struct {
		name  string
		run   func(rt *Runtime, t0, t1 *Thread)
		races int
	}{
		{
			name: "call stack",
			run: func(rt *Runtime, t0, t1 *Thread) {
				for i := 0; i < 70; i++ {
					t0.FuncEntry(stPC0)
					rt.Disable()
					t0.FuncExit()
					rt.Enable()
				}
			},
		},
		{
			name: "seqcount section",
			run: func(rt *Runtime, t0, t1 *Thread) {
				t1.SeqBegin(stPC1, stSeq)
				rt.Disable()
				t1.SeqEnd(stPC1, stSeq)
				rt.Enable()
				t0.Write(stPC0, stX, 8)
				t1.Read(stPC1, stX, 8)
			},
			races: 1,
		},
		{
			name: "preemption",
			run: func(rt *Runtime, t0, t1 *Thread) {
				t0.PreemptDisable(stPC0)
				rt.Disable()
				t0.PreemptEnable(stPC0)
				rt.Enable()
				for i := uintptr(0); i < 20; i++ {
					t0.PercpuAcquire(stPC0, stPcpu+i*8)
				}
			},
		},
		{
			name: "lock held across toggle",
			run: func(rt *Runtime, t0, t1 *Thread) {
				rt.Disable()
				t0.Lock(stPC0, stLock, true)
				rt.Enable()
				t0.Write(stPC0, stX, 8)
				t0.Unlock(stPC0, stLock, true)
				t1.Lock(stPC1, stLock, true)
				t1.Write(stPC1, stX, 8)
				t1.Unlock(stPC1, stLock, true)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, out := newTestRuntime(t, nil)
			t0, t1 := mustThread(t, rt, 1, nil), mustThread(t, rt, 2, nil)

			tt.run(rt, t0, t1)

			if got := rt.Races(); got != tt.races {
				t.Errorf("Races() = %d, want %d\n%s", got, tt.races, out)
			}
			st := rt.Stats()
			if st["protocol_violations"] != 0 {
				t.Errorf("protocol_violations = %d, want 0", st["protocol_violations"])
			}
			for _, thr := range []*Thread{t0, t1} {
				s := thr.thr
				if len(s.Stack()) != 0 || s.SeqDepth() != 0 || s.ReadSuppress != 0 || s.PreemptDepth != 0 {
					t.Errorf("T%d state after toggle: depth %d, seq %d, suppress %d, preempt %d",
						s.ID, len(s.Stack()), s.SeqDepth(), s.ReadSuppress, s.PreemptDepth)
				}
			}
		})
	}
}

// TestRuntime_IRQSaveWhileDisabled tests that flags saved while detection is
// off restore the real interrupt state.
func TestRuntime_IRQSaveWhileDisabled(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	thr := mustThread(t, rt, 1, nil)

	thr.IRQDisable(stPC0)
	rt.Disable()
	flags := thr.IRQSave(stPC0)
	rt.Enable()
	thr.IRQRestore(stPC0, flags)
	if !thr.thr.IRQOff {
		t.Error("IRQRestore() enabled interrupts that were off at IRQSave()")
	}
	thr.IRQEnable(stPC0)
	if thr.thr.IRQOff {
		t.Error("IRQEnable() left interrupts off")
	}
}

func TestRuntime_Close(t *testing.T) {
	rt, out := newTestRuntime(t, nil)
	if err := rt.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !strings.Contains(out.String(), "no data races detected") {
		t.Errorf("Close() summary = %q", out.String())
	}
	if err := rt.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
	if _, err := rt.ThreadCreate(1, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("ThreadCreate() after Close error = %v, want ErrClosed", err)
	}
	rt.Enable()
	if rt.Enabled() {
		t.Error("Enable() re-enabled a closed runtime")
	}
}

func TestRuntime_ThreadsExhausted(t *testing.T) {
	rt, _ := newTestRuntime(t, func(c *Config) { c.Threads = 2 })
	t0 := mustThread(t, rt, 1, nil)
	mustThread(t, rt, 2, nil)

	_, err := rt.ThreadCreate(3, nil)
	if !errors.Is(err, ErrThreadsExhausted) {
		t.Fatalf("ThreadCreate() error = %v, want ErrThreadsExhausted", err)
	}

	t0.Finish()
	thr := mustThread(t, rt, 3, nil)
	if thr.ID() != t0.ID() || thr.PID() != 3 {
		t.Errorf("reused thread = T%d pid %d, want T%d pid 3", thr.ID(), thr.PID(), t0.ID())
	}
}

func TestRuntime_ParentOrdering(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	parent := mustThread(t, rt, 1, nil)
	parent.Write(stPC0, stX, 8)
	child := mustThread(t, rt, 2, parent)
	child.Write(stPC1, stX, 8)

	if got := rt.Races(); got != 0 {
		t.Errorf("Races() = %d, want 0", got)
	}
}

// TestThread_NestedCallIgnored tests that an entry point reached from inside
// the runtime (here, from the symbolizer while a report is printed) does
// nothing.
func TestThread_NestedCallIgnored(t *testing.T) {
	var t1 *Thread
	rt, _ := newTestRuntime(t, func(c *Config) {
		c.Symbolizer = SymbolizerFunc(func(pc uintptr) Frame {
			t1.Write(pc, stX+64, 8)
			return Frame{PC: pc, Function: "f"}
		})
	})
	t0 := mustThread(t, rt, 1, nil)
	t1 = mustThread(t, rt, 2, nil)

	t0.Write(stPC0, stX, 8)
	t1.Write(stPC1, stX, 8)

	s := rt.Stats()
	if s["nested_calls"] == 0 {
		t.Errorf("nested_calls = 0, want > 0")
	}
	if s["writes"] != 2 {
		t.Errorf("writes = %d, want 2", s["writes"])
	}
	if s["events"] != 2 {
		t.Errorf("events = %d, want 2", s["events"])
	}
}

func TestThread_Atomics(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	thr := mustThread(t, rt, 1, nil)
	pc := CallerPC()

	var v32 uint32
	var v64 uint64
	thr.StoreUint32(pc, &v32, 5, SeqCst)
	thr.StoreUint64(pc, &v64, 5, SeqCst)

	tests := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"LoadUint32", uint64(thr.LoadUint32(pc, &v32, Acquire)), 5},
		{"AddUint32", uint64(thr.AddUint32(pc, &v32, 3, AcqRel)), 8},
		{"SwapUint32", uint64(thr.SwapUint32(pc, &v32, 1, AcqRel)), 8},
		{"LoadUint64", thr.LoadUint64(pc, &v64, Relaxed), 5},
		{"AddUint64", thr.AddUint64(pc, &v64, 10, Relaxed), 15},
		{"SwapUint64", thr.SwapUint64(pc, &v64, 2, Relaxed), 15},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}

	if !thr.CompareAndSwapUint32(pc, &v32, 1, 9, SeqCst) || v32 != 9 {
		t.Errorf("CompareAndSwapUint32(1, 9) failed, v32 = %d", v32)
	}
	if thr.CompareAndSwapUint64(pc, &v64, 7, 9, SeqCst) || v64 != 2 {
		t.Errorf("CompareAndSwapUint64(7, 9) succeeded, v64 = %d", v64)
	}
	if got := rt.Stats()["atomic_ops"]; got != 10 {
		t.Errorf("atomic_ops = %d, want 10", got)
	}

	rt.Disable()
	thr.StoreUint32(pc, &v32, 11, SeqCst)
	if v32 != 11 {
		t.Errorf("StoreUint32 while disabled: v32 = %d, want 11", v32)
	}
}

// TestThread_AtomicCounterConcurrent tests real goroutines sharing a counter
// through the wrappers.
func TestThread_AtomicCounterConcurrent(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	const workers, iters = 4, 200

	var (
		counter uint64
		wg      sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		thr := mustThread(t, rt, 10+i, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				thr.AddUint64(stPC0, &counter, 1, Relaxed)
			}
		}()
	}
	wg.Wait()

	if counter != workers*iters {
		t.Errorf("counter = %d, want %d", counter, workers*iters)
	}
	if got := rt.Races(); got != 0 {
		t.Errorf("Races() = %d, want 0", got)
	}
}

func TestThread_ProtocolViolationPanics(t *testing.T) {
	rt, out := newTestRuntime(t, nil)
	thr := mustThread(t, rt, 1, nil)

	defer func() {
		var perr *ProtocolError
		if err, ok := recover().(error); !ok || !errors.As(err, &perr) {
			t.Fatalf("recover() = %v, want *ProtocolError", err)
		}
		if perr.Op != "seq_end" {
			t.Errorf("Op = %q, want seq_end", perr.Op)
		}
		if !strings.Contains(out.String(), "Thread T0") {
			t.Errorf("thread dump missing:\n%s", out.String())
		}
	}()
	thr.SeqEnd(stPC0, stSeq)
}

func TestRunSelfTests(t *testing.T) {
	var buf bytes.Buffer
	if err := RunSelfTests(&buf); err != nil {
		t.Fatalf("RunSelfTests() error = %v\n%s", err, buf.String())
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(selfTests) {
		t.Errorf("RunSelfTests() wrote %d lines, want %d", len(lines), len(selfTests))
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "ok ") {
			t.Errorf("line %q, want ok", l)
		}
	}
}

func TestCommand(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)

	tests := []struct {
		line    string
		want    string
		wantErr error
	}{
		{"disable", "disabled\n", nil},
		{"enable", "enabled\n", nil},
		{"version", "ktsan " + Version + "\n", nil},
		{"version v0.2.5", "compatible with v0.2.5", nil},
		{"version v1.0.0", "ktsan", ErrIncompatible},
		{"version 1.0", "ktsan", ErrBadVersion},
		{"stats", "protocol_violations", nil},
		{"tests", "ok   write/write race", nil},
		{"", "", ErrUnknownCommand},
		{"reboot", "", ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := rt.Command(tt.line)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Command(%q) error = %v, want %v", tt.line, err, tt.wantErr)
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("Command(%q) = %q, want containing %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestCommand_StatsSorted(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	mustThread(t, rt, 1, nil)
	out, err := rt.Command("stats")
	if err != nil {
		t.Fatalf("Command(stats) error = %v", err)
	}
	var prev string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		name := strings.Fields(line)[0]
		if name < prev {
			t.Errorf("stats not sorted: %q after %q", name, prev)
		}
		prev = name
	}
	if !strings.Contains(out, "threads ") {
		t.Errorf("stats lacks the threads gauge:\n%s", out)
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		want string
		err  error
	}{
		{Version, nil},
		{"v0.1.0", nil},
		{"v0.3", nil},
		{"v0.4.0", ErrIncompatible},
		{"v1.0.0", ErrIncompatible},
		{"0.3.0", ErrBadVersion},
		{"", ErrBadVersion},
	}
	for _, tt := range tests {
		if err := CheckVersion(tt.want); !errors.Is(err, tt.err) {
			t.Errorf("CheckVersion(%q) = %v, want %v", tt.want, err, tt.err)
		}
	}
}

func TestRuntime_Info(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	info := rt.Info()
	if info.Version != Version || !info.Enabled || info.Algorithm == "" {
		t.Errorf("Info() = %+v", info)
	}
}

func BenchmarkThreadWrite(b *testing.B) {
	rt, err := New(selfTestConfig())
	if err != nil {
		b.Fatal(err)
	}
	thr, _ := rt.ThreadCreate(1, nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		thr.Write(stPC0, stX+uintptr(i%32)*8, 8)
	}
}
