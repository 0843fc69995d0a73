package race

import (
	"fmt"
	"io"
)

// selfTest is one built-in scenario: run drives a fresh runtime, races is
// the number of reports it must produce.
type selfTest struct {
	name  string
	races int
	run   func(rt *Runtime) error
}

// Addresses and pcs used by the scenarios. The detector never dereferences
// them.
const (
	stX     = uintptr(0x1000)
	stLock  = uintptr(0x2000)
	stSeq   = uintptr(0x2100)
	stPcpu  = uintptr(0x2200)
	stPtr   = uintptr(0x2300)
	stBlock = uintptr(0x10000)
	stPC0   = uintptr(0x100)
	stPC1   = uintptr(0x200)
)

var selfTests = []selfTest{
	{"write/write race", 1, func(rt *Runtime) error {
		return pair(rt, func(t0, t1 *Thread) {
			t0.Write(stPC0, stX, 8)
			t1.Write(stPC1, stX, 8)
		})
	}},
	{"read/read", 0, func(rt *Runtime) error {
		return pair(rt, func(t0, t1 *Thread) {
			t0.Read(stPC0, stX, 8)
			t1.Read(stPC1, stX, 8)
		})
	}},
	{"partial overlap race", 1, func(rt *Runtime) error {
		return pair(rt, func(t0, t1 *Thread) {
			t0.Write(stPC0, stX, 4)
			t1.Read(stPC1, stX+2, 2)
		})
	}},
	{"mutex", 0, func(rt *Runtime) error {
		return pair(rt, func(t0, t1 *Thread) {
			for _, t := range []*Thread{t0, t1} {
				t.Lock(stPC0, stLock, true)
				t.Write(stPC0, stX, 8)
				t.Unlock(stPC0, stLock, true)
			}
		})
	}},
	{"thread create", 0, func(rt *Runtime) error {
		parent, err := rt.ThreadCreate(1, nil)
		if err != nil {
			return err
		}
		parent.Write(stPC0, stX, 8)
		child, err := rt.ThreadCreate(2, parent)
		if err != nil {
			return err
		}
		child.Write(stPC1, stX, 8)
		return nil
	}},
	{"release/acquire flag", 0, func(rt *Runtime) error {
		var flag uint32
		return pair(rt, func(t0, t1 *Thread) {
			t0.Write(stPC0, stX, 8)
			t0.StoreUint32(stPC0, &flag, 1, Release)
			if t1.LoadUint32(stPC1, &flag, Acquire) == 1 {
				t1.Read(stPC1, stX, 8)
			}
		})
	}},
	{"relaxed flag race", 1, func(rt *Runtime) error {
		var flag uint32
		return pair(rt, func(t0, t1 *Thread) {
			t0.Write(stPC0, stX, 8)
			t0.StoreUint32(stPC0, &flag, 1, Relaxed)
			if t1.LoadUint32(stPC1, &flag, Relaxed) == 1 {
				t1.Read(stPC1, stX, 8)
			}
		})
	}},
	{"rcu grace period", 0, func(rt *Runtime) error {
		return pair(rt, func(updater, reader *Thread) {
			reader.RCUReadLock(stPC1, RCU)
			reader.RCUDereference(stPC1, stPtr)
			reader.Read(stPC1, stX, 8)
			reader.RCUReadUnlock(stPC1, RCU)
			updater.RCUSynchronize(stPC0, RCU)
			updater.Write(stPC0, stX, 8)
		})
	}},
	{"seqcount reader", 0, func(rt *Runtime) error {
		return pair(rt, func(writer, reader *Thread) {
			writer.Write(stPC0, stX, 8)
			reader.SeqBegin(stPC1, stSeq)
			reader.Read(stPC1, stX, 8)
			reader.SeqEnd(stPC1, stSeq)
		})
	}},
	{"per-cpu section", 0, func(rt *Runtime) error {
		return pair(rt, func(t0, t1 *Thread) {
			for _, t := range []*Thread{t0, t1} {
				t.PreemptDisable(stPC0)
				t.PercpuAcquire(stPC0, stPcpu)
				t.Write(stPC0, stX, 8)
				t.PreemptEnable(stPC0)
			}
		})
	}},
	{"memblock reuse", 0, func(rt *Runtime) error {
		return pair(rt, func(t0, t1 *Thread) {
			t0.MemblockAlloc(stPC0, stBlock, 64)
			t0.Write(stPC0, stBlock+8, 8)
			t0.MemblockFree(stPC0, stBlock, 64)
			t0.MemblockAlloc(stPC0, stBlock, 64)
			t1.Write(stPC1, stBlock+8, 8)
		})
	}},
	{"race with free", 1, func(rt *Runtime) error {
		return pair(rt, func(t0, t1 *Thread) {
			t0.MemblockAlloc(stPC0, stBlock, 64)
			t1.Write(stPC1, stBlock+8, 8)
			t0.MemblockFree(stPC0, stBlock, 64)
		})
	}},
}

// pair creates two unrelated threads and runs f on them.
func pair(rt *Runtime, f func(t0, t1 *Thread)) error {
	t0, err := rt.ThreadCreate(1, nil)
	if err != nil {
		return err
	}
	t1, err := rt.ThreadCreate(2, nil)
	if err != nil {
		return err
	}
	f(t0, t1)
	t0.Finish()
	t1.Finish()
	return nil
}

func selfTestConfig() Config {
	return Config{
		Output:           io.Discard,
		Threads:          8,
		SyncObjects:      64,
		MemBlocks:        8,
		ShadowCells:      256,
		TraceSegments:    2,
		TraceSegmentSize: 64,
	}
}

// RunSelfTests runs the built-in scenarios, each on a fresh runtime, and
// writes one line per scenario to w. It returns an error when any scenario
// failed.
func RunSelfTests(w io.Writer) error {
	failed := 0
	for _, st := range selfTests {
		if err := runSelfTest(st); err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", st.name, err)
			continue
		}
		fmt.Fprintf(w, "ok   %s\n", st.name)
	}
	if failed > 0 {
		return fmt.Errorf("race: %d of %d self-tests failed", failed, len(selfTests))
	}
	return nil
}

func runSelfTest(st selfTest) error {
	rt, err := New(selfTestConfig())
	if err != nil {
		return err
	}
	if err := st.run(rt); err != nil {
		return err
	}
	if got := rt.Races(); got != st.races {
		return fmt.Errorf("%d races reported, want %d", got, st.races)
	}
	return nil
}
