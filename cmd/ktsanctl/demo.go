package main

import (
	"runtime"
	"slices"
	"unsafe"

	"github.com/kolkov/ktsan/race"
)

// A scenario drives a runtime through a short, fixed interleaving.
type scenario func(rt *race.Runtime) error

var scenarios = map[string]scenario{
	"race":   raceScenario,
	"mutex":  mutexScenario,
	"atomic": atomicScenario,
	"rcu":    rcuScenario,
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// shared is the memory the scenarios race on.
var shared struct {
	counter uint64
	lock    uint64
	flag    uint32
	ptr     uint64
}

func addr[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}

func threads(rt *race.Runtime) (*race.Thread, *race.Thread, error) {
	t0, err := rt.ThreadCreate(1, nil)
	if err != nil {
		return nil, nil, err
	}
	t1, err := rt.ThreadCreate(2, nil)
	if err != nil {
		return nil, nil, err
	}
	t0.Start(0)
	t1.Start(1)
	return t0, t1, nil
}

func finish(ts ...*race.Thread) {
	for _, t := range ts {
		t.Stop()
		t.Finish()
	}
}

// increment writes the counter inside its own frame so that reports show
// a stack.
func increment(t *race.Thread) {
	callsite, _, _, _ := runtime.Caller(1)
	t.FuncEntry(callsite)
	defer t.FuncExit()
	t.Read(race.CallerPC(), addr(&shared.counter), 8)
	t.Write(race.CallerPC(), addr(&shared.counter), 8)
}

// raceScenario increments a counter from two threads with no ordering.
func raceScenario(rt *race.Runtime) error {
	t0, t1, err := threads(rt)
	if err != nil {
		return err
	}
	increment(t0)
	increment(t1)
	finish(t0, t1)
	return nil
}

// mutexScenario increments the counter under a lock.
func mutexScenario(rt *race.Runtime) error {
	t0, t1, err := threads(rt)
	if err != nil {
		return err
	}
	for _, t := range []*race.Thread{t0, t1} {
		t.Lock(race.CallerPC(), addr(&shared.lock), true)
		increment(t)
		t.Unlock(race.CallerPC(), addr(&shared.lock), true)
	}
	finish(t0, t1)
	return nil
}

// atomicScenario publishes the counter through a release/acquire flag.
func atomicScenario(rt *race.Runtime) error {
	t0, t1, err := threads(rt)
	if err != nil {
		return err
	}
	increment(t0)
	t0.StoreUint32(race.CallerPC(), &shared.flag, 1, race.Release)
	if t1.LoadUint32(race.CallerPC(), &shared.flag, race.Acquire) == 1 {
		increment(t1)
	}
	finish(t0, t1)
	return nil
}

// rcuScenario has a reader dereference a published pointer inside a
// read-side section and the updater wait for a grace period before
// reclaiming the object.
func rcuScenario(rt *race.Runtime) error {
	updater, reader, err := threads(rt)
	if err != nil {
		return err
	}
	obj := addr(&shared.counter)

	updater.Write(race.CallerPC(), obj, 8)
	updater.RCUAssignPointer(race.CallerPC(), addr(&shared.ptr))

	reader.RCUReadLock(race.CallerPC(), race.RCU)
	reader.RCUDereference(race.CallerPC(), addr(&shared.ptr))
	reader.Read(race.CallerPC(), obj, 8)
	reader.RCUReadUnlock(race.CallerPC(), race.RCU)

	updater.RCUSynchronize(race.CallerPC(), race.RCU)
	updater.Write(race.CallerPC(), obj, 8)
	finish(updater, reader)
	return nil
}
