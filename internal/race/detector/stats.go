package detector

import "sync/atomic"

// Stat identifies a detector counter.
type Stat int

// Detector counters.
const (
	StatEvents Stat = iota
	StatNestedCalls
	StatReads
	StatWrites
	StatReadsSuppressed
	StatFuncEntries
	StatFuncExits
	StatLocks
	StatUnlocks
	StatAcquires
	StatReleases
	StatSyncDestroys
	StatAtomicOps
	StatMembars
	StatRCUOps
	StatSeqBegins
	StatPercpuAcquires
	StatMemblockAllocs
	StatMemblockFrees
	StatThreadsCreated
	StatThreadsFinished
	StatRaces
	StatRacesSuppressed
	StatRacesDuplicate
	StatShadowEvictions
	StatShadowAllocFailures
	StatSyncAllocFailures
	StatBlockAllocFailures
	StatThreadAllocFailures
	StatClockRangeErrors
	StatProtocolViolations
	numStats
)

var statNames = [numStats]string{
	StatEvents:              "events",
	StatNestedCalls:         "nested_calls",
	StatReads:               "reads",
	StatWrites:              "writes",
	StatReadsSuppressed:     "reads_suppressed",
	StatFuncEntries:         "func_entries",
	StatFuncExits:           "func_exits",
	StatLocks:               "locks",
	StatUnlocks:             "unlocks",
	StatAcquires:            "acquires",
	StatReleases:            "releases",
	StatSyncDestroys:        "sync_destroys",
	StatAtomicOps:           "atomic_ops",
	StatMembars:             "membars",
	StatRCUOps:              "rcu_ops",
	StatSeqBegins:           "seq_begins",
	StatPercpuAcquires:      "percpu_acquires",
	StatMemblockAllocs:      "memblock_allocs",
	StatMemblockFrees:       "memblock_frees",
	StatThreadsCreated:      "threads_created",
	StatThreadsFinished:     "threads_finished",
	StatRaces:               "races",
	StatRacesSuppressed:     "races_suppressed",
	StatRacesDuplicate:      "races_duplicate",
	StatShadowEvictions:     "shadow_evictions",
	StatShadowAllocFailures: "shadow_alloc_failures",
	StatSyncAllocFailures:   "sync_alloc_failures",
	StatBlockAllocFailures:  "block_alloc_failures",
	StatThreadAllocFailures: "thread_alloc_failures",
	StatClockRangeErrors:    "clock_range_errors",
	StatProtocolViolations:  "protocol_violations",
}

// String returns the counter name used by Snapshot.
func (s Stat) String() string {
	if s >= 0 && s < numStats {
		return statNames[s]
	}
	return "unknown"
}

const statStripes = 16

// stripe is one CPU's block of counters, padded to its own cache lines.
type stripe struct {
	n [numStats]atomic.Uint64
	_ [64]byte
}

// Stats is a set of counters striped by CPU so that threads on different
// CPUs do not share cache lines on the hot path.
type Stats struct {
	stripes [statStripes]stripe
}

// Inc adds one to a counter. cpu selects the stripe; any value is accepted.
func (s *Stats) Inc(cpu int, st Stat) {
	s.stripes[uint(cpu)%statStripes].n[st].Add(1)
}

// Get sums a counter over all stripes.
func (s *Stats) Get(st Stat) uint64 {
	var total uint64
	for i := range s.stripes {
		total += s.stripes[i].n[st].Load()
	}
	return total
}

// Snapshot returns every counter by name.
func (s *Stats) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, numStats)
	for st := Stat(0); st < numStats; st++ {
		out[statNames[st]] = s.Get(st)
	}
	return out
}
