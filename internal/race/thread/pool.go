package thread

import (
	"errors"
	"sync"

	"github.com/kolkov/ktsan/internal/race/trace"
	"github.com/kolkov/ktsan/internal/race/vectorclock"
)

// ErrExhausted is returned by Pool.Get when every thread ID is in use.
var ErrExhausted = errors.New("thread IDs exhausted")

// TraceConfig sizes the per-ID event traces.
type TraceConfig struct {
	Segments    int
	SegmentSize int
	PCPrefix    uintptr
}

// Pool hands out dense thread IDs.
//
// Free IDs are kept in a FIFO queue, so IDs are allocated in ascending order
// at first and a just-released ID is the last one to be reused. Every ID
// owns one Thread object and one trace for the lifetime of the pool.
//
// Thread Safety: All methods are safe for concurrent calls.
type Pool struct {
	mu      sync.Mutex
	free    []int
	threads []*Thread
	live    []bool
	last    []uint64
	nlive   int
}

// NewPool creates a pool of size IDs (at most vectorclock.MaxThreads).
func NewPool(size int, tc TraceConfig) *Pool {
	if size <= 0 || size > vectorclock.MaxThreads {
		size = vectorclock.MaxThreads
	}
	p := &Pool{
		free:    make([]int, size),
		threads: make([]*Thread, size),
		live:    make([]bool, size),
		last:    make([]uint64, size),
	}
	for id := range p.free {
		p.free[id] = id
		p.threads[id] = newThread(id, trace.New(tc.Segments, tc.SegmentSize, tc.PCPrefix))
	}
	return p
}

// Get allocates an ID for a new thread with external id pid. The returned
// Thread's own clock continues from the last value its ID reached.
func (p *Pool) Get(pid int) (*Thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return nil, ErrExhausted
	}
	// Pop from the front (FIFO).
	id := p.free[0]
	p.free = p.free[1:]

	t := p.threads[id]
	t.reset(pid, p.last[id])
	p.live[id] = true
	p.nlive++
	return t, nil
}

// Put returns the thread's ID to the pool.
func (p *Pool) Put(t *Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.live[t.ID] {
		return
	}
	p.last[t.ID] = t.Now()
	p.live[t.ID] = false
	p.nlive--
	p.free = append(p.free, t.ID)
}

// Lookup returns the live thread with the given ID, or nil.
func (p *Pool) Lookup(id int) *Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id < 0 || id >= len(p.threads) || !p.live[id] {
		return nil
	}
	return p.threads[id]
}

// Trace returns the trace of an ID slot, whether or not the ID is live.
func (p *Pool) Trace(id int) *trace.Trace {
	if id < 0 || id >= len(p.threads) {
		return nil
	}
	return p.threads[id].Trace
}

// Live returns the number of allocated IDs.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nlive
}

// Size returns the number of IDs managed by the pool.
func (p *Pool) Size() int {
	return len(p.threads)
}

// Range calls fn for every live thread, in ID order, until fn returns false.
func (p *Pool) Range(fn func(t *Thread) bool) {
	p.mu.Lock()
	live := make([]*Thread, 0, p.nlive)
	for id, ok := range p.live {
		if ok {
			live = append(live, p.threads[id])
		}
	}
	p.mu.Unlock()

	for _, t := range live {
		if !fn(t) {
			return
		}
	}
}
