package shadowmem

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/ktsan/internal/race/slab"
)

// SlotCount is the number of records kept per granule.
const SlotCount = 4

const (
	shardBits  = 8
	shardCount = 1 << shardBits
)

// Cell is the shadow of one granule: a small unordered set of the most
// recent distinguishing accesses. Slots are only touched through atomic
// operations.
type Cell struct {
	slots [SlotCount]atomic.Uint64
}

// Load returns a snapshot of all slots.
func (c *Cell) Load() [SlotCount]Record {
	var out [SlotCount]Record
	for i := range c.slots {
		out[i] = Record(c.slots[i].Load())
	}
	return out
}

func resetCell(c *Cell) {
	for i := range c.slots {
		c.slots[i].Store(0)
	}
}

// shard maps granule addresses to cell indices in the slab.
type shard struct {
	mu    sync.RWMutex
	cells map[uintptr]int32
}

// Shadow is the shadow memory: granule address → Cell.
//
// The directory is striped into shardCount independently locked maps; the
// cells themselves live in a slab so that the number of tracked granules is
// bounded at construction time. Once a cell is found, reconciling an access
// only uses atomic loads and compare-and-swap on its slots.
//
// Thread Safety: All methods are safe for concurrent use.
type Shadow struct {
	shards [shardCount]shard
	cells  *slab.Cache[Cell]
	evict  EvictFunc
}

// EvictFunc picks the slot to overwrite when none absorbed an access.
type EvictFunc func(clock uint64, slots int) int

// ClockModulo is the default eviction policy: clock mod slot count, a cheap
// pseudo-random substitute for LRU.
func ClockModulo(clock uint64, slots int) int {
	return int(clock % uint64(slots))
}

// New creates a shadow memory able to track up to maxCells granules.
// A nil evict selects ClockModulo.
func New(maxCells int, evict EvictFunc) *Shadow {
	if evict == nil {
		evict = ClockModulo
	}
	s := &Shadow{
		cells: slab.New[Cell](maxCells, resetCell),
		evict: evict,
	}
	for i := range s.shards {
		s.shards[i].cells = make(map[uintptr]int32)
	}
	return s
}

// fastHash computes a multiplicative hash of a granule address.
//
// Taking the top bits of the product by the golden ratio constant spreads
// sequential granules evenly across shards.
func fastHash(addr uintptr) uint64 {
	const goldenRatio = 0x9E3779B97F4A7C15
	return uint64(addr) * goldenRatio
}

func (s *Shadow) shardFor(granule uintptr) *shard {
	return &s.shards[fastHash(granule)>>(64-shardBits)]
}

// Granule returns the granule address containing addr.
func Granule(addr uintptr) uintptr {
	return addr &^ (GranuleSize - 1)
}

// Cell returns the cell of a granule, creating it when create is set.
//
// Returns nil when the granule is untracked and create is false, or when the
// cell slab is exhausted. The cell may be recycled by a concurrent
// ClearRange of its granule; Access holds the shard lock instead.
func (s *Shadow) Cell(granule uintptr, create bool) *Cell {
	sh := s.shardFor(granule)

	sh.mu.RLock()
	idx, ok := sh.cells[granule]
	sh.mu.RUnlock()
	if ok {
		return s.cells.At(idx)
	}
	if !create {
		return nil
	}
	idx, ok = s.create(sh, granule)
	if !ok {
		return nil
	}
	return s.cells.At(idx)
}

// create registers a cell for granule unless one exists and returns its
// index. It fails when the cell slab is exhausted.
func (s *Shadow) create(sh *shard, granule uintptr) (int32, bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if idx, ok := sh.cells[granule]; ok {
		return idx, true
	}
	idx, c := s.cells.Alloc()
	if c == nil {
		return 0, false
	}
	sh.cells[granule] = idx
	return idx, true
}

// ClearRange forgets every granule overlapping [addr, addr+size). It waits
// for accesses in flight on those granules, so a freed cell is never written
// on behalf of its previous granule.
func (s *Shadow) ClearRange(addr, size uintptr) {
	if size == 0 {
		return
	}
	end := addr + size
	for g := Granule(addr); g < end; g += GranuleSize {
		sh := s.shardFor(g)
		sh.mu.Lock()
		if idx, ok := sh.cells[g]; ok {
			delete(sh.cells, g)
			s.cells.Free(idx)
		}
		sh.mu.Unlock()
		if g+GranuleSize < g {
			break
		}
	}
}

// Stats returns cell slab occupancy.
func (s *Shadow) Stats() slab.Stats {
	return s.cells.Stats()
}

// Split decomposes an access of size bytes at addr into power-of-two,
// naturally aligned pieces that never straddle a granule: an unaligned head,
// a run of whole granules and an unaligned tail.
func Split(addr, size uintptr, fn func(addr uintptr, sizeLog2 uint)) {
	// Head: grow alignment until addr sits on a granule boundary.
	for size > 0 && addr&(GranuleSize-1) != 0 {
		log2 := pieceLog2(addr, size)
		fn(addr, log2)
		addr += 1 << log2
		size -= 1 << log2
	}
	// Middle: whole granules.
	for size >= GranuleSize {
		fn(addr, GranuleShift)
		addr += GranuleSize
		size -= GranuleSize
	}
	// Tail.
	for size > 0 {
		log2 := pieceLog2(addr, size)
		fn(addr, log2)
		addr += 1 << log2
		size -= 1 << log2
	}
}

// pieceLog2 returns the largest aligned power-of-two piece at addr that fits
// in size bytes and stays inside the granule.
func pieceLog2(addr, size uintptr) uint {
	for log2 := uint(GranuleShift); log2 > 0; log2-- {
		n := uintptr(1) << log2
		if addr&(n-1) == 0 && n <= size {
			return log2
		}
	}
	return 0
}
