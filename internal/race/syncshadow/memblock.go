package syncshadow

import (
	"slices"
	"sync"

	"github.com/kolkov/ktsan/internal/race/hashtab"
)

// Block is a registered memory block.
type Block struct {
	// Size is the block length in bytes.
	Size uintptr

	// Syncs is the number of SyncVars anchored in the block.
	Syncs int

	// head is the slab index plus one of the first anchored SyncVar.
	head int32
}

type span struct {
	start, end uintptr
}

// BlockTable tracks live memory blocks of the monitored program.
//
// Blocks are kept twice: in a hash table keyed by start address, which owns
// the per-block SyncVar list, and in a sorted span index used to find the
// block containing an arbitrary address.
//
// Thread Safety: All methods are safe for concurrent calls.
type BlockTable struct {
	tab *hashtab.Table[Block]

	mu    sync.RWMutex
	spans []span
}

// NewBlockTable creates a table with room for maxBlocks live blocks.
func NewBlockTable(maxBlocks int) *BlockTable {
	return &BlockTable{
		tab: hashtab.New[Block](maxBlocks/2, maxBlocks),
	}
}

// Alloc registers the block [addr, addr+size). It returns false when the
// table is exhausted or the block is empty.
//
// Callers must first free the blocks reported by Overlapping, otherwise the
// span index keeps stale entries shadowing the new block.
func (bt *BlockTable) Alloc(addr, size uintptr) bool {
	if size == 0 {
		return false
	}
	b, _ := bt.tab.GetOrCreate(addr)
	if b == nil {
		return false
	}
	b.Val.Size = size
	b.Unlock()

	bt.mu.Lock()
	i, found := slices.BinarySearchFunc(bt.spans, addr, func(s span, a uintptr) int {
		switch {
		case s.start < a:
			return -1
		case s.start > a:
			return 1
		}
		return 0
	})
	if found {
		bt.spans[i].end = addr + size
	} else {
		bt.spans = slices.Insert(bt.spans, i, span{start: addr, end: addr + size})
	}
	bt.mu.Unlock()
	return true
}

// Overlapping returns the start addresses of registered blocks intersecting
// [addr, addr+size).
func (bt *BlockTable) Overlapping(addr, size uintptr) []uintptr {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	var out []uintptr
	end := addr + size
	for _, s := range bt.spans {
		if s.start >= end {
			break
		}
		if s.end > addr {
			out = append(out, s.start)
		}
	}
	return out
}

// Containing returns the start of the block containing addr.
func (bt *BlockTable) Containing(addr uintptr) (uintptr, bool) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	// First span starting after addr; the candidate is the one before it.
	i, _ := slices.BinarySearchFunc(bt.spans, addr, func(s span, a uintptr) int {
		if s.start <= a {
			return -1
		}
		return 1
	})
	if i == 0 {
		return 0, false
	}
	s := bt.spans[i-1]
	if addr >= s.end {
		return 0, false
	}
	return s.start, true
}

// Lookup returns a copy of the block starting at addr.
func (bt *BlockTable) Lookup(addr uintptr) (Block, bool) {
	b := bt.tab.Get(addr)
	if b == nil {
		return Block{}, false
	}
	defer b.Unlock()
	return b.Val, true
}

// Len returns the number of live blocks.
func (bt *BlockTable) Len() int {
	return bt.tab.Len()
}

// anchor links a freshly created, locked SyncVar into its containing block.
func (bt *BlockTable) anchor(v *Var) {
	start, ok := bt.Containing(v.Key())
	if !ok {
		return
	}
	b := bt.tab.Get(start)
	if b == nil {
		return
	}
	v.Val.block = start
	v.Val.nextInBlock = b.Val.head
	b.Val.head = v.Index() + 1
	b.Val.Syncs++
	b.Unlock()
}

// unanchor removes a locked SyncVar from its block's list.
func (bt *BlockTable) unanchor(v *Var, vars *hashtab.Table[SyncVar]) {
	if v.Val.block == 0 {
		return
	}
	b := bt.tab.Get(v.Val.block)
	if b == nil {
		return
	}
	defer b.Unlock()

	target := v.Index() + 1
	var prev int32
	for cur := b.Val.head; cur != 0; cur = vars.At(cur - 1).Val.nextInBlock {
		if cur != target {
			prev = cur
			continue
		}
		next := vars.At(cur - 1).Val.nextInBlock
		if prev == 0 {
			b.Val.head = next
		} else {
			vars.At(prev - 1).Val.nextInBlock = next
		}
		b.Val.Syncs--
		return
	}
}

// remove unregisters the block starting at addr and returns the addresses of
// the SyncVars it anchored.
func (bt *BlockTable) remove(addr uintptr, vars *hashtab.Table[SyncVar]) ([]uintptr, bool) {
	b := bt.tab.Destroy(addr)
	if b == nil {
		return nil, false
	}
	keys := make([]uintptr, 0, b.Val.Syncs)
	for cur := b.Val.head; cur != 0; cur = vars.At(cur - 1).Val.nextInBlock {
		keys = append(keys, vars.At(cur-1).Key())
	}
	bt.tab.Free(b)

	bt.mu.Lock()
	if i := slices.IndexFunc(bt.spans, func(s span) bool { return s.start == addr }); i >= 0 {
		bt.spans = slices.Delete(bt.spans, i, i+1)
	}
	bt.mu.Unlock()
	return keys, true
}
