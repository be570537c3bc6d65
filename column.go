package stockpile

import (
	"unsafe"

	"github.com/rs/zerolog"
)

// zeroSized backs pointers to zero-size components (tags), which occupy no
// column storage.
var zeroSized byte

type slabSource uint8

const (
	slabNone slabSource = iota
	slabHeap
	slabArena
	slabPool
)

// slab records where a column's backing bytes came from, so they can be
// released through the right allocator when the column grows past them.
type slab struct {
	source slabSource
	pool   PoolBlock
}

// slabAllocator picks a backing store for column slabs: a pool block when
// the request fits one, else the arena, else the Go heap. Every path is
// reported to the tracker; the pool and arena report themselves, heap slabs
// are reported here.
type slabAllocator struct {
	arena   *ArenaAllocator
	pool    *PoolAllocator
	tracker *MemoryTracker
	log     zerolog.Logger
}

func (sa *slabAllocator) alloc(n, align int, tag string) ([]byte, slab) {
	if n <= 0 {
		return nil, slab{}
	}
	if sa.pool != nil && n <= sa.pool.BlockSize() {
		if block, ok := sa.pool.Allocate(); ok {
			b, _ := sa.pool.BlockBytes(block)
			return b, slab{source: slabPool, pool: block}
		}
	}
	if sa.arena != nil {
		if b := sa.arena.AllocBytes(n, align); b != nil {
			return b, slab{source: slabArena}
		}
		sa.log.Debug().Int("size", n).Str("tag", tag).Msg("arena exhausted, slab falls back to heap")
	}
	b := make([]byte, n)
	sa.tracker.TrackAllocation(addrOf(b), n, n, align,
		CategoryComponents, AllocatorHeap, "go-heap", 0, tag)
	return b, slab{source: slabHeap}
}

func (sa *slabAllocator) release(b []byte, s slab) {
	switch s.source {
	case slabPool:
		if err := sa.pool.Deallocate(s.pool); err != nil {
			sa.log.Warn().Err(err).Msg("releasing column slab")
		}
	case slabArena, slabHeap:
		// Arena slabs cannot be individually reclaimed; the bytes stay
		// parked until the arena resets. Closing the ledger entry keeps the
		// live counts honest either way.
		sa.tracker.TrackDeallocation(addrOf(b))
	}
}

// column is one packed array of component values. Rows are aligned by index
// with every other column of the same archetype.
type column struct {
	comp     Component
	itemSize int
	data     []byte
	rows     int
	capRows  int
	slab     slab
}

func newColumn(comp Component) column {
	return column{comp: comp, itemSize: int(comp.byteSize())}
}

func (c *column) ptr(row int) unsafe.Pointer {
	if c.itemSize == 0 {
		return unsafe.Pointer(&zeroSized)
	}
	return unsafe.Pointer(&c.data[row*c.itemSize])
}

func (c *column) rowBytes(row int) []byte {
	start := row * c.itemSize
	return c.data[start : start+c.itemSize]
}

// ensure grows the column to hold at least needRows, moving the values into
// a fresh slab. Returns false when no backing store could satisfy the
// request; the column is unchanged in that case.
func (c *column) ensure(sa *slabAllocator, needRows int) bool {
	if needRows <= c.capRows || c.itemSize == 0 {
		return true
	}
	newCap := c.capRows * 2
	if newCap < 8 {
		newCap = 8
	}
	if newCap < needRows {
		newCap = needRows
	}
	b, s := sa.alloc(newCap*c.itemSize, int(c.comp.alignment()), c.comp.Label())
	if b == nil {
		return false
	}
	copy(b, c.data[:c.rows*c.itemSize])
	if c.slab.source != slabNone {
		sa.release(c.data, c.slab)
	}
	c.data = b
	// Pool blocks may be larger than requested; use what we got.
	c.capRows = len(b) / c.itemSize
	c.slab = s
	return true
}

func (c *column) appendZero(sa *slabAllocator) bool {
	if !c.ensure(sa, c.rows+1) {
		return false
	}
	if c.itemSize > 0 {
		clear(c.data[c.rows*c.itemSize : (c.rows+1)*c.itemSize])
	}
	c.rows++
	return true
}

// copyRow copies the value at srcRow of src into dstRow of c. Both columns
// must store the same component type.
func (c *column) copyRow(dstRow int, src *column, srcRow int) {
	if c.itemSize == 0 {
		return
	}
	copy(c.rowBytes(dstRow), src.rowBytes(srcRow))
}

// swapRemove moves the last row into row and pops, keeping the column dense.
func (c *column) swapRemove(row int) {
	last := c.rows - 1
	if c.itemSize > 0 && row != last {
		copy(c.rowBytes(row), c.rowBytes(last))
	}
	c.rows = last
}

func (c *column) usedBytes() int     { return c.rows * c.itemSize }
func (c *column) capacityBytes() int { return c.capRows * c.itemSize }
