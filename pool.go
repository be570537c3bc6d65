package stockpile

import (
	"unsafe"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// PoolBlock is a generation-tagged handle to one pool block. The slot
// generation is bumped on every free, so handles from a previous occupancy
// of the slot fail to resolve and double frees are detected best-effort.
type PoolBlock struct {
	index      int32
	generation uint32
}

// PoolAllocator hands out fixed-size blocks from a contiguous backing array
// using a free-list. Unlike the arena, blocks are individually freed in
// arbitrary order. Allocation and deallocation are O(1).
//
// Not safe for concurrent use; callers sharing one instance must serialize
// externally.
type PoolAllocator struct {
	name string
	id   uint32
	log  zerolog.Logger

	blockSize  int
	blockCount int
	buf        []byte
	free       []int32
	slotGen    []uint32
	inUse      []bool

	used        int
	peak        int
	failed      uint64
	doubleFrees uint64

	poison   bool
	category AllocationCategory
	tracker  *MemoryTracker
}

// PoolOption configures a pool at construction time.
type PoolOption func(*PoolAllocator)

// WithPoolTracker reports block allocations and frees to the tracker under
// the given category.
func WithPoolTracker(t *MemoryTracker, category AllocationCategory) PoolOption {
	return func(p *PoolAllocator) {
		p.tracker = t
		p.category = category
	}
}

// WithPoolPoison overwrites freed blocks with a poison pattern.
func WithPoolPoison() PoolOption {
	return func(p *PoolAllocator) { p.poison = true }
}

// WithPoolLogger attaches a logger for exhaustion and double-free events.
func WithPoolLogger(log zerolog.Logger) PoolOption {
	return func(p *PoolAllocator) { p.log = log }
}

// NewPoolAllocator creates a pool of blockCount blocks of blockSize bytes
// each. Both sizes are fixed for the pool's lifetime.
func NewPoolAllocator(name string, blockSize, blockCount int, opts ...PoolOption) (*PoolAllocator, error) {
	if blockSize <= 0 {
		return nil, eris.Errorf("pool %s: block size must be positive, got %d", name, blockSize)
	}
	if blockCount <= 0 {
		return nil, eris.Errorf("pool %s: block count must be positive, got %d", name, blockCount)
	}
	p := &PoolAllocator{
		name:       name,
		id:         nextAllocatorID(),
		log:        zerolog.Nop(),
		blockSize:  blockSize,
		blockCount: blockCount,
		buf:        make([]byte, blockSize*blockCount),
		free:       make([]int32, blockCount),
		slotGen:    make([]uint32, blockCount),
		inUse:      make([]bool, blockCount),
	}
	// Pop order starts at block zero.
	for i := range p.free {
		p.free[i] = int32(blockCount - 1 - i)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Allocate pops a free block. It fails once every block is in use.
func (p *PoolAllocator) Allocate() (PoolBlock, bool) {
	if len(p.free) == 0 {
		p.failed++
		p.tracker.TrackFailedAllocation(p.category, AllocatorPool, p.name, p.id)
		return PoolBlock{}, false
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[idx] = true
	p.used++
	if p.used > p.peak {
		p.peak = p.used
	}
	b := p.blockAt(idx)
	p.tracker.TrackAllocation(addrOf(b), p.blockSize, p.blockSize, p.blockSize,
		p.category, AllocatorPool, p.name, p.id, "")
	return PoolBlock{index: idx, generation: p.slotGen[idx]}, true
}

// Deallocate pushes the block back on the free list. Freeing the same handle
// twice, or a handle from a previous occupancy of the slot, is reported as
// ErrDoubleFree.
func (p *PoolAllocator) Deallocate(block PoolBlock) error {
	if block.index < 0 || int(block.index) >= p.blockCount {
		return eris.Wrapf(ErrForeignBlock, "pool %s: block index %d", p.name, block.index)
	}
	if !p.inUse[block.index] || p.slotGen[block.index] != block.generation {
		p.doubleFrees++
		p.log.Warn().Str("pool", p.name).Int32("block", block.index).Msg("double free detected")
		return eris.Wrapf(ErrDoubleFree, "pool %s: block %d", p.name, block.index)
	}
	p.releaseSlot(block.index)
	return nil
}

// BlockBytes resolves a handle into its block memory. Resolution fails for
// freed blocks and stale handles.
func (p *PoolAllocator) BlockBytes(block PoolBlock) ([]byte, bool) {
	if block.index < 0 || int(block.index) >= p.blockCount {
		return nil, false
	}
	if !p.inUse[block.index] || p.slotGen[block.index] != block.generation {
		return nil, false
	}
	return p.blockAt(block.index), true
}

// Owns reports whether the slice starts inside the pool's backing array on a
// block boundary.
func (p *PoolAllocator) Owns(b []byte) bool {
	_, ok := p.indexOf(b)
	return ok
}

// DeallocateBytes frees the block the slice points at. This is the
// pointer-validating flavor of Deallocate: memory outside the backing array
// or off a block boundary is rejected as foreign.
func (p *PoolAllocator) DeallocateBytes(b []byte) error {
	idx, ok := p.indexOf(b)
	if !ok {
		return eris.Wrapf(ErrForeignBlock, "pool %s", p.name)
	}
	if !p.inUse[idx] {
		p.doubleFrees++
		return eris.Wrapf(ErrDoubleFree, "pool %s: block %d", p.name, idx)
	}
	p.releaseSlot(idx)
	return nil
}

func (p *PoolAllocator) releaseSlot(idx int32) {
	b := p.blockAt(idx)
	p.tracker.TrackDeallocation(addrOf(b))
	if p.poison {
		fillBytes(b, poisonByte)
	}
	p.inUse[idx] = false
	p.slotGen[idx]++
	p.used--
	p.free = append(p.free, idx)
}

func (p *PoolAllocator) blockAt(idx int32) []byte {
	start := int(idx) * p.blockSize
	return p.buf[start : start+p.blockSize : start+p.blockSize]
}

func (p *PoolAllocator) indexOf(b []byte) (int32, bool) {
	if len(b) == 0 || p.blockCount == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&p.buf[0]))
	addr := uintptr(unsafe.Pointer(&b[0]))
	if addr < base || addr >= base+uintptr(len(p.buf)) {
		return 0, false
	}
	off := int(addr - base)
	if off%p.blockSize != 0 {
		return 0, false
	}
	return int32(off / p.blockSize), true
}

// Name returns the pool's diagnostic name.
func (p *PoolAllocator) Name() string { return p.name }

// BlockSize reports the fixed per-block size in bytes.
func (p *PoolAllocator) BlockSize() int { return p.blockSize }

// Capacity reports the fixed block count.
func (p *PoolAllocator) Capacity() int { return p.blockCount }

// InUse reports how many blocks are currently allocated.
func (p *PoolAllocator) InUse() int { return p.used }

// Available reports how many blocks remain on the free list.
func (p *PoolAllocator) Available() int { return len(p.free) }

// PoolMetrics is a snapshot of pool statistics.
type PoolMetrics struct {
	Name        string
	BlockSize   int
	Capacity    int
	InUse       int
	Peak        int
	Failed      uint64
	DoubleFrees uint64
}

// Metrics returns a snapshot of pool statistics.
func (p *PoolAllocator) Metrics() PoolMetrics {
	return PoolMetrics{
		Name:        p.name,
		BlockSize:   p.blockSize,
		Capacity:    p.blockCount,
		InUse:       p.used,
		Peak:        p.peak,
		Failed:      p.failed,
		DoubleFrees: p.doubleFrees,
	}
}
