package stockpile

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DefaultArenaSize is the default backing buffer size for new arenas (4 MiB).
const DefaultArenaSize = 4 << 20

// poisonByte fills released arena memory when poisoning is enabled, so stale
// reads show up as garbage in tests instead of silently working.
const poisonByte = 0xDD

// ArenaAllocator is a bump allocator over a fixed backing buffer. The buffer
// is never relocated or resized; allocation fails by returning nil once the
// offset reaches capacity. There is no individual deallocation, only bulk
// Reset and checkpoint/restore rollback.
//
// The offset update is not atomic. Callers sharing one instance must
// serialize externally; the intended model is a single owning writer.
type ArenaAllocator struct {
	name string
	id   uint32
	log  zerolog.Logger

	buf        []byte
	offset     int
	generation uint32

	// epoch increments on every Restore; segments records which epoch the
	// live bytes at each offset were allocated in, so refs into a rolled-back
	// region keep failing after the region is reused.
	epoch    uint32
	segments []arenaSegment

	allocations uint64
	waste       int
	peakOffset  int
	failed      uint64

	poison   bool
	category AllocationCategory
	tracker  *MemoryTracker
}

// ArenaRef is a generation-tagged handle to an arena allocation. Resolving a
// ref from a reset arena, or one rolled back by Restore, fails instead of
// handing out memory that has been reused.
type ArenaRef struct {
	offset     int
	size       int
	generation uint32
	epoch      uint32
}

// arenaSegment marks where allocations of one epoch begin. A segment covers
// the bytes from start up to the next segment's start.
type arenaSegment struct {
	start int
	epoch uint32
}

// Size reports the allocation size the ref was created with.
func (r ArenaRef) Size() int { return r.size }

// ArenaCheckpoint snapshots the arena so allocations made after it can be
// released in bulk with Restore.
type ArenaCheckpoint struct {
	offset      int
	allocations uint64
	waste       int
	generation  uint32
	taken       time.Time
}

// Taken reports when the checkpoint was captured.
func (c ArenaCheckpoint) Taken() time.Time { return c.taken }

// ArenaOption configures an arena at construction time.
type ArenaOption func(*ArenaAllocator)

// WithArenaTracker reports every allocation, deallocation, and failure to the
// tracker under the given category.
func WithArenaTracker(t *MemoryTracker, category AllocationCategory) ArenaOption {
	return func(a *ArenaAllocator) {
		a.tracker = t
		a.category = category
	}
}

// WithArenaPoison overwrites released memory with a poison pattern on Reset
// and Restore. Diagnostic aid, off by default.
func WithArenaPoison() ArenaOption {
	return func(a *ArenaAllocator) { a.poison = true }
}

// WithArenaLogger attaches a logger for allocation failures and resets.
func WithArenaLogger(log zerolog.Logger) ArenaOption {
	return func(a *ArenaAllocator) { a.log = log }
}

// NewArenaAllocator creates an arena with a fixed backing buffer of the given
// capacity.
func NewArenaAllocator(name string, capacity int, opts ...ArenaOption) (*ArenaAllocator, error) {
	if capacity <= 0 {
		return nil, eris.Errorf("arena %s: capacity must be positive, got %d", name, capacity)
	}
	a := &ArenaAllocator{
		name:       name,
		id:         nextAllocatorID(),
		log:        zerolog.Nop(),
		buf:        make([]byte, capacity),
		generation: 1,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func normalizeAlign(align int) int {
	if align <= 0 {
		return 8
	}
	// Round odd alignments up to the next power of two.
	p := 1
	for p < align {
		p <<= 1
	}
	return p
}

// AllocBytes carves n bytes out of the buffer, rounding the offset up to the
// requested alignment first. It returns nil when the remaining capacity
// cannot hold the aligned request; the arena is left unchanged in that case.
func (a *ArenaAllocator) AllocBytes(n, align int) []byte {
	b, _ := a.alloc(n, align)
	return b
}

// Alloc is AllocBytes with a generation-tagged handle. Use Bytes to resolve
// the handle back into memory; resolution fails after Reset or a Restore
// that rolled the allocation back.
func (a *ArenaAllocator) Alloc(n, align int) (ArenaRef, bool) {
	b, ref := a.alloc(n, align)
	return ref, b != nil
}

func (a *ArenaAllocator) alloc(n, align int) ([]byte, ArenaRef) {
	if n <= 0 {
		return nil, ArenaRef{}
	}
	align = normalizeAlign(align)
	off := alignUp(a.offset, align)
	if off+n > len(a.buf) {
		a.failed++
		a.tracker.TrackFailedAllocation(a.category, AllocatorArena, a.name, a.id)
		a.log.Debug().
			Str("arena", a.name).
			Int("size", n).
			Int("remaining", len(a.buf)-a.offset).
			Msg("arena allocation failed")
		return nil, ArenaRef{}
	}
	padding := off - a.offset
	a.waste += padding
	a.offset = off + n
	if a.offset > a.peakOffset {
		a.peakOffset = a.offset
	}
	a.allocations++
	if len(a.segments) == 0 || a.segments[len(a.segments)-1].epoch != a.epoch {
		a.segments = append(a.segments, arenaSegment{start: off, epoch: a.epoch})
	}

	b := a.buf[off : off+n : off+n]
	a.tracker.TrackAllocation(addrOf(b), n, n+padding, align,
		a.category, AllocatorArena, a.name, a.id, "")
	return b, ArenaRef{offset: off, size: n, generation: a.generation, epoch: a.epoch}
}

// Bytes resolves a ref into its backing memory. It returns false when the
// ref's generation does not match (the arena was reset), when the ref points
// past the current offset, or when a Restore rolled the ref's region back,
// even if later allocations have reused it.
func (a *ArenaAllocator) Bytes(ref ArenaRef) ([]byte, bool) {
	if ref.size <= 0 || ref.generation != a.generation || ref.offset+ref.size > a.offset {
		return nil, false
	}
	if a.epochAt(ref.offset) != ref.epoch {
		return nil, false
	}
	return a.buf[ref.offset : ref.offset+ref.size : ref.offset+ref.size], true
}

// epochAt reports the epoch of the live allocation covering offset. The
// segment list stays short: one entry per Restore that was followed by an
// allocation.
func (a *ArenaAllocator) epochAt(offset int) uint32 {
	for i := len(a.segments) - 1; i >= 0; i-- {
		if a.segments[i].start <= offset {
			return a.segments[i].epoch
		}
	}
	return a.epoch
}

// Checkpoint snapshots the current offset, allocation count, padding waste,
// and time.
func (a *ArenaAllocator) Checkpoint() ArenaCheckpoint {
	return ArenaCheckpoint{
		offset:      a.offset,
		allocations: a.allocations,
		waste:       a.waste,
		generation:  a.generation,
		taken:       time.Now(),
	}
}

// Restore releases every allocation made after the checkpoint. Memory handed
// out in the rolled-back region must not be used again; refs into it fail
// permanently through the epoch bump, even after later allocations reuse the
// region, and the region is poison-filled when enabled.
func (a *ArenaAllocator) Restore(cp ArenaCheckpoint) error {
	if cp.generation != a.generation {
		return eris.Wrapf(ErrBadCheckpoint, "arena %s was reset after the checkpoint", a.name)
	}
	if cp.offset > a.offset {
		return eris.Wrapf(ErrBadCheckpoint, "checkpoint offset %d is beyond current offset %d", cp.offset, a.offset)
	}
	a.tracker.DeactivateRange(addrOf(a.buf[cp.offset:]), addrOf(a.buf[cp.offset:])+uintptr(a.offset-cp.offset))
	if a.poison {
		fillBytes(a.buf[cp.offset:a.offset], poisonByte)
	}
	for len(a.segments) > 0 && a.segments[len(a.segments)-1].start >= cp.offset {
		a.segments = a.segments[:len(a.segments)-1]
	}
	a.epoch++
	a.offset = cp.offset
	a.allocations = cp.allocations
	a.waste = cp.waste
	return nil
}

// Reset releases every outstanding allocation and makes the full capacity
// reusable. All previously returned slices and refs become invalid; refs
// detect this through the bumped generation.
func (a *ArenaAllocator) Reset() {
	if a.offset > 0 {
		a.tracker.DeactivateRange(addrOf(a.buf), addrOf(a.buf)+uintptr(a.offset))
		if a.poison {
			fillBytes(a.buf[:a.offset], poisonByte)
		}
	}
	a.log.Debug().Str("arena", a.name).Int("released", a.offset).Msg("arena reset")
	a.offset = 0
	a.waste = 0
	a.allocations = 0
	a.segments = a.segments[:0]
	a.generation++
}

func fillBytes(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// Name returns the arena's diagnostic name.
func (a *ArenaAllocator) Name() string { return a.name }

// Used reports bytes currently allocated, including alignment padding.
func (a *ArenaAllocator) Used() int { return a.offset }

// Capacity reports the fixed size of the backing buffer.
func (a *ArenaAllocator) Capacity() int { return len(a.buf) }

// Remaining reports bytes still available before exhaustion.
func (a *ArenaAllocator) Remaining() int { return len(a.buf) - a.offset }

// Generation reports the current arena generation; it increments on Reset.
func (a *ArenaAllocator) Generation() uint32 { return a.generation }

// ArenaMetrics is a snapshot of arena statistics.
type ArenaMetrics struct {
	Name        string
	Used        int
	Capacity    int
	PeakUsed    int
	Waste       int
	Allocations uint64
	Failed      uint64
	Generation  uint32
	Utilization float64
}

// Metrics returns a snapshot of arena statistics.
func (a *ArenaAllocator) Metrics() ArenaMetrics {
	utilization := 0.0
	if len(a.buf) > 0 {
		utilization = float64(a.offset) / float64(len(a.buf))
	}
	return ArenaMetrics{
		Name:        a.name,
		Used:        a.offset,
		Capacity:    len(a.buf),
		PeakUsed:    a.peakOffset,
		Waste:       a.waste,
		Allocations: a.allocations,
		Failed:      a.failed,
		Generation:  a.generation,
		Utilization: utilization,
	}
}
