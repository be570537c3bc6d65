package stockpile

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// AllocationCategory labels what a tracked allocation is for, so usage can
// be analyzed per subsystem.
type AllocationCategory uint8

const (
	CategoryUnknown AllocationCategory = iota
	CategoryECSCore
	CategoryComponents
	CategoryEntities
	CategoryQueries
	CategoryRenderer
	CategoryAudio
	CategoryPhysics
	CategoryUI
	CategoryDebug
	CategoryTemporary
	CategoryCustom

	categoryCount
)

var categoryNames = [categoryCount]string{
	"unknown", "ecs_core", "components", "entities", "queries",
	"renderer", "audio", "physics", "ui", "debug", "temporary", "custom",
}

func (c AllocationCategory) String() string {
	if int(c) >= len(categoryNames) {
		return "invalid"
	}
	return categoryNames[c]
}

// AllocatorType identifies which kind of allocator produced an allocation.
type AllocatorType uint8

const (
	AllocatorUnknown AllocatorType = iota
	AllocatorHeap
	AllocatorArena
	AllocatorPool
	AllocatorCustom
)

func (t AllocatorType) String() string {
	switch t {
	case AllocatorHeap:
		return "heap"
	case AllocatorArena:
		return "arena"
	case AllocatorPool:
		return "pool"
	case AllocatorCustom:
		return "custom"
	default:
		return "unknown"
	}
}

var allocatorIDs atomic.Uint32

// nextAllocatorID issues process-unique allocator instance ids.
func nextAllocatorID() uint32 { return allocatorIDs.Add(1) }

// allocationRecord is one ledger entry for a live allocation. Access
// counters are atomic so TrackAccess can run under the shared lock.
type allocationRecord struct {
	address       uintptr
	size          int
	actualSize    int
	alignment     int
	category      AllocationCategory
	allocatorType AllocatorType
	allocatorName string
	allocatorID   uint32
	tag           string
	allocatedAt   time.Time
	lastAccess    atomic.Int64
	accesses      atomic.Uint64
	writes        atomic.Uint64
	leaked        bool
}

// AllocationRecord is a point-in-time snapshot of one ledger entry.
type AllocationRecord struct {
	Address       uintptr
	Size          int
	ActualSize    int
	Alignment     int
	Category      AllocationCategory
	AllocatorType AllocatorType
	AllocatorName string
	AllocatorID   uint32
	Tag           string
	AllocatedAt   time.Time
	LastAccess    time.Time
	Accesses      uint64
	Writes        uint64
	Leaked        bool
}

func (r *allocationRecord) snapshot() AllocationRecord {
	return AllocationRecord{
		Address:       r.address,
		Size:          r.size,
		ActualSize:    r.actualSize,
		Alignment:     r.alignment,
		Category:      r.category,
		AllocatorType: r.allocatorType,
		AllocatorName: r.allocatorName,
		AllocatorID:   r.allocatorID,
		Tag:           r.tag,
		AllocatedAt:   r.allocatedAt,
		LastAccess:    time.Unix(0, r.lastAccess.Load()),
		Accesses:      r.accesses.Load(),
		Writes:        r.writes.Load(),
		Leaked:        r.leaked,
	}
}

// TrackerConfig configures a MemoryTracker at construction time.
type TrackerConfig struct {
	// Enabled is the initial tracking state; it can be toggled at runtime
	// without losing recorded data.
	Enabled bool
	// TrackAccesses enables per-allocation access counting.
	TrackAccesses bool
	// HeatMap enables the address-range heat map.
	HeatMap bool
	// MaxTrackedAllocations bounds the ledger; allocations past the bound
	// still update aggregate counters but carry no per-entry record.
	MaxTrackedAllocations int
	// AccessSamplingRate in (0, 1] thins out TrackAccess processing for
	// high-frequency callers. 1 records every access.
	AccessSamplingRate float64
	// MemoryBudget is the usage level treated as full pressure.
	MemoryBudget int
	// TimelineSlot is the duration of one timeline bucket.
	TimelineSlot time.Duration
	// TimelineSlots is the number of timeline buckets kept.
	TimelineSlots int
	// Logger receives tracker diagnostics; nil disables logging.
	Logger *zerolog.Logger
}

// DefaultTrackerConfig returns the documented defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Enabled:               true,
		TrackAccesses:         true,
		HeatMap:               true,
		MaxTrackedAllocations: 1 << 16,
		AccessSamplingRate:    1.0,
		MemoryBudget:          256 << 20,
		TimelineSlot:          100 * time.Millisecond,
		TimelineSlots:         600,
	}
}

// usageCounters aggregate allocation activity; one instance globally and one
// per category, updated on the same events so per-category sums always equal
// the global totals.
type usageCounters struct {
	totalBytes     uint64
	currentBytes   int
	peakBytes      int
	totalAllocs    uint64
	currentAllocs  int
	peakAllocs     int
	minSize        int
	maxSize        int
	alignmentWaste int
	failed         uint64
}

func (u *usageCounters) applyAlloc(size, actual int) {
	u.totalBytes += uint64(size)
	u.currentBytes += size
	if u.currentBytes > u.peakBytes {
		u.peakBytes = u.currentBytes
	}
	u.totalAllocs++
	u.currentAllocs++
	if u.currentAllocs > u.peakAllocs {
		u.peakAllocs = u.currentAllocs
	}
	if u.minSize == 0 || size < u.minSize {
		u.minSize = size
	}
	if size > u.maxSize {
		u.maxSize = size
	}
	u.alignmentWaste += actual - size
}

func (u *usageCounters) applyFree(size, actual int) {
	u.currentBytes -= size
	u.currentAllocs--
	u.alignmentWaste -= actual - size
}

// MemoryTracker is a process-wide allocation ledger. All entry points are
// safe under concurrent callers: the ledger is reader/writer locked and hot
// counters are atomic. Instances are caller-owned; a thin default-instance
// wrapper is provided for the application edge.
type MemoryTracker struct {
	cfg     TrackerConfig
	log     zerolog.Logger
	enabled atomic.Bool
	start   time.Time

	accessCounter atomic.Uint64
	accessStride  uint64

	mu         sync.RWMutex
	live       map[uintptr]*allocationRecord
	skipped    uint64
	global     usageCounters
	categories [categoryCount]usageCounters
	dist       sizeDistribution
	timeline   *timeline

	heat *heatMap
}

// NewMemoryTracker creates a tracker. The zero-value config disables
// everything; use DefaultTrackerConfig for sensible defaults.
func NewMemoryTracker(cfg TrackerConfig) *MemoryTracker {
	if cfg.MaxTrackedAllocations <= 0 {
		cfg.MaxTrackedAllocations = 1 << 16
	}
	if cfg.TimelineSlot <= 0 {
		cfg.TimelineSlot = 100 * time.Millisecond
	}
	if cfg.TimelineSlots <= 0 {
		cfg.TimelineSlots = 600
	}
	stride := uint64(1)
	if cfg.AccessSamplingRate > 0 && cfg.AccessSamplingRate < 1 {
		stride = uint64(1.0/cfg.AccessSamplingRate + 0.5)
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	t := &MemoryTracker{
		cfg:          cfg,
		log:          log,
		start:        time.Now(),
		accessStride: stride,
		live:         make(map[uintptr]*allocationRecord),
		timeline:     newTimeline(cfg.TimelineSlot, cfg.TimelineSlots),
		heat:         newHeatMap(),
	}
	t.enabled.Store(cfg.Enabled)
	return t
}

// Enable turns tracking on. Previously recorded data is kept.
func (t *MemoryTracker) Enable() { t.enabled.Store(true) }

// Disable turns tracking off without losing recorded data.
func (t *MemoryTracker) Disable() { t.enabled.Store(false) }

// Enabled reports whether tracking is currently on.
func (t *MemoryTracker) Enabled() bool { return t != nil && t.enabled.Load() }

// TrackAllocation inserts a ledger entry for a new allocation and updates
// the global and per-category aggregates. Once the ledger is full the record
// is skipped entirely and only SkippedRecords grows, so current counts stay
// equal to tracked allocations minus tracked deallocations. Safe to call on
// a nil tracker.
func (t *MemoryTracker) TrackAllocation(addr uintptr, size, actualSize, alignment int,
	category AllocationCategory, allocatorType AllocatorType,
	allocatorName string, allocatorID uint32, tag string,
) {
	if t == nil || !t.enabled.Load() || addr == 0 || size <= 0 {
		return
	}
	if actualSize < size {
		actualSize = size
	}
	if category >= categoryCount {
		category = CategoryUnknown
	}
	now := time.Now()

	t.mu.Lock()
	if len(t.live) >= t.cfg.MaxTrackedAllocations {
		t.skipped++
		t.mu.Unlock()
		return
	}
	t.global.applyAlloc(size, actualSize)
	t.categories[category].applyAlloc(size, actualSize)
	t.dist.record(size)
	t.timeline.record(now.Sub(t.start), size, 0, t.global.currentBytes)
	rec := &allocationRecord{
		address:       addr,
		size:          size,
		actualSize:    actualSize,
		alignment:     alignment,
		category:      category,
		allocatorType: allocatorType,
		allocatorName: allocatorName,
		allocatorID:   allocatorID,
		tag:           tag,
		allocatedAt:   now,
	}
	rec.lastAccess.Store(now.UnixNano())
	t.live[addr] = rec
	t.mu.Unlock()

	if t.cfg.HeatMap {
		t.heat.add(addr, size, category, now)
	}
}

// TrackDeallocation removes the ledger entry for addr and rolls the
// aggregates back. Deallocations of addresses the ledger never admitted are
// ignored, keeping current counts equal to tracked allocations minus tracked
// deallocations.
func (t *MemoryTracker) TrackDeallocation(addr uintptr) {
	if t == nil || !t.enabled.Load() || addr == 0 {
		return
	}
	now := time.Now()

	t.mu.Lock()
	rec, ok := t.live[addr]
	if ok {
		t.global.applyFree(rec.size, rec.actualSize)
		t.categories[rec.category].applyFree(rec.size, rec.actualSize)
		t.timeline.record(now.Sub(t.start), 0, rec.size, t.global.currentBytes)
		delete(t.live, addr)
	}
	t.mu.Unlock()

	if ok && t.cfg.HeatMap {
		t.heat.remove(addr)
	}
}

// DeactivateRange removes every ledger entry whose address falls in
// [start, end). Used by the arena for bulk release on Reset and Restore.
func (t *MemoryTracker) DeactivateRange(start, end uintptr) {
	if t == nil || !t.enabled.Load() || end <= start {
		return
	}
	now := time.Now()
	var removed []uintptr

	t.mu.Lock()
	for addr, rec := range t.live {
		if addr < start || addr >= end {
			continue
		}
		t.global.applyFree(rec.size, rec.actualSize)
		t.categories[rec.category].applyFree(rec.size, rec.actualSize)
		t.timeline.record(now.Sub(t.start), 0, rec.size, t.global.currentBytes)
		delete(t.live, addr)
		removed = append(removed, addr)
	}
	t.mu.Unlock()

	if t.cfg.HeatMap {
		for _, addr := range removed {
			t.heat.remove(addr)
		}
	}
}

// TrackFailedAllocation records a capacity-exhaustion event for pressure
// analysis.
func (t *MemoryTracker) TrackFailedAllocation(category AllocationCategory,
	allocatorType AllocatorType, allocatorName string, allocatorID uint32,
) {
	if t == nil || !t.enabled.Load() {
		return
	}
	if category >= categoryCount {
		category = CategoryUnknown
	}
	t.mu.Lock()
	t.global.failed++
	t.categories[category].failed++
	t.mu.Unlock()
}

// TrackAccess updates the access counters of the allocation at addr and the
// heat map region covering it. Subject to AccessSamplingRate.
func (t *MemoryTracker) TrackAccess(addr uintptr, size int, isWrite bool) {
	if t == nil || !t.enabled.Load() || !t.cfg.TrackAccesses || addr == 0 {
		return
	}
	if t.accessStride > 1 && t.accessCounter.Add(1)%t.accessStride != 0 {
		return
	}
	now := time.Now()

	t.mu.RLock()
	if rec, ok := t.live[addr]; ok {
		rec.accesses.Add(1)
		if isWrite {
			rec.writes.Add(1)
		}
		rec.lastAccess.Store(now.UnixNano())
	}
	t.mu.RUnlock()

	if t.cfg.HeatMap {
		t.heat.access(addr, now)
	}
}

// ActiveAllocations returns snapshots of every live ledger entry.
func (t *MemoryTracker) ActiveAllocations() []AllocationRecord {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]AllocationRecord, 0, len(t.live))
	for _, rec := range t.live {
		out = append(out, rec.snapshot())
	}
	return out
}

// AllocationsByCategory returns snapshots of live entries in one category.
func (t *MemoryTracker) AllocationsByCategory(category AllocationCategory) []AllocationRecord {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []AllocationRecord
	for _, rec := range t.live {
		if rec.category == category {
			out = append(out, rec.snapshot())
		}
	}
	return out
}

// Reset clears the ledger and every aggregate. The enabled state is kept.
func (t *MemoryTracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.live = make(map[uintptr]*allocationRecord)
	t.skipped = 0
	t.global = usageCounters{}
	t.categories = [categoryCount]usageCounters{}
	t.dist = sizeDistribution{}
	t.timeline = newTimeline(t.cfg.TimelineSlot, t.cfg.TimelineSlots)
	t.start = time.Now()
	t.mu.Unlock()
	t.heat.reset()
}

// Default-instance convenience wrapper. Library code receives trackers
// explicitly; this edge API exists for applications that want exactly one.

var defaultTracker atomic.Pointer[MemoryTracker]

// InitializeTracking installs a process-wide default tracker and returns it.
func InitializeTracking(cfg TrackerConfig) *MemoryTracker {
	t := NewMemoryTracker(cfg)
	defaultTracker.Store(t)
	return t
}

// DefaultTracker returns the installed default tracker, or nil. All tracker
// entry points are nil-safe, so the result can be passed through unchecked.
func DefaultTracker() *MemoryTracker { return defaultTracker.Load() }

// ShutdownTracking logs a final summary, runs a leak scan, and uninstalls
// the default tracker.
func ShutdownTracking() {
	t := defaultTracker.Swap(nil)
	if t == nil {
		return
	}
	stats := t.GlobalStats()
	leaks := t.DetectLeaks(0, 0.5)
	t.log.Info().
		Uint64("total_allocations", stats.TotalAllocationsEver).
		Int("current_bytes", stats.CurrentAllocated).
		Int("peak_bytes", stats.PeakAllocated).
		Int("suspected_leaks", len(leaks)).
		Msg("memory tracking shut down")
}
