package stockpile

import (
	"math"
	"math/bits"
	"slices"
	"sync"
	"time"
)

// CategoryStats aggregates allocation activity for one category.
type CategoryStats struct {
	Category           AllocationCategory
	TotalAllocated     uint64
	CurrentAllocated   int
	PeakAllocated      int
	TotalAllocations   uint64
	CurrentAllocations int
	PeakAllocations    int
	MinAllocationSize  int
	MaxAllocationSize  int
	AlignmentWaste     int
	WasteRatio         float64
	FailedAllocations  uint64
}

// GlobalStats is the tracker-wide summary, including per-category breakdown.
type GlobalStats struct {
	TotalAllocated       uint64
	CurrentAllocated     int
	PeakAllocated        int
	TotalAllocationsEver uint64
	CurrentAllocations   int
	PeakAllocations      int
	AlignmentWaste       int
	WasteRatio           float64
	FailedAllocations    uint64
	TrackedRecords       int
	SkippedRecords       uint64
	Uptime               time.Duration
	ByCategory           []CategoryStats
}

func statsFrom(cat AllocationCategory, u usageCounters) CategoryStats {
	waste := 0.0
	if u.currentBytes+u.alignmentWaste > 0 {
		waste = float64(u.alignmentWaste) / float64(u.currentBytes+u.alignmentWaste)
	}
	return CategoryStats{
		Category:           cat,
		TotalAllocated:     u.totalBytes,
		CurrentAllocated:   u.currentBytes,
		PeakAllocated:      u.peakBytes,
		TotalAllocations:   u.totalAllocs,
		CurrentAllocations: u.currentAllocs,
		PeakAllocations:    u.peakAllocs,
		MinAllocationSize:  u.minSize,
		MaxAllocationSize:  u.maxSize,
		AlignmentWaste:     u.alignmentWaste,
		WasteRatio:         waste,
		FailedAllocations:  u.failed,
	}
}

// GlobalStats returns the tracker-wide summary. O(k) in the category count.
func (t *MemoryTracker) GlobalStats() GlobalStats {
	if t == nil {
		return GlobalStats{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	g := statsFrom(CategoryUnknown, t.global)
	out := GlobalStats{
		TotalAllocated:       g.TotalAllocated,
		CurrentAllocated:     g.CurrentAllocated,
		PeakAllocated:        g.PeakAllocated,
		TotalAllocationsEver: g.TotalAllocations,
		CurrentAllocations:   g.CurrentAllocations,
		PeakAllocations:      g.PeakAllocations,
		AlignmentWaste:       g.AlignmentWaste,
		WasteRatio:           g.WasteRatio,
		FailedAllocations:    g.FailedAllocations,
		TrackedRecords:       len(t.live),
		SkippedRecords:       t.skipped,
		Uptime:               time.Since(t.start),
	}
	for cat := AllocationCategory(0); cat < categoryCount; cat++ {
		u := t.categories[cat]
		if u.totalAllocs == 0 && u.failed == 0 {
			continue
		}
		out.ByCategory = append(out.ByCategory, statsFrom(cat, u))
	}
	return out
}

// CategoryStats returns the aggregate for one category. Amortized O(1): the
// counters are maintained incrementally on every tracking event.
func (t *MemoryTracker) CategoryStats(category AllocationCategory) CategoryStats {
	if t == nil || category >= categoryCount {
		return CategoryStats{Category: category}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return statsFrom(category, t.categories[category])
}

// Size distribution

const sizeBucketCount = 32

// SizeBucket is one power-of-two band of the allocation size histogram.
type SizeBucket struct {
	MinSize     int
	MaxSize     int
	Allocations uint64
	Bytes       uint64
}

type sizeDistribution struct {
	allocations [sizeBucketCount]uint64
	bytes       [sizeBucketCount]uint64
}

func sizeBucketIndex(size int) int {
	if size <= 1 {
		return 0
	}
	idx := bits.Len(uint(size - 1))
	if idx >= sizeBucketCount {
		idx = sizeBucketCount - 1
	}
	return idx
}

func (d *sizeDistribution) record(size int) {
	idx := sizeBucketIndex(size)
	d.allocations[idx]++
	d.bytes[idx] += uint64(size)
}

// SizeDistribution returns the non-empty buckets of the allocation size
// histogram. Bucket k covers sizes in (2^(k-1), 2^k].
func (t *MemoryTracker) SizeDistribution() []SizeBucket {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []SizeBucket
	for i := 0; i < sizeBucketCount; i++ {
		if t.dist.allocations[i] == 0 {
			continue
		}
		minSize := 1
		if i > 0 {
			minSize = 1<<(i-1) + 1
		}
		out = append(out, SizeBucket{
			MinSize:     minSize,
			MaxSize:     1 << i,
			Allocations: t.dist.allocations[i],
			Bytes:       t.dist.bytes[i],
		})
	}
	return out
}

// Timeline

// TimelineSlot is one fixed-duration bucket of allocation activity.
type TimelineSlot struct {
	Offset        time.Duration
	Allocations   uint64
	Deallocations uint64
	BytesAlloc    uint64
	BytesFreed    uint64
	PeakBytes     int

	abs int
}

type timeline struct {
	slotDur time.Duration
	slots   []TimelineSlot
}

func newTimeline(slotDur time.Duration, n int) *timeline {
	return &timeline{slotDur: slotDur, slots: make([]TimelineSlot, n)}
}

// record files an event into the slot covering elapsed. Slots form a ring;
// a reused slot is cleared before the first event of its new window.
func (tl *timeline) record(elapsed time.Duration, allocSize, freeSize, currentBytes int) {
	abs := int(elapsed/tl.slotDur) + 1
	idx := abs % len(tl.slots)
	slot := &tl.slots[idx]
	if slot.abs != abs {
		*slot = TimelineSlot{abs: abs, Offset: time.Duration(abs-1) * tl.slotDur}
	}
	if allocSize > 0 {
		slot.Allocations++
		slot.BytesAlloc += uint64(allocSize)
	}
	if freeSize > 0 {
		slot.Deallocations++
		slot.BytesFreed += uint64(freeSize)
	}
	if currentBytes > slot.PeakBytes {
		slot.PeakBytes = currentBytes
	}
}

func (tl *timeline) history() []TimelineSlot {
	var out []TimelineSlot
	for _, slot := range tl.slots {
		if slot.abs != 0 {
			out = append(out, slot)
		}
	}
	slices.SortFunc(out, func(a, b TimelineSlot) int { return a.abs - b.abs })
	return out
}

// Timeline returns the recorded activity history, oldest slot first.
func (t *MemoryTracker) Timeline() []TimelineSlot {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.timeline.history()
}

// Heat map

// HeatRegion describes access heat for one allocated address range.
// Temperature decays exponentially with idle time.
type HeatRegion struct {
	Start       uintptr
	Size        int
	Category    AllocationCategory
	Accesses    uint64
	LastAccess  time.Time
	Temperature float64
}

// heatCoolingHalfLife is how long a region takes to lose half its heat.
const heatCoolingHalfLife = 5 * time.Second

type heatMap struct {
	mu      sync.RWMutex
	regions []HeatRegion
}

func newHeatMap() *heatMap { return &heatMap{} }

func cooled(temp float64, since time.Duration) float64 {
	if since <= 0 {
		return temp
	}
	return temp * math.Exp2(-float64(since)/float64(heatCoolingHalfLife))
}

func (h *heatMap) add(addr uintptr, size int, cat AllocationCategory, now time.Time) {
	h.mu.Lock()
	h.regions = append(h.regions, HeatRegion{
		Start:      addr,
		Size:       size,
		Category:   cat,
		LastAccess: now,
	})
	h.mu.Unlock()
}

func (h *heatMap) remove(addr uintptr) {
	h.mu.Lock()
	for i := range h.regions {
		if h.regions[i].Start == addr {
			h.regions[i] = h.regions[len(h.regions)-1]
			h.regions = h.regions[:len(h.regions)-1]
			break
		}
	}
	h.mu.Unlock()
}

func (h *heatMap) access(addr uintptr, now time.Time) {
	h.mu.Lock()
	for i := range h.regions {
		r := &h.regions[i]
		if addr >= r.Start && addr < r.Start+uintptr(r.Size) {
			r.Temperature = cooled(r.Temperature, now.Sub(r.LastAccess)) + 1
			r.Accesses++
			r.LastAccess = now
			break
		}
	}
	h.mu.Unlock()
}

func (h *heatMap) hot(minTemp float64, now time.Time) []HeatRegion {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []HeatRegion
	for _, r := range h.regions {
		r.Temperature = cooled(r.Temperature, now.Sub(r.LastAccess))
		if r.Temperature >= minTemp {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b HeatRegion) int {
		switch {
		case a.Temperature > b.Temperature:
			return -1
		case a.Temperature < b.Temperature:
			return 1
		default:
			return 0
		}
	})
	return out
}

func (h *heatMap) reset() {
	h.mu.Lock()
	h.regions = nil
	h.mu.Unlock()
}

// HotRegions returns regions whose decayed temperature is at least minTemp,
// hottest first.
func (t *MemoryTracker) HotRegions(minTemp float64) []HeatRegion {
	if t == nil {
		return nil
	}
	return t.heat.hot(minTemp, time.Now())
}

// Pressure

// PressureLevel classifies how close tracked usage is to the budget.
type PressureLevel uint8

const (
	PressureLow PressureLevel = iota
	PressureMedium
	PressureHigh
	PressureCritical
)

func (l PressureLevel) String() string {
	switch l {
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "low"
	}
}

// MemoryPressure is a derived signal: tracked usage against the configured
// budget plus the allocation failure count.
type MemoryPressure struct {
	Level             PressureLevel
	UsageRatio        float64
	CurrentBytes      int
	Budget            int
	FailedAllocations uint64
}

// Pressure derives the current memory pressure signal.
func (t *MemoryTracker) Pressure() MemoryPressure {
	if t == nil {
		return MemoryPressure{}
	}
	t.mu.RLock()
	current := t.global.currentBytes
	failed := t.global.failed
	t.mu.RUnlock()

	budget := t.cfg.MemoryBudget
	ratio := 0.0
	if budget > 0 {
		ratio = float64(current) / float64(budget)
	}
	level := PressureLow
	switch {
	case ratio >= 0.9 || failed > 0:
		level = PressureCritical
	case ratio >= 0.75:
		level = PressureHigh
	case ratio >= 0.5:
		level = PressureMedium
	}
	return MemoryPressure{
		Level:             level,
		UsageRatio:        ratio,
		CurrentBytes:      current,
		Budget:            budget,
		FailedAllocations: failed,
	}
}

// Leak detection

// LeakInfo is one suspected leak: a live allocation scored by age and
// idleness. Scores are heuristic diagnostics, not proof.
type LeakInfo struct {
	Record AllocationRecord
	Age    time.Duration
	Idle   time.Duration
	Score  float64
}

// DetectLeaks scores live allocations older than minAge by age and access
// recency and returns those scoring at least minScore, highest first.
// Matching records are flagged in the ledger.
func (t *MemoryTracker) DetectLeaks(minAge time.Duration, minScore float64) []LeakInfo {
	if t == nil {
		return nil
	}
	now := time.Now()
	var out []LeakInfo

	t.mu.Lock()
	for _, rec := range t.live {
		age := now.Sub(rec.allocatedAt)
		if age < minAge || age <= 0 {
			continue
		}
		idle := now.Sub(time.Unix(0, rec.lastAccess.Load()))
		if idle < 0 {
			idle = 0
		}
		ageScore := 1.0
		if minAge > 0 {
			ageScore = 1 - float64(minAge)/float64(age)
		}
		idleScore := float64(idle) / float64(age)
		if idleScore > 1 {
			idleScore = 1
		}
		score := 0.5*ageScore + 0.5*idleScore
		if score < minScore {
			continue
		}
		rec.leaked = true
		out = append(out, LeakInfo{Record: rec.snapshot(), Age: age, Idle: idle, Score: score})
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b LeakInfo) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if len(out) > 0 {
		t.log.Warn().Int("suspects", len(out)).Msg("leak scan found suspects")
	}
	return out
}
