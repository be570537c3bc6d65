package stockpile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func trackAlloc(t *MemoryTracker, addr uintptr, size int, cat AllocationCategory) {
	t.TrackAllocation(addr, size, size, 8, cat, AllocatorCustom, "test", 1, "")
}

func TestTrackerLedger(t *testing.T) {
	tracker := NewMemoryTracker(DefaultTrackerConfig())

	trackAlloc(tracker, 0x1000, 100, CategoryECSCore)
	trackAlloc(tracker, 0x2000, 200, CategoryECSCore)

	stats := tracker.GlobalStats()
	if stats.CurrentAllocations != 2 || stats.CurrentAllocated != 300 {
		t.Fatalf("unexpected global stats: %+v", stats)
	}
	if stats.PeakAllocated != 300 {
		t.Fatalf("expected peak of 300, got %d", stats.PeakAllocated)
	}

	tracker.TrackDeallocation(0x1000)
	stats = tracker.GlobalStats()
	if stats.CurrentAllocations != 1 || stats.CurrentAllocated != 200 {
		t.Fatalf("deallocation not applied: %+v", stats)
	}
	if stats.PeakAllocated != 300 {
		t.Fatal("peak must not shrink on deallocation")
	}

	// Unknown addresses are ignored, so current = allocs - frees holds.
	tracker.TrackDeallocation(0xDEAD)
	if got := tracker.GlobalStats().CurrentAllocations; got != 1 {
		t.Fatalf("untracked deallocation changed the ledger: %d", got)
	}
}

func TestTrackerDisabled(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.Enabled = false
	tracker := NewMemoryTracker(cfg)

	trackAlloc(tracker, 0x1000, 64, CategoryECSCore)
	if got := tracker.GlobalStats().CurrentAllocations; got != 0 {
		t.Fatalf("disabled tracker recorded %d allocations", got)
	}

	tracker.Enable()
	trackAlloc(tracker, 0x2000, 64, CategoryECSCore)
	if got := tracker.GlobalStats().CurrentAllocations; got != 1 {
		t.Fatalf("enabled tracker should record, got %d", got)
	}

	// A nil tracker accepts every call.
	var none *MemoryTracker
	trackAlloc(none, 0x3000, 64, CategoryECSCore)
	none.TrackDeallocation(0x3000)
	if none.Enabled() {
		t.Fatal("nil tracker must report disabled")
	}
}

func TestTrackerCategories(t *testing.T) {
	tracker := NewMemoryTracker(DefaultTrackerConfig())

	trackAlloc(tracker, 0x1000, 100, CategoryECSCore)
	trackAlloc(tracker, 0x2000, 50, CategoryPhysics)
	trackAlloc(tracker, 0x3000, 50, CategoryPhysics)

	ecs := tracker.CategoryStats(CategoryECSCore)
	if ecs.CurrentAllocations != 1 || ecs.CurrentAllocated != 100 {
		t.Fatalf("unexpected ECS stats: %+v", ecs)
	}
	phys := tracker.CategoryStats(CategoryPhysics)
	if phys.CurrentAllocations != 2 || phys.CurrentAllocated != 100 {
		t.Fatalf("unexpected physics stats: %+v", phys)
	}

	// Category sums equal the global totals.
	global := tracker.GlobalStats()
	sum := 0
	for _, cat := range global.ByCategory {
		sum += cat.CurrentAllocated
	}
	if sum != global.CurrentAllocated {
		t.Fatalf("category sum %d != global %d", sum, global.CurrentAllocated)
	}
}

func TestTrackerLedgerBound(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MaxTrackedAllocations = 1
	tracker := NewMemoryTracker(cfg)

	trackAlloc(tracker, 0x1000, 10, CategoryECSCore)
	trackAlloc(tracker, 0x2000, 10, CategoryECSCore)

	if got := len(tracker.ActiveAllocations()); got != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", got)
	}
	stats := tracker.GlobalStats()
	// A skipped record never touches the aggregates, so current counts stay
	// equal to admitted allocations minus deallocations.
	if stats.CurrentAllocations != 1 || stats.CurrentAllocated != 10 {
		t.Fatalf("skipped record leaked into aggregates: %+v", stats)
	}
	if stats.SkippedRecords != 1 {
		t.Fatalf("expected 1 skipped record, got %d", stats.SkippedRecords)
	}

	// Freeing everything returns the aggregates to zero even though one
	// allocation was never admitted.
	tracker.TrackDeallocation(0x1000)
	tracker.TrackDeallocation(0x2000)
	stats = tracker.GlobalStats()
	if stats.CurrentAllocations != 0 || stats.CurrentAllocated != 0 {
		t.Fatalf("aggregates drifted after full free: %+v", stats)
	}
}

func TestTrackerSkippedRecordsLeaveNoHeat(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MaxTrackedAllocations = 1
	tracker := NewMemoryTracker(cfg)

	trackAlloc(tracker, 0x1000, 64, CategoryECSCore)
	for i := uintptr(0); i < 32; i++ {
		trackAlloc(tracker, 0x100000+i*0x10000, 64, CategoryECSCore)
	}

	// Only the admitted allocation may contribute a heat region.
	if got := len(tracker.heat.regions); got != 1 {
		t.Fatalf("skipped records grew the heat map: %d regions", got)
	}
}

func TestTrackerSizeDistribution(t *testing.T) {
	tracker := NewMemoryTracker(DefaultTrackerConfig())

	trackAlloc(tracker, 0x1000, 1, CategoryECSCore)    // bucket [1,1]
	trackAlloc(tracker, 0x2000, 100, CategoryECSCore)  // bucket (64,128]
	trackAlloc(tracker, 0x3000, 128, CategoryECSCore)  // same bucket
	trackAlloc(tracker, 0x4000, 1024, CategoryECSCore) // bucket (512,1024]

	buckets := tracker.SizeDistribution()
	if len(buckets) != 3 {
		t.Fatalf("expected 3 non-empty buckets, got %d: %+v", len(buckets), buckets)
	}
	var total uint64
	for _, b := range buckets {
		total += b.Allocations
		if b.MaxSize == 128 && b.Allocations != 2 {
			t.Fatalf("expected 2 allocations in the 128 bucket, got %d", b.Allocations)
		}
	}
	if total != 4 {
		t.Fatalf("expected 4 allocations across buckets, got %d", total)
	}
}

func TestTrackerDeactivateRange(t *testing.T) {
	tracker := NewMemoryTracker(DefaultTrackerConfig())

	trackAlloc(tracker, 0x1000, 0x10, CategoryTemporary)
	trackAlloc(tracker, 0x1100, 0x10, CategoryTemporary)
	trackAlloc(tracker, 0x5000, 0x10, CategoryTemporary)

	tracker.DeactivateRange(0x1000, 0x2000)

	stats := tracker.CategoryStats(CategoryTemporary)
	if stats.CurrentAllocations != 1 {
		t.Fatalf("expected 1 surviving allocation, got %d", stats.CurrentAllocations)
	}
	records := tracker.ActiveAllocations()
	if len(records) != 1 || records[0].Address != 0x5000 {
		t.Fatalf("wrong survivor: %+v", records)
	}
}

func TestTrackerAccessAndHeat(t *testing.T) {
	tracker := NewMemoryTracker(DefaultTrackerConfig())

	trackAlloc(tracker, 0x8000, 64, CategoryComponents)
	tracker.TrackAccess(0x8010, 8, false)
	tracker.TrackAccess(0x8020, 8, true)

	records := tracker.ActiveAllocations()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	// Interior addresses do not resolve to the ledger entry, but the heat
	// map covers the whole region.
	hot := tracker.HotRegions(0.5)
	if len(hot) != 1 {
		t.Fatalf("expected 1 hot region, got %d", len(hot))
	}
	if hot[0].Accesses != 2 {
		t.Fatalf("expected 2 accesses, got %d", hot[0].Accesses)
	}
}

func TestTrackerPressure(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MemoryBudget = 1000
	tracker := NewMemoryTracker(cfg)

	if p := tracker.Pressure(); p.Level != PressureLow {
		t.Fatalf("expected low pressure, got %v", p.Level)
	}
	trackAlloc(tracker, 0x1000, 500, CategoryECSCore)
	if p := tracker.Pressure(); p.Level != PressureMedium {
		t.Fatalf("expected medium pressure, got %v", p.Level)
	}
	trackAlloc(tracker, 0x2000, 300, CategoryECSCore)
	if p := tracker.Pressure(); p.Level != PressureHigh {
		t.Fatalf("expected high pressure, got %v", p.Level)
	}
	trackAlloc(tracker, 0x3000, 150, CategoryECSCore)
	if p := tracker.Pressure(); p.Level != PressureCritical {
		t.Fatalf("expected critical pressure, got %v", p.Level)
	}

	// Any allocation failure forces critical regardless of usage.
	fresh := NewMemoryTracker(cfg)
	fresh.TrackFailedAllocation(CategoryECSCore, AllocatorArena, "a", 1)
	if p := fresh.Pressure(); p.Level != PressureCritical {
		t.Fatalf("expected critical pressure after failure, got %v", p.Level)
	}
}

func TestDetectLeaks(t *testing.T) {
	tracker := NewMemoryTracker(DefaultTrackerConfig())

	trackAlloc(tracker, 0x1000, 256, CategoryECSCore)
	time.Sleep(2 * time.Millisecond)

	leaks := tracker.DetectLeaks(time.Millisecond, 0.1)
	if len(leaks) != 1 {
		t.Fatalf("expected 1 suspect, got %d", len(leaks))
	}
	if leaks[0].Score <= 0 || leaks[0].Score > 1 {
		t.Fatalf("score out of range: %f", leaks[0].Score)
	}
	if !tracker.ActiveAllocations()[0].Leaked {
		t.Fatal("suspect should be flagged in the ledger")
	}

	// Young allocations are never suspects.
	if leaks := tracker.DetectLeaks(time.Hour, 0); len(leaks) != 0 {
		t.Fatalf("expected no suspects under a large min age, got %d", len(leaks))
	}
}

func TestTrackerReset(t *testing.T) {
	tracker := NewMemoryTracker(DefaultTrackerConfig())
	trackAlloc(tracker, 0x1000, 64, CategoryECSCore)

	tracker.Reset()
	stats := tracker.GlobalStats()
	if stats.CurrentAllocations != 0 || stats.TotalAllocationsEver != 0 {
		t.Fatalf("reset left state behind: %+v", stats)
	}
	if !tracker.Enabled() {
		t.Fatal("reset must keep the enabled state")
	}
}

func TestTrackerExport(t *testing.T) {
	tracker := NewMemoryTracker(DefaultTrackerConfig())
	trackAlloc(tracker, 0x1000, 64, CategoryECSCore)
	trackAlloc(tracker, 0x2000, 128, CategoryPhysics)
	tracker.TrackDeallocation(0x1000)

	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "report.json")
	if err := tracker.ExportJSON(jsonPath); err != nil {
		t.Fatalf("exporting JSON: %v", err)
	}
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var report map[string]any
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if _, ok := report["categories"]; !ok {
		t.Fatalf("report lacks a categories section: %v", report)
	}
	if got, ok := report["current_allocations"].(float64); !ok || got != 1 {
		t.Fatalf("report misstates current allocations: %v", report["current_allocations"])
	}

	csvPath := filepath.Join(dir, "timeline.csv")
	if err := tracker.ExportTimelineCSV(csvPath); err != nil {
		t.Fatalf("exporting CSV: %v", err)
	}
	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("timeline CSV missing or empty: %v", err)
	}
}

func TestDefaultTrackerLifecycle(t *testing.T) {
	tracker := InitializeTracking(DefaultTrackerConfig())
	if tracker == nil || DefaultTracker() != tracker {
		t.Fatal("initialize must install the default tracker")
	}
	trackAlloc(DefaultTracker(), 0x1000, 64, CategoryDebug)

	ShutdownTracking()
	if DefaultTracker() != nil {
		t.Fatal("shutdown must clear the default tracker")
	}
}
