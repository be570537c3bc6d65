package stockpile

import (
	"errors"
	"testing"
)

func TestPoolAllocateDeallocate(t *testing.T) {
	pool, err := NewPoolAllocator("test", 64, 4)
	if err != nil {
		t.Fatalf("creating pool: %v", err)
	}

	block, ok := pool.Allocate()
	if !ok {
		t.Fatal("allocating from a fresh pool")
	}
	b, ok := pool.BlockBytes(block)
	if !ok || len(b) != 64 {
		t.Fatalf("expected a 64-byte block, got len=%d ok=%v", len(b), ok)
	}
	if pool.InUse() != 1 || pool.Available() != 3 {
		t.Fatalf("unexpected occupancy: in use %d, available %d", pool.InUse(), pool.Available())
	}

	if err := pool.Deallocate(block); err != nil {
		t.Fatalf("deallocating: %v", err)
	}
	if pool.InUse() != 0 {
		t.Fatalf("expected empty pool, got %d in use", pool.InUse())
	}
}

func TestPoolExhaustionAndReuse(t *testing.T) {
	pool, err := NewPoolAllocator("test", 32, 2)
	if err != nil {
		t.Fatalf("creating pool: %v", err)
	}

	a, _ := pool.Allocate()
	b, _ := pool.Allocate()
	if _, ok := pool.Allocate(); ok {
		t.Fatal("exhausted pool must fail to allocate")
	}

	if err := pool.Deallocate(a); err != nil {
		t.Fatalf("deallocating: %v", err)
	}
	c, ok := pool.Allocate()
	if !ok {
		t.Fatal("freed block should be reusable")
	}
	if c.index != a.index {
		t.Fatalf("expected block %d to be reused, got %d", a.index, c.index)
	}
	if c.generation == a.generation {
		t.Fatal("reused block must carry a new generation")
	}
	_ = b
}

func TestPoolDoubleFree(t *testing.T) {
	pool, err := NewPoolAllocator("test", 32, 2)
	if err != nil {
		t.Fatalf("creating pool: %v", err)
	}

	block, _ := pool.Allocate()
	if err := pool.Deallocate(block); err != nil {
		t.Fatalf("first deallocation: %v", err)
	}
	if err := pool.Deallocate(block); !errors.Is(err, ErrDoubleFree) {
		t.Fatalf("expected ErrDoubleFree, got %v", err)
	}

	// A stale handle to a reallocated slot is also a double free.
	fresh, _ := pool.Allocate()
	if err := pool.Deallocate(block); !errors.Is(err, ErrDoubleFree) {
		t.Fatalf("expected ErrDoubleFree on stale handle, got %v", err)
	}
	if err := pool.Deallocate(fresh); err != nil {
		t.Fatalf("current handle must still deallocate: %v", err)
	}

	if m := pool.Metrics(); m.DoubleFrees != 2 {
		t.Fatalf("expected 2 recorded double frees, got %d", m.DoubleFrees)
	}
}

func TestPoolForeignBlock(t *testing.T) {
	pool, err := NewPoolAllocator("test", 32, 2)
	if err != nil {
		t.Fatalf("creating pool: %v", err)
	}

	if err := pool.Deallocate(PoolBlock{index: 99, generation: 1}); !errors.Is(err, ErrForeignBlock) {
		t.Fatalf("expected ErrForeignBlock, got %v", err)
	}

	foreign := make([]byte, 32)
	if pool.Owns(foreign) {
		t.Fatal("pool must not claim foreign memory")
	}
	if err := pool.DeallocateBytes(foreign); !errors.Is(err, ErrForeignBlock) {
		t.Fatalf("expected ErrForeignBlock, got %v", err)
	}
}

func TestPoolDeallocateBytes(t *testing.T) {
	pool, err := NewPoolAllocator("test", 32, 4)
	if err != nil {
		t.Fatalf("creating pool: %v", err)
	}

	block, _ := pool.Allocate()
	b, _ := pool.BlockBytes(block)
	if !pool.Owns(b) {
		t.Fatal("pool must recognize its own block")
	}
	if err := pool.DeallocateBytes(b); err != nil {
		t.Fatalf("deallocating by bytes: %v", err)
	}
	if pool.InUse() != 0 {
		t.Fatalf("expected empty pool, got %d in use", pool.InUse())
	}
}

func TestPoolPoison(t *testing.T) {
	pool, err := NewPoolAllocator("test", 16, 1, WithPoolPoison())
	if err != nil {
		t.Fatalf("creating pool: %v", err)
	}

	block, _ := pool.Allocate()
	b, _ := pool.BlockBytes(block)
	b[0] = 0x42
	if err := pool.Deallocate(block); err != nil {
		t.Fatalf("deallocating: %v", err)
	}

	again, _ := pool.Allocate()
	b2, _ := pool.BlockBytes(again)
	if b2[0] != 0xDD {
		t.Fatalf("expected poison fill in recycled block, got %#x", b2[0])
	}
}

func TestPoolReportsToTracker(t *testing.T) {
	tracker := NewMemoryTracker(DefaultTrackerConfig())
	pool, err := NewPoolAllocator("tracked", 64, 2, WithPoolTracker(tracker, CategoryECSCore))
	if err != nil {
		t.Fatalf("creating pool: %v", err)
	}

	a, _ := pool.Allocate()
	pool.Allocate()

	stats := tracker.CategoryStats(CategoryECSCore)
	if stats.CurrentAllocations != 2 || stats.CurrentAllocated != 128 {
		t.Fatalf("unexpected tracked usage: %+v", stats)
	}

	if err := pool.Deallocate(a); err != nil {
		t.Fatalf("deallocating: %v", err)
	}
	stats = tracker.CategoryStats(CategoryECSCore)
	if stats.CurrentAllocations != 1 || stats.CurrentAllocated != 64 {
		t.Fatalf("deallocation not reflected: %+v", stats)
	}
}
