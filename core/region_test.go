package core

import "testing"

func TestRegionAllocWithinSingleSlab(t *testing.T) {
	r := NewRegion(NewArena(4096))
	b1, err := r.Alloc(100)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	b2, err := r.Alloc(50)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if r.Used() != 150 {
		t.Fatalf("Used() = %d, want 150", r.Used())
	}
	// distinct, non-overlapping windows into the same backing slab.
	b1[0] = 0xaa
	b2[0] = 0xbb
	if b1[0] != 0xaa || b2[0] != 0xbb {
		t.Fatal("allocations overlap")
	}
}

func TestRegionAllocAcrossSlabBoundary(t *testing.T) {
	r := NewRegion(NewArena(64))
	first, err := r.Alloc(40)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	second, err := r.Alloc(40) // forces a new slab since 40+40 > 64
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if r.Used() != 80 {
		t.Fatalf("Used() = %d, want 80", r.Used())
	}
	first[0] = 1
	second[0] = 2
	if first[0] != 1 || second[0] != 2 {
		t.Fatal("cross-slab allocations overlap")
	}
}

func TestRegionTruncateToMark(t *testing.T) {
	r := NewRegion(NewArena(4096))
	_, _ = r.Alloc(100)
	mark := r.Used()
	_, _ = r.Alloc(200)
	if r.Used() != mark+200 {
		t.Fatalf("Used() = %d, want %d", r.Used(), mark+200)
	}
	r.Truncate(mark)
	if r.Used() != mark {
		t.Fatalf("Used() after Truncate = %d, want %d", r.Used(), mark)
	}
	// allocating again from the same mark must succeed and not panic.
	if _, err := r.Alloc(10); err != nil {
		t.Fatalf("Alloc after Truncate: %v", err)
	}
}

func TestRegionTruncateReleasesSlabsAcrossBoundary(t *testing.T) {
	a := NewArena(64)
	r := NewRegion(a)
	mark := r.Used()
	_, _ = r.Alloc(40)
	_, _ = r.Alloc(40) // new slab
	if a.Used() == 0 {
		t.Fatal("expected arena to report in-use bytes")
	}
	r.Truncate(mark)
	if r.Used() != mark {
		t.Fatalf("Used() = %d, want %d", r.Used(), mark)
	}
}

func TestRegionTruncateNoopWhenMarkAheadOfUsed(t *testing.T) {
	r := NewRegion(NewArena(4096))
	_, _ = r.Alloc(10)
	before := r.Used()
	r.Truncate(before + 100) // mark >= used: no-op per doc comment
	if r.Used() != before {
		t.Fatalf("Used() = %d, want %d", r.Used(), before)
	}
}

func TestRegionReset(t *testing.T) {
	a := NewArena(4096)
	r := NewRegion(a)
	_, _ = r.Alloc(500)
	if r.Used() == 0 {
		t.Fatal("expected non-zero Used() before Reset")
	}
	r.Reset()
	if r.Used() != 0 {
		t.Fatalf("Used() after Reset = %d, want 0", r.Used())
	}
	if _, err := r.Alloc(1); err != nil {
		t.Fatalf("Alloc after Reset: %v", err)
	}
}

func TestRegionAllocPropagatesOutOfMemory(t *testing.T) {
	a := NewArena(64)
	a.MaxBytes = 64
	r := NewRegion(a)
	if _, err := r.Alloc(64); err != nil {
		t.Fatalf("first Alloc: %v", err)
	}
	if _, err := r.Alloc(1); err != ErrOutOfMemory {
		t.Fatalf("err = %v, want ErrOutOfMemory", err)
	}
}
