package core

// Region is a bump-pointer allocator layered over an Arena's slabs.
// Allocations are carved from the head slab; when the head slab is
// exhausted a new one is linked at the front. Truncate releases every slab
// allocated since an earlier mark (mark = an earlier Region.Used()),
// restoring Region.Used() == mark — the "garbage collect per request"
// discipline spec.md mandates: each fiber owns exactly one Region, reset to
// zero at each request boundary.
type Region struct {
	arena *Arena
	head  *regionSlab
	used  int64 // logical bytes allocated since the region was created/Reset
}

// regionSlab links a physical slab with the region's logical byte count at
// the moment the slab was linked in, so Truncate can find exactly which
// slab(s) to release for any earlier mark.
type regionSlab struct {
	s         *slab
	off       int
	startUsed int64 // region.used value when this slab became the head
	next      *regionSlab
}

// NewRegion creates a Region drawing slabs from arena.
func NewRegion(arena *Arena) *Region {
	return &Region{arena: arena}
}

// Alloc returns n contiguous bytes from the region, growing it if needed.
func (r *Region) Alloc(n int) ([]byte, error) {
	if n < 0 {
		panic("core: negative Region.Alloc size")
	}
	if r.head == nil || r.head.off+n > len(r.head.s.buf) {
		s, err := r.arena.SlabGet(n)
		if err != nil {
			return nil, err
		}
		r.head = &regionSlab{s: s, startUsed: r.used, next: r.head}
	}
	b := r.head.s.buf[r.head.off : r.head.off+n : r.head.off+n]
	r.head.off += n
	r.used += int64(n)
	return b, nil
}

// Used returns the number of bytes allocated since the region was created
// or last Reset — usable as a mark for Truncate.
func (r *Region) Used() int64 { return r.used }

// Truncate releases every slab allocated since mark (an earlier value
// returned by Used), restoring Region.Used() == mark.
func (r *Region) Truncate(mark int64) {
	if mark >= r.used {
		return
	}
	for r.head != nil && r.head.startUsed >= mark {
		next := r.head.next
		r.arena.SlabPut(r.head.s)
		r.head = next
	}
	if r.head != nil {
		r.head.off = int(mark - r.head.startUsed)
	}
	r.used = mark
}

// Reset returns every slab the region holds back to the arena and zeroes
// the region's bookkeeping. Called at each request boundary.
func (r *Region) Reset() {
	for rs := r.head; rs != nil; {
		next := rs.next
		r.arena.SlabPut(rs.s)
		rs = next
	}
	r.head = nil
	r.used = 0
}
