package core

// Space owns a primary index (slot 0) plus up to maxIndexesPerSpace-1
// secondary indexes, per spec.md §3's "a space holds a small constant
// number of indexes." A Space is the unit Insert/Replace/Delete/Update
// operate on: every index is kept consistent with every other by holding
// the space's structural lock across the whole Replace fan-out.

import (
	"fmt"
	"sync"
)

// maxIndexesPerSpace bounds the index slots a Space may hold, including
// the mandatory primary index at slot 0.
const maxIndexesPerSpace = 10

// IndexKind selects the concrete Index implementation a Space slot uses.
type IndexKind int

const (
	// IndexHash backs EQ/REQ/ALL lookups with a Go map.
	IndexHash IndexKind = iota
	// IndexTree backs ordered range iteration with a sorted slice.
	IndexTree
)

// IndexSpec describes one index slot when constructing a Space.
type IndexSpec struct {
	Kind   IndexKind
	Fields []int
	Unique bool
}

// Space is a named collection of tuples visible through 1..10 indexes that
// all reference the same underlying tuples.
type Space struct {
	mu      sync.RWMutex
	ID      uint32
	Name    string
	indexes [maxIndexesPerSpace]Index
	nidx    int
	arity   int // 0 means variable arity
}

// NewSpace constructs a Space with the given primary index spec and any
// secondary index specs, in order. specs[0] is always the primary index.
func NewSpace(id uint32, name string, arity int, specs []IndexSpec) (*Space, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("core: space %q needs at least a primary index", name)
	}
	if len(specs) > maxIndexesPerSpace {
		return nil, fmt.Errorf("core: space %q requests %d indexes, max is %d", name, len(specs), maxIndexesPerSpace)
	}
	if !specs[0].Unique {
		return nil, fmt.Errorf("core: space %q primary index must be unique", name)
	}
	sp := &Space{ID: id, Name: name, arity: arity}
	for _, spec := range specs {
		sp.addIndexLocked(spec)
	}
	return sp, nil
}

func (s *Space) addIndexLocked(spec IndexSpec) {
	var idx Index
	switch spec.Kind {
	case IndexTree:
		idx = NewTreeIndex(spec.Fields, spec.Unique)
	default:
		idx = NewHashIndex(spec.Fields, spec.Unique)
	}
	s.indexes[s.nidx] = idx
	s.nidx++
}

// Index returns the index at slot n, or nil if n is out of range.
func (s *Space) Index(n int) Index {
	if n < 0 || n >= s.nidx {
		return nil
	}
	return s.indexes[n]
}

// IndexCount returns the number of indexes configured on this space.
func (s *Space) IndexCount() int { return s.nidx }

// Primary is a convenience accessor for Index(0).
func (s *Space) Primary() Index { return s.indexes[0] }

// CheckArity validates a candidate tuple's field count against the space's
// configured arity (0 == unchecked).
func (s *Space) CheckArity(t *Tuple) error {
	if s.arity != 0 && t.FieldCount() != s.arity {
		return fmt.Errorf("core: space %q expects arity %d, got %d", s.Name, s.arity, t.FieldCount())
	}
	return nil
}

// Replace atomically swaps old for next across every index slot. If any
// secondary index rejects the replacement (key conflict), every index
// already updated in this call is rolled back and the original error is
// returned — the all-or-nothing guarantee spec.md §4.6 requires of a
// single uncommitted tuple replacement.
func (s *Space) Replace(old, next *Tuple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := 0
	for i := 0; i < s.nidx; i++ {
		if err := s.indexes[i].Replace(old, next); err != nil {
			for j := 0; j < applied; j++ {
				_ = s.indexes[j].Replace(next, old)
			}
			return err
		}
		applied++
	}
	return nil
}

// Size returns the number of tuples in the primary index.
func (s *Space) Size() int {
	return s.Primary().Size()
}
