package core

import "testing"

func newTestSpace(t *testing.T, specs ...IndexSpec) *Space {
	t.Helper()
	if len(specs) == 0 {
		specs = []IndexSpec{{Kind: IndexHash, Fields: []int{0}, Unique: true}}
	}
	sp, err := NewSpace(1, "test", 0, specs)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return sp
}

func TestNewSpaceRequiresUniquePrimary(t *testing.T) {
	_, err := NewSpace(1, "bad", 0, []IndexSpec{{Kind: IndexHash, Fields: []int{0}, Unique: false}})
	if err == nil {
		t.Fatal("expected error for non-unique primary index")
	}
}

func TestNewSpaceRequiresAtLeastOneIndex(t *testing.T) {
	_, err := NewSpace(1, "empty", 0, nil)
	if err == nil {
		t.Fatal("expected error for zero indexes")
	}
}

func TestNewSpaceRejectsTooManyIndexes(t *testing.T) {
	specs := make([]IndexSpec, maxIndexesPerSpace+1)
	specs[0] = IndexSpec{Kind: IndexHash, Fields: []int{0}, Unique: true}
	for i := 1; i < len(specs); i++ {
		specs[i] = IndexSpec{Kind: IndexHash, Fields: []int{0}, Unique: false}
	}
	_, err := NewSpace(1, "toomany", 0, specs)
	if err == nil {
		t.Fatal("expected error exceeding maxIndexesPerSpace")
	}
}

func TestSpaceIndexAccessors(t *testing.T) {
	sp := newTestSpace(t,
		IndexSpec{Kind: IndexHash, Fields: []int{0}, Unique: true},
		IndexSpec{Kind: IndexTree, Fields: []int{1}, Unique: false},
	)
	if sp.IndexCount() != 2 {
		t.Fatalf("IndexCount() = %d, want 2", sp.IndexCount())
	}
	if sp.Primary() != sp.Index(0) {
		t.Fatal("Primary() should equal Index(0)")
	}
	if sp.Index(2) != nil {
		t.Fatal("Index(2) should be nil, only 2 indexes configured")
	}
	if sp.Index(-1) != nil {
		t.Fatal("Index(-1) should be nil")
	}
}

func TestSpaceCheckArity(t *testing.T) {
	sp, err := NewSpace(1, "fixed", 2, []IndexSpec{{Kind: IndexHash, Fields: []int{0}, Unique: true}})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	if err := sp.CheckArity(mkTuple("a", "b")); err != nil {
		t.Fatalf("CheckArity should accept matching arity: %v", err)
	}
	if err := sp.CheckArity(mkTuple("a")); err == nil {
		t.Fatal("CheckArity should reject mismatched arity")
	}

	unchecked := newTestSpace(t)
	if err := unchecked.CheckArity(mkTuple("a", "b", "c")); err != nil {
		t.Fatalf("zero arity should accept any field count: %v", err)
	}
}

func TestSpaceReplaceInsertAndDelete(t *testing.T) {
	sp := newTestSpace(t,
		IndexSpec{Kind: IndexHash, Fields: []int{0}, Unique: true},
		IndexSpec{Kind: IndexHash, Fields: []int{1}, Unique: true},
	)
	t1 := mkTuple("a", "x")
	if err := sp.Replace(nil, t1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if sp.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", sp.Size())
	}
	if sp.Index(1).Size() != 1 {
		t.Fatalf("secondary index size = %d, want 1", sp.Index(1).Size())
	}

	if err := sp.Replace(t1, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if sp.Size() != 0 {
		t.Fatalf("Size() after delete = %d, want 0", sp.Size())
	}
	if sp.Index(1).Size() != 0 {
		t.Fatalf("secondary index size after delete = %d, want 0", sp.Index(1).Size())
	}
}

func TestSpaceReplaceRollsBackOnSecondaryConflict(t *testing.T) {
	sp := newTestSpace(t,
		IndexSpec{Kind: IndexHash, Fields: []int{0}, Unique: true},
		IndexSpec{Kind: IndexHash, Fields: []int{1}, Unique: true},
	)
	existing := mkTuple("a", "dup")
	if err := sp.Replace(nil, existing); err != nil {
		t.Fatalf("insert existing: %v", err)
	}

	conflicting := mkTuple("b", "dup") // distinct primary key, colliding secondary key
	err := sp.Replace(nil, conflicting)
	if err != ErrKeyConflict {
		t.Fatalf("err = %v, want ErrKeyConflict", err)
	}

	// the primary index's speculative insert must have been rolled back:
	// size stays at 1 and the primary key "b" is absent.
	if sp.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 after rollback", sp.Size())
	}
	key, _ := keyOf(conflicting, []int{0})
	if sp.Primary().Find([]byte(key)) != nil {
		t.Fatal("primary index should not retain the rolled-back tuple")
	}
}
