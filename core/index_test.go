package core

import (
	"bytes"
	"testing"
)

func mkTuple(fields ...string) *Tuple {
	bs := make([][]byte, len(fields))
	for i, f := range fields {
		bs[i] = []byte(f)
	}
	return NewTuple(bs)
}

func TestHashIndexFindReplace(t *testing.T) {
	idx := NewHashIndex([]int{0}, true)
	t1 := mkTuple("a", "1")

	if err := idx.Replace(nil, t1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if idx.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", idx.Size())
	}
	if got := idx.Find([]byte(mustKey(t, t1, []int{0}))); got != t1 {
		t.Fatal("Find did not return inserted tuple")
	}

	t2 := mkTuple("a", "2")
	if err := idx.Replace(t1, t2); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if idx.Size() != 1 {
		t.Fatalf("Size() after replace = %d, want 1", idx.Size())
	}
	if got := idx.Find([]byte(mustKey(t, t2, []int{0}))); got != t2 {
		t.Fatal("Find did not return replacement tuple")
	}

	if err := idx.Replace(t2, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if idx.Size() != 0 {
		t.Fatalf("Size() after delete = %d, want 0", idx.Size())
	}
}

func mustKey(t *testing.T, tup *Tuple, fields []int) string {
	t.Helper()
	k, ok := keyOf(tup, fields)
	if !ok {
		t.Fatal("keyOf failed")
	}
	return k
}

func TestHashIndexUniqueConflict(t *testing.T) {
	idx := NewHashIndex([]int{0}, true)
	t1 := mkTuple("a", "1")
	t2 := mkTuple("a", "2")
	if err := idx.Replace(nil, t1); err != nil {
		t.Fatalf("insert t1: %v", err)
	}
	if err := idx.Replace(nil, t2); err != ErrKeyConflict {
		t.Fatalf("err = %v, want ErrKeyConflict", err)
	}
	if idx.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 (rejected insert must not land)", idx.Size())
	}
}

func TestHashIndexRandom(t *testing.T) {
	idx := NewHashIndex([]int{0}, true)
	if idx.Random(0) != nil {
		t.Fatal("Random on empty index should return nil")
	}
	t1 := mkTuple("a")
	_ = idx.Replace(nil, t1)
	if got := idx.Random(0); got != t1 {
		t.Fatal("Random on single-entry index should return that entry")
	}
}

func TestHashIndexIterateEQAndALL(t *testing.T) {
	idx := NewHashIndex([]int{0}, true)
	t1 := mkTuple("a")
	t2 := mkTuple("b")
	_ = idx.Replace(nil, t1)
	_ = idx.Replace(nil, t2)

	it := idx.Iterator(IterALL, nil)
	count := 0
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("IterALL yielded %d tuples, want 2", count)
	}

	key, _ := keyOf(t1, []int{0})
	it = idx.Iterator(IterEQ, []byte(key))
	got, ok := it.Next()
	if !ok || got != t1 {
		t.Fatal("IterEQ did not find t1")
	}
	if _, ok := it.Next(); ok {
		t.Fatal("IterEQ should yield exactly one tuple")
	}
}

func TestTreeIndexOrderedRangeIteration(t *testing.T) {
	idx := NewTreeIndex([]int{0}, true)
	values := []string{"c", "a", "e", "b", "d"}
	for _, v := range values {
		tup := mkTuple(v)
		if err := idx.Replace(nil, tup); err != nil {
			t.Fatalf("insert %q: %v", v, err)
		}
	}
	if idx.Size() != len(values) {
		t.Fatalf("Size() = %d, want %d", idx.Size(), len(values))
	}

	all := collect(idx.Iterator(IterALL, nil))
	want := []string{"a", "b", "c", "d", "e"}
	assertFieldOrder(t, all, want)

	keyC := []byte(mustKey(t, mkTuple("c"), []int{0}))

	ge := collect(idx.Iterator(IterGE, keyC))
	assertFieldOrder(t, ge, []string{"c", "d", "e"})

	gt := collect(idx.Iterator(IterGT, keyC))
	assertFieldOrder(t, gt, []string{"d", "e"})

	lt := collect(idx.Iterator(IterLT, keyC))
	assertFieldOrder(t, lt, []string{"a", "b"})

	le := collect(idx.Iterator(IterLE, keyC))
	assertFieldOrder(t, le, []string{"a", "b", "c"})

	eq := collect(idx.Iterator(IterEQ, keyC))
	assertFieldOrder(t, eq, []string{"c"})

	missing := collect(idx.Iterator(IterEQ, []byte(mustKey(t, mkTuple("z"), []int{0}))))
	if len(missing) != 0 {
		t.Fatalf("IterEQ on missing key returned %d tuples, want 0", len(missing))
	}
}

func collect(it Iterator) []*Tuple {
	var out []*Tuple
	for {
		tup, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, tup)
	}
	return out
}

func assertFieldOrder(t *testing.T, tuples []*Tuple, want []string) {
	t.Helper()
	if len(tuples) != len(want) {
		t.Fatalf("got %d tuples, want %d", len(tuples), len(want))
	}
	for i, tup := range tuples {
		f, _ := tup.Field(0)
		if !bytes.Equal(f, []byte(want[i])) {
			t.Fatalf("tuple %d field = %q, want %q", i, f, want[i])
		}
	}
}

func TestTreeIndexUniqueConflict(t *testing.T) {
	idx := NewTreeIndex([]int{0}, true)
	if err := idx.Replace(nil, mkTuple("a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := idx.Replace(nil, mkTuple("a")); err != ErrKeyConflict {
		t.Fatalf("err = %v, want ErrKeyConflict", err)
	}
	if idx.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", idx.Size())
	}
}

func TestTreeIndexReplaceKeepsOrder(t *testing.T) {
	idx := NewTreeIndex([]int{0}, true)
	a := mkTuple("a", "1")
	_ = idx.Replace(nil, a)
	_ = idx.Replace(nil, mkTuple("c", "1"))
	b2 := mkTuple("b", "2")
	if err := idx.Replace(nil, b2); err != nil {
		t.Fatalf("insert b: %v", err)
	}

	all := collect(idx.Iterator(IterALL, nil))
	assertFieldOrder(t, all, []string{"a", "b", "c"})

	replacedB := mkTuple("b", "3")
	if err := idx.Replace(b2, replacedB); err != nil {
		t.Fatalf("replace b: %v", err)
	}
	all = collect(idx.Iterator(IterALL, nil))
	assertFieldOrder(t, all, []string{"a", "b", "c"})
	f, _ := all[1].Field(1)
	if string(f) != "3" {
		t.Fatalf("replaced tuple field = %q, want %q", f, "3")
	}
}

func TestKeyOfCompositeFieldsDontCollide(t *testing.T) {
	t1 := mkTuple("ab", "c")
	t2 := mkTuple("a", "bc")
	k1, ok1 := keyOf(t1, []int{0, 1})
	k2, ok2 := keyOf(t2, []int{0, 1})
	if !ok1 || !ok2 {
		t.Fatal("keyOf failed")
	}
	if k1 == k2 {
		t.Fatal("composite keys for distinct field splits must not collide")
	}
}

func TestKeyOfMissingFieldFails(t *testing.T) {
	tup := mkTuple("a")
	if _, ok := keyOf(tup, []int{5}); ok {
		t.Fatal("keyOf should fail for an out-of-range field index")
	}
}

func TestCompareBytes(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"a", "b", -1},
		{"b", "a", 1},
		{"a", "a", 0},
		{"a", "ab", -1},
		{"ab", "a", 1},
	}
	for _, tc := range cases {
		got := compareBytes([]byte(tc.a), []byte(tc.b))
		sign := func(n int) int {
			switch {
			case n < 0:
				return -1
			case n > 0:
				return 1
			default:
				return 0
			}
		}
		if sign(got) != tc.want {
			t.Fatalf("compareBytes(%q, %q) sign = %d, want %d", tc.a, tc.b, sign(got), tc.want)
		}
	}
}
