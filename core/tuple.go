package core

// Tuple — a packed, reference-counted array of variable-length fields,
// prefixed by a BER-varint length per field (spec.md §3/§4.4). Tuples are
// allocated from a dedicated allocator distinct from any fiber's Region:
// their lifetime is tied to index membership, which can outlive the
// request that created them.

import (
	"sync"
	"sync/atomic"
)

// TupleFlag is the small flag set a tuple carries.
type TupleFlag uint16

const (
	// FlagWalWait marks a tuple whose owning transaction has staged it into
	// an index but not yet received a WAL acknowledgement.
	FlagWalWait TupleFlag = 1 << iota
	// FlagGhost marks a tuple inserted by an uncommitted transaction,
	// visible only to its own inserter.
	FlagGhost
)

// Tuple is a refcounted, flag-carrying array of fields. Field boundaries are
// cached alongside the raw encoded bytes so Field(i) is O(1).
type Tuple struct {
	refs    int32
	flags   uint32 // atomic access via atomic.*(&t.flags)
	data    []byte
	offsets []uint32 // offsets[i]..offsets[i+1] bounds field i; len == fieldCount+1
	mu      sync.Mutex
}

// NewTuple builds a Tuple from a slice of fields, with refs=1 and no flags.
func NewTuple(fields [][]byte) *Tuple {
	offsets := make([]uint32, len(fields)+1)
	var total uint32
	for i, f := range fields {
		offsets[i] = total
		total += uint32(len(f))
	}
	offsets[len(fields)] = total
	data := make([]byte, 0, total)
	for _, f := range fields {
		data = append(data, f...)
	}
	return &Tuple{refs: 1, data: data, offsets: offsets}
}

// FieldCount returns the number of fields in the tuple.
func (t *Tuple) FieldCount() int { return len(t.offsets) - 1 }

// BSize returns the total byte size of the tuple's field payloads.
func (t *Tuple) BSize() int {
	if len(t.offsets) == 0 {
		return 0
	}
	return int(t.offsets[len(t.offsets)-1])
}

// Field returns the i-th field's bytes, or nil, false if i is out of range.
func (t *Tuple) Field(i int) ([]byte, bool) {
	if i < 0 || i >= t.FieldCount() {
		return nil, false
	}
	return t.data[t.offsets[i]:t.offsets[i+1]], true
}

// Ref adjusts the tuple's reference count by delta. When the count reaches
// zero the tuple's backing memory is eligible for collection — in Go this
// simply means dropping the last pointer to it; Ref(-1) panics if it would
// take the count negative, signalling a double-release bug upstream.
func (t *Tuple) Ref(delta int32) int32 {
	n := atomic.AddInt32(&t.refs, delta)
	if n < 0 {
		panic("core: tuple refcount went negative")
	}
	return n
}

// Refs returns the current reference count.
func (t *Tuple) Refs() int32 { return atomic.LoadInt32(&t.refs) }

// HasFlag reports whether the given flag is set.
func (t *Tuple) HasFlag(f TupleFlag) bool {
	return atomic.LoadUint32(&t.flags)&uint32(f) != 0
}

// SetFlag sets f.
func (t *Tuple) SetFlag(f TupleFlag) {
	for {
		old := atomic.LoadUint32(&t.flags)
		if old&uint32(f) != 0 {
			return
		}
		if atomic.CompareAndSwapUint32(&t.flags, old, old|uint32(f)) {
			return
		}
	}
}

// ClearFlag clears f.
func (t *Tuple) ClearFlag(f TupleFlag) {
	for {
		old := atomic.LoadUint32(&t.flags)
		if old&uint32(f) == 0 {
			return
		}
		if atomic.CompareAndSwapUint32(&t.flags, old, old&^uint32(f)) {
			return
		}
	}
}

// Encode appends the tuple's wire representation — a BER-varint field
// count, then for each field a BER-varint byte length followed by the raw
// bytes — to dst, returning the extended slice.
func (t *Tuple) Encode(dst []byte) []byte {
	dst = WriteVarint(dst, uint32(t.FieldCount()))
	for i := 0; i < t.FieldCount(); i++ {
		f, _ := t.Field(i)
		dst = WriteVarint(dst, uint32(len(f)))
		dst = append(dst, f...)
	}
	return dst
}

// DecodeTuple parses a tuple from p (spec.md §3's serialized form) and
// returns it along with the number of bytes consumed.
func DecodeTuple(p []byte) (*Tuple, int, error) {
	count, n, err := ReadVarint(p)
	if err != nil {
		return nil, 0, err
	}
	pos := n
	fields := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		flen, fn, err := ReadVarint(p[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += fn
		if pos+int(flen) > len(p) {
			return nil, 0, ErrBufferTooShort
		}
		fields = append(fields, p[pos:pos+int(flen)])
		pos += int(flen)
	}
	return NewTuple(fields), pos, nil
}
