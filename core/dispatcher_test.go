package core

import (
	"context"
	"encoding/binary"
	"testing"
)

func newTestServer(t *testing.T, spaces ...*Space) *Server {
	t.Helper()
	srv, err := NewServer(Config{
		WalDir:      t.TempDir(),
		SnapshotDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Bootstrap(spaces); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func oneIndexSpace(t *testing.T, id uint32, name string) *Space {
	t.Helper()
	sp, err := NewSpace(id, name, 0, []IndexSpec{{Kind: IndexHash, Fields: []int{0}, Unique: true}})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return sp
}

// decodeTupleReply parses the [count:u32, tuple...] body every reply
// carrying tuples uses (the mirror of wire.go's EncodeTupleList, with no
// counterpart exported since only tests need to go this direction).
func decodeTupleReply(t *testing.T, body []byte) []*Tuple {
	t.Helper()
	if len(body) < 4 {
		t.Fatalf("reply body too short for count: %v", body)
	}
	count := binary.LittleEndian.Uint32(body[0:4])
	pos := 4
	out := make([]*Tuple, 0, count)
	for i := uint32(0); i < count; i++ {
		tup, tn, err := DecodeWireTuple(body[pos:])
		if err != nil {
			t.Fatalf("DecodeWireTuple: %v", err)
		}
		pos += tn
		out = append(out, tup)
	}
	return out
}

func TestDispatchPing(t *testing.T) {
	srv := newTestServer(t)
	body, err := Dispatch(context.Background(), srv, OpPing, nil)
	if err != nil {
		t.Fatalf("Dispatch(ping): %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("ping reply body = %v, want empty", body)
	}
}

func TestDispatchInsertThenSelect(t *testing.T) {
	sp := oneIndexSpace(t, 1, "widgets")
	srv := newTestServer(t, sp)

	tup := mkTuple("k1", "hello")
	insertBody := InsertRequest{SpaceID: 1, Flags: FlagReturnTuple, Tuple: tup}.Encode(nil)
	reply, err := Dispatch(context.Background(), srv, OpInsert, insertBody)
	if err != nil {
		t.Fatalf("Dispatch(insert): %v", err)
	}
	got := decodeTupleReply(t, reply)
	if len(got) != 1 {
		t.Fatalf("insert reply tuples = %d, want 1", len(got))
	}

	var selBody []byte
	selBody = append(selBody, encodeSelectHeader(1, 0, 0, 0, 1)...)
	selBody = EncodeWireTuple(selBody, mkTuple("k1"))

	selReply, err := Dispatch(context.Background(), srv, OpSelect, selBody)
	if err != nil {
		t.Fatalf("Dispatch(select): %v", err)
	}
	selOut := decodeTupleReply(t, selReply)
	if len(selOut) != 1 {
		t.Fatalf("select reply tuples = %d, want 1", len(selOut))
	}
	f, ok := selOut[0].Field(1)
	if !ok || string(f) != "hello" {
		t.Fatalf("selected tuple field 1 = %q, ok=%v, want %q", f, ok, "hello")
	}
}

// TestDispatchDuplicateInsertReturnsNodeFound matches spec.md §8's
// scenario 3: inserting a key that already exists with the ADD flag set
// must fail with ret_code 0x3702 (NODE_FOUND), not silently overwrite.
func TestDispatchDuplicateInsertReturnsNodeFound(t *testing.T) {
	sp := oneIndexSpace(t, 1, "widgets")
	srv := newTestServer(t, sp)

	tup := mkTuple("dup", "first")
	body := InsertRequest{SpaceID: 1, Flags: FlagAdd, Tuple: tup}.Encode(nil)
	if _, err := Dispatch(context.Background(), srv, OpInsert, body); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	again := InsertRequest{SpaceID: 1, Flags: FlagAdd, Tuple: mkTuple("dup", "second")}.Encode(nil)
	_, err := Dispatch(context.Background(), srv, OpInsert, again)
	if err == nil {
		t.Fatal("expected error on duplicate ADD insert")
	}
	if got := RetCode(err); got != 0x3702 {
		t.Fatalf("RetCode = %#x, want 0x3702 (NODE_FOUND)", got)
	}
}

func TestDispatchUnknownOpcodeReturnsUnsupported(t *testing.T) {
	srv := newTestServer(t)
	_, err := Dispatch(context.Background(), srv, Opcode(999), nil)
	if err == nil {
		t.Fatal("expected error for unknown opcode")
	}
	pe, ok := err.(*ProtoError)
	if !ok || pe.Ordinal != ErrUnsupported {
		t.Fatalf("err = %v, want ProtoError{ErrUnsupported}", err)
	}
}

func TestDispatchSelectNoSuchSpace(t *testing.T) {
	srv := newTestServer(t)
	var selBody []byte
	selBody = append(selBody, encodeSelectHeader(99, 0, 0, 0, 0)...)
	_, err := Dispatch(context.Background(), srv, OpSelect, selBody)
	if err == nil {
		t.Fatal("expected error selecting from an unregistered space")
	}
	if got := RetCode(err); got != uint32(ErrSpaceNoSuchSpace) {
		t.Fatalf("RetCode = %#x, want %#x", got, uint32(ErrSpaceNoSuchSpace))
	}
}

func encodeSelectHeader(spaceID, indexNo, offset, limit, count uint32) []byte {
	var hdr [20]byte
	binary.LittleEndian.PutUint32(hdr[0:4], spaceID)
	binary.LittleEndian.PutUint32(hdr[4:8], indexNo)
	binary.LittleEndian.PutUint32(hdr[8:12], offset)
	binary.LittleEndian.PutUint32(hdr[12:16], limit)
	binary.LittleEndian.PutUint32(hdr[16:20], count)
	return hdr[:]
}
