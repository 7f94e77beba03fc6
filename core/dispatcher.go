package core

// dispatcher.go – opcode-to-handler binding and the concrete request
// handlers for INSERT/SELECT/UPDATE/DELETE/CALL/PING (spec.md §4.3/§4.4).
// Two tables are kept — rw (master) and ro (replica, spec.md §4.10's
// ErrNonMaster rule) — and swapped atomically on role change so an
// in-flight Dispatch call never sees a half-updated table.

import (
	"context"
	"fmt"
)

// installOpcodeTables builds the rw/ro dispatch tables once at server
// construction.
func (s *Server) installOpcodeTables() {
	rw := map[Opcode]Handler{
		OpInsert:       handleInsert,
		OpSelect:       handleSelect,
		OpUpdate:       handleUpdate,
		OpDelete:       handleDelete,
		OpDeleteLegacy: handleDelete,
		OpCall:         handleCall,
		OpPing:         handlePing,
	}
	ro := map[Opcode]Handler{
		OpSelect: handleSelect,
		OpCall:   handleCall,
		OpPing:   handlePing,
	}
	s.rwTable.Store(&rw)
	s.roTable.Store(&ro)
}

// Dispatch decodes and runs the handler bound to op against body, using
// the table appropriate to the server's current master/replica role.
func Dispatch(ctx context.Context, srv *Server, op Opcode, body []byte) ([]byte, error) {
	table := srv.TableFor()
	h, ok := table[op]
	if !ok {
		return nil, NewProtoError(ErrUnsupported, fmt.Sprintf("opcode %d", op))
	}
	return h(ctx, srv, body)
}

func handleInsert(ctx context.Context, srv *Server, body []byte) ([]byte, error) {
	req, err := DecodeInsertRequest(body)
	if err != nil {
		return nil, NewProtoError(ErrIllegalParams, err.Error())
	}
	sp := srv.SpaceByID(req.SpaceID)
	if sp == nil {
		return nil, NewProtoError(ErrSpaceNoSuchSpace, fmt.Sprintf("space %d", req.SpaceID))
	}
	if err := sp.CheckArity(req.Tuple); err != nil {
		return nil, NewProtoError(ErrIllegalParams, err.Error())
	}

	key, ok := keyOf(req.Tuple, sp.Primary().KeyFields())
	if !ok {
		return nil, NewProtoError(ErrWrongField, "tuple missing primary key fields")
	}
	existing := sp.Primary().Find([]byte(key))
	if existing != nil && req.Flags&FlagAdd != 0 {
		return nil, NewProtoError(ErrTupleFoundDuplicate, "")
	}
	if existing == nil && req.Flags&FlagReplace != 0 {
		return nil, NewProtoError(ErrTupleNotFound, "")
	}

	txn := NewTxn(srv.SpaceByID)
	txn.AddRedo(req.SpaceID, existing, req.Tuple)
	if err := commitTxn(srv, txn); err != nil {
		return nil, err
	}

	var reply []byte
	if req.Flags&FlagReturnTuple != 0 {
		reply = EncodeTupleList(reply, []*Tuple{req.Tuple})
	} else {
		reply = EncodeTupleList(reply, nil)
	}
	return reply, nil
}

func handleSelect(ctx context.Context, srv *Server, body []byte) ([]byte, error) {
	req, err := DecodeSelectRequest(body)
	if err != nil {
		return nil, NewProtoError(ErrIllegalParams, err.Error())
	}
	sp := srv.SpaceByID(req.SpaceID)
	if sp == nil {
		return nil, NewProtoError(ErrSpaceNoSuchSpace, fmt.Sprintf("space %d", req.SpaceID))
	}
	idx := sp.Index(int(req.IndexNo))
	if idx == nil {
		return nil, NewProtoError(ErrIndexNoSuchIndex, fmt.Sprintf("index %d", req.IndexNo))
	}

	var out []*Tuple
	if len(req.Keys) == 0 {
		it := idx.Iterator(IterALL, nil)
		out = drain(it, req.Offset, req.Limit)
	} else {
		for _, k := range req.Keys {
			it := idx.Iterator(IterEQ, keyTupleBytes(k))
			out = append(out, drain(it, 0, req.Limit-uint32(len(out)))...)
			if req.Limit > 0 && uint32(len(out)) >= req.Limit {
				break
			}
		}
	}

	var reply []byte
	reply = EncodeTupleList(reply, out)
	return reply, nil
}

func drain(it Iterator, offset, limit uint32) []*Tuple {
	var out []*Tuple
	var skipped uint32
	for {
		t, ok := it.Next()
		if !ok {
			break
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, t)
		if limit > 0 && uint32(len(out)) >= limit {
			break
		}
	}
	return out
}

func handleUpdate(ctx context.Context, srv *Server, body []byte) ([]byte, error) {
	req, err := DecodeUpdateRequest(body)
	if err != nil {
		return nil, NewProtoError(ErrIllegalParams, err.Error())
	}
	sp := srv.SpaceByID(req.SpaceID)
	if sp == nil {
		return nil, NewProtoError(ErrSpaceNoSuchSpace, fmt.Sprintf("space %d", req.SpaceID))
	}
	old := sp.Primary().Find(req.Key)
	if old == nil {
		var reply []byte
		return EncodeTupleList(reply, nil), nil
	}

	next, err := applyUpdateOps(old, req.Ops)
	if err != nil {
		return nil, err
	}
	if err := sp.CheckArity(next); err != nil {
		return nil, NewProtoError(ErrIllegalParams, err.Error())
	}

	txn := NewTxn(srv.SpaceByID)
	txn.AddRedo(req.SpaceID, old, next)
	if err := commitTxn(srv, txn); err != nil {
		return nil, err
	}

	var reply []byte
	if req.Flags&FlagReturnTuple != 0 {
		reply = EncodeTupleList(reply, []*Tuple{next})
	} else {
		reply = EncodeTupleList(reply, nil)
	}
	return reply, nil
}

// applyUpdateOps builds a new tuple by applying each UpdateField to a copy
// of old's fields, per spec.md §4.4's update-operation semantics.
func applyUpdateOps(old *Tuple, ops []UpdateField) (*Tuple, error) {
	fields := make([][]byte, old.FieldCount())
	for i := range fields {
		f, _ := old.Field(i)
		fields[i] = append([]byte(nil), f...)
	}
	for _, op := range ops {
		if int(op.FieldNo) >= len(fields) {
			if op.Op == UpdateInsert && int(op.FieldNo) == len(fields) {
				fields = append(fields, append([]byte(nil), op.Arg...))
				continue
			}
			return nil, NewProtoError(ErrWrongField, fmt.Sprintf("field %d", op.FieldNo))
		}
		switch op.Op {
		case UpdateAssign:
			fields[op.FieldNo] = append([]byte(nil), op.Arg...)
		case UpdateDelete:
			fields = append(fields[:op.FieldNo], fields[op.FieldNo+1:]...)
		case UpdateInsert:
			nf := make([][]byte, 0, len(fields)+1)
			nf = append(nf, fields[:op.FieldNo]...)
			nf = append(nf, append([]byte(nil), op.Arg...))
			nf = append(nf, fields[op.FieldNo:]...)
			fields = nf
		case UpdateAdd, UpdateAnd, UpdateXor, UpdateOr:
			res, err := arithOp(op.Op, fields[op.FieldNo], op.Arg)
			if err != nil {
				return nil, err
			}
			fields[op.FieldNo] = res
		case UpdateSplice:
			res, err := spliceOp(fields[op.FieldNo], op.SpliceOffset, op.SpliceLen, op.Arg)
			if err != nil {
				return nil, err
			}
			fields[op.FieldNo] = res
		default:
			return nil, NewProtoError(ErrUnsupported, fmt.Sprintf("update op %d", op.Op))
		}
	}
	return NewTuple(fields), nil
}

func arithOp(op UpdateOp, field, arg []byte) ([]byte, error) {
	if len(field) != len(arg) || (len(field) != 4 && len(field) != 8) {
		return nil, NewProtoError(ErrArgTypeMismatch, "arithmetic update requires matching 4- or 8-byte fields")
	}
	out := make([]byte, len(field))
	switch op {
	case UpdateAnd:
		for i := range field {
			out[i] = field[i] & arg[i]
		}
	case UpdateXor:
		for i := range field {
			out[i] = field[i] ^ arg[i]
		}
	case UpdateOr:
		for i := range field {
			out[i] = field[i] | arg[i]
		}
	case UpdateAdd:
		a := decodeUintLE(field)
		b := decodeUintLE(arg)
		encodeUintLE(out, a+b)
	default:
		return nil, NewProtoError(ErrUnsupported, "")
	}
	return out, nil
}

func decodeUintLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func encodeUintLE(dst []byte, v uint64) {
	for i := range dst {
		dst[i] = byte(v)
		v >>= 8
	}
}

func spliceOp(field []byte, offset, length int32, arg []byte) ([]byte, error) {
	off := int(offset)
	if off < 0 {
		off += len(field) + 1
	}
	if off < 0 || off > len(field) {
		return nil, NewProtoError(ErrSplice, "offset out of range")
	}
	l := int(length)
	if l < 0 {
		l = len(field) - off + l
	}
	if l < 0 {
		l = 0
	}
	end := off + l
	if end > len(field) {
		end = len(field)
	}
	out := make([]byte, 0, off+len(arg)+(len(field)-end))
	out = append(out, field[:off]...)
	out = append(out, arg...)
	out = append(out, field[end:]...)
	return out, nil
}

func handleDelete(ctx context.Context, srv *Server, body []byte) ([]byte, error) {
	req, err := DecodeDeleteRequest(body)
	if err != nil {
		return nil, NewProtoError(ErrIllegalParams, err.Error())
	}
	sp := srv.SpaceByID(req.SpaceID)
	if sp == nil {
		return nil, NewProtoError(ErrSpaceNoSuchSpace, fmt.Sprintf("space %d", req.SpaceID))
	}
	old := sp.Primary().Find(req.Key)
	if old == nil {
		var reply []byte
		return EncodeTupleList(reply, nil), nil
	}

	txn := NewTxn(srv.SpaceByID)
	txn.AddRedo(req.SpaceID, old, nil)
	if err := commitTxn(srv, txn); err != nil {
		return nil, err
	}

	var reply []byte
	if req.Flags&FlagReturnTuple != 0 {
		reply = EncodeTupleList(reply, []*Tuple{old})
	} else {
		reply = EncodeTupleList(reply, nil)
	}
	return reply, nil
}

func handleCall(ctx context.Context, srv *Server, body []byte) ([]byte, error) {
	req, err := DecodeCallRequest(body)
	if err != nil {
		return nil, NewProtoError(ErrIllegalParams, err.Error())
	}
	out, err := srv.procs.Call(ctx, srv, req.Proc, req.Args)
	if err != nil {
		return nil, err
	}
	var reply []byte
	reply = EncodeTupleList(reply, out)
	return reply, nil
}

func handlePing(ctx context.Context, srv *Server, body []byte) ([]byte, error) {
	return nil, nil
}

// commitTxn assigns the transaction's redo ops an LSN, durably logs them
// via the WAL writer, and only then applies them in memory — the
// write-ahead ordering spec.md §4.6 requires (a tuple is never visible
// before its WAL row is fsynced).
func commitTxn(srv *Server, txn *Txn) error {
	ops := txn.Ops()
	lsn := srv.wal.NextLSN()
	if err := srv.wal.Submit(lsn, ops); err != nil {
		return NewProtoError(ErrWalIO, err.Error())
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	if srv.leader != nil {
		srv.leader.Broadcast(frameWalRow(lsn, ops))
	}
	return nil
}
