package core

// Binary client/replication protocol framing, per spec.md §4.3: a 12-byte
// request header, a 16-byte reply header, and per-opcode bodies built from
// BER-varints and raw field bytes. Opcode numbering and flag bits are
// pinned to the values spec.md §4.3/§7 lists.

import (
	"encoding/binary"
	"errors"
)

// Opcode identifies a request's operation.
type Opcode uint32

const (
	OpInsert Opcode = 13
	OpSelect Opcode = 17
	OpUpdate Opcode = 19
	OpDeleteLegacy Opcode = 20
	OpDelete Opcode = 21
	OpCall   Opcode = 22
	OpPing   Opcode = 65280
)

// Flag bits carried in a request header's flags field.
const (
	FlagReturnTuple uint32 = 1 << 0
	FlagAdd         uint32 = 1 << 1
	FlagReplace     uint32 = 1 << 2
	FlagBoxQuiet    uint32 = 1 << 3
	FlagNotStore    uint32 = 1 << 4
)

// UpdateOp identifies the operation an UPDATE request applies to one field.
type UpdateOp byte

const (
	UpdateAssign UpdateOp = iota
	UpdateAdd
	UpdateAnd
	UpdateXor
	UpdateOr
	UpdateSplice
	UpdateDelete
	UpdateInsert
)

// reqHeaderSize is the fixed 12-byte request header: opcode(4) + bodyLen(4) + requestID(4).
const reqHeaderSize = 12

// replyHeaderSize is the fixed 16-byte reply header: opcode(4) + bodyLen(4) + requestID(4) + retCode(4).
const replyHeaderSize = 16

// ErrShortHeader signals fewer bytes than a full header were available.
var ErrShortHeader = errors.New("core: short protocol header")

// RequestHeader is the fixed-size prefix of every incoming request.
type RequestHeader struct {
	Op        Opcode
	BodyLen   uint32
	RequestID uint32
}

// DecodeRequestHeader parses the 12-byte request header from p.
func DecodeRequestHeader(p []byte) (RequestHeader, error) {
	if len(p) < reqHeaderSize {
		return RequestHeader{}, ErrShortHeader
	}
	return RequestHeader{
		Op:        Opcode(binary.LittleEndian.Uint32(p[0:4])),
		BodyLen:   binary.LittleEndian.Uint32(p[4:8]),
		RequestID: binary.LittleEndian.Uint32(p[8:12]),
	}, nil
}

// Encode writes the header's wire form to dst (must be >= reqHeaderSize).
func (h RequestHeader) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(h.Op))
	binary.LittleEndian.PutUint32(dst[4:8], h.BodyLen)
	binary.LittleEndian.PutUint32(dst[8:12], h.RequestID)
}

// ReplyHeader is the fixed-size prefix of every outgoing reply.
type ReplyHeader struct {
	Op        Opcode
	BodyLen   uint32
	RequestID uint32
	RetCode   uint32
}

// Encode writes the header's wire form to dst (must be >= replyHeaderSize).
func (h ReplyHeader) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(h.Op))
	binary.LittleEndian.PutUint32(dst[4:8], h.BodyLen)
	binary.LittleEndian.PutUint32(dst[8:12], h.RequestID)
	binary.LittleEndian.PutUint32(dst[12:16], h.RetCode)
}

// DecodeReplyHeader parses the 16-byte reply header from p.
func DecodeReplyHeader(p []byte) (ReplyHeader, error) {
	if len(p) < replyHeaderSize {
		return ReplyHeader{}, ErrShortHeader
	}
	return ReplyHeader{
		Op:        Opcode(binary.LittleEndian.Uint32(p[0:4])),
		BodyLen:   binary.LittleEndian.Uint32(p[4:8]),
		RequestID: binary.LittleEndian.Uint32(p[8:12]),
		RetCode:   binary.LittleEndian.Uint32(p[12:16]),
	}, nil
}

// EncodeWireTuple appends t's spec.md §4.8 wire form to dst: a fixed
// size:u32 followed by field_count:u32, followed by field_count pairs of
// (field_len:varint, field_bytes). size counts only the bytes making up
// the field_count field and its data, mirroring the tuple allocator's
// bsize/field_count split (spec.md §3) — it does not include itself.
func EncodeWireTuple(dst []byte, t *Tuple) []byte {
	var data []byte
	for i := 0; i < t.FieldCount(); i++ {
		f, _ := t.Field(i)
		data = WriteVarint(data, uint32(len(f)))
		data = append(data, f...)
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(data)+4))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(t.FieldCount()))
	dst = append(dst, hdr[:]...)
	return append(dst, data...)
}

// DecodeWireTuple parses a spec.md §4.8 wire tuple from p and returns it
// along with the number of bytes consumed.
func DecodeWireTuple(p []byte) (*Tuple, int, error) {
	if len(p) < 8 {
		return nil, 0, ErrShortHeader
	}
	size := binary.LittleEndian.Uint32(p[0:4])
	fieldCount := binary.LittleEndian.Uint32(p[4:8])
	if size < 4 || 8+int(size)-4 > len(p) {
		return nil, 0, ErrBufferTooShort
	}
	data := p[8 : 8+int(size)-4]
	pos := 0
	fields := make([][]byte, 0, fieldCount)
	for i := uint32(0); i < fieldCount; i++ {
		flen, fn, err := ReadVarint(data[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += fn
		if pos+int(flen) > len(data) {
			return nil, 0, ErrBufferTooShort
		}
		fields = append(fields, data[pos:pos+int(flen)])
		pos += int(flen)
	}
	return NewTuple(fields), 8 + int(size) - 4, nil
}

// keyTupleBytes concatenates a key tuple's fields using the same
// length-prefixed encoding keyOf builds from a stored tuple's key fields,
// so a wire key_tuple can be looked up directly against an Index.
func keyTupleBytes(t *Tuple) []byte {
	var buf []byte
	for i := 0; i < t.FieldCount(); i++ {
		f, _ := t.Field(i)
		buf = WriteVarint(buf, uint32(len(f)))
		buf = append(buf, f...)
	}
	return buf
}

// InsertRequest is OpInsert's body.
type InsertRequest struct {
	SpaceID uint32
	Flags   uint32
	Tuple   *Tuple
}

// DecodeInsertRequest parses an OpInsert body from p.
func DecodeInsertRequest(p []byte) (InsertRequest, error) {
	if len(p) < 8 {
		return InsertRequest{}, ErrShortHeader
	}
	spaceID := binary.LittleEndian.Uint32(p[0:4])
	flags := binary.LittleEndian.Uint32(p[4:8])
	t, _, err := DecodeWireTuple(p[8:])
	if err != nil {
		return InsertRequest{}, err
	}
	return InsertRequest{SpaceID: spaceID, Flags: flags, Tuple: t}, nil
}

// Encode appends the wire form of r to dst.
func (r InsertRequest) Encode(dst []byte) []byte {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], r.SpaceID)
	binary.LittleEndian.PutUint32(hdr[4:8], r.Flags)
	dst = append(dst, hdr[:]...)
	return EncodeWireTuple(dst, r.Tuple)
}

// SelectRequest is OpSelect's body: a space/index pair plus a disjunction
// of key tuples (spec.md treats a SELECT's key list as OR'd exact-match
// lookups, degrading to a full scan when no keys are given).
type SelectRequest struct {
	SpaceID uint32
	IndexNo uint32
	Offset  uint32
	Limit   uint32
	Keys    []*Tuple
}

// DecodeSelectRequest parses an OpSelect body from p.
func DecodeSelectRequest(p []byte) (SelectRequest, error) {
	if len(p) < 20 {
		return SelectRequest{}, ErrShortHeader
	}
	sr := SelectRequest{
		SpaceID: binary.LittleEndian.Uint32(p[0:4]),
		IndexNo: binary.LittleEndian.Uint32(p[4:8]),
		Offset:  binary.LittleEndian.Uint32(p[8:12]),
		Limit:   binary.LittleEndian.Uint32(p[12:16]),
	}
	count := binary.LittleEndian.Uint32(p[16:20])
	pos := 20
	for i := uint32(0); i < count; i++ {
		k, n, err := DecodeWireTuple(p[pos:])
		if err != nil {
			return SelectRequest{}, err
		}
		sr.Keys = append(sr.Keys, k)
		pos += n
	}
	return sr, nil
}

// UpdateField is one (field index, op, argument) triple from an UPDATE
// request's operation list.
type UpdateField struct {
	FieldNo uint32
	Op      UpdateOp
	Arg     []byte
	// Splice-only: offset/length of the region replaced within the field.
	SpliceOffset int32
	SpliceLen    int32
}

// UpdateRequest is OpUpdate's body.
type UpdateRequest struct {
	SpaceID uint32
	Flags   uint32
	Key     []byte
	Ops     []UpdateField
}

// DecodeUpdateRequest parses an OpUpdate body from p.
func DecodeUpdateRequest(p []byte) (UpdateRequest, error) {
	if len(p) < 8 {
		return UpdateRequest{}, ErrShortHeader
	}
	ur := UpdateRequest{
		SpaceID: binary.LittleEndian.Uint32(p[0:4]),
		Flags:   binary.LittleEndian.Uint32(p[4:8]),
	}
	pos := 8
	keyTuple, kn, err := DecodeWireTuple(p[pos:])
	if err != nil {
		return UpdateRequest{}, err
	}
	ur.Key = keyTupleBytes(keyTuple)
	pos += kn

	if pos+4 > len(p) {
		return UpdateRequest{}, ErrBufferTooShort
	}
	opCount := binary.LittleEndian.Uint32(p[pos : pos+4])
	pos += 4
	for i := uint32(0); i < opCount; i++ {
		if pos+5 > len(p) {
			return UpdateRequest{}, ErrBufferTooShort
		}
		fieldNo := binary.LittleEndian.Uint32(p[pos : pos+4])
		op := UpdateOp(p[pos+4])
		pos += 5
		uf := UpdateField{FieldNo: fieldNo, Op: op}
		if op == UpdateSplice {
			if pos+8 > len(p) {
				return UpdateRequest{}, ErrBufferTooShort
			}
			uf.SpliceOffset = int32(binary.LittleEndian.Uint32(p[pos : pos+4]))
			uf.SpliceLen = int32(binary.LittleEndian.Uint32(p[pos+4 : pos+8]))
			pos += 8
		}
		alen, an, err := ReadVarint(p[pos:])
		if err != nil {
			return UpdateRequest{}, err
		}
		pos += an
		if pos+int(alen) > len(p) {
			return UpdateRequest{}, ErrBufferTooShort
		}
		uf.Arg = p[pos : pos+int(alen)]
		pos += int(alen)
		ur.Ops = append(ur.Ops, uf)
	}
	return ur, nil
}

// DeleteRequest is OpDelete/OpDeleteLegacy's body.
type DeleteRequest struct {
	SpaceID uint32
	Flags   uint32
	Key     []byte
}

// DecodeDeleteRequest parses an OpDelete body from p.
func DecodeDeleteRequest(p []byte) (DeleteRequest, error) {
	if len(p) < 8 {
		return DeleteRequest{}, ErrShortHeader
	}
	dr := DeleteRequest{
		SpaceID: binary.LittleEndian.Uint32(p[0:4]),
		Flags:   binary.LittleEndian.Uint32(p[4:8]),
	}
	keyTuple, _, err := DecodeWireTuple(p[8:])
	if err != nil {
		return DeleteRequest{}, err
	}
	dr.Key = keyTupleBytes(keyTuple)
	return dr, nil
}

// CallRequest is OpCall's body: a stored procedure name plus its argument
// tuple.
type CallRequest struct {
	Flags  uint32
	Proc   string
	Args   *Tuple
}

// DecodeCallRequest parses an OpCall body from p.
func DecodeCallRequest(p []byte) (CallRequest, error) {
	if len(p) < 4 {
		return CallRequest{}, ErrShortHeader
	}
	cr := CallRequest{Flags: binary.LittleEndian.Uint32(p[0:4])}
	plen, pn, err := ReadVarint(p[4:])
	if err != nil {
		return CallRequest{}, err
	}
	pos := 4 + pn
	if pos+int(plen) > len(p) {
		return CallRequest{}, ErrBufferTooShort
	}
	cr.Proc = string(p[pos : pos+int(plen)])
	pos += int(plen)
	args, _, err := DecodeWireTuple(p[pos:])
	if err != nil {
		return CallRequest{}, err
	}
	cr.Args = args
	return cr, nil
}

// EncodeTupleList appends a fixed count:u32 followed by each tuple's wire
// form, the body shape every reply carrying tuples uses (spec.md §4.8).
func EncodeTupleList(dst []byte, tuples []*Tuple) []byte {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(tuples)))
	dst = append(dst, n[:]...)
	for _, t := range tuples {
		dst = EncodeWireTuple(dst, t)
	}
	return dst
}
