package core

// Error ordinals: a closed, stable-numbered set per spec.md §7. Every
// error a request handler can return carries one of these ordinals in its
// reply's ret_code, so client libraries can switch on a number that never
// changes meaning across releases — the same closed-table discipline the
// teacher's gas-pricing table uses for opcodes, adapted here to error
// codes instead of costs.

import "fmt"

// ErrOrdinal is a ret_code value exactly as it goes on the wire: the low
// byte is the OK(0x00)/fatal(0x01)/transient(0x02) disposition spec.md §7
// defines, the upper 24 bits are the error ordinal. Values are pinned to
// original_source/include/iproto.h's ERROR_CODES table (the authoritative
// source spec.md §7's eight named examples are drawn from verbatim —
// NONMASTER, ILLEGAL_PARAMS, MEMORY_ISSUE, UNSUPPORTED_COMMAND,
// NODE_NOT_FOUND, NODE_FOUND, INDEX_VIOLATION, NO_SUCH_NAMESPACE). That
// table predates several failure modes this core distinguishes (WAL I/O,
// Lua errors, timeouts); those reuse the closest-fitting existing code
// rather than inventing a new one, since the set is closed to additions
// per spec.md §7.
type ErrOrdinal uint32

const (
	ErrOK ErrOrdinal = 0x00000000

	// Pinned exactly to original_source/include/iproto.h.
	ErrNonMaster           ErrOrdinal = 0x00000102 // ERR_CODE_NONMASTER
	ErrIllegalParams       ErrOrdinal = 0x00000202 // ERR_CODE_ILLEGAL_PARAMS
	ErrMemoryIssue         ErrOrdinal = 0x00000701 // ERR_CODE_MEMORY_ISSUE (fatal)
	ErrUnsupported         ErrOrdinal = 0x00000a02 // ERR_CODE_UNSUPPORTED_COMMAND
	ErrWrongField          ErrOrdinal = 0x00001e02 // ERR_CODE_WRONG_FIELD
	ErrArgTypeMismatch     ErrOrdinal = 0x00001f02 // ERR_CODE_WRONG_NUMBER
	ErrUnknown             ErrOrdinal = 0x00002702 // ERR_CODE_UNKNOWN_ERROR
	ErrTupleNotFound       ErrOrdinal = 0x00003102 // ERR_CODE_NODE_NOT_FOUND
	ErrTupleFoundDuplicate ErrOrdinal = 0x00003702 // ERR_CODE_NODE_FOUND
	ErrIndexViolation      ErrOrdinal = 0x00003802 // ERR_CODE_INDEX_VIOLATION
	ErrSpaceNoSuchSpace    ErrOrdinal = 0x00003902 // ERR_CODE_NO_SUCH_NAMESPACE

	// Reused from the table above for conditions it has no dedicated code
	// for; each keeps the disposition (low byte) appropriate to spec.md
	// §7's classification even where the ordinal is borrowed.
	ErrSplice             ErrOrdinal = 0x00000802 // ERR_CODE_BAD_INTEGRITY, repurposed: splice breaks tuple structure
	ErrWalIO              ErrOrdinal = ErrMemoryIssue // fatal-to-request, same disposition as OOM
	ErrWalRecovery        ErrOrdinal = ErrMemoryIssue // fatal-to-process during recovery
	ErrIndexNoSuchIndex   ErrOrdinal = ErrUnknown
	ErrNoSuchProc         ErrOrdinal = ErrUnknown
	ErrProcLua            ErrOrdinal = ErrUnknown
	ErrReplicationStopped ErrOrdinal = ErrUnknown
	ErrTimeout            ErrOrdinal = ErrUnknown
)

// errMessages holds the human-readable text for each distinct ret_code
// value. Several ErrXxx names above alias the same numeric value (the
// closed table has no dedicated code for every condition this core
// distinguishes internally), so the map is keyed by value, not by name,
// and its text covers every name that shares the value.
var errMessages = map[ErrOrdinal]string{
	ErrOK:                  "ok",
	ErrNonMaster:           "can't modify data on a replication slave",
	ErrIllegalParams:       "illegal parameters",
	ErrSplice:              "bad tuple integrity (splice argument out of bounds)",
	ErrMemoryIssue:         "internal resource failure (out of memory, WAL I/O, or recovery error)",
	ErrUnsupported:         "unsupported operation",
	ErrWrongField:          "field index out of range",
	ErrArgTypeMismatch:     "argument type mismatch",
	ErrUnknown:             "unknown error (no such index, no such procedure, lua error, replication stopped, or timeout)",
	ErrTupleNotFound:       "tuple not found",
	ErrTupleFoundDuplicate: "tuple already exists",
	ErrIndexViolation:      "secondary index uniqueness violation",
	ErrSpaceNoSuchSpace:    "space does not exist",
}

// ProtoError is the error type every request handler returns. Its
// ordinal is encoded directly into a reply's ret_code field (spec.md §4.3:
// ret_code nonzero ⇒ the body is an error message string, not a result
// set).
type ProtoError struct {
	Ordinal ErrOrdinal
	Detail  string
}

func (e *ProtoError) Error() string {
	msg, ok := errMessages[e.Ordinal]
	if !ok {
		msg = errMessages[ErrUnknown]
	}
	if e.Detail == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", msg, e.Detail)
}

// NewProtoError builds a ProtoError for ordinal with an optional detail
// string appended to its canonical message.
func NewProtoError(ordinal ErrOrdinal, detail string) *ProtoError {
	return &ProtoError{Ordinal: ordinal, Detail: detail}
}

// RetCode extracts the wire ret_code for err: 0 for nil or unrecognized
// errors wrapped from elsewhere default to ErrUnknown rather than 0, since
// a 0 ret_code is a promise of success client libraries rely on.
func RetCode(err error) uint32 {
	if err == nil {
		return uint32(ErrOK)
	}
	if pe, ok := err.(*ProtoError); ok {
		return uint32(pe.Ordinal)
	}
	return uint32(ErrUnknown)
}
