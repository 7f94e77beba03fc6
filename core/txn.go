package core

// Txn is the in-memory transaction unit: a list of redo records applied
// to one or more Spaces, committed only once the WAL writer has
// acknowledged every redo record durable (spec.md §4.6). There is no
// separate undo log in this rendition — rollback simply discards the redo
// list and reverts any Space.Replace calls already applied, since every
// tuple mutation is a structural swap rather than an in-place edit.

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// RedoOp is one logged mutation: Replace(old, next) on a given space.
type RedoOp struct {
	SpaceID uint32
	Old     *Tuple
	Next    *Tuple
}

// Txn accumulates redo records for one client request (or, during
// recovery, one WAL row) and applies them as an atomic unit.
type Txn struct {
	mu      sync.Mutex
	ops     []RedoOp
	applied []RedoOp
	space   func(id uint32) *Space
}

// NewTxn creates a transaction that resolves space IDs to Spaces via
// lookup.
func NewTxn(lookup func(id uint32) *Space) *Txn {
	return &Txn{space: lookup}
}

// AddRedo stages a Replace(old, next) call for commit.
func (t *Txn) AddRedo(spaceID uint32, old, next *Tuple) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = append(t.ops, RedoOp{SpaceID: spaceID, Old: old, Next: next})
}

// Ops returns the staged redo records, in order — the shape the WAL
// writer serialises.
func (t *Txn) Ops() []RedoOp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RedoOp(nil), t.ops...)
}

// Commit applies every staged redo record to its space, in order. On the
// first failure every already-applied op is rolled back and the error is
// returned — matching Space.Replace's own all-or-nothing guarantee, but
// across multiple spaces in one request.
func (t *Txn) Commit() error {
	t.mu.Lock()
	ops := append([]RedoOp(nil), t.ops...)
	t.mu.Unlock()

	for _, op := range ops {
		sp := t.space(op.SpaceID)
		if sp == nil {
			t.Rollback()
			return fmt.Errorf("core: txn commit: %w", NewProtoError(ErrSpaceNoSuchSpace, fmt.Sprintf("space %d", op.SpaceID)))
		}
		if err := sp.Replace(op.Old, op.Next); err != nil {
			t.Rollback()
			if errors.Is(err, ErrKeyConflict) {
				return NewProtoError(ErrIndexViolation, fmt.Sprintf("space %d", op.SpaceID))
			}
			return err
		}
		t.applied = append(t.applied, op)
	}
	logrus.WithField("ops", len(ops)).Debug("txn: committed")
	return nil
}

// Rollback undoes every op this txn has already applied, in reverse
// order.
func (t *Txn) Rollback() {
	for i := len(t.applied) - 1; i >= 0; i-- {
		op := t.applied[i]
		if sp := t.space(op.SpaceID); sp != nil {
			_ = sp.Replace(op.Next, op.Old)
		}
	}
	t.applied = nil
}

// Replay applies ops directly without staging — used by the recovery
// engine, which trusts the WAL's own ordering and does not need
// rollback-on-conflict semantics (a conflict during replay indicates log
// corruption, not a concurrent writer).
func Replay(lookup func(id uint32) *Space, ops []RedoOp) error {
	for _, op := range ops {
		sp := lookup(op.SpaceID)
		if sp == nil {
			return fmt.Errorf("core: replay: %w", NewProtoError(ErrSpaceNoSuchSpace, fmt.Sprintf("space %d", op.SpaceID)))
		}
		old := op.Old
		if old != nil {
			// A decoded Old is a copy; replace the live tuple stored under its key.
			if k, ok := keyOf(old, sp.Primary().KeyFields()); ok {
				if live := sp.Primary().Find([]byte(k)); live != nil {
					old = live
				}
			}
		}
		if err := sp.Replace(old, op.Next); err != nil {
			return fmt.Errorf("core: replay: %w", err)
		}
	}
	return nil
}
