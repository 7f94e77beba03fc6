package core

// Fiber is a cooperatively scheduled unit of work, per spec.md §4.5/§5. Go
// has no stackful-coroutine primitive, so each Fiber is backed by its own
// goroutine that blocks on a single-slot baton channel between explicit
// yield points — the scheduler hands the baton to exactly one fiber at a
// time, so ordering between fibers is exactly the order the scheduler
// wakes them in, matching the single-threaded-executor rendition spec.md
// §9 sanctions.

import (
	"context"
	"fmt"
	"sync/atomic"
)

// FiberState is the lifecycle state of a Fiber.
type FiberState int32

const (
	FiberReady FiberState = iota
	FiberRunning
	FiberSuspended
	FiberDead
)

func (s FiberState) String() string {
	switch s {
	case FiberReady:
		return "ready"
	case FiberRunning:
		return "running"
	case FiberSuspended:
		return "suspended"
	case FiberDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Fiber wraps one goroutine's worth of cooperative execution.
type Fiber struct {
	ID     uint64
	Name   string
	Region *Region

	sched   *Scheduler
	baton   chan struct{}
	state   int32 // atomic FiberState
	cancel  context.CancelFunc
	ctx     context.Context
	done    chan struct{}
	result  interface{}
	errResult error
}

// newFiber allocates a fiber with its own Region drawn from arena.
func newFiber(sched *Scheduler, id uint64, name string, arena *Arena, parent context.Context) *Fiber {
	ctx, cancel := context.WithCancel(parent)
	return &Fiber{
		ID:     id,
		Name:   name,
		Region: NewRegion(arena),
		sched:  sched,
		baton:  make(chan struct{}, 1),
		state:  int32(FiberReady),
		cancel: cancel,
		ctx:    ctx,
		done:   make(chan struct{}),
	}
}

// State returns the fiber's current lifecycle state.
func (f *Fiber) State() FiberState {
	return FiberState(atomic.LoadInt32(&f.state))
}

func (f *Fiber) setState(s FiberState) {
	atomic.StoreInt32(&f.state, int32(s))
}

// Context returns the fiber's cancellation context, cancelled when the
// fiber is killed or its owning connection closes.
func (f *Fiber) Context() context.Context { return f.ctx }

// Cancel requests the fiber terminate at its next suspension point.
func (f *Fiber) Cancel() { f.cancel() }

// Yield suspends the calling fiber until the scheduler hands it the baton
// again, per spec.md §4.5's explicit-suspension-point model. Yield is the
// only place a fiber may be descheduled; every blocking call in this repo
// (IPC, fio) bottoms out here.
func (f *Fiber) Yield() error {
	f.setState(FiberSuspended)
	f.sched.reschedule(f)
	select {
	case <-f.baton:
		if f.ctx.Err() != nil {
			f.setState(FiberDead)
			return f.ctx.Err()
		}
		f.setState(FiberRunning)
		return nil
	case <-f.ctx.Done():
		f.setState(FiberDead)
		return f.ctx.Err()
	}
}

// Wake hands the baton to f, making it runnable again. Wake is idempotent:
// waking an already-runnable fiber is a no-op.
func (f *Fiber) Wake() {
	select {
	case f.baton <- struct{}{}:
	default:
	}
}

// Done returns a channel closed once the fiber's entry function returns.
func (f *Fiber) Done() <-chan struct{} { return f.done }

// Result returns the value and error the fiber's entry function returned.
// Only valid after Done() is closed.
func (f *Fiber) Result() (interface{}, error) { return f.result, f.errResult }

func (f *Fiber) String() string {
	return fmt.Sprintf("fiber(%d,%s,%s)", f.ID, f.Name, f.State())
}
