package core

// Scheduler runs a flat pool of Fibers cooperatively. There is no
// priority queue: a fiber that yields is appended to the back of the
// ready list and the scheduler wakes whichever fiber reaches the front
// next, matching spec.md §5's FIFO wakeup-order guarantee for fibers
// blocked on the same IPC primitive.

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler owns fiber creation and the ready-queue bookkeeping that backs
// Fiber.Yield/Wake.
type Scheduler struct {
	arena  *Arena
	mu     sync.Mutex
	ready  []*Fiber
	nextID uint64
	fibers map[uint64]*Fiber
}

// NewScheduler creates a Scheduler whose fibers draw their per-request
// Regions from arena.
func NewScheduler(arena *Arena) *Scheduler {
	return &Scheduler{arena: arena, fibers: make(map[uint64]*Fiber)}
}

// Create spawns a new fiber running fn(fiber) to completion and returns
// it at once. The backing goroutine starts immediately, but the fiber only
// executes user code once it first receives the baton via Wake, matching
// fiber.create()'s lazy-start semantics; if ctx ends first, fn never runs.
func (s *Scheduler) Create(ctx context.Context, name string, fn func(*Fiber) (interface{}, error)) *Fiber {
	id := atomic.AddUint64(&s.nextID, 1)
	f := newFiber(s, id, name, s.arena, ctx)

	s.mu.Lock()
	s.fibers[id] = f
	s.mu.Unlock()

	go func() {
		select {
		case <-f.baton:
		case <-f.ctx.Done():
			f.setState(FiberDead)
			close(f.done)
			s.reap(f)
			return
		}
		f.setState(FiberRunning)
		res, err := fn(f)
		f.result, f.errResult = res, err
		f.setState(FiberDead)
		f.Region.Reset()
		close(f.done)
		s.reap(f)
	}()
	return f
}

// reschedule appends f to the back of the ready queue. Called by Fiber.Yield.
func (s *Scheduler) reschedule(f *Fiber) {
	s.mu.Lock()
	s.ready = append(s.ready, f)
	s.mu.Unlock()
}

func (s *Scheduler) reap(f *Fiber) {
	s.mu.Lock()
	delete(s.fibers, f.ID)
	s.mu.Unlock()
}

// Step wakes the fiber at the front of the ready queue, if any, and
// reports whether it did. The caller (typically a connection's accept
// loop or a dedicated driver goroutine) calls Step in a tight loop to
// drive the whole scheduler forward — the "single-threaded executor"
// rendition of spec.md §9.
func (s *Scheduler) Step() bool {
	s.mu.Lock()
	if len(s.ready) == 0 {
		s.mu.Unlock()
		return false
	}
	f := s.ready[0]
	s.ready = s.ready[1:]
	s.mu.Unlock()
	f.Wake()
	return true
}

// idlePoll bounds how long Run parks when the ready queue is empty.
const idlePoll = 500 * time.Microsecond

// Run drives Step in a loop until ctx is cancelled, parking briefly when
// the ready queue is empty rather than busy-spinning.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !s.Step() {
			t := time.NewTimer(idlePoll)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

// Count returns the number of live fibers.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fibers)
}

// Lookup returns the fiber with the given ID, if still alive.
func (s *Scheduler) Lookup(id uint64) *Fiber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fibers[id]
}
