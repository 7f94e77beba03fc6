package core

// Fiber-cooperative IPC primitives: FiberChannel, FiberMutex, FiberRWLock,
// and FiberLatch. Every blocking operation here bottoms out in a Fiber's
// Yield, so waiters queue and wake in strict FIFO order (spec.md §5) and
// never actually block an OS thread.

import (
	"context"
	"errors"
)

// ErrChannelClosed is returned by Recv once a channel is closed and
// drained.
var ErrChannelClosed = errors.New("core: channel closed")

// FiberChannel is a bounded, FIFO message queue between fibers.
type FiberChannel struct {
	buf    []interface{}
	cap    int
	closed bool
	sendWait []*Fiber
	recvWait []*Fiber
}

// NewFiberChannel creates a channel with the given buffer capacity, which
// must be at least 1: with capacity 0, Send waits until the channel is
// closed and then fails with ErrChannelClosed.
func NewFiberChannel(capacity int) *FiberChannel {
	return &FiberChannel{cap: capacity}
}

// Send enqueues v, yielding the calling fiber if the channel is full.
func (c *FiberChannel) Send(f *Fiber, v interface{}) error {
	for len(c.buf) >= c.cap {
		if c.closed {
			return ErrChannelClosed
		}
		c.sendWait = append(c.sendWait, f)
		if err := f.Yield(); err != nil {
			return err
		}
	}
	if c.closed {
		return ErrChannelClosed
	}
	c.buf = append(c.buf, v)
	c.wakeOne(&c.recvWait)
	return nil
}

// Recv dequeues a value, yielding the calling fiber if the channel is
// empty. Returns ErrChannelClosed once the channel is closed and drained.
func (c *FiberChannel) Recv(f *Fiber) (interface{}, error) {
	for len(c.buf) == 0 {
		if c.closed {
			return nil, ErrChannelClosed
		}
		c.recvWait = append(c.recvWait, f)
		if err := f.Yield(); err != nil {
			return nil, err
		}
	}
	v := c.buf[0]
	c.buf = c.buf[1:]
	c.wakeOne(&c.sendWait)
	return v, nil
}

// Close marks the channel closed, waking every pending waiter so Send/Recv
// can return ErrChannelClosed.
func (c *FiberChannel) Close() {
	c.closed = true
	for _, w := range c.sendWait {
		w.Wake()
	}
	for _, w := range c.recvWait {
		w.Wake()
	}
	c.sendWait = nil
	c.recvWait = nil
}

func (c *FiberChannel) wakeOne(q *[]*Fiber) {
	if len(*q) == 0 {
		return
	}
	w := (*q)[0]
	*q = (*q)[1:]
	w.Wake()
}

// FiberMutex is a non-reentrant mutual-exclusion lock queued in FIFO order
// across fibers.
type FiberMutex struct {
	held bool
	wait []*Fiber
}

// NewFiberMutex creates an unlocked mutex.
func NewFiberMutex() *FiberMutex { return &FiberMutex{} }

// Lock acquires the mutex, yielding the calling fiber while it is held by
// another.
func (m *FiberMutex) Lock(f *Fiber) error {
	for m.held {
		m.wait = append(m.wait, f)
		if err := f.Yield(); err != nil {
			return err
		}
	}
	m.held = true
	return nil
}

// Unlock releases the mutex and wakes the next FIFO waiter, if any.
func (m *FiberMutex) Unlock() {
	m.held = false
	if len(m.wait) == 0 {
		return
	}
	w := m.wait[0]
	m.wait = m.wait[1:]
	w.Wake()
}

// FiberRWLock allows any number of concurrent readers or exactly one
// writer, with writers queued FIFO ahead of later readers to avoid writer
// starvation.
type FiberRWLock struct {
	readers   int
	writer    bool
	readWait  []*Fiber
	writeWait []*Fiber
}

// NewFiberRWLock creates an unlocked read-write lock.
func NewFiberRWLock() *FiberRWLock { return &FiberRWLock{} }

// RLock acquires a read lock, yielding while a writer holds the lock or is
// waiting.
func (l *FiberRWLock) RLock(f *Fiber) error {
	for l.writer || len(l.writeWait) > 0 {
		l.readWait = append(l.readWait, f)
		if err := f.Yield(); err != nil {
			return err
		}
	}
	l.readers++
	return nil
}

// RUnlock releases a read lock, waking a pending writer once the last
// reader departs.
func (l *FiberRWLock) RUnlock() {
	l.readers--
	if l.readers == 0 {
		l.wakeWriter()
	}
}

// Lock acquires the write lock, yielding while any reader or writer holds
// it.
func (l *FiberRWLock) Lock(f *Fiber) error {
	for l.writer || l.readers > 0 {
		l.writeWait = append(l.writeWait, f)
		if err := f.Yield(); err != nil {
			return err
		}
	}
	l.writer = true
	return nil
}

// Unlock releases the write lock, preferring to wake a queued writer and
// otherwise releasing every queued reader.
func (l *FiberRWLock) Unlock() {
	l.writer = false
	if l.wakeWriter() {
		return
	}
	for _, w := range l.readWait {
		w.Wake()
	}
	l.readWait = nil
}

func (l *FiberRWLock) wakeWriter() bool {
	if len(l.writeWait) == 0 {
		return false
	}
	w := l.writeWait[0]
	l.writeWait = l.writeWait[1:]
	w.Wake()
	return true
}

// FiberLatch is a one-shot broadcast gate: Wait blocks every caller until
// Signal is called once, after which all waiters (past and future) proceed
// immediately — modelling the WAL-commit-acknowledgement rendezvous
// spec.md §4.6 describes for WAL_WAIT tuples.
type FiberLatch struct {
	signaled bool
	wait     []*Fiber
}

// NewFiberLatch creates an un-signaled latch.
func NewFiberLatch() *FiberLatch { return &FiberLatch{} }

// Wait blocks until Signal has been called. ctx is not consulted.
func (l *FiberLatch) Wait(ctx context.Context, f *Fiber) error {
	if l.signaled {
		return nil
	}
	l.wait = append(l.wait, f)
	for !l.signaled {
		if err := f.Yield(); err != nil {
			return err
		}
	}
	return nil
}

// Signal marks the latch signaled and wakes every waiter.
func (l *FiberLatch) Signal() {
	if l.signaled {
		return
	}
	l.signaled = true
	for _, w := range l.wait {
		w.Wake()
	}
	l.wait = nil
}
