package core

// Dialer establishes outbound replication connections with exponential
// backoff between attempts, reused by both the initial JOIN handshake and
// every reconnect a follower performs after losing its leader (spec.md
// §4.10).

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrDialerClosed is returned once a Dialer has been closed.
var ErrDialerClosed = errors.New("core: dialer closed")

// Dialer wraps net.Dialer with a backoff policy for repeated connection
// attempts to the same address.
type Dialer struct {
	net       net.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	closed    chan struct{}
}

// NewDialer creates a Dialer with the given backoff bounds.
func NewDialer(minBackoff, maxBackoff time.Duration) *Dialer {
	return &Dialer{minBackoff: minBackoff, maxBackoff: maxBackoff, closed: make(chan struct{})}
}

// Dial attempts a single connection to addr.
func (d *Dialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	return d.net.DialContext(ctx, "tcp", addr)
}

// DialWithBackoff retries Dial against addr, doubling the delay between
// attempts (capped at maxBackoff) until it succeeds or ctx is done.
func (d *Dialer) DialWithBackoff(ctx context.Context, addr string) (net.Conn, error) {
	delay := d.minBackoff
	for {
		select {
		case <-d.closed:
			return nil, ErrDialerClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		conn, err := d.Dial(ctx, addr)
		if err == nil {
			return conn, nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-d.closed:
			timer.Stop()
			return nil, ErrDialerClosed
		case <-timer.C:
		}
		delay *= 2
		if delay > d.maxBackoff {
			delay = d.maxBackoff
		}
	}
}

// Close stops any in-flight DialWithBackoff loops.
func (d *Dialer) Close() {
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
}
