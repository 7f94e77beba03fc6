package core

// Replication leader side: accepts follower connections, reads each
// one's starting LSN handshake, and feeds it every WAL row committed
// from that point forward (spec.md §4.10). The leader never blocks a
// foreground transaction on a slow follower — each follower gets its own
// goroutine draining a per-follower bounded channel, and a follower that
// falls behind is dropped rather than allowed to backpressure commits.

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// ReplicaFeed is a single connected follower's outbound row queue.
type ReplicaFeed struct {
	conn   net.Conn
	rows   chan []byte // pre-framed WAL rows (header+body), ready to write
	cancel context.CancelFunc
}

// Leader fans committed WAL rows out to every connected follower.
type Leader struct {
	mu       sync.Mutex
	feeds    map[string]*ReplicaFeed
	feedSize int
}

// NewLeader creates a Leader whose per-follower queues hold feedSize rows
// before a slow follower is dropped.
func NewLeader(feedSize int) *Leader {
	return &Leader{feeds: make(map[string]*ReplicaFeed), feedSize: feedSize}
}

// Accept handles one follower connection: it reads the follower's 8-byte
// starting LSN, answers with its own 4-byte protocol version, registers a
// feed, and drains it to the socket until the connection breaks or ctx is
// cancelled.
func (l *Leader) Accept(ctx context.Context, conn net.Conn, rowsSince func(startLSN uint64) <-chan []byte) error {
	var lsnBuf [8]byte
	if _, err := io.ReadFull(conn, lsnBuf[:]); err != nil {
		return fmt.Errorf("replication: handshake read: %w", err)
	}
	startLSN := binary.LittleEndian.Uint64(lsnBuf[:])

	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], replProtocolVersion)
	if _, err := conn.Write(verBuf[:]); err != nil {
		return fmt.Errorf("replication: handshake write: %w", err)
	}

	fctx, cancel := context.WithCancel(ctx)
	feed := &ReplicaFeed{conn: conn, rows: make(chan []byte, l.feedSize), cancel: cancel}
	addr := conn.RemoteAddr().String()

	l.mu.Lock()
	l.feeds[addr] = feed
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.feeds, addr)
		l.mu.Unlock()
		cancel()
	}()

	go l.backfill(feed, rowsSince(startLSN))

	for {
		select {
		case <-fctx.Done():
			return fctx.Err()
		case row, ok := <-feed.rows:
			if !ok {
				return nil
			}
			if _, err := conn.Write(row); err != nil {
				return fmt.Errorf("replication: write to %s: %w", addr, err)
			}
		}
	}
}

// backfill copies historical rows from src into feed's queue before live
// rows resume; if the follower is too slow to keep up, it is dropped.
func (l *Leader) backfill(feed *ReplicaFeed, src <-chan []byte) {
	for row := range src {
		select {
		case feed.rows <- row:
		default:
			logrus.WithField("peer", feed.conn.RemoteAddr()).Warn("replication: follower too slow, dropping")
			feed.cancel()
			return
		}
	}
}

// Broadcast frames row (a committed WAL row's raw header+body bytes) and
// enqueues it on every connected follower's feed, dropping any follower
// whose queue is full rather than blocking the caller.
func (l *Leader) Broadcast(row []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for addr, feed := range l.feeds {
		select {
		case feed.rows <- row:
		default:
			logrus.WithField("peer", addr).Warn("replication: follower feed full, dropping")
			feed.cancel()
		}
	}
}

// PeerCount returns the number of currently connected followers.
func (l *Leader) PeerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.feeds)
}
