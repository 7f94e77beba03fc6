package core

// Replication follower: connects to a leader over a raw TCP socket,
// sends its starting LSN, and applies the resulting stream of WAL rows to
// its own spaces as they arrive (spec.md §4.10). The handshake is an
// 8-byte starting LSN sent by the follower, answered by a 4-byte protocol
// version from the leader, then a continuous stream of the same
// length-prefixed, CRC-checked WAL rows the local WalWriter produces
// (walMagic/crc32), so a follower can replay a leader's stream with the
// exact same decoder recovery.go uses.

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// replProtocolVersion is the 4-byte version a leader sends in its
// handshake reply; a follower closes the connection if it disagrees.
const replProtocolVersion uint32 = 11

// Follower streams WAL rows from a leader and applies them to local
// spaces.
type Follower struct {
	dialer   *Dialer
	addr     string
	lookup   func(id uint32) *Space
	health   *HealthChecker
	lastLSN  uint64
}

// NewFollower creates a Follower that will connect to addr and resume
// streaming from startLSN.
func NewFollower(dialer *Dialer, addr string, startLSN uint64, lookup func(id uint32) *Space, health *HealthChecker) *Follower {
	return &Follower{dialer: dialer, addr: addr, lookup: lookup, health: health, lastLSN: startLSN}
}

// Run connects to the leader and streams until ctx is cancelled,
// reconnecting with backoff on any I/O error.
func (f *Follower) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := f.dialer.DialWithBackoff(ctx, f.addr)
		if err != nil {
			return err
		}
		if err := f.stream(ctx, conn); err != nil {
			logrus.WithError(err).WithField("leader", f.addr).Warn("replication: stream ended, reconnecting")
			if f.health != nil {
				f.health.RecordMiss(f.addr)
			}
			conn.Close()
			continue
		}
		conn.Close()
	}
}

func (f *Follower) stream(ctx context.Context, conn net.Conn) error {
	var lsnBuf [8]byte
	binary.LittleEndian.PutUint64(lsnBuf[:], f.lastLSN)
	if _, err := conn.Write(lsnBuf[:]); err != nil {
		return fmt.Errorf("replication: handshake write: %w", err)
	}

	r := bufio.NewReader(conn)
	var verBuf [4]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		return fmt.Errorf("replication: handshake read: %w", err)
	}
	if version := binary.LittleEndian.Uint32(verBuf[:]); version != replProtocolVersion {
		return fmt.Errorf("replication: unsupported leader protocol version %d", version)
	}

	pingAt := time.Now()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var rowHdr [12]byte
		if _, err := io.ReadFull(r, rowHdr[:]); err != nil {
			return fmt.Errorf("replication: read row header: %w", err)
		}
		if binary.LittleEndian.Uint32(rowHdr[0:4]) != walMagic {
			return fmt.Errorf("replication: bad row magic from %s", f.addr)
		}
		bodyLen := binary.LittleEndian.Uint32(rowHdr[4:8])
		wantCRC := binary.LittleEndian.Uint32(rowHdr[8:12])
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return fmt.Errorf("replication: read row body: %w", err)
		}
		if crc32.ChecksumIEEE(body) != wantCRC {
			return fmt.Errorf("replication: row CRC mismatch from %s", f.addr)
		}
		lsn, ops, err := decodeWalRow(body)
		if err != nil {
			return fmt.Errorf("replication: decode row: %w", err)
		}
		if err := Replay(f.lookup, ops); err != nil {
			return fmt.Errorf("replication: apply row %d: %w", lsn, err)
		}
		f.lastLSN = lsn
		if f.health != nil && time.Since(pingAt) > 3*time.Second {
			f.health.RecordPong(f.addr, 0)
			pingAt = time.Now()
		}
	}
}

// LastLSN returns the highest LSN this follower has applied.
func (f *Follower) LastLSN() uint64 { return f.lastLSN }
