package core

// health.go – replication-peer liveness tracking.
//
// HealthChecker maintains an EWMA-smoothed round-trip-time score per
// peer. A peer whose score exceeds maxRTT or that accumulates maxMisses
// consecutive misses is marked faulty. The replication follower records a
// miss each time its stream to the leader fails and a zero-duration pong
// at most every three seconds while rows arrive; no pings are sent, and
// the faulty flag is only reported (admin "show stat"), never acted on.

import (
	"sync"
	"time"
)

// peerStat is one replica's running health statistics.
type peerStat struct {
	rttEWMA float64
	misses  int
	faulty  bool
	lastSeen time.Time
}

// HealthChecker tracks liveness for a set of replication peers addressed
// by name (typically host:port).
type HealthChecker struct {
	mu        sync.Mutex
	peers     map[string]*peerStat
	alpha     float64
	maxRTT    float64
	maxMisses int
}

// NewHealthChecker creates a checker with the given EWMA smoothing factor,
// RTT ceiling (milliseconds), and consecutive-miss ceiling.
func NewHealthChecker(alpha, maxRTTMillis float64, maxMisses int) *HealthChecker {
	return &HealthChecker{
		peers:     make(map[string]*peerStat),
		alpha:     alpha,
		maxRTT:    maxRTTMillis,
		maxMisses: maxMisses,
	}
}

// RecordPong folds a successful ping round-trip of the given duration into
// peer's running score, clearing any miss count and fault flag if the new
// score is back under the ceiling.
func (h *HealthChecker) RecordPong(peer string, rtt time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.statLocked(peer)
	ms := float64(rtt.Microseconds()) / 1000.0
	if s.rttEWMA == 0 {
		s.rttEWMA = ms
	} else {
		s.rttEWMA = h.alpha*ms + (1-h.alpha)*s.rttEWMA
	}
	s.misses = 0
	s.lastSeen = recordTimestamp()
	s.faulty = s.rttEWMA > h.maxRTT
}

// RecordMiss folds a missed/timed-out ping into peer's stats, marking it
// faulty once maxMisses consecutive misses accumulate.
func (h *HealthChecker) RecordMiss(peer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.statLocked(peer)
	s.misses++
	if s.misses >= h.maxMisses {
		s.faulty = true
	}
}

func (h *HealthChecker) statLocked(peer string) *peerStat {
	s, ok := h.peers[peer]
	if !ok {
		s = &peerStat{}
		h.peers[peer] = s
	}
	return s
}

// IsFaulty reports whether peer is currently considered unhealthy.
func (h *HealthChecker) IsFaulty(peer string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.peers[peer]
	return ok && s.faulty
}

// PeerSnapshot is a point-in-time view of one peer's health, returned by
// Snapshot for the admin port's "show stat" command.
type PeerSnapshot struct {
	Peer    string
	RTTMs   float64
	Misses  int
	Faulty  bool
}

// Snapshot returns the current health of every tracked peer.
func (h *HealthChecker) Snapshot() []PeerSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PeerSnapshot, 0, len(h.peers))
	for addr, s := range h.peers {
		out = append(out, PeerSnapshot{Peer: addr, RTTMs: s.rttEWMA, Misses: s.misses, Faulty: s.faulty})
	}
	return out
}

// recordTimestamp is the one place health.go calls time.Now, isolated for
// the same reason snapshot.go isolates its own clock read.
func recordTimestamp() time.Time { return time.Now() }
