package core

// Server is the top-level handle spec.md §9 describes: every subsystem
// (spaces, scheduler, WAL writer, replication, Lua registry) is reached
// through a pointer to one Server rather than package-level globals, so
// multiple instances can coexist in one process (as every test in this
// package does).

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Config bundles every tunable spec.md §6 lists, plus the ambient
// settings (listen addresses, directories) a real deployment needs.
type Config struct {
	ListenAddr     string
	ReplAddr       string
	AdminAddr      string
	DebugAddr      string
	ClusterAddr    string
	WalDir         string
	SnapshotDir    string
	RowsPerWal     uint64
	FsyncDelayMS   int
	PanicOnWalErr  bool
	SnapshotRateBPS int
	ReplicationOf  string // leader address to follow, empty if this is a leader
	ArenaSlabBytes int
}

// Server owns every piece of mutable state a running instance needs.
type Server struct {
	cfg Config

	arena *Arena
	sched *Scheduler

	mu      sync.RWMutex
	spaces  map[uint32]*Space
	spaceByName map[string]uint32

	wal     *WalWriter
	leader  *Leader
	follower *Follower
	health  *HealthChecker
	cluster *Cluster

	procs *ProcRegistry

	rwTable atomic.Pointer[map[Opcode]Handler]
	roTable atomic.Pointer[map[Opcode]Handler]

	readOnly atomic.Bool
}

// Handler processes one decoded request body and returns the reply body
// bytes (without header) or an error to be encoded as a ProtoError.
type Handler func(ctx context.Context, srv *Server, body []byte) ([]byte, error)

// NewServer allocates a Server's scheduler, registries, and dispatch
// tables from cfg, but does not yet touch disk. Call Bootstrap with the
// deployment's schema (every Space the WAL or a snapshot might reference)
// before accepting any connection — recovery needs the schema in place
// to resolve the space IDs it replays.
func NewServer(cfg Config) (*Server, error) {
	if cfg.ArenaSlabBytes <= 0 {
		cfg.ArenaSlabBytes = defaultSlabSize
	}
	s := &Server{
		cfg:         cfg,
		arena:       NewArena(cfg.ArenaSlabBytes),
		spaces:      make(map[uint32]*Space),
		spaceByName: make(map[string]uint32),
		procs:       NewProcRegistry(),
		health:      NewHealthChecker(0.2, 1500, 3),
		leader:      NewLeader(256),
	}
	s.sched = NewScheduler(s.arena)
	s.installOpcodeTables()
	return s, nil
}

// Bootstrap registers every space in spaces, then replays the latest
// snapshot plus every WAL row committed after it (spec.md §4.9), and
// finally starts the WAL writer numbering from the LSN recovery reached.
// It must be called exactly once, after NewServer and before the server
// accepts any client connection.
func (s *Server) Bootstrap(spaces []*Space) error {
	for _, sp := range spaces {
		if err := s.AddSpace(sp); err != nil {
			return fmt.Errorf("server: bootstrap: %w", err)
		}
	}

	snap, err := LoadLatestManifest(s.cfg.SnapshotDir)
	if err != nil {
		return fmt.Errorf("server: load snapshot manifest: %w", err)
	}
	lastLSN, err := Recover(RecoveryConfig{
		WalDir:       s.cfg.WalDir,
		SnapshotDir:  s.cfg.SnapshotDir,
		PanicOnError: s.cfg.PanicOnWalErr,
	}, snap, s.SpaceByID)
	if err != nil {
		return fmt.Errorf("server: recovery: %w", err)
	}

	wal, err := NewWalWriter(WalWriterConfig{
		Dir:          s.cfg.WalDir,
		RowsPerWal:   s.cfg.RowsPerWal,
		FsyncDelay:   time.Duration(s.cfg.FsyncDelayMS) * time.Millisecond,
		PanicOnError: s.cfg.PanicOnWalErr,
	}, lastLSN)
	if err != nil {
		return fmt.Errorf("server: wal writer: %w", err)
	}
	s.wal = wal

	logrus.WithField("lsn", lastLSN).Info("server: ready")
	return nil
}

// AddSpace registers sp under its ID and name.
func (s *Server) AddSpace(sp *Space) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.spaces[sp.ID]; exists {
		return fmt.Errorf("server: space id %d already registered", sp.ID)
	}
	s.spaces[sp.ID] = sp
	s.spaceByName[sp.Name] = sp.ID
	return nil
}

// SpaceByID returns the space registered under id, or nil.
func (s *Server) SpaceByID(id uint32) *Space {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spaces[id]
}

// SpaceByName resolves a space name to its Space, or nil.
func (s *Server) SpaceByName(name string) *Space {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.spaceByName[name]
	if !ok {
		return nil
	}
	return s.spaces[id]
}

// Spaces returns a snapshot copy of the space registry, keyed by ID.
func (s *Server) Spaces() map[uint32]*Space {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint32]*Space, len(s.spaces))
	for id, sp := range s.spaces {
		out[id] = sp
	}
	return out
}

// SetReadOnly flips the server between accepting writes (master) and
// rejecting them (replica). The replica table has no mutating opcodes, so
// a write sent to a read-only server fails with ErrUnsupported.
func (s *Server) SetReadOnly(ro bool) { s.readOnly.Store(ro) }

// ReadOnly reports whether the server currently rejects writes.
func (s *Server) ReadOnly() bool { return s.readOnly.Load() }

// TableFor returns the opcode dispatch table appropriate to the server's
// current read-only state.
func (s *Server) TableFor() map[Opcode]Handler {
	if s.readOnly.Load() {
		return *s.roTable.Load()
	}
	return *s.rwTable.Load()
}

// Scheduler returns the server's fiber scheduler.
func (s *Server) Scheduler() *Scheduler { return s.sched }

// WAL returns the server's WAL writer.
func (s *Server) WAL() *WalWriter { return s.wal }

// LeaderFeed returns the server's replication fan-out. NewServer always
// creates one, so it is never nil.
func (s *Server) LeaderFeed() *Leader { return s.leader }

// Procs returns the server's Lua stored-procedure registry.
func (s *Server) Procs() *ProcRegistry { return s.procs }

// Health returns the server's replication peer health tracker.
func (s *Server) Health() *HealthChecker { return s.health }

// Config returns a copy of the server's configuration.
func (s *Server) Config() Config { return s.cfg }

// SetFollower attaches f as the server's replication follower and flips
// the server read-only, per spec.md §4.10: a replica never accepts
// writes directly.
func (s *Server) SetFollower(f *Follower) {
	s.follower = f
	s.SetReadOnly(true)
}

// Follower returns the server's replication follower, nil on a master.
func (s *Server) Follower() *Follower { return s.follower }

// SetCluster attaches the libp2p membership/discovery layer.
func (s *Server) SetCluster(c *Cluster) { s.cluster = c }

// Cluster returns the server's membership layer, nil if none was wired.
func (s *Server) Cluster() *Cluster { return s.cluster }

// AcceptReplication runs the replication leader's accept loop on ln until
// it is closed, serving each connecting follower from s.wal's directory
// and live commits broadcast via commitTxn.
func (s *Server) AcceptReplication(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go func(c net.Conn) {
			if err := s.leader.Accept(ctx, c, func(startLSN uint64) <-chan []byte {
				return WalRowsSince(s.cfg.WalDir, startLSN)
			}); err != nil {
				logrus.WithError(err).Debug("server: replication follower disconnected")
			}
		}(conn)
	}
}

// Close stops background subsystems.
func (s *Server) Close() error {
	if s.cluster != nil {
		_ = s.cluster.Close()
	}
	if s.wal == nil {
		return nil
	}
	return s.wal.Close()
}
