package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nexusdb/core"
	"nexusdb/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "nexusdb"}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(snapshotCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a nexusdb node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cfg, env)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "environment overlay to merge on top of the default config")
	return cmd
}

func runServe(cfg *config.Config, env string) error {
	srvCfg := core.Config{
		ListenAddr:      cfg.Listen.Addr,
		ReplAddr:        cfg.Listen.ReplAddr,
		AdminAddr:       cfg.Listen.AdminAddr,
		DebugAddr:       cfg.Listen.DebugAddr,
		ClusterAddr:     cfg.Listen.ClusterAddr,
		WalDir:          cfg.Wal.Dir,
		SnapshotDir:     cfg.Snapshot.Dir,
		RowsPerWal:      cfg.Wal.RowsPerWal,
		FsyncDelayMS:    cfg.Wal.FsyncDelayMS,
		PanicOnWalErr:   cfg.Wal.PanicOnWalError,
		SnapshotRateBPS: cfg.Snapshot.RateLimitBPS,
		ReplicationOf:   cfg.Replication.Of,
		ArenaSlabBytes:  cfg.Arena.SlabBytes,
	}

	applyLogLevel(cfg.Logging.Level)

	srv, err := core.NewServer(srvCfg)
	if err != nil {
		return fmt.Errorf("new server: %w", err)
	}
	defer srv.Close()

	spaces, err := buildSpaces(cfg.Spaces)
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	if err := srv.Bootstrap(spaces); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	snapCh := make(chan os.Signal, 1)
	signal.Notify(snapCh, syscall.SIGUSR1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
				if err := reloadConfig(env); err != nil {
					logrus.WithError(err).Warn("config: reload failed")
				}
			case <-snapCh:
				lsn := srv.WAL().CurrentLSN()
				if _, err := core.WriteSnapshot(core.SnapshotConfig{
					Dir:          srvCfg.SnapshotDir,
					RateLimitBPS: srvCfg.SnapshotRateBPS,
				}, lsn, srv.Spaces()); err != nil {
					logrus.WithError(err).Warn("snapshot: SIGUSR1-triggered snapshot failed")
				}
			}
		}
	}()

	if srvCfg.ReplicationOf != "" {
		dialer := core.NewDialer(100*time.Millisecond, 10*time.Second)
		follower := core.NewFollower(dialer, srvCfg.ReplicationOf, 0, srv.SpaceByID, srv.Health())
		srv.SetFollower(follower)
		go func() {
			if err := follower.Run(ctx); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Error("replication: follower stopped")
			}
		}()
	}

	if srvCfg.ClusterAddr != "" {
		cluster, err := core.NewCluster(ctx, srvCfg.ClusterAddr, core.Membership{
			NodeID:   srvCfg.ListenAddr,
			ReplAddr: srvCfg.ReplAddr,
			IsMaster: srvCfg.ReplicationOf == "",
		})
		if err != nil {
			return fmt.Errorf("cluster: %w", err)
		}
		srv.SetCluster(cluster)
	}

	ln, err := net.Listen("tcp", srvCfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srvCfg.ListenAddr, err)
	}
	defer ln.Close()

	if srvCfg.ReplAddr != "" {
		replLn, err := net.Listen("tcp", srvCfg.ReplAddr)
		if err != nil {
			return fmt.Errorf("listen repl %s: %w", srvCfg.ReplAddr, err)
		}
		defer replLn.Close()
		go func() {
			if err := srv.AcceptReplication(ctx, replLn); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Warn("replication: accept loop stopped")
			}
		}()
	}

	admin, reg := core.NewAdminServer(srv)
	admin.SetReloadHook(func() error { return reloadConfig(env) })
	if srvCfg.AdminAddr != "" {
		adminLn, err := net.Listen("tcp", srvCfg.AdminAddr)
		if err != nil {
			return fmt.Errorf("listen admin %s: %w", srvCfg.AdminAddr, err)
		}
		defer adminLn.Close()
		go func() {
			if err := admin.Serve(adminLn); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Warn("admin: serve stopped")
			}
		}()

		if srvCfg.DebugAddr != "" {
			debugLn, err := net.Listen("tcp", srvCfg.DebugAddr)
			if err != nil {
				return fmt.Errorf("listen debug %s: %w", srvCfg.DebugAddr, err)
			}
			defer debugLn.Close()
			debugSrv := &http.Server{Handler: core.DebugRouter(reg)}
			go func() {
				if err := debugSrv.Serve(debugLn); err != nil && ctx.Err() == nil {
					logrus.WithError(err).Warn("debug http: serve stopped")
				}
			}()
			go func() {
				<-ctx.Done()
				_ = debugSrv.Close()
			}()
		}
	}

	logrus.WithFields(logrus.Fields{
		"listen": srvCfg.ListenAddr,
		"admin":  srvCfg.AdminAddr,
	}).Info("nexusdb: node ready")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	return core.ListenAndServe(ctx, srv, ln)
}

func snapshotCmd() *cobra.Command {
	var snapshotDir string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "show the most recent snapshot recorded in a data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := core.LoadLatestManifest(snapshotDir)
			if err != nil {
				return err
			}
			if manifest == nil {
				fmt.Println("no snapshot found")
				return nil
			}
			fmt.Printf("lsn=%d file=%s taken_at=%s spaces=%v\n",
				manifest.LSN, manifest.FileName, manifest.TakenAt, manifest.SpaceIDs)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "directory to inspect")
	return cmd
}

// reloadConfig re-reads the config file overlay and re-applies the
// settings this process can change without a restart (spec.md §6's
// SIGHUP / admin "reload configuration" both land here). Listener
// addresses, WAL/snapshot directories, and the schema are fixed for the
// process's lifetime — changing those needs a restart.
func reloadConfig(env string) error {
	reloaded, err := config.Load(env)
	if err != nil {
		return err
	}
	applyLogLevel(reloaded.Logging.Level)
	logrus.Info("config: reloaded")
	return nil
}

// applyLogLevel sets logrus's level from a config string, defaulting to
// Info on an empty or unrecognised value rather than failing startup over
// a logging preference.
func applyLogLevel(level string) {
	if level == "" {
		logrus.SetLevel(logrus.InfoLevel)
		return
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithError(err).WithField("level", level).Warn("config: unrecognised log level, defaulting to info")
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// buildSpaces turns the config's declared schema into the core.Space
// objects Bootstrap registers before recovery runs.
func buildSpaces(defs []config.SpaceDef) ([]*core.Space, error) {
	spaces := make([]*core.Space, 0, len(defs))
	for _, d := range defs {
		specs := make([]core.IndexSpec, 0, len(d.Indexes))
		for _, idx := range d.Indexes {
			kind := core.IndexHash
			if idx.Kind == "tree" {
				kind = core.IndexTree
			}
			specs = append(specs, core.IndexSpec{Kind: kind, Fields: idx.Fields, Unique: idx.Unique})
		}
		sp, err := core.NewSpace(d.ID, d.Name, d.Arity, specs)
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, sp)
	}
	return spaces, nil
}
