// Command joplinfs mounts a Joplin note collection as a read-only
// FUSE filesystem.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joplinfs/joplinfs/internal/bridge"
	"github.com/joplinfs/joplinfs/internal/config"
	joplinfuse "github.com/joplinfs/joplinfs/internal/fuse"
	"github.com/joplinfs/joplinfs/internal/joplin"
	"github.com/joplinfs/joplinfs/internal/metrics"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "joplinfs",
		Short:         "Expose a Joplin note collection as a filesystem",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMountCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "joplinfs:", err)
		os.Exit(1)
	}
}

func newMountCommand() *cobra.Command {
	var (
		configPath  string
		token       string
		port        int
		logLevel    string
		metricsAddr string
		allowOther  bool
		debugFuse   bool
		syncPeriod  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mount MOUNTPOINT",
		Short: "Mount the note collection at the given directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.NewDefault()
			if configPath != "" {
				loaded, err := config.LoadFromFile(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			cfg.LoadFromEnv()

			// Flags win over file and environment.
			if token != "" {
				cfg.Remote.Token = token
			}
			if port != 0 {
				cfg.Remote.Port = port
			}
			if logLevel != "" {
				cfg.Global.LogLevel = logLevel
			}
			if metricsAddr != "" {
				cfg.Monitoring.Enabled = true
				cfg.Monitoring.Address = metricsAddr
			}
			if cmd.Flags().Changed("allow-other") {
				cfg.Mount.AllowOther = allowOther
			}
			if cmd.Flags().Changed("debug-fuse") {
				cfg.Mount.Debug = debugFuse
			}
			if cmd.Flags().Changed("sync-period") {
				cfg.Sync.Period = syncPeriod
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cfg, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().StringVarP(&token, "token", "t", "", "clipper authorization token")
	cmd.Flags().IntVar(&port, "port", 0, "first port probed for the clipper service")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "enable Prometheus metrics on this address")
	cmd.Flags().BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount")
	cmd.Flags().BoolVar(&debugFuse, "debug-fuse", false, "log every FUSE request")
	cmd.Flags().DurationVar(&syncPeriod, "sync-period", 0, "pause between event poll cycles")

	return cmd
}

func run(cfg *config.Configuration, mountpoint string) error {
	logger := newLogger(cfg.Global.LogLevel)

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled: cfg.Monitoring.Enabled,
		Address: cfg.Monitoring.Address,
		Path:    cfg.Monitoring.Path,
	})
	if err != nil {
		return err
	}

	client := joplin.NewClient(joplin.Options{
		Host:        cfg.Remote.Host,
		Port:        cfg.Remote.Port,
		PortsToScan: cfg.Remote.PortsToScan,
		Token:       cfg.Remote.Token,
		Timeout:     cfg.Remote.Timeout,
		Logger:      logger,
		Metrics:     collector,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to clipper service: %w", err)
	}

	b := bridge.New(client, bridge.Options{
		Mountpoint: mountpoint,
		SyncPeriod: cfg.Sync.Period,
		Logger:     logger,
		Metrics:    collector,
	})

	logger.Info("building initial tree")
	if err := b.BuildTree(ctx); err != nil {
		return fmt.Errorf("building initial tree: %w", err)
	}

	fs := joplinfuse.NewFileSystem(b, logger, collector)
	server, err := joplinfuse.Mount(fs, mountpoint, joplinfuse.MountOptions{
		AllowOther: cfg.Mount.AllowOther,
		Debug:      cfg.Mount.Debug,
	})
	if err != nil {
		return err
	}
	logger.Info("mounted", "mountpoint", mountpoint)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// Serve returns once the filesystem is unmounted, whether by
		// us or externally; either way the other loops should stop.
		server.Serve()
		stop()
		return nil
	})
	group.Go(func() error {
		return b.RunSyncLoop(groupCtx)
	})
	group.Go(func() error {
		return collector.Serve(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("unmounting", "mountpoint", mountpoint)
		if err := server.Unmount(); err != nil {
			// Already unmounted externally.
			logger.Debug("unmount", "error", err)
		}
		return nil
	})

	if err := server.WaitMount(); err != nil {
		return fmt.Errorf("waiting for mount: %w", err)
	}
	return group.Wait()
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
