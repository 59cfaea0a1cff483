package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dockpulse/internal/app"
	"dockpulse/internal/config"
	"dockpulse/internal/valkey"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "dockpulse",
		Short: "Live host and container metrics over WebSocket",
		Long: `dockpulse samples the host and every Docker container on a fixed cycle,
keeps a rolling history in sqlite, raises threshold alerts and pushes each
reading to connected WebSocket viewers.

Configuration is read from defaults, then the YAML file given by --config
(or APP_CONFIG), then environment variables.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	cmd.AddCommand(pruneCmd(&configPath), snapshotCmd(&configPath))
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	logger := newLogger(cfg.LogLevel)
	logger.Info("starting dockpulse", "addr", cfg.Addr, "db", cfg.DBPath, "interval", cfg.CycleInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("init failed", "err", err)
		return err
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("shutdown with error", "err", err)
		return err
	}
	return nil
}

func pruneCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete metric points older than the retention window",
		Long: `Run one retention pass against the configured database and exit.
The server prunes on every cycle; this is for databases left behind by a
stopped instance.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			n, err := app.Prune(cmd.Context(), cfg, newLogger(cfg.LogLevel))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d metric points older than %s.\n", n, cfg.RetentionWindow)
			return nil
		},
	}
}

func snapshotCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the latest snapshot mirrored to Valkey",
		Long: `Read the most recent snapshot a running server mirrored to Valkey and
print it as JSON. Requires valkey_addr (or VALKEY_ADDR) to be set.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.ValkeyAddr == "" {
				return errors.New("valkey_addr is not configured")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			client, err := valkey.New(ctx, cfg.ValkeyAddr, cfg.ValkeyPassword)
			if err != nil {
				return err
			}
			defer client.Close()
			snap, err := client.Latest(ctx)
			if errors.Is(err, valkey.ErrNoSnapshot) {
				fmt.Fprintln(cmd.ErrOrStderr(), "No snapshot mirrored yet. Is the server running?")
				return err
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
