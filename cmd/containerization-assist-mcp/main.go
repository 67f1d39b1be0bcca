// Command containerization-assist-mcp runs the containerization workflow
// orchestrator as an MCP stdio server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Azure/containerization-assist/pkg/infrastructure/container"
	"github.com/Azure/containerization-assist/pkg/infrastructure/messaging"
	sessionstore "github.com/Azure/containerization-assist/pkg/infrastructure/persistence/session"
	"github.com/Azure/containerization-assist/pkg/infrastructure/runner"
	"github.com/Azure/containerization-assist/pkg/service/config"
	"github.com/Azure/containerization-assist/pkg/service/progress"
	"github.com/Azure/containerization-assist/pkg/service/server"
	sessionsvc "github.com/Azure/containerization-assist/pkg/service/session"
	"github.com/Azure/containerization-assist/pkg/service/workflow"
	"github.com/Azure/containerization-assist/pkg/service/workflow/steps"
)

// Set at build time via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
)

var envFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "containerization-assist-mcp",
		Short:         "MCP server for containerization workflows",
		Long:          "Containerization Assist analyzes repositories, builds and scans container images, and deploys them to Kubernetes, driven over the Model Context Protocol.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file to load before reading the environment")

	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP stdio server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("containerization-assist-mcp %s (commit %s)\n", version, gitCommit)
		},
	}
}

func serve(cfg config.Config) error {
	// stdout carries the MCP protocol; all logging goes to stderr.
	logger := newLogger(cfg)
	logger.Info("starting containerization assist",
		"version", version,
		"store_path", cfg.StorePath,
		"workflow_mode", cfg.WorkflowMode)

	store, err := sessionstore.NewBoltStore(cfg.StorePath, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SnapshotPath != "" {
		restored := store.ImportSnapshot(ctx, cfg.SnapshotPath)
		if restored > 0 {
			logger.Info("sessions restored from snapshot", "count", restored, "path", cfg.SnapshotPath)
		}
		go snapshotLoop(ctx, store, cfg.SnapshotPath, cfg.SnapshotInterval, logger)
	}

	publisher := messaging.NewPublisher(logger)
	sessions := sessionsvc.NewService(store, publisher, sessionsvc.Config{
		DefaultTTL:        cfg.SessionTTL,
		CompletedTTL:      cfg.CompletedTTL,
		MaxActiveSessions: cfg.MaxSessions,
		CleanupInterval:   cfg.CleanupInterval,
	}, logger)
	sessions.StartReaper()

	tracker := progress.NewTracker(logger)
	tracker.StartSweeper(cfg.CleanupInterval)

	cmdRunner := &runner.DefaultCommandRunner{Logger: logger}
	apiClient, err := container.NewAPIClient(cfg.RegistryAuth, logger)
	if err != nil {
		return err
	}
	images := container.NewDualClient(apiClient, container.NewCLIClient(cmdRunner, logger), cfg.ProbeInterval, logger)
	scanner := container.NewDualScanner(
		container.NewTrivyScanner(cmdRunner, logger),
		container.NewGrypeScanner(cmdRunner, logger),
		cfg.ProbeInterval, logger)

	registry := steps.NewRegistry(steps.Deps{
		Images:  images,
		Scanner: scanner,
		Runner:  cmdRunner,
		Logger:  logger,
	})
	manager := workflow.NewManager()
	orchestrator := workflow.NewOrchestrator(sessions, tracker, manager, registry, logger)

	srv := server.NewServer(orchestrator, manager, sessions, tracker, server.Options{
		Automated:   cfg.Automated(),
		RegistryURL: cfg.RegistryURL,
		Namespace:   cfg.Namespace,
	}, logger)

	serveErr := srv.ServeStdio(ctx, version)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if cfg.SnapshotPath != "" {
		if err := store.ExportSnapshot(shutdownCtx, cfg.SnapshotPath); err != nil {
			logger.Warn("failed to export session snapshot", "path", cfg.SnapshotPath, "error", err)
		}
	}
	tracker.Close()
	if err := publisher.Close(shutdownCtx); err != nil {
		logger.Warn("event publisher shutdown incomplete", "error", err)
	}
	if err := sessions.Close(); err != nil {
		logger.Warn("session store close failed", "error", err)
	}

	if serveErr != nil && ctx.Err() == nil {
		return serveErr
	}
	logger.Info("shutdown complete")
	return nil
}

// snapshotLoop rewrites the session snapshot on a fixed interval until ctx
// is cancelled. The final snapshot is taken during shutdown.
func snapshotLoop(ctx context.Context, store *sessionstore.BoltStore, path string, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.ExportSnapshot(ctx, path); err != nil {
				logger.Warn("periodic snapshot failed", "path", path, "error", err)
			}
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
