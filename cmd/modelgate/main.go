// Package main is the entry point for the model gateway server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"modelgate/config"
	"modelgate/internal/bindings"
	"modelgate/internal/dispatch"
	"modelgate/internal/logging"
	"modelgate/internal/resolver"
	"modelgate/internal/server"
	"modelgate/internal/storage"
	"modelgate/internal/tokens"
	"modelgate/internal/usage"
	"modelgate/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "modelgate",
		Short: "LLM gateway with unified streaming and usage accounting",
		Long: `Modelgate routes chat requests to configured model backends,
normalizes their streaming protocols into a single event shape, and
records token and cost usage for every dispatched request.`,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Info())
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logging.Setup(logging.ParseLevel(cfg.Log.Level))

	slog.Info("starting modelgate",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	// Security check: warn if no master key is configured
	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set MASTER_KEY environment variable to secure this gateway")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	bindingStore, closeBindings, err := openBindingStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open binding store: %w", err)
	}
	defer closeBindings()

	recorder, closeUsage, err := openRecorder(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize usage recording: %w", err)
	}
	defer closeUsage()

	dispatcher := dispatch.New(
		resolver.New(bindingStore),
		tokens.NewEstimator(),
		recorder,
	)

	srv := server.New(dispatcher, &server.Config{
		MasterKey:      cfg.Server.MasterKey,
		MetricsEnabled: cfg.Server.MetricsEnabled,
	})

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("starting server", "address", addr)

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// openBindingStore opens the configured model binding source. A SQLite path
// takes precedence over the YAML file when both are set.
func openBindingStore(cfg *config.Config) (resolver.BindingStore, func(), error) {
	if cfg.Bindings.SQLitePath != "" {
		db, err := storage.OpenSQLite(cfg.Bindings.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, err := bindings.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("model bindings loaded", "source", "sqlite", "path", cfg.Bindings.SQLitePath)
		return store, func() { db.Close() }, nil
	}

	store, err := bindings.NewFileStore(cfg.Bindings.FilePath)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("model bindings loaded", "source", "file", "path", cfg.Bindings.FilePath)
	return store, func() {}, nil
}

// openRecorder builds the usage recorder over the configured store backend.
func openRecorder(cfg *config.Config) (usage.RecorderInterface, func(), error) {
	usageCfg := usage.DefaultConfig()
	if cfg.Usage.BufferSize > 0 {
		usageCfg.BufferSize = cfg.Usage.BufferSize
	}
	if cfg.Usage.FlushInterval > 0 {
		usageCfg.FlushInterval = cfg.Usage.FlushInterval
	}
	usageCfg.RetentionDays = cfg.Usage.RetentionDays

	switch cfg.Usage.Backend {
	case "postgres":
		pool, err := storage.OpenPostgres(context.Background(), cfg.Usage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store, err := usage.NewPostgresStore(pool, usageCfg.RetentionDays)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		rec := usage.NewRecorder(store, usageCfg)
		slog.Info("usage recording enabled", "backend", "postgres")
		return rec, func() {
			rec.Close()
			store.Close()
			pool.Close()
		}, nil

	case "sqlite":
		db, err := storage.OpenSQLite(cfg.Usage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, err := usage.NewSQLiteStore(db, usageCfg.RetentionDays)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		rec := usage.NewRecorder(store, usageCfg)
		slog.Info("usage recording enabled", "backend", "sqlite", "path", cfg.Usage.SQLitePath)
		return rec, func() {
			rec.Close()
			store.Close()
			db.Close()
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown usage backend %q", cfg.Usage.Backend)
	}
}
