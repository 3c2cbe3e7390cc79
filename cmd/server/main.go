// File: cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iyunix/go-localchat/internal/config"
	"github.com/iyunix/go-localchat/internal/repository"
	"github.com/iyunix/go-localchat/internal/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "localchat",
		Short:         "Local LLM chat server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("db-driver", "", "database driver (sqlite|postgres)")
	root.PersistentFlags().String("db-dsn", "", "database DSN or sqlite file path")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	serve.Flags().String("port", "", "HTTP port")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE:  runMigrate,
	}

	root.AddCommand(serve, migrate)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, *services.ProductionLogger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger, err := services.NewLogger("localchat", cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repository.Migrate(db); err != nil {
		return err
	}
	logger.Info("database migrated", "driver", cfg.DBDriver)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	app, err := newApplication(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Placeholders left streaming by a crashed process can never finish.
	if err := app.Orchestrator.RecoverStale(ctx); err != nil {
		logger.Error("stale stream recovery failed", "error", err)
	}
	go app.Hub.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"port", cfg.ServerPort,
			"env", cfg.Environment,
			"llm_provider", cfg.LLMProvider,
			"vector_backend", cfg.VectorBackend,
			"resumable_streams", cfg.ResumableStreams)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Finishing turns first lets open streams deliver their terminal event.
	app.StopTurns(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}
