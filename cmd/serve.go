package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/handlers"
	"github.com/ekaya-inc/ekaya-etl/pkg/metrics"
)

const shutdownTimeout = 30 * time.Second

var serveCmdPort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin HTTP API",
	Long: "Starts the admin API: trigger runs, list sources, mappings, transforms and import logs.\n" +
		"Prometheus metrics are served on /metrics. Pending migrations are applied at startup.",
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveCmdPort, "port", "", "port to bind the HTTP server to (overrides env var PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if serveCmdPort != "" {
		cfg.Port = serveCmdPort
	}

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Host+"/"+cfg.Database.Database),
		zap.String("lock_backend", cfg.ETL.LockBackend),
		zap.Duration("fk_lookup_timeout", cfg.ETL.FKLookupTimeout),
	)

	app, err := buildStack(ctx, cfg, logger, stackOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	router := handlers.NewRouter(handlers.RouterDeps{
		Health:  handlers.NewHealthHandler(cfg, app.pools, logger),
		Config:  handlers.NewConfigHandler(app.config, logger),
		Imports: handlers.NewImportHandler(ctx, app.imports, logger),
		Metrics: metrics.Handler(metrics.NewRegistry(app.collector)),
		Logger:  logger,
	})

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-etl", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	// In-flight runs see the cancelled base context, roll back their open
	// batch and finalize their import log as failed.
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
