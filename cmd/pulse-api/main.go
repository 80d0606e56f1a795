package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/upb/pulse/app"
	"github.com/upb/pulse/config"
	"github.com/upb/pulse/internal/observability"
	"github.com/upb/pulse/routes"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pulse-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(ctx)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.Observability)
	if err != nil {
		return err
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", zap.Error(err))
		return err
	}

	srv := newServer(cfg.Server, routes.SetupRoutes(deps))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pulse-api listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Environment),
			zap.Strings("providers", deps.Pulse.Providers()),
			zap.Bool("tls", cfg.Server.TLS.Enabled))

		if cfg.Server.TLS.Enabled {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			_ = deps.Close(context.Background())
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	return deps.Close(shutdownCtx)
}

// initLogger builds the root logger from the observability settings
func initLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	logger, err := observability.NewLogger(level, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return logger, nil
}

func newServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}
