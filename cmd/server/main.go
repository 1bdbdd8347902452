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

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/Aste21/Lodz-Hack/api/handlers"
	"github.com/Aste21/Lodz-Hack/internal/config"
	"github.com/Aste21/Lodz-Hack/internal/logging"
	"github.com/Aste21/Lodz-Hack/pkg/monitor"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg == nil {
		return
	}

	logger := logging.New(os.Stdout, cfg.LogFormat, cfg.Debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Monitor stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Cfg, logger *slog.Logger) error {
	client, err := monitor.NewLocal(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	defer client.Close()

	for _, f := range cfg.Feeds {
		logger.Info("Monitoring feed", "feed", f.Kind.String(), "url", f.URL, "interval", f.Interval, "dir", f.Dir)
	}

	r := mux.NewRouter()
	h := handlers.NewHandler(client, cfg.Version, logger)
	h.RegisterRoutes(r)

	r.Use(loggingMiddleware(logger))
	r.Use(corsMiddleware)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("Server starting", "port", cfg.APIPort, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
