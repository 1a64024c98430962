package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	acme "github.com/caasmo/restinpieces-http01"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve challenges and redirects, and run issuance once in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		cfg, err := loadConfig(logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		metrics := acme.NewMetrics()
		driver, cleanup, err := newDriver(cfg, metrics, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		store := acme.NewStorage(cfg.DataDir)
		if err := store.EnsureDirs(); err != nil {
			logger.Error("Failed to create data directories", "data_dir", cfg.DataDir, "error", err)
			return err
		}

		g, gctx := errgroup.WithContext(ctx)

		plain := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           acme.NewResponder(store, metrics, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error { return listen(gctx, plain, "http", logger) })

		if cfg.MetricsAddr != "" {
			metricsSrv := &http.Server{
				Addr:              cfg.MetricsAddr,
				Handler:           metrics.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			g.Go(func() error { return listen(gctx, metricsSrv, "metrics", logger) })
		}

		g.Go(func() error {
			report := <-driver.Start(gctx)
			logger.Info("Issuance run finished", "outcome", report.Outcome, "hosts", report.Hosts)
			return nil
		})

		if err := g.Wait(); err != nil {
			logger.Error("Server stopped with error", "error", err)
			return err
		}
		logger.Info("Server shut down gracefully.")
		return nil
	},
}

// listen serves srv until ctx is done, then shuts it down.
func listen(ctx context.Context, srv *http.Server, name string, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting listener", "name", name, "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Listener shutdown failed", "name", name, "error", err)
		return err
	}
	return nil
}
