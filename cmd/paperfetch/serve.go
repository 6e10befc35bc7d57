package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/downloader"
	httpserver "github.com/helixir/paperfetch/internal/server/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Serve exposes the download pipeline as an HTTP API. Batches are
submitted with POST /api/v1/batches and run asynchronously; progress is
streamed per batch via server-sent events. Prometheus metrics are exposed
on a separate port when enabled.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	logger := app.logger.With().Str("component", "serve").Logger()
	logger.Info().Msg("paperfetch server starting")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, manifest, err := app.openManifest(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Str("path", db.Path()).Msg("manifest database opened")

	jobs := httpserver.NewJobManager(httpserver.JobManagerConfig{
		Resolver: app.resolver,
		Downloaders: func(onProgress func(downloader.Progress)) httpserver.BatchDownloader {
			coord, err := app.newCoordinator(onProgress)
			if err != nil {
				// Coordinator construction only fails on an unusable
				// output directory, which Validate caught at startup.
				logger.Error().Err(err).Msg("failed to build downloader")
				return failingDownloader{err: err}
			}
			return coord
		},
		Manifest: manifest,
		Logger:   logger,
		Metrics:  app.metrics,
	})

	httpCfg := httpserver.Config{
		Address:         app.cfg.Server.HTTPAddress(),
		ReadTimeout:     app.cfg.Server.ReadTimeout,
		WriteTimeout:    5 * time.Minute, // Long timeout for SSE streaming.
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: app.cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, jobs, app.resolver, manifest, db, logger)

	var metricsServer *http.Server
	if app.cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(app.cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         app.cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  app.cfg.Server.ReadTimeout,
			WriteTimeout: app.cfg.Server.WriteTimeout,
		}
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info().Str("address", httpCfg.Address).Msg("HTTP API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("paperfetch is ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down paperfetch")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("paperfetch stopped")
	return nil
}

// failingDownloader fails every paper in a batch with the construction
// error.
type failingDownloader struct {
	err error
}

func (f failingDownloader) DownloadBatch(ctx context.Context, papers []domain.PaperRecord) []downloader.Result {
	results := make([]downloader.Result, len(papers))
	for i, p := range papers {
		results[i] = downloader.Result{
			DOI:   p.DOI,
			PMCID: p.PMCID,
			Error: f.err.Error(),
		}
	}
	return results
}
