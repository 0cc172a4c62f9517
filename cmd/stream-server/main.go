package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nupi-ai/whisper-stream-server/internal/auth"
	"github.com/nupi-ai/whisper-stream-server/internal/config"
	"github.com/nupi-ai/whisper-stream-server/internal/engine"
	"github.com/nupi-ai/whisper-stream-server/internal/health"
	"github.com/nupi-ai/whisper-stream-server/internal/limiter"
	"github.com/nupi-ai/whisper-stream-server/internal/logging"
	"github.com/nupi-ai/whisper-stream-server/internal/models"
	"github.com/nupi-ai/whisper-stream-server/internal/server"
	"github.com/nupi-ai/whisper-stream-server/internal/serverinfo"
	"github.com/nupi-ai/whisper-stream-server/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server terminated with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Loader{}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return err
	}

	logger, syncLogs, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		slog.Error("failed to initialise logging", "error", err)
		return err
	}
	defer func() { _ = syncLogs() }()
	slog.SetDefault(logger)

	logger.Info("starting server",
		"listen_addr", cfg.ListenAddr,
		"path", cfg.Path,
		"model_variant", cfg.ModelVariant,
		"language", cfg.Language,
		"data_dir", cfg.DataDir,
		"max_connections", cfg.MaxConnections,
		"max_connections_per_addr", cfg.MaxConnectionsPerAddr,
		"vad", cfg.VAD.Enabled,
	)

	provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceName:    serverinfo.Info.Slug,
		ServiceVersion: serverinfo.Version(),
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", "error", err)
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shut down telemetry", "error", err)
		}
	}()
	recorder := telemetry.NewRecorder(logger, provider.MeterProvider)

	manager, err := models.NewManager(cfg.DataDir, logger)
	if err != nil {
		logger.Warn("model manager unavailable", "error", err)
		manager = nil
	}

	eng, modelPath, engineErr := engine.New(ctx, cfg, manager, logger)
	if engineErr != nil {
		logger.Warn("engine initialised with warnings", "error", engineErr)
	}
	if modelPath != "" {
		logger.Info("resolved model path", "path", modelPath)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("failed to close engine", "error", err)
		}
	}()

	srv := server.New(cfg, logger, eng,
		auth.New(cfg.AuthTokens...),
		limiter.New(cfg.MaxConnections, cfg.MaxConnectionsPerAddr),
		recorder,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if cfg.HealthAddr != "" {
		healthServer := health.New(logger)
		g.Go(func() error {
			select {
			case <-srv.Ready():
				healthServer.SetServing(true)
			case <-gctx.Done():
			}
			return nil
		})
		g.Go(func() error {
			return healthServer.ListenAndServe(gctx, cfg.HealthAddr, cfg.ShutdownTimeout)
		})
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr, provider.Handler, cfg.ShutdownTimeout, logger)
		})
	}

	err = g.Wait()

	if snapshot := recorder.Snapshot(); snapshot.TotalSessions > 0 || snapshot.TotalRejected > 0 {
		logger.Info("telemetry totals",
			"total_sessions", snapshot.TotalSessions,
			"total_rejected", snapshot.TotalRejected,
			"total_frames", snapshot.TotalFrames,
			"total_samples", snapshot.TotalSamples,
			"total_inferences", snapshot.TotalInferences,
			"total_inference_errors", snapshot.TotalInferenceErrors,
			"total_transcripts", snapshot.TotalTranscripts,
			"total_final_transcripts", snapshot.TotalFinalTranscripts,
			"total_protocol_errors", snapshot.TotalProtocolErrors,
		)
	}

	if err != nil {
		logger.Error("server stopped with error", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler, timeout time.Duration, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
