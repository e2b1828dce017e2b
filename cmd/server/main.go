package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/localscribe/transcription-service/internal/audio"
	"github.com/localscribe/transcription-service/internal/config"
	"github.com/localscribe/transcription-service/internal/engine"
	"github.com/localscribe/transcription-service/internal/health"
	"github.com/localscribe/transcription-service/internal/metrics"
	"github.com/localscribe/transcription-service/internal/queue"
	"github.com/localscribe/transcription-service/internal/server"
	"github.com/localscribe/transcription-service/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "transcription-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// .env is optional; environment variables win either way
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "Loaded environment from .env")
	}

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Address),
		slog.Int("port", cfg.Server.Port),
		slog.String("engine_backend", cfg.Engine.Backend),
		slog.String("model", cfg.Engine.Model),
		slog.String("model_path", cfg.Engine.ModelPath),
		slog.Int("queue_capacity", cfg.Queue.Capacity),
		slog.Int("request_timeout", cfg.Queue.RequestTimeout),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	reporter := health.NewReporter()

	normalizer := audio.NewNormalizer(audio.NormalizerConfig{
		SampleRate:  cfg.Audio.SampleRate,
		FFmpegPath:  cfg.Audio.FFmpegPath,
		MaxDuration: cfg.Audio.GetMaxDuration(),
	})

	var detector *vad.Detector
	if cfg.Audio.SilenceThreshold > 0 {
		detector, err = vad.NewDetector(cfg.Audio.SilenceThreshold)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create silence detector: %v\n", err)
			os.Exit(1)
		}
		logger.Info("Silence gate enabled",
			slog.Float64("threshold", cfg.Audio.SilenceThreshold),
		)
	}

	// The HTTP server comes up before the model so /health can report the
	// loading state; /transcribe stays unavailable until the queue attaches.
	httpServer := server.NewHTTPServer(cfg, logger, appMetrics, reporter, normalizer, detector)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var serializer *queue.Serializer
	var eng engine.Engine

	engineReady := make(chan struct{})
	go func() {
		loadStart := time.Now()

		eng, err = engine.New(engine.Config{
			Backend:    cfg.Engine.Backend,
			ModelName:  cfg.Engine.Model,
			ModelPath:  cfg.Engine.ModelPath,
			BinaryPath: cfg.Engine.BinaryPath,
		}, logger)
		if err != nil {
			// A model that cannot load is fatal; the service must never
			// report ready.
			logger.Error("Failed to initialize engine", slog.String("error", err.Error()))
			os.Exit(1)
		}

		serializer = queue.New(eng, logger, cfg.Queue.Capacity, cfg.Queue.GetRequestTimeout())
		serializer.Start()

		httpServer.SetSerializer(serializer)
		reporter.SetReady(eng.ModelName())

		logger.Info("Service ready",
			slog.String("model", eng.ModelName()),
			slog.Duration("startup_time", time.Since(loadStart)),
		)
		close(engineReady)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	select {
	case <-engineReady:
		serializer.Stop()

		stats := serializer.GetStatistics()
		logger.Info("Final queue statistics",
			slog.Uint64("submitted", stats.Submitted),
			slog.Uint64("completed", stats.Completed),
			slog.Uint64("failed", stats.Failed),
			slog.Uint64("rejected", stats.Rejected),
			slog.Uint64("timeouts", stats.Timeouts),
		)

		if err := eng.Close(); err != nil {
			logger.Error("Error closing engine", slog.String("error", err.Error()))
		}
	default:
		logger.Info("Shutting down before model load completed")
	}

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
