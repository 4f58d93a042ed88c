package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/voxgate/audio-gateway/internal/config"
	"github.com/voxgate/audio-gateway/internal/endpoint"
	"github.com/voxgate/audio-gateway/internal/observability"
	"github.com/voxgate/audio-gateway/internal/pipeline"
	"github.com/voxgate/audio-gateway/internal/resilience"
	"github.com/voxgate/audio-gateway/internal/session"
	"github.com/voxgate/audio-gateway/internal/store"
	"github.com/voxgate/audio-gateway/internal/stt"
	"github.com/voxgate/audio-gateway/internal/tts"
	"github.com/voxgate/audio-gateway/internal/work"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("pipeline_addr", cfg.PipelineAddr).
		Str("endpoint_strategy", cfg.EndpointStrategy).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Audio Gateway Service starting")

	pool := work.NewPool(cfg.WorkerPoolSize)
	transcriber := stt.NewDeepgramTranscriber(cfg)
	renderer := tts.NewCartesiaRenderer(cfg)

	// The pipeline dial is retried at boot so a slow-starting pipeline
	// container does not take the gateway down with it.
	var pipelineClient *pipeline.Client
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = resilience.Reconnect(bootCtx, func() error {
		var derr error
		pipelineClient, derr = pipeline.NewClient(cfg)
		return derr
	}, &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	})
	bootCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to conversation pipeline")
	}

	var turns store.TurnStore = store.NoopStore{}
	if cfg.RedisAddr != "" {
		turns = store.NewRedisStore(cfg)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Turn persistence enabled")
	}

	newEndpointer := func() (endpoint.Endpointer, error) {
		opts := endpoint.Options{
			SilenceTimeout: cfg.SilenceTimeout(),
			SampleRate:     cfg.InputSampleRate,
			ModelPath:      cfg.VADModelPath,
			Threshold:      cfg.VADThreshold,
			Logger:         observability.WithComponent("endpoint"),
		}
		if cfg.EndpointStrategy == config.StrategyNeural {
			return endpoint.NewNeural(opts)
		}
		return endpoint.NewHeuristic(opts), nil
	}

	deps := session.Deps{
		Config:        cfg,
		NewEndpointer: newEndpointer,
		Transcriber:   transcriber,
		Responder:     pipelineClient,
		Renderer:      renderer,
		Turns:         turns,
		Pool:          pool,
	}

	// Create HTTP server
	mux := http.NewServeMux()

	// Register audio session WebSocket handler
	mux.HandleFunc("/v1/audio", session.HandleAudioWS(deps))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	checks := map[string]observability.HealthCheckFunc{
		"pipeline": func(ctx context.Context) (bool, error) {
			return pipelineClient.HealthCheck(ctx)
		},
		// No probe call here: Deepgram bills per request, so readiness
		// only confirms the transcriber is configured.
		"deepgram": func(ctx context.Context) (bool, error) {
			if cfg.DeepgramAPIKey == "" {
				return false, fmt.Errorf("deepgram api key not configured")
			}
			return true, nil
		},
	}
	if cfg.RedisAddr != "" {
		checks["redis"] = func(ctx context.Context) (bool, error) {
			if err := turns.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. The timeouts cover plain HTTP
	// requests; upgraded WebSocket connections are hijacked and manage
	// their own liveness.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/v1/audio", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight utterance work finish before tearing down clients.
	pool.Drain()
	if err := turns.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close turn store")
	}
	transcriber.Close()
	renderer.Close()
	pipelineClient.Close()

	logger.Info().Msg("Server exited gracefully")
}
