package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/convo-coach/internal/api"
	"github.com/lexiqai/convo-coach/internal/app"
	"github.com/lexiqai/convo-coach/internal/config"
	"github.com/lexiqai/convo-coach/internal/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
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
		Str("grpc_port", cfg.GRPCPort).
		Str("deepgram_model", cfg.DeepgramModel).
		Str("openai_model", cfg.OpenAIModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Conversation coach service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("Service stopped with error")
	}
	logger.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := observability.GetLogger()

	pipeline, err := app.Build(ctx, cfg, app.BuildOptions{})
	if err != nil {
		return err
	}
	defer pipeline.Close()
	controller, handoff, checks := pipeline.Controller, pipeline.Handoff, pipeline.Checks

	// HTTP surface
	mux := http.NewServeMux()
	api.NewServer(controller, handoff.Records(), api.Options{
		SampleRate:     cfg.SampleRate,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	}).Register(mux)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 60 * time.Second, // uploads
		IdleTimeout: 60 * time.Second,
	}

	// gRPC health
	grpcServer := grpc.NewServer()
	healthServer := observability.NewGRPCHealthServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		streamURL := cfg.PublicURL
		if streamURL == "" {
			streamURL = fmt.Sprintf("ws://localhost:%s", cfg.Port)
		}
		logger.Info().
			Str("port", cfg.Port).
			Str("stream_endpoint", streamURL+"/v1/stream").
			Str("live_endpoint", streamURL+"/v1/live").
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		logger.Info().Str("port", cfg.GRPCPort).Msg("gRPC health service listening")
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		observability.WatchReadiness(gctx, healthServer, checks, 15*time.Second)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := server.Shutdown(shutdownCtx)

		// health watch streams never end on their own
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}

		if err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
