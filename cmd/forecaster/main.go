// Command forecaster implements the Shedcast load-shedding stage forecaster.
//
// The forecaster runs a continuous training loop that:
//  1. Collects area schedules from the upstream provider (EskomSePush or a snapshot file)
//  2. Trains the national classifier on the pooled events
//  3. Optionally trains one classifier per area
//  4. Stores the trained models for the predictor to consume
//
// Predictions are served over HTTP on port 8081 (configurable) and, when
// GRPC_LISTEN is set, over gRPC:
//   - GET  /status, GET /area/{id}, POST /predict, POST /train, POST /train/area/{id}
//   - GET  /healthz - Health check endpoint
//   - GET  /metrics - Prometheus metrics endpoint
//   - gRPC shedcast.v1.Forecast/Predict and /Analyze, plus grpc.health.v1
//
// Usage:
//
//	forecaster \
//	  -source=sepush \
//	  -source-token=$ESP_TOKEN \
//	  -areas=capetown-9-kenilworth,eskde-10-fourwaysext10cityofjohannesburggauteng \
//	  -storage=redis -redis-addr=redis:6379 \
//	  -grpc-listen=:9091
//
// Environment variables:
//
//	LISTEN         - HTTP listen address (default: :8081)
//	GRPC_LISTEN    - gRPC listen address (disabled when empty)
//	SOURCE         - Schedule source: sepush, file (default: file)
//	SOURCE_TOKEN   - EskomSePush API token
//	SOURCE_FILE    - Snapshot file path (default: data/loadshedding_data.json)
//	AREAS          - Comma-separated EskomSePush area ids
//	TRAIN_AREAS    - Also train per-area models (default: false)
//	STORAGE        - Model storage: memory, file, redis (default: memory)
//	MODEL          - Classifier: forest, frequency (default: forest)
//	INTERVAL       - Training loop interval (default: 1h)
//	LOG_LEVEL      - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT     - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/HatiCode/shedcast/cmd/forecaster/config"
	"github.com/HatiCode/shedcast/cmd/forecaster/logger"
	"github.com/HatiCode/shedcast/cmd/forecaster/metrics"
	"github.com/HatiCode/shedcast/cmd/forecaster/models"
	"github.com/HatiCode/shedcast/cmd/forecaster/router"
	"github.com/HatiCode/shedcast/cmd/forecaster/store"
	"github.com/HatiCode/shedcast/pkg/adapters"
	"github.com/HatiCode/shedcast/pkg/forecast"
	"github.com/HatiCode/shedcast/pkg/httpx"
	"github.com/HatiCode/shedcast/pkg/rpc"
	shedcasttls "github.com/HatiCode/shedcast/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting shedcast forecaster",
		"version", version,
		"source", cfg.Source,
		"storage", cfg.Storage,
		"model", cfg.Model,
	)

	source, err := adapters.New(cfg.Source, cfg.SourceConfig(), logger)
	if err != nil {
		logger.Error("failed to create source", "error", err)
		os.Exit(1)
	}
	if esp, ok := source.(*adapters.SePushAdapter); ok {
		client, err := httpx.NewClient(shedcasttls.Config{}, cfg.SourceTimeout)
		if err != nil {
			logger.Error("failed to create source client", "error", err)
			os.Exit(1)
		}
		esp.HTTPClient = client
	}

	modelStore, err := store.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create model store", "error", err)
		os.Exit(1)
	}
	if closer, ok := modelStore.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()
	}

	trainer, err := forecast.NewTrainer(modelStore, models.TrainerConfig(cfg, logger), logger)
	if err != nil {
		logger.Error("failed to create trainer", "error", err)
		os.Exit(1)
	}
	predictor := forecast.NewPredictor(modelStore, logger)

	m := metrics.New(nil)
	f := New(source, trainer, cfg.TrainAreas, logger, m)

	deps := router.Deps{
		Source:    source,
		Predictor: predictor,
		Trainer:   f,
		Metrics:   m,
		Logger:    logger,
	}
	if pinger, ok := modelStore.(interface{ Ping(context.Context) error }); ok {
		deps.HealthCheck = pinger.Ping
	}

	mux := router.SetupRoutes(deps)
	handler := httpx.Chain(mux,
		httpx.RequestIDMiddleware(),
		httpx.RecoveryMiddleware(logger),
		httpx.LoggingMiddleware(logger),
	)
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	tlsConfig, err := cfg.TLS.ServerConfig()
	if err != nil {
		logger.Error("failed to load TLS config", "error", err)
		os.Exit(1)
	}
	if tlsConfig != nil {
		httpServer.SetTLSConfig(tlsConfig)
		logger.Info("TLS enabled", "cert", cfg.TLS.CertFile, "ca", cfg.TLS.CAFile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := f.Run(ctx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("training loop failed", "error", err)
		}
	}()

	serverErr := make(chan error, 2)
	go func() {
		if tlsConfig != nil {
			serverErr <- httpServer.StartTLS()
			return
		}
		serverErr <- httpServer.Start()
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCListen != "" {
		grpcServer, err = startGRPC(cfg, predictor, source, m, logger, serverErr)
		if err != nil {
			logger.Error("failed to start grpc server", "error", err)
			os.Exit(1)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	cancel()

	if grpcServer != nil {
		logger.Info("shutting down grpc server")
		grpcServer.GracefulStop()
	}

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// startGRPC serves the forecast service on cfg.GRPCListen in the background.
// Serve errors are reported on errCh.
func startGRPC(
	cfg *config.Config,
	predictor rpc.Predictor,
	source adapters.Source,
	m *metrics.Metrics,
	logger *slog.Logger,
	errCh chan<- error,
) (*grpc.Server, error) {
	opts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(requestCounter(m))}
	if cfg.TLS.Enabled {
		creds, err := cfg.TLS.ServerCredentials()
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	}

	grpcServer := rpc.NewServer(rpc.NewService(predictor, source), logger, opts...)

	lis, err := net.Listen("tcp", cfg.GRPCListen)
	if err != nil {
		return nil, err
	}

	go func() {
		logger.Info("grpc server listening", "address", cfg.GRPCListen)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	return grpcServer, nil
}

// requestCounter records gRPC calls in the same usage counter as HTTP.
func requestCounter(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if method, ok := strings.CutPrefix(info.FullMethod, "/"+rpc.ServiceName+"/"); ok {
			m.RecordRequest("grpc_" + strings.ToLower(method))
		}
		return handler(ctx, req)
	}
}
