// Package main runs the validation worker: it consumes detected anomalies,
// validates them through the model router and emits confirmed glitches.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/clduab11/pricehawk/internal/adapter/ai"
	"github.com/clduab11/pricehawk/internal/adapter/bus/redisbus"
	"github.com/clduab11/pricehawk/internal/adapter/kv/rediskv"
	"github.com/clduab11/pricehawk/internal/adapter/repo/postgres"
	"github.com/clduab11/pricehawk/internal/config"
	"github.com/clduab11/pricehawk/internal/domain"
	"github.com/clduab11/pricehawk/internal/observability"
	"github.com/clduab11/pricehawk/internal/router"
	"github.com/clduab11/pricehawk/internal/shutdown"
	"github.com/clduab11/pricehawk/internal/stream"
	"github.com/clduab11/pricehawk/internal/validator"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		return 1
	}

	logger := observability.SetupLogger(cfg, "validator")
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}

	slog.Info("starting validator", slog.String("env", cfg.AppEnv))

	coord := shutdown.New(cfg.GracefulShutdownTimeout())

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	kvStore := rediskv.New(rdb)
	bus := redisbus.New(rdb)
	rec := observability.NewRecorder(kvStore)

	// Anomaly persistence is optional; the pipeline is authoritative.
	var store domain.AnomalyStore
	pool, err := postgres.NewPool(coord.Context(), cfg.DBURL)
	if err != nil {
		slog.Warn("database unavailable, running without persistence", slog.Any("error", err))
	} else {
		store = postgres.NewAnomalyRepo(pool)
	}

	models, err := router.LoadPool(cfg.ModelPoolFile)
	if err != nil {
		slog.Error("model pool load failed", slog.Any("error", err))
		return 1
	}
	rt := router.New(models, kvStore, rec, router.Options{
		CircuitThreshold: cfg.CircuitThreshold,
		CircuitWindow:    cfg.CircuitWindow(),
		EnableSOTA:       cfg.EnableSOTAModels,
		SnapshotTTL:      cfg.ModelStateSnapshotTTL,
	})
	rt.LoadSnapshots(coord.Context())

	caller := ai.NewClient(cfg.ModelEndpointBaseURL, cfg.ModelEndpointAPIKey)
	worker := validator.New(rt, caller, bus, store, rec)

	consumer := stream.NewConsumer(bus, kvStore, redisbus.StreamAnomalyDetected, "validator", worker.Handle, stream.Config{
		BatchSize:    cfg.StreamBatchSize,
		PollInterval: cfg.StreamPollInterval(),
		MaxRetries:   cfg.StreamMaxRetries,
	}, rec)

	ops := observability.NewOpsServer(cfg.OpsPort, bus, rec, func() any { return rt.Stats() })
	ops.Start()

	coord.Register("ops server", ops.Shutdown)
	coord.Register("redis", func(context.Context) error { return rdb.Close() })
	if pool != nil {
		coord.Register("postgres", func(context.Context) error {
			pool.Close()
			return nil
		})
	}
	if shutdownTracer != nil {
		coord.Register("tracer", shutdownTracer)
	}

	coord.Go("consumer", func(ctx context.Context) {
		if err := consumer.Run(ctx); err != nil {
			slog.Error("consumer exited with error", slog.Any("error", err))
			coord.Trigger()
		}
	})

	slog.Info("validator started, waiting for shutdown signal")
	return coord.Wait()
}
