// Package main runs the notification dispatcher: it consumes confirmed
// glitches, schedules tier-delayed fan-out jobs and executes them against the
// configured delivery channels.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/clduab11/pricehawk/internal/adapter/bus/redisbus"
	"github.com/clduab11/pricehawk/internal/adapter/channel"
	"github.com/clduab11/pricehawk/internal/adapter/kv/rediskv"
	"github.com/clduab11/pricehawk/internal/adapter/queue/asynqq"
	"github.com/clduab11/pricehawk/internal/adapter/repo/postgres"
	"github.com/clduab11/pricehawk/internal/config"
	"github.com/clduab11/pricehawk/internal/dispatch"
	"github.com/clduab11/pricehawk/internal/observability"
	"github.com/clduab11/pricehawk/internal/shutdown"
	"github.com/clduab11/pricehawk/internal/stream"
)

// jobConcurrency caps concurrent fan-out jobs per process.
const jobConcurrency = 10

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		return 1
	}

	logger := observability.SetupLogger(cfg, "dispatcher")
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}

	slog.Info("starting dispatcher", slog.String("env", cfg.AppEnv))

	coord := shutdown.New(cfg.GracefulShutdownTimeout())

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	kvStore := rediskv.New(rdb)
	bus := redisbus.New(rdb)
	rec := observability.NewRecorder(kvStore)

	pool, err := postgres.NewPool(coord.Context(), cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		return 1
	}
	subsRepo := postgres.NewSubscriberRepo(pool)
	anomalyRepo := postgres.NewAnomalyRepo(pool)

	policy, err := dispatch.LoadTierPolicy(cfg.TierPolicyFile)
	if err != nil {
		slog.Error("tier policy load failed", slog.Any("error", err))
		return 1
	}

	targeted, broadcast := channel.Build(cfg)
	slog.Info("channels configured",
		slog.Int("targeted", len(targeted)),
		slog.Int("broadcast", len(broadcast)))

	queue := asynqq.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	disp := dispatch.NewDispatcher(kvStore, queue, policy, broadcast, rec, cfg.NotifyDedupTTL())
	limiter := dispatch.NewRateLimiter(kvStore, channel.DailyCaps(cfg))
	exec := dispatch.NewExecutor(subsRepo, targeted, policy, kvStore, limiter, anomalyRepo, rec, cfg.UserDedupTTL)

	jobs := asynqq.NewServer(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, jobConcurrency)
	jobs.Handle(dispatch.TaskNotifySubscribers, exec.HandleJob)
	if err := jobs.Start(); err != nil {
		slog.Error("job server start failed", slog.Any("error", err))
		return 1
	}

	consumer := stream.NewConsumer(bus, kvStore, redisbus.StreamAnomalyConfirmed, "dispatcher", disp.HandleConfirmed, stream.Config{
		BatchSize:    cfg.StreamBatchSize,
		PollInterval: cfg.StreamPollInterval(),
		MaxRetries:   cfg.StreamMaxRetries,
	}, rec)

	ops := observability.NewOpsServer(cfg.OpsPort, bus, rec, nil)
	ops.Start()

	coord.Register("ops server", ops.Shutdown)
	coord.Register("job server", func(context.Context) error {
		jobs.Shutdown()
		return nil
	})
	coord.Register("delay queue", func(context.Context) error { return queue.Close() })
	coord.Register("redis", func(context.Context) error { return rdb.Close() })
	coord.Register("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	if shutdownTracer != nil {
		coord.Register("tracer", shutdownTracer)
	}

	coord.Go("consumer", func(ctx context.Context) {
		if err := consumer.Run(ctx); err != nil {
			slog.Error("consumer exited with error", slog.Any("error", err))
			coord.Trigger()
		}
	})

	slog.Info("dispatcher started, waiting for shutdown signal")
	return coord.Wait()
}
