package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"bubbleflow.app/relay/common/id"
	"bubbleflow.app/relay/common/logger"
	"bubbleflow.app/relay/common/otel"
	"bubbleflow.app/relay/core/config"
	"bubbleflow.app/relay/core/db"
	"bubbleflow.app/relay/internal/dedupe"
	"bubbleflow.app/relay/internal/engine"
	"bubbleflow.app/relay/internal/queue"
	"bubbleflow.app/relay/internal/scheduler"
	"bubbleflow.app/relay/internal/service"
	"bubbleflow.app/relay/internal/store"
	"bubbleflow.app/relay/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "relay worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer,
		"scheduler_enabled", cfg.Scheduler.Enabled)

	// Initialize snowflake ID generator (use different node ID than server)
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    cfg.Worker.BatchSize,
		Block:        cfg.Worker.Block,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		RequeueDelay: cfg.Worker.RequeueDelay,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database.Conn())
	recorder := service.NewExecutionRecorder(
		engine.NewHTTPEngine(engine.HTTPConfig{
			BaseURL: cfg.Engine.BaseURL,
			APIKey:  cfg.Engine.APIKey,
			Timeout: cfg.Engine.Timeout,
		}, nil),
		service.NewTxRunner(database),
	)

	processor := worker.NewProcessor(stores.Flows(), stores.Executions(), recorder)
	w := worker.New(consumer, processor, worker.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   cfg.Worker.ReclaimMinIdle,
		Interval:  cfg.Worker.ReclaimInterval,
		BatchSize: cfg.Worker.BatchSize,
	}, consumer, w)

	var cron *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, slog.Default())
		defer producer.Close()

		cron = scheduler.New(
			stores.Flows(),
			producer,
			dedupe.NewRedisGuard(redisClient, "cron_fire:", cfg.Scheduler.LockTTL),
			scheduler.Config{
				TickInterval:   cfg.Scheduler.TickInterval,
				ReloadInterval: cfg.Scheduler.ReloadInterval,
			},
		)
		go cron.Run(ctx)
	}

	go func() {
		if err := w.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "worker exited", "error", err)
		}
	}()
	go reclaimer.Run(ctx)

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	// Scheduler and reclaimer first so nothing new lands while the worker drains.
	if cron != nil {
		cron.Stop()
	}
	reclaimer.Stop()
	w.Stop()

	if telemetry != nil {
		if err := telemetry.Shutdown(ctx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
██████╗ ███████╗██╗      █████╗ ██╗   ██╗    ██████╗ ██╗██████╗ ███████╗██╗     ██╗███╗   ██╗███████╗
██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝    ██╔══██╗██║██╔══██╗██╔════╝██║     ██║████╗  ██║██╔════╝
██████╔╝█████╗  ██║     ███████║ ╚████╔╝     ██████╔╝██║██████╔╝█████╗  ██║     ██║██╔██╗ ██║█████╗
██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝      ██╔═══╝ ██║██╔═══╝ ██╔══╝  ██║     ██║██║╚██╗██║██╔══╝
██║  ██║███████╗███████╗██║  ██║   ██║       ██║     ██║██║     ███████╗███████╗██║██║ ╚████║███████╗
╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝       ╚═╝     ╚═╝╚═╝     ╚══════╝╚══════╝╚═╝╚═╝  ╚═══╝╚══════╝
`
