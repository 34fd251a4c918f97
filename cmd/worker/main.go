package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lats-pos/receiving/internal/app"
	"github.com/lats-pos/receiving/internal/draft"
	jobmetrics "github.com/lats-pos/receiving/internal/jobs"
	"github.com/lats-pos/receiving/internal/observability"
	"github.com/lats-pos/receiving/internal/order"
	"github.com/lats-pos/receiving/internal/platform/db"
	"github.com/lats-pos/receiving/internal/quality"
	"github.com/lats-pos/receiving/internal/shared"
	"github.com/lats-pos/receiving/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)
	obs := observability.NewMetrics()

	auditTrail := shared.NewAuditTrail(pool)
	orderRepo := order.NewRepository(pool)
	orderService := order.NewService(orderRepo, auditTrail, nil, logger)

	draftRepo := draft.NewRepository(pool)
	draftService := draft.NewService(draftRepo, orderService, draft.NewCatalog(pool), draft.ServiceConfig{
		BaseCurrency:     cfg.BaseCurrency,
		DefaultMarginPct: cfg.DraftMarginPct,
	}, logger)

	// The repair sweep only re-inserts missing check items, so the quality
	// service runs without a receiving pipeline here.
	qualityRepo := quality.NewRepository(pool)
	qualityService := quality.NewService(qualityRepo, orderService, nil, logger, obs)

	idempotencyStore := shared.NewIdempotencyStore(pool)

	repairTask, err := jobs.NewPipelineRepairTask(time.Now().UTC())
	if err != nil {
		logger.Error("build repair task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewKeyCleanupTask(cfg.KeyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPipelineRepair, Handler: jobs.NewPipelineRepairHandler(draftService, qualityService, logger, metrics)},
			{Type: jobs.TaskKeyCleanup, Handler: jobs.NewKeyCleanupHandler(idempotencyStore, logger, metrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RepairSchedule, Task: repairTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.KeyCleanupSchedule, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
