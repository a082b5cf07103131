package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/consignhub/consignhub/internal/app"
	"github.com/consignhub/consignhub/internal/delivery"
	"github.com/consignhub/consignhub/internal/documents"
	"github.com/consignhub/consignhub/internal/inventory"
	jobmetrics "github.com/consignhub/consignhub/internal/jobs"
	"github.com/consignhub/consignhub/internal/platform/db"
	"github.com/consignhub/consignhub/internal/shared"
	"github.com/consignhub/consignhub/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, nil, logger, nil, nil)

	deliveryService := delivery.NewService(delivery.NewRepository(pool), nil, delivery.ServiceDeps{Logger: logger})
	// Retries run without a retry enqueuer: a failing retry is rescheduled by asynq itself.
	documentService := documents.NewService(documents.NewRepository(pool), documents.Options{
		Mirrors: map[documents.LinkType]documents.StatusMirror{
			documents.LinkBranchDelivery:      delivery.NewBranchRepository(pool),
			documents.LinkConsignmentDelivery: deliveryService,
		},
		Logger: logger,
	})

	mirrorJob := jobs.NewMirrorRetryJob(documentService, logger, metrics)
	reconcileJob := jobs.NewLedgerReconcileJob(inventoryRepo, inventoryService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, metrics)

	reconcileTask, err := jobs.NewLedgerReconcileTask(jobs.LedgerReconcilePayload{})
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.JobConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskMirrorRetry, Handler: mirrorJob.Handle},
			{Type: jobs.TaskLedgerReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.JobReconcileCron, Task: reconcileTask},
			{Spec: cfg.JobIdempotencyCron, Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
