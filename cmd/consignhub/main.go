package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/consignhub/consignhub/cmd/consignhub/cli"
	"github.com/consignhub/consignhub/internal/app"
	"github.com/consignhub/consignhub/internal/delivery"
	"github.com/consignhub/consignhub/internal/documents"
	"github.com/consignhub/consignhub/internal/inventory"
	"github.com/consignhub/consignhub/internal/observability"
	"github.com/consignhub/consignhub/internal/platform/cache"
	"github.com/consignhub/consignhub/internal/platform/db"
	"github.com/consignhub/consignhub/internal/shared"
	"github.com/consignhub/consignhub/jobs"
	"github.com/consignhub/consignhub/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	args := os.Args[1:]
	switch {
	case len(args) > 0 && args[0] == "migrate":
		err = runMigrate(ctx, cfg, logger)
	case len(args) > 0 && args[0] == "jobs":
		err = runJobsCLI(ctx, cfg, args[1:])
	default:
		err = serve(ctx, cfg, logger)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consignhub exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func runMigrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	n, err := migrations.Apply(ctx, pool, logger)
	if err != nil {
		return err
	}
	logger.Info("migrations complete", slog.Int("applied", n))
	return nil
}

func runJobsCLI(ctx context.Context, cfg *app.Config, args []string) error {
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client := asynq.NewClient(redisOpt)
	defer client.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	return cli.NewJobsCLI(client, inspector).Run(ctx, args, os.Stdout)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if _, err := migrations.Apply(ctx, pool, logger); err != nil {
			return err
		}
	}

	// Redis backs the numbering lock and the retry queue; the API keeps serving without it.
	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, numbering lock and mirror retries disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	adjuster := inventory.NewAdjuster(metrics)
	ledger := inventory.NewLedgerWriter(nil)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, logger, adjuster, ledger)

	deliveryService := delivery.NewService(delivery.NewRepository(pool), delivery.NewPoster(adjuster, ledger), delivery.ServiceDeps{
		Idempotency: idempotencyStore,
		Audit:       auditLogger,
		Observer:    metrics,
		Logger:      logger,
	})

	docOpts := documents.Options{
		Mirrors: map[documents.LinkType]documents.StatusMirror{
			documents.LinkBranchDelivery:      delivery.NewBranchRepository(pool),
			documents.LinkConsignmentDelivery: deliveryService,
		},
		Audit:    auditLogger,
		Observer: metrics,
		Logger:   logger,
	}
	var jobHandler *jobs.Handler
	if redisClient != nil {
		docOpts.Locker = documents.NewRedisScopeLocker(cache.NewLocker(redisClient), cfg.DocNoLockTTL)

		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		jobClient := jobs.NewClient(redisOpt)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		docOpts.Retries = jobClient

		inspector := asynq.NewInspector(redisOpt)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}
	documentService := documents.NewService(documents.NewRepository(pool), docOpts)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		DeliveryHandler:  delivery.NewHandler(logger, deliveryService),
		DocumentsHandler: documents.NewHandler(logger, documentService),
		JobHandler:       jobHandler,
		Metrics:          metrics,
		Ready: func(r *http.Request) error {
			return pool.Ping(r.Context())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
