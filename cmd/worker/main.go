package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jinsi-erp/jinsi-erp/internal/app"
	"github.com/jinsi-erp/jinsi-erp/internal/inventory"
	"github.com/jinsi-erp/jinsi-erp/internal/ledger"
	"github.com/jinsi-erp/jinsi-erp/internal/observability"
	"github.com/jinsi-erp/jinsi-erp/internal/platform/cache"
	"github.com/jinsi-erp/jinsi-erp/internal/platform/db"
	"github.com/jinsi-erp/jinsi-erp/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, nil)

	ledgerRepo := ledger.NewRepository(pool)
	cachedLedger := ledger.NewCachedService(ledger.NewService(ledgerRepo), redisClient, cfg.LedgerCacheTTL, logger)

	warmupJob := &jobs.LedgerWarmup{
		Items:             inventoryService,
		Ledger:            cachedLedger,
		Logger:            logger,
		Metrics:           metrics,
		DefaultFiscalYear: cfg.WarmupFiscalYr,
	}
	expiryJob := &jobs.ExpiryScan{
		Inventory: inventoryService,
		Logger:    logger,
		Metrics:   metrics,
	}

	warmupTask, err := jobs.NewLedgerWarmupTask("")
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	expiryTask, err := jobs.NewExpiryScanTask(time.Time{})
	if err != nil {
		logger.Error("build expiry task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskExpiryScan, Handler: expiryJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.WarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.ExpiryScanCron, Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
