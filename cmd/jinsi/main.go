package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jinsi-erp/jinsi-erp/internal/app"
	"github.com/jinsi-erp/jinsi-erp/internal/dispatch"
	"github.com/jinsi-erp/jinsi-erp/internal/inventory"
	"github.com/jinsi-erp/jinsi-erp/internal/ledger"
	"github.com/jinsi-erp/jinsi-erp/internal/observability"
	"github.com/jinsi-erp/jinsi-erp/internal/platform/cache"
	"github.com/jinsi-erp/jinsi-erp/internal/platform/db"
	"github.com/jinsi-erp/jinsi-erp/internal/procurement"
	"github.com/jinsi-erp/jinsi-erp/internal/shared"
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
		logger.Error("connect postgres", slog.Any("error", err))
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

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotency := shared.NewIdempotencyStore(pool)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo)
	cachedLedger := ledger.NewCachedService(ledgerService, redisClient, cfg.LedgerCacheTTL, logger)

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(procurementRepo, inventoryService, approvalRecorder, auditLogger, idempotency, cachedLedger)

	dispatchRepo := dispatch.NewRepository(pool)
	dispatchService := dispatch.NewService(dispatchRepo, inventoryService, approvalRecorder, auditLogger, idempotency, cachedLedger, cfg.StockPolicy)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		DispatchHandler:    dispatch.NewHandler(logger, dispatchService),
		LedgerHandler:      ledger.NewHandler(logger, cachedLedger),
		JobsHandler:        jobs.NewHandler(inspector, jobsClient, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
