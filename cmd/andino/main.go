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
	"github.com/redis/go-redis/v9"

	"github.com/andino-erp/andino-erp/internal/app"
	"github.com/andino-erp/andino-erp/internal/engine"
	"github.com/andino-erp/andino-erp/internal/ledger"
	"github.com/andino-erp/andino-erp/internal/numbering"
	"github.com/andino-erp/andino-erp/internal/orders"
	"github.com/andino-erp/andino-erp/internal/platform/db"
	"github.com/andino-erp/andino-erp/internal/production"
	"github.com/andino-erp/andino-erp/internal/purchase"
	"github.com/andino-erp/andino-erp/internal/refdata"
	"github.com/andino-erp/andino-erp/internal/sale"
	"github.com/andino-erp/andino-erp/internal/shared"
	"github.com/andino-erp/andino-erp/internal/stock"
	"github.com/andino-erp/andino-erp/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	numbers := numbering.NewAllocator(redisClient)
	coordinator := engine.NewCoordinator(dbpool, cfg.LockWait)

	stockRepo := stock.NewRepository(dbpool)
	ledgerRepo := ledger.NewRepository(dbpool)
	ordersRepo := orders.NewRepository(dbpool)
	refdataRepo := refdata.NewRepository(dbpool)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	enqueuer := jobs.NewEnqueuer(jobClient)

	stockService := stock.NewService(stockRepo, refdataRepo, auditLogger, idempotencyStore)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger)

	creditChecker := sale.NewCreditChecker(refdataRepo, ordersRepo, sale.Policy(cfg.CreditPolicy), logger)

	purchaseService := purchase.NewService(coordinator, ordersRepo, numbers, auditLogger, idempotencyStore, enqueuer)
	saleService := sale.NewService(coordinator, ordersRepo, refdataRepo, creditChecker, numbers, auditLogger, idempotencyStore, enqueuer)
	productionService := production.NewService(coordinator, ordersRepo, refdataRepo, numbers, auditLogger, idempotencyStore, enqueuer)

	stockHandler := stock.NewHandler(logger, stockService)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)
	purchaseHandler := purchase.NewHandler(logger, purchaseService)
	saleHandler := sale.NewHandler(logger, saleService)
	productionHandler := production.NewHandler(logger, productionService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		StockHandler:      stockHandler,
		LedgerHandler:     ledgerHandler,
		PurchaseHandler:   purchaseHandler,
		SaleHandler:       saleHandler,
		ProductionHandler: productionHandler,
		JobHandler:        jobHandler,
		Pool:              dbpool,
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
