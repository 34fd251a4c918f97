package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/lats-pos/receiving/internal/app"
	"github.com/lats-pos/receiving/internal/draft"
	"github.com/lats-pos/receiving/internal/inventory"
	"github.com/lats-pos/receiving/internal/observability"
	"github.com/lats-pos/receiving/internal/order"
	"github.com/lats-pos/receiving/internal/platform/cache"
	"github.com/lats-pos/receiving/internal/platform/db"
	"github.com/lats-pos/receiving/internal/quality"
	"github.com/lats-pos/receiving/internal/receiving"
	"github.com/lats-pos/receiving/internal/returns"
	"github.com/lats-pos/receiving/internal/shared"
	"github.com/lats-pos/receiving/jobs"
)

// orderReader adapts the order repository to the draft fan-out, which only
// needs reads. Routing the fan-out through the order service would close a
// dependency loop with it.
type orderReader struct {
	repo *order.Repository
}

func (o orderReader) GetOrder(ctx context.Context, id uuid.UUID) (order.PurchaseOrder, error) {
	return o.repo.Get(ctx, id)
}

func (o orderReader) ListItems(ctx context.Context, orderID uuid.UUID) ([]order.Item, error) {
	return o.repo.ListItems(ctx, orderID)
}

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

	metrics := observability.NewMetrics()
	validate := validator.New()

	auditTrail := shared.NewAuditTrail(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	receiveGuard := shared.NewReceiveGuard(redisClient, cfg.ReceiveGuardTTL)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, logger, metrics)

	orderRepo := order.NewRepository(pool)

	draftRepo := draft.NewRepository(pool)
	draftService := draft.NewService(draftRepo, orderReader{repo: orderRepo}, draft.NewCatalog(pool), draft.ServiceConfig{
		BaseCurrency:     cfg.BaseCurrency,
		DefaultMarginPct: cfg.DraftMarginPct,
	}, logger)

	orderService := order.NewService(orderRepo, auditTrail, draftService, logger)

	receivingRepo := receiving.NewRepository(pool)
	receivingService := receiving.NewService(receiving.ServiceDeps{
		Repo:        receivingRepo,
		Orders:      orderService,
		Inventory:   inventoryService,
		Guard:       receiveGuard,
		Audit:       auditTrail,
		Idempotency: idempotencyStore,
		Cache:       redisClient,
		CacheTTL:    cfg.SummaryCacheTTL,
		Logger:      logger,
		Metrics:     metrics,
	})

	qualityRepo := quality.NewRepository(pool)
	qualityService := quality.NewService(qualityRepo, orderService, receivingService, logger, metrics)

	returnsRepo := returns.NewRepository(pool)
	returnsService := returns.NewService(returnsRepo, orderRepo, inventoryService, auditTrail, logger, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		OrderHandler:     order.NewHandler(logger, orderService, validate),
		DraftHandler:     draft.NewHandler(logger, draftService, validate),
		QualityHandler:   quality.NewHandler(logger, qualityService, validate),
		ReceivingHandler: receiving.NewHandler(logger, receivingService, validate),
		ReturnsHandler:   returns.NewHandler(logger, returnsService, validate),
		InventoryHandler: inventory.NewHandler(logger, inventoryService, validate),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
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
