package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/haul-reconciler/internal/api/http"
	"github.com/spec-kit/haul-reconciler/internal/api/http/handlers"
	"github.com/spec-kit/haul-reconciler/internal/config"
	"github.com/spec-kit/haul-reconciler/internal/events"
	"github.com/spec-kit/haul-reconciler/internal/observability"
	"github.com/spec-kit/haul-reconciler/internal/payweek"
	"github.com/spec-kit/haul-reconciler/internal/persistence"
	"github.com/spec-kit/haul-reconciler/internal/repository"
	"github.com/spec-kit/haul-reconciler/internal/service"
	"github.com/spec-kit/haul-reconciler/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	payweek.SetLocation(cfg.Settlement.Location())

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var (
		ticketRepo  repository.TicketRepository
		historyRepo repository.TicketHistoryRepository
	)
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		ticketRepo = repository.NewTicketRepository(pg.PoolHandle())
		historyRepo = repository.NewTicketHistoryRepository(pg.PoolHandle())
	} else {
		memory := repository.NewMemoryTicketRepository()
		ticketRepo = memory
		historyRepo = memory.History()
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()
	reportCache := repository.NewRedisReportCache(redis.Client, cfg.Redis.ReportCacheTTL)

	dispatcher := events.NewInMemoryDispatcher()
	if len(cfg.Kafka.Brokers) > 0 {
		sink := events.NewKafkaSink(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		defer sink.Close() //nolint:errcheck
		dispatcher.SubscribeAll(sink.Handle)
		logger.Info("publishing events to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	reconciler := service.NewReconciliationService(service.Dependencies{
		TicketRepo:  ticketRepo,
		HistoryRepo: historyRepo,
		ReportCache: reportCache,
		Dispatcher:  dispatcher,
		Policy:      cfg.Policy,
		Metrics:     metrics,
		Logger:      logger,
	})
	worker.StartAlertWorker(service.NewAlertService(dispatcher, logger))

	warmCtx, warmCancel := context.WithTimeout(ctx, time.Minute)
	if _, err := reconciler.WarmBaselines(warmCtx); err != nil {
		logger.Warn("baseline warm-up failed; confidence starts from empty history", zap.Error(err))
	}
	warmCancel()

	if cfg.Settlement.Enabled {
		settlement, err := worker.NewSettlementWorker(reconciler, cfg.Settlement.Cron, cfg.Settlement.Location(), logger)
		if err != nil {
			logger.Fatal("invalid settlement schedule", zap.Error(err))
		}
		settlement.Start(ctx)
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		BodyLimit:             cfg.App.BodyLimitBytes,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Tickets: handlers.NewTicketsHandler(reconciler),
		Reports: handlers.NewReportsHandler(reconciler),
		Metrics: metrics,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("env", cfg.App.Env))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
