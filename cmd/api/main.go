package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/dnsbatch/internal/auth"
	"github.com/kursadbilgin/dnsbatch/internal/config"
	"github.com/kursadbilgin/dnsbatch/internal/handler"
	"github.com/kursadbilgin/dnsbatch/internal/infra/postgresql"
	"github.com/kursadbilgin/dnsbatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/dnsbatch/internal/infra/redis"
	"github.com/kursadbilgin/dnsbatch/internal/observability"
	"github.com/kursadbilgin/dnsbatch/internal/queue"
	"github.com/kursadbilgin/dnsbatch/internal/recordset"
	"github.com/kursadbilgin/dnsbatch/internal/repository"
	"github.com/kursadbilgin/dnsbatch/internal/service"
	"github.com/kursadbilgin/dnsbatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	zoneCacheTTL      = 30 * time.Second
	memoryQueueSize   = 1024
	retryScanLimit    = 100
	applyLimitPrefix  = "zone-apply"
	submitLimitPrefix = "user-submit"
)

type stores struct {
	batches    repository.BatchChangeRepository
	zones      repository.ZoneRepository
	users      repository.UserRepository
	recordSets repository.RecordSetRepository
	sqlDB      *sql.DB
}

type broker struct {
	publisher queue.Publisher
	consumer  queue.Consumer
	close     func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	st, err := openStores(context.Background(), cfg)
	if err != nil {
		logger.Fatal("store initialization failed", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	if st.sqlDB != nil {
		defer st.sqlDB.Close()
	}

	rdb, err := infraredis.NewRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	mq, err := openBroker(cfg, logger)
	if err != nil {
		logger.Fatal("queue initialization failed", zap.Error(err))
	}
	defer mq.close() //nolint:errcheck

	gateway, err := newGateway(cfg, st.recordSets)
	if err != nil {
		logger.Fatal("record set gateway initialization failed", zap.Error(err))
	}

	applyLimiter, err := infraredis.NewRedisRateLimiter(rdb, applyLimitPrefix, cfg.ApplyRatePerSec)
	if err != nil {
		logger.Fatal("apply rate limiter initialization failed", zap.Error(err))
	}
	submitLimiter, err := infraredis.NewRedisRateLimiter(rdb, submitLimitPrefix, cfg.SubmitRatePerSec)
	if err != nil {
		logger.Fatal("submit rate limiter initialization failed", zap.Error(err))
	}
	locker, err := infraredis.NewRedisLocker(rdb)
	if err != nil {
		logger.Fatal("batch lock initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	gate, err := auth.NewGate(st.users, st.zones)
	if err != nil {
		logger.Fatal("access gate initialization failed", zap.Error(err))
	}
	resolver, err := service.NewZoneResolver(st.zones, zoneCacheTTL)
	if err != nil {
		logger.Fatal("zone resolver initialization failed", zap.Error(err))
	}
	validator, err := service.NewValidator(resolver, gate, cfg.MaxBatchChanges)
	if err != nil {
		logger.Fatal("validator initialization failed", zap.Error(err))
	}

	batchService, err := service.NewBatchChangeService(st.batches, validator, mq.publisher, logger)
	if err != nil {
		logger.Fatal("batch change service initialization failed", zap.Error(err))
	}
	batchService.SetSubmitLimiter(submitLimiter)
	batchService.SetMetrics(metrics)

	recordSetService, err := service.NewRecordSetService(st.zones, gateway, gate, logger)
	if err != nil {
		logger.Fatal("record set service initialization failed", zap.Error(err))
	}

	processor, err := service.NewProcessor(
		st.batches,
		mq.consumer,
		gateway,
		validator,
		applyLimiter,
		locker,
		cfg.ProcessorConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("processor initialization failed", zap.Error(err))
	}
	processor.SetMetrics(metrics)
	processor.SetMaxAttempts(cfg.ApplyMaxAttempts)
	processor.SetLockTTL(cfg.LockTTL)

	scanner, err := service.NewRetryScanner(st.batches, mq.publisher, cfg.RetryScanInterval, retryScanLimit, logger)
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}
	scanner.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, st.sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	zones := app.Group("/zones", auth.Middleware(gate))
	if err := handler.RegisterBatchChangeRoutes(zones, batchService); err != nil {
		logger.Fatal("batch change routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterRecordSetRoutes(zones, recordSetService); err != nil {
		logger.Fatal("record set routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return processor.Start(gctx)
	})
	g.Go(func() error {
		return scanner.Start(gctx)
	})
	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("dnsbatch api started",
		zap.Int("port", cfg.APIPort),
		zap.String("storeDriver", cfg.StoreDriver),
		zap.Int("processorConcurrency", cfg.ProcessorConcurrency),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dnsbatch stopped with error", zap.Error(err))
		return
	}
	logger.Info("dnsbatch stopped")
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		mem := repository.NewMemoryStore()
		return &stores{
			batches:    mem.BatchChanges,
			zones:      mem.Zones,
			users:      mem.Users,
			recordSets: mem.RecordSets,
		}, nil
	}

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := migrations.Migrate(db); err != nil {
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	return &stores{
		batches:    repository.NewGormBatchChangeRepo(db),
		zones:      repository.NewGormZoneRepo(db),
		users:      repository.NewGormUserRepo(db),
		recordSets: repository.NewGormRecordSetRepo(db),
		sqlDB:      sqlDB,
	}, nil
}

// openBroker uses RabbitMQ for the postgres driver and an in-process queue for the memory driver.
func openBroker(cfg *config.Config, logger *zap.Logger) (*broker, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		q := queue.NewMemoryQueue(memoryQueueSize)
		return &broker{publisher: q, consumer: q, close: q.Close}, nil
	}

	client, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		return nil, err
	}
	publisher := queue.NewRabbitMQPublisher(client)
	// Each processor worker consumes on its own channel and handles one batch at a time.
	consumer := queue.NewRabbitMQConsumer(client, 1, logger)
	return &broker{publisher: publisher, consumer: consumer, close: client.Close}, nil
}

func newGateway(cfg *config.Config, recordSets repository.RecordSetRepository) (recordset.Gateway, error) {
	if cfg.RecordSetBackendURL == "" {
		return recordset.NewLocalGateway(recordSets), nil
	}
	return recordset.NewHTTPGateway(cfg.RecordSetBackendURL)
}
