package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/subflow/billing-service/internal/adapters/mock"
	"github.com/subflow/billing-service/internal/adapters/postgres"
	"github.com/subflow/billing-service/internal/adapters/rabbitmq"
	"github.com/subflow/billing-service/internal/adapters/redislock"
	"github.com/subflow/billing-service/internal/config"
	cronHandler "github.com/subflow/billing-service/internal/handlers/cron"
	billingService "github.com/subflow/billing-service/internal/services/billing"
	subscriptionService "github.com/subflow/billing-service/internal/services/subscription"
	"github.com/subflow/billing-service/pkg/logging"
	"github.com/subflow/billing-service/pkg/observability"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	zapLogger := initLogger(cfg.Logger)
	defer zapLogger.Sync()
	logger := logging.NewZapLogger(zapLogger)

	zapLogger.Info("Starting billing service",
		zap.String("version", "0.1.0"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := postgres.NewPool(ctx, cfg.Database.ConnectionString(), cfg.Database.MaxConns)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	db := postgres.NewDBExecutor(pool)

	zapLogger.Info("Database connection established",
		zap.String("database", cfg.Database.Database),
	)

	// Redis subscription locks
	redisClient, err := redislock.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	locker := redislock.NewLocker(redisClient, logger)

	// RabbitMQ task queue
	taskQueue, err := rabbitmq.NewTaskQueue(rabbitmq.Config{
		URL:       cfg.RabbitMQ.URL,
		QueueName: cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer taskQueue.Close()

	// Repositories
	subRepo := postgres.NewSubscriptionRepository()
	productRepo := postgres.NewProductRepository()
	attemptRepo := postgres.NewPaymentAttemptRepository()
	discountRepo := postgres.NewDiscountRepository()
	couponRepo := postgres.NewCouponRepository()

	// Payment gateway. The mock gateway approves everything; swap in a real
	// provider adapter for production traffic.
	gateway := mock.NewPaymentGateway()

	// Services
	billing := billingService.NewService(
		db, subRepo, productRepo, attemptRepo, discountRepo, couponRepo,
		gateway, taskQueue, logger, cfg.Billing.RetryStrategy(), cfg.Billing.Currency,
	)
	subscriptions := subscriptionService.NewService(
		db, subRepo, productRepo, attemptRepo, gateway, taskQueue, logger,
	)
	consumer := billingService.NewConsumer(taskQueue, billing, locker, logger, cfg.Redis.LockTTL)

	// Billing task consumer
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Start(ctx)
	}()

	// Metrics and health server
	healthChecker := observability.NewHealthChecker(pool, redisClient)
	metricsServer := observability.StartMetricsServer(fmt.Sprintf("%d", cfg.Server.MetricsPort), healthChecker)
	zapLogger.Info("Metrics server listening", zap.Int("port", cfg.Server.MetricsPort))

	// Cron HTTP server for the external scheduler
	billingCron := cronHandler.NewBillingHandler(subscriptions, zapLogger, cfg.Server.CronSecret)

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/cron/publish-due-billing-tasks", billingCron.PublishDueBillingTasks)
	httpMux.HandleFunc("/cron/health", billingCron.HealthCheck)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      httpMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zapLogger.Info("HTTP cron server listening",
			zap.String("address", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt or consumer failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		zapLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-consumerDone:
		if err != nil && err != context.Canceled {
			zapLogger.Error("Billing consumer stopped", zap.Error(err))
		}
	}

	zapLogger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := observability.ShutdownMetricsServer(metricsServer); err != nil {
		zapLogger.Error("Metrics server shutdown error", zap.Error(err))
	}

	zapLogger.Info("Billing service stopped")
}

// initLogger builds the zap logger from config
func initLogger(cfg config.LoggerConfig) *zap.Logger {
	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
