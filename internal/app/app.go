package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/api"
	"github.com/ayo6706/merchant-onboarding/internal/config"
	"github.com/ayo6706/merchant-onboarding/internal/db"
	"github.com/ayo6706/merchant-onboarding/internal/gateway"
	"github.com/ayo6706/merchant-onboarding/internal/idempotency"
	"github.com/ayo6706/merchant-onboarding/internal/notification"
	"github.com/ayo6706/merchant-onboarding/internal/observability"
	"github.com/ayo6706/merchant-onboarding/internal/repository"
	"github.com/ayo6706/merchant-onboarding/internal/service"
	"github.com/ayo6706/merchant-onboarding/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and reconciliation worker, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		pool        *pgxpool.Pool
		redisClient *redis.Client
		store       service.MerchantStore
		idemStore   *idempotency.Store
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err = db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		redisClient, err = newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()

		store = repository.NewPostgresStore(pool)
		idemStore = idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	case config.StoreDriverMemory:
		logger.Warn("running with in-memory store, state is not durable")
		store = repository.NewMemoryStore()
	}

	var bank gateway.BankGateway
	switch cfg.GatewayDriver {
	case config.GatewayDriverSimulated:
		logger.Warn("running with simulated bank gateway")
		bank = gateway.NewSimulatedGateway()
	default:
		bank = gateway.NewHTTPBankGateway(cfg.PartnerBaseURL, cfg.PartnerToken, cfg.CallbackURL, cfg.PartnerTimeout, logger)
	}

	notifier := notification.NewAsyncDispatcher(notification.NewLogDispatcher(logger), cfg.NotificationQueue, logger)
	defer notifier.Close()

	onboardingSvc := service.NewOnboardingService(store, bank, notifier, logger)
	webhookAuth := service.NewWebhookAuthenticator(cfg.WebhookHMACKey, cfg.WebhookSkipSignature, logger)

	reconSvc := service.NewReconciliationService(onboardingSvc, store, bank, cfg.ReconcileStaleAfter, logger)
	reconWorker := worker.NewReconciliationWorker(reconSvc).WithInterval(cfg.ReconcileInterval)
	stopWorker := reconWorker.Run(ctx)
	logger.Info("reconciliation worker started", zap.Duration("interval", cfg.ReconcileInterval))

	var redisCmd redis.Cmdable
	if redisClient != nil {
		redisCmd = redisClient
	}
	router := api.NewRouter(cfg, logger, pool, redisCmd, onboardingSvc, webhookAuth, bank, idemStore)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping reconciliation worker")
	stopWorker()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
