/**
 * @description
 * Entry point for the settlement service. Wires the webhook pipeline, the
 * operational API and the cron scheduler around one database pool, then runs
 * until a termination signal arrives.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/campfire-labs/settlement-service/internal/api"
	"github.com/campfire-labs/settlement-service/internal/app"
	"github.com/campfire-labs/settlement-service/internal/config"
	"github.com/campfire-labs/settlement-service/internal/store"
	settlementrabbit "github.com/campfire-labs/settlement-service/pkg/rabbitmq"
	"github.com/campfire-labs/settlement-service/pkg/stripeclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Best-effort .env load for local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	pgConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	pgConfig.MaxConns = 50
	pgConfig.MinConns = 5
	pgConfig.MaxConnLifetime = 30 * time.Minute
	pgConfig.MaxConnIdleTime = 5 * time.Minute
	pgConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	paymentRepo := store.NewPaymentRepository(dbpool)
	bookingRepo := store.NewBookingRepository(dbpool)
	commissionRepo := store.NewCommissionRepository(dbpool)
	organisationRepo := store.NewOrganisationRepository(dbpool)
	payoutRepo := store.NewPayoutRepository(dbpool)
	eventRepo := store.NewWebhookEventRepository(dbpool)

	stripe := stripeclient.NewClient(cfg.StripeAPIBaseURL, cfg.StripeAPIKey)

	var publisher app.EventPublisher = &settlementrabbit.EventProducerFallback{}
	if cfg.RabbitMQURL != "" {
		if producer, err := settlementrabbit.NewEventProducer(cfg.RabbitMQURL); err == nil {
			publisher = producer
			defer producer.Close()
		} else {
			logger.Warn("failed to connect to RabbitMQ, using fallback publisher", "error", err)
		}
	}

	var limiter api.RateLimiter
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid REDIS_URL, webhook rate limiting disabled", "error", err)
		} else {
			limiter = app.NewRedisWebhookRateLimiter(redis.NewClient(redisOpts), "settlement:rate_limit")
		}
	}

	verifier, err := app.NewVerifier(cfg.StripeWebhookSecret, 0)
	if err != nil {
		logger.Error("failed to initialize webhook verifier", "error", err)
		os.Exit(1)
	}

	settlement := app.NewSettlementService(paymentRepo, bookingRepo, commissionRepo, publisher)
	accounts := app.NewAccountSyncService(organisationRepo, stripe, cfg.OnboardingRefreshURL, cfg.OnboardingReturnURL)
	payouts := app.NewPayoutService(commissionRepo, payoutRepo, organisationRepo, publisher)
	webhooks := app.NewWebhookService(verifier, eventRepo, settlement, accounts, payoutRepo, publisher)

	handler := api.NewHandler(webhooks, payouts, payoutRepo, accounts, eventRepo, limiter,
		cfg.WebhookRateLimit, time.Duration(cfg.WebhookRateWindowSeconds)*time.Second)
	router := api.NewRouter(handler, cfg.AdminJWKSURL, cfg.InternalAPIKey)

	jobs := app.NewJobs(payouts, accounts, logger, time.Duration(cfg.JobTimeoutMinutes)*time.Minute)
	scheduler := app.NewScheduler(jobs, logger, app.ScheduleConfig{
		PayoutSchedule:      cfg.PayoutJobSchedule,
		AccountSyncSchedule: cfg.AccountSyncSchedule,
	})
	scheduler.Start()
	logger.Info("scheduler started")

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
