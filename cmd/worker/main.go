package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-billing/internal/config"
	"github.com/noah-isme/backend-billing/internal/events"
	"github.com/noah-isme/backend-billing/internal/invoice"
	"github.com/noah-isme/backend-billing/internal/lock"
	"github.com/noah-isme/backend-billing/internal/notify"
	"github.com/noah-isme/backend-billing/internal/obs"
	"github.com/noah-isme/backend-billing/internal/settings"
	"github.com/noah-isme/backend-billing/internal/store"
)

const overdueLockKey = "billing:overdue-sweep"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "billing")
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, queries := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	var notifiers []events.Notifier
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(
			cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookTimeout,
			logger.With().Str("component", "webhook").Logger(),
		))
	}

	settingsSvc := &settings.Service{
		Q:                queries,
		Fallback:         cfg.TaxDefaults(),
		FallbackCurrency: cfg.DefaultCurrency,
	}
	invoiceSvc := &invoice.Service{
		DB:        invoice.NewPGStore(pool, queries),
		Bus:       &events.Bus{Store: queries, Notifiers: notifiers},
		Taxes:     settingsSvc,
		Tolerance: cfg.OverpaymentTolerance,
		Log:       logger,
	}
	locker := lock.Locker{R: redisClient, RetryBackoff: 50 * time.Millisecond}

	logger.Info().Dur("interval", cfg.OverdueSweepInterval).Msg("worker starting")

	ticker := time.NewTicker(cfg.OverdueSweepInterval)
	defer ticker.Stop()

	sweep := func() {
		err := locker.TryWithLock(ctx, overdueLockKey, cfg.OverdueSweepInterval, func(ctx context.Context) error {
			moved, err := invoiceSvc.MarkOverdueBatch(ctx, cfg.OverdueSweepBatch)
			if err != nil {
				return err
			}
			if moved > 0 {
				logger.Info().Int("moved", moved).Msg("invoices marked overdue")
			}
			return nil
		})
		switch {
		case err == nil:
		case errors.Is(err, lock.ErrNotAcquired):
			logger.Debug().Msg("overdue sweep held elsewhere, skipping tick")
		case errors.Is(err, context.Canceled):
		default:
			logger.Error().Err(err).Msg("overdue sweep failed")
		}
	}

	sweep()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker shutdown complete")
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, *store.Queries) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "billing-worker"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool, store.New(pool)
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
