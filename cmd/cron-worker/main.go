package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-settlement/internal/app"
	"github.com/angelmondragon/packfinderz-settlement/internal/cron"
	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/metrics"
	"github.com/angelmondragon/packfinderz-settlement/pkg/migrate"
	"github.com/angelmondragon/packfinderz-settlement/pkg/redis"
	pkgstripe "github.com/angelmondragon/packfinderz-settlement/pkg/stripe"
)

const serviceKind = "cron-worker"

func main() {
	runOnce := flag.String("run", "", "run one job by name and exit (payout-release, settlement-retention)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, *runOnce); err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}

func run(ctx context.Context, once string) error {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "cron.config_invalid", err)
		return err
	}
	cfg.Service.Kind = serviceKind
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"tick":        cfg.Cron.Tick.String(),
	})

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		logg.Error(ctx, "cron.db_bootstrap_failed", err)
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "cron.db_close_failed", err)
		}
	}()
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "cron.dev_migrations_failed", err)
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "cron.redis_bootstrap_failed", err)
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "cron.redis_close_failed", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "cron.stripe_bootstrap_failed", err)
		return err
	}

	services, err := app.BuildServices(app.ServicesParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Provider: stripeClient,
		Metrics:  metrics.NewSettlementMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(ctx, "cron.services_invalid", err)
		return err
	}

	service, err := buildScheduler(cfg, logg, services, redisClient)
	if err != nil {
		logg.Error(ctx, "cron.scheduler_invalid", err)
		return err
	}

	if once != "" {
		return service.RunJob(logg.WithField(ctx, "trigger", "manual"), once)
	}

	logg.Info(ctx, "cron.starting")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron.stopped_unexpectedly", err)
		return err
	}
	logg.Info(ctx, "cron.shutdown_complete")
	return nil
}

func buildScheduler(cfg *config.Config, logg *logger.Logger, services *app.Services, redisClient *redis.Client) (*cron.Service, error) {
	release, err := cron.NewPayoutReleaseJob(cron.PayoutReleaseJobParams{
		Logger:  logg,
		Payouts: services.Payouts,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger:     logg,
		Outbox:     services.Outbox,
		DLQ:        services.DLQ,
		OutboxDays: cfg.Outbox.RetentionDays,
		DLQDays:    cfg.Outbox.DLQRetentionDays,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	if err := registry.Register(release, cfg.Cron.PayoutReleaseEvery); err != nil {
		return nil, err
	}
	if err := registry.Register(retention, cfg.Cron.RetentionEvery); err != nil {
		return nil, err
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceKind), cfg.Cron.LockTTL)
	if err != nil {
		return nil, err
	}
	cadence, err := cron.NewRedisCadence(redisClient, func(job string) string {
		return redisClient.LockKey("cadence:" + job)
	})
	if err != nil {
		return nil, err
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Cadence:  cadence,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Tick:     cfg.Cron.Tick,
	})
}
