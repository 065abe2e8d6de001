package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/packfinderz-settlement/api/routes"
	"github.com/angelmondragon/packfinderz-settlement/internal/app"
	stripewebhook "github.com/angelmondragon/packfinderz-settlement/internal/webhooks/stripe"
	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/metrics"
	"github.com/angelmondragon/packfinderz-settlement/pkg/migrate"
	"github.com/angelmondragon/packfinderz-settlement/pkg/redis"
	pkgstripe "github.com/angelmondragon/packfinderz-settlement/pkg/stripe"
)

const (
	serviceKind       = "api"
	shutdownTimeout   = 20 * time.Second
	readHeaderTimeout = 10 * time.Second
	webhookGuardScope = "stripe-webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "api.config_invalid", err)
		return err
	}
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	// Heroku-style PORT wins over the configured one.
	port := cfg.App.Port
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	instance := os.Getenv("DYNO")
	if instance == "" {
		instance = "local"
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     ":" + port,
		"instance": instance,
	})

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		logg.Error(ctx, "api.db_bootstrap_failed", err)
		return err
	}
	defer closeWith(ctx, logg, "api.db_close_failed", dbClient.Close)
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "api.dev_migrations_failed", err)
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "api.redis_bootstrap_failed", err)
		return err
	}
	defer closeWith(ctx, logg, "api.redis_close_failed", redisClient.Close)

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "api.stripe_bootstrap_failed", err)
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	services, err := app.BuildServices(app.ServicesParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Provider: stripeClient,
		Metrics:  metrics.NewSettlementMetrics(registry),
	})
	if err != nil {
		logg.Error(ctx, "api.services_invalid", err)
		return err
	}
	guard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Stripe.WebhookTTL, webhookGuardScope)
	if err != nil {
		logg.Error(ctx, "api.webhook_guard_invalid", err)
		return err
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			services.Payouts,
			services.Holds,
			stripeClient,
			services.Webhooks,
			guard,
		),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return serve(ctx, logg, server)
}

// serve blocks until the server fails or ctx is canceled, then drains
// in-flight requests for up to shutdownTimeout.
func serve(ctx context.Context, logg *logger.Logger, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "api.listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logg.Error(ctx, "api.stopped_unexpectedly", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api.shutdown_failed", err)
		return err
	}
	logg.Info(ctx, "api.shutdown_complete")
	return nil
}

func closeWith(ctx context.Context, logg *logger.Logger, event string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, event, err)
	}
}
