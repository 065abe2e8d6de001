package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/packfinderz-settlement/api/controllers"
	holdcontrollers "github.com/angelmondragon/packfinderz-settlement/api/controllers/holds"
	payoutcontrollers "github.com/angelmondragon/packfinderz-settlement/api/controllers/payouts"
	webhookcontrollers "github.com/angelmondragon/packfinderz-settlement/api/controllers/webhooks"
	"github.com/angelmondragon/packfinderz-settlement/api/middleware"
	stripewebhook "github.com/angelmondragon/packfinderz-settlement/internal/webhooks/stripe"
	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	pkgredis "github.com/angelmondragon/packfinderz-settlement/pkg/redis"
	"github.com/angelmondragon/packfinderz-settlement/pkg/stripe"
)

// CacheStore is the redis surface the HTTP layer needs for idempotent replays
// and rate limiting.
type CacheStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	cache CacheStore,
	metricsHandler http.Handler,
	payoutService payoutcontrollers.Service,
	holdService holdcontrollers.Service,
	stripeClient *stripe.Client,
	stripeWebhookService webhookcontrollers.StripeWebhookService,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		idempotencyStore pkgredis.IdempotencyStore
		limiter          interface {
			IncrWithTTL(context.Context, string, time.Duration) (int64, error)
			RateLimitKey(string) string
		}
		readiness = map[string]controllers.Pinger{}
	)
	if dbP != nil {
		readiness["db"] = dbP
	}
	if cache != nil {
		idempotencyStore = cache
		limiter = cache
		readiness["redis"] = cache
	}

	payoutPolicy := middleware.NewRateLimitPolicy("payouts", cfg.RateLimit.Window, 0, cfg.RateLimit.PayoutsPerSeller)
	readPolicy := middleware.NewRateLimitPolicy("seller-reads", cfg.RateLimit.Window, 0, cfg.RateLimit.ReadsPerSeller)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		var guard interface {
			Claim(context.Context, string, string) (bool, error)
			Release(context.Context, string) error
		}
		if stripeWebhookGuard != nil {
			guard = stripeWebhookGuard
		}
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, guard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/seller", func(r chi.Router) {
			r.Use(middleware.RequireSeller(logg))

			r.With(
				middleware.RateLimit(payoutPolicy, limiter, logg),
				middleware.Idempotency(idempotencyStore, middleware.SellerPayoutIdempotency, logg),
			).Post("/payouts", payoutcontrollers.Create(payoutService, cfg.FeatureFlags.SellerPayouts, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(readPolicy, limiter, logg))
				r.Get("/payouts", payoutcontrollers.List(payoutService, logg))
				r.Get("/payouts/{payoutId}", payoutcontrollers.Detail(payoutService, logg))
				r.Get("/holds", holdcontrollers.List(holdService, logg))
				r.Get("/balance", holdcontrollers.Balance(holdService, logg))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
			r.With(middleware.Idempotency(idempotencyStore, middleware.AdminPayoutIdempotency, logg)).
				Post("/payouts", payoutcontrollers.AdminCreate(payoutService, logg))
		})
	})

	return r
}
