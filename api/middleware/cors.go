package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/packfinderz-settlement/api/responses"
)

// Dashboard origin used when PACKFINDERZ_CORS_ORIGINS is unset.
const localDashboardOrigin = "http://localhost:3000"

// CORS lets the seller dashboard call the balance and payout routes and read
// the headers those routes set for retries.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{localDashboardOrigin}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader, responses.RequestIDHeader},
		ExposedHeaders:   []string{responses.RequestIDHeader, "Retry-After", ReplayedHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
