package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	internalholds "github.com/angelmondragon/packfinderz-settlement/internal/holds"
	stripewebhook "github.com/angelmondragon/packfinderz-settlement/internal/webhooks/stripe"
	pkgAuth "github.com/angelmondragon/packfinderz-settlement/pkg/auth"
	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type memoryCache struct {
	mu     sync.Mutex
	data   map[string]string
	counts map[string]int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryCache) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (m *memoryCache) IdempotencyKey(scope, id string) string { return "idem:" + scope + ":" + id }

func (m *memoryCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryCache) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memoryCache) RateLimitKey(scope string) string { return "rl:" + scope }

func (m *memoryCache) Ping(context.Context) error { return nil }

type stubPayouts struct {
	mu      sync.Mutex
	created int
}

func (s *stubPayouts) CreatePayout(ctx context.Context, sellerID uuid.UUID) (*models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	return &models.Payout{ID: uuid.New(), SellerID: sellerID, Status: enums.PayoutStatusPending, Amount: decimal.RequireFromString("275.40")}, nil
}

func (s *stubPayouts) List(ctx context.Context, sellerID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	return nil, nil
}

func (s *stubPayouts) Get(ctx context.Context, sellerID, payoutID uuid.UUID) (*models.Payout, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
}

type stubHolds struct{}

func (stubHolds) Views(ctx context.Context, sellerID uuid.UUID) ([]internalholds.View, error) {
	return nil, nil
}

func (stubHolds) Balance(ctx context.Context, sellerID uuid.UUID) (*internalholds.Balance, error) {
	return &internalholds.Balance{SellerID: sellerID}, nil
}

type stubWebhookService struct{}

func (stubWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error) {
	return stripewebhook.OutcomeProcessed, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:          config.AppConfig{Env: "dev"},
		JWT:          config.JWTConfig{Secret: "secret", Issuer: "packfinderz", ExpirationMinutes: 60},
		FeatureFlags: config.FeatureFlagsConfig{SellerPayouts: true},
		RateLimit:    config.RateLimitConfig{Window: time.Minute, PayoutsPerSeller: 5, ReadsPerSeller: 100},
	}
}

func newTestRouter(t *testing.T, payouts *stubPayouts) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	router := NewRouter(cfg, nil, stubPinger{}, newMemoryCache(), nil, payouts, stubHolds{}, nil, stubWebhookService{}, nil)
	return router, cfg
}

func token(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	tok, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: uuid.New(), Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}

func do(router http.Handler, method, path, bearer, idemKey, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthRoutes(t *testing.T) {
	router, _ := newTestRouter(t, &stubPayouts{})
	for _, path := range []string{"/health/live", "/health/ready"} {
		if rec := do(router, http.MethodGet, path, "", "", ""); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, rec.Code)
		}
	}
}

func TestSellerRoutesRequireAuth(t *testing.T) {
	router, _ := newTestRouter(t, &stubPayouts{})
	if rec := do(router, http.MethodGet, "/api/v1/seller/balance", "", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestSellerRoutesRejectBuyer(t *testing.T) {
	router, cfg := newTestRouter(t, &stubPayouts{})
	rec := do(router, http.MethodGet, "/api/v1/seller/balance", token(t, cfg, enums.ActorRoleBuyer), "", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestSellerReadRoutes(t *testing.T) {
	router, cfg := newTestRouter(t, &stubPayouts{})
	bearer := token(t, cfg, enums.ActorRoleSeller)
	for _, path := range []string{"/api/v1/seller/balance", "/api/v1/seller/holds", "/api/v1/seller/payouts"} {
		if rec := do(router, http.MethodGet, path, bearer, "", ""); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d (%s)", path, rec.Code, rec.Body.String())
		}
	}
	if rec := do(router, http.MethodGet, "/api/v1/seller/payouts/"+uuid.NewString(), bearer, "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestSellerPayoutPostIsIdempotent(t *testing.T) {
	payouts := &stubPayouts{}
	router, cfg := newTestRouter(t, payouts)
	bearer := token(t, cfg, enums.ActorRoleSeller)

	if rec := do(router, http.MethodPost, "/api/v1/seller/payouts", bearer, "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key, got %d", rec.Code)
	}

	first := do(router, http.MethodPost, "/api/v1/seller/payouts", bearer, "key-1", "")
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", first.Code, first.Body.String())
	}
	replay := do(router, http.MethodPost, "/api/v1/seller/payouts", bearer, "key-1", "")
	if replay.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201 got %d", replay.Code)
	}
	if replay.Body.String() != first.Body.String() {
		t.Fatalf("expected replayed body to match")
	}
	if payouts.created != 1 {
		t.Fatalf("expected one payout, got %d", payouts.created)
	}
}

func TestAdminPayoutRequiresAdmin(t *testing.T) {
	payouts := &stubPayouts{}
	router, cfg := newTestRouter(t, payouts)
	body := `{"seller_id":"` + uuid.NewString() + `"}`

	if rec := do(router, http.MethodPost, "/api/v1/admin/payouts", token(t, cfg, enums.ActorRoleSeller), "k", body); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
	if rec := do(router, http.MethodPost, "/api/v1/admin/payouts", token(t, cfg, enums.ActorRoleAdmin), "k", body); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestStripeWebhookRouteRejectsUnsigned(t *testing.T) {
	router, _ := newTestRouter(t, &stubPayouts{})
	if rec := do(router, http.MethodPost, "/api/v1/webhooks/stripe", "", "", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}
