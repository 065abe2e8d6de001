package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/packfinderz-settlement/pkg/redis"
)

const defaultGuardTTL = 72 * time.Hour

// IdempotencyGuard claims provider event ids in Redis so an exact redelivery
// short-circuits before any database work. The settlement and payout handlers
// are idempotent on their own; the guard only saves the round trip.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
	now   func() time.Time
}

// NewIdempotencyGuard builds a guard whose claims expire after ttl. Zero ttl
// uses the provider's three day redelivery window.
func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	case strings.TrimSpace(scope) == "":
		return nil, errors.New("scope is required")
	}
	if ttl == 0 {
		ttl = defaultGuardTTL
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Claim records the event and reports true when this delivery is the first.
// The stored marker names the event type and claim time for debugging.
func (g *IdempotencyGuard) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	marker := eventType + "@" + g.now().Format(time.RFC3339)
	claimed, err := g.store.SetNX(ctx, g.key(eventID), marker, g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return claimed, nil
}

// Release drops the claim after a failed delivery so the redelivery is
// processed again.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	if err := g.store.Del(ctx, g.key(eventID)); err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}
	return nil
}

func (g *IdempotencyGuard) key(eventID string) string {
	return g.store.IdempotencyKey(g.scope, eventID)
}
