package stripewebhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type claimStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newClaimStore() *claimStore {
	return &claimStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *claimStore) Get(_ context.Context, key string) (string, error) {
	return s.values[key], nil
}

func (s *claimStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value.(string)
	s.ttls[key] = ttl
	return true, nil
}

func (s *claimStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func (s *claimStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func TestIdempotencyGuardClaimsOnce(t *testing.T) {
	store := newClaimStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, "stripe-webhook")
	require.NoError(t, err)
	guard.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

	claimed, err := guard.Claim(context.Background(), "evt_1", "payout.paid")
	require.NoError(t, err)
	require.True(t, claimed)
	require.Equal(t, "payout.paid@2026-03-02T09:00:00Z", store.values["stripe-webhook:evt_1"])
	require.Equal(t, time.Hour, store.ttls["stripe-webhook:evt_1"])

	claimed, err = guard.Claim(context.Background(), "evt_1", "payout.paid")
	require.NoError(t, err)
	require.False(t, claimed)

	require.NoError(t, guard.Release(context.Background(), "evt_1"))
	claimed, err = guard.Claim(context.Background(), "evt_1", "payout.paid")
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestIdempotencyGuardDefaultsTTL(t *testing.T) {
	store := newClaimStore()
	guard, err := NewIdempotencyGuard(store, 0, "stripe-webhook")
	require.NoError(t, err)
	_, err = guard.Claim(context.Background(), "evt_2", "checkout.session.completed")
	require.NoError(t, err)
	require.Equal(t, defaultGuardTTL, store.ttls["stripe-webhook:evt_2"])
}

func TestIdempotencyGuardErrors(t *testing.T) {
	_, err := NewIdempotencyGuard(nil, time.Hour, "s")
	require.Error(t, err)
	_, err = NewIdempotencyGuard(newClaimStore(), -time.Second, "s")
	require.Error(t, err)
	_, err = NewIdempotencyGuard(newClaimStore(), time.Hour, " ")
	require.Error(t, err)

	store := newClaimStore()
	store.err = errors.New("redis down")
	guard, err := NewIdempotencyGuard(store, time.Hour, "s")
	require.NoError(t, err)
	_, err = guard.Claim(context.Background(), "evt_3", "payout.failed")
	require.ErrorContains(t, err, "redis down")
	_, err = guard.Claim(context.Background(), "", "payout.failed")
	require.Error(t, err)
	require.Error(t, guard.Release(context.Background(), ""))
}
