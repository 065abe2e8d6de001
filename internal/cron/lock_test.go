package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryRedis) ExpireIfValue(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryRedis) DeleteIfValue(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

const cycleKey = "pf:lock:cron-worker"

func TestRedisLockExclusiveAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRedis()
	first, err := NewRedisLock(store, cycleKey, time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, cycleKey, time.Minute)
	require.NoError(t, err)

	won, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, won)

	won, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, won)

	require.NoError(t, second.Release(ctx))
	require.Contains(t, store.values, cycleKey)

	require.NoError(t, first.Release(ctx))
	require.NotContains(t, store.values, cycleKey)
}

func TestRedisLockExtendDetectsTakeover(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRedis()
	lock, err := NewRedisLock(store, cycleKey, 0)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, defaultLockTTL, store.ttls[cycleKey])

	held, err := lock.Extend(ctx)
	require.NoError(t, err)
	require.True(t, held)

	store.values[cycleKey] = "another-replica"
	held, err = lock.Extend(ctx)
	require.NoError(t, err)
	require.False(t, held)

	require.NoError(t, lock.Release(ctx))
	require.Equal(t, "another-replica", store.values[cycleKey])
}

func TestNewRedisLockValidation(t *testing.T) {
	_, err := NewRedisLock(nil, "k", time.Minute)
	require.Error(t, err)
	_, err = NewRedisLock(newMemoryRedis(), "", time.Minute)
	require.Error(t, err)
}

func TestRedisCadenceClaimsOncePerInterval(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRedis()
	cadence, err := NewRedisCadence(store, func(job string) string { return "pf:lock:cadence:" + job })
	require.NoError(t, err)

	due, err := cadence.Claim(ctx, "payout-release", time.Hour)
	require.NoError(t, err)
	require.True(t, due)
	require.Equal(t, time.Hour, store.ttls["pf:lock:cadence:payout-release"])

	due, err = cadence.Claim(ctx, "payout-release", time.Hour)
	require.NoError(t, err)
	require.False(t, due)

	require.NoError(t, cadence.Forget(ctx, "payout-release"))
	due, err = cadence.Claim(ctx, "payout-release", time.Hour)
	require.NoError(t, err)
	require.True(t, due)
}
