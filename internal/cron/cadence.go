package cron

import (
	"context"
	"errors"
	"time"
)

// Cadence decides whether a job is due. Claims are shared across replicas so a
// job keeps its interval when the lock moves to another worker.
type Cadence interface {
	Claim(ctx context.Context, job string, every time.Duration) (bool, error)
	Forget(ctx context.Context, job string) error
}

type cadenceStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisCadence stores one marker per job that lives for the job's interval.
// While the marker exists the job is not due.
type RedisCadence struct {
	store  cadenceStore
	keyFor func(job string) string
	now    func() time.Time
}

func NewRedisCadence(store cadenceStore, keyFor func(job string) string) (*RedisCadence, error) {
	if store == nil || keyFor == nil {
		return nil, errors.New("cadence store and key func required")
	}
	return &RedisCadence{store: store, keyFor: keyFor, now: time.Now}, nil
}

func (c *RedisCadence) Claim(ctx context.Context, job string, every time.Duration) (bool, error) {
	return c.store.SetNX(ctx, c.keyFor(job), c.now().UTC().Format(time.RFC3339), every)
}

// Forget clears the marker so a failed job is retried on the next tick.
func (c *RedisCadence) Forget(ctx context.Context, job string) error {
	return c.store.Del(ctx, c.keyFor(job))
}

// memoryCadence is the single process fallback when no shared store is wired.
type memoryCadence struct {
	next map[string]time.Time
	now  func() time.Time
}

func newMemoryCadence(now func() time.Time) *memoryCadence {
	return &memoryCadence{next: map[string]time.Time{}, now: now}
}

func (c *memoryCadence) Claim(_ context.Context, job string, every time.Duration) (bool, error) {
	now := c.now()
	if due, ok := c.next[job]; ok && now.Before(due) {
		return false, nil
	}
	c.next[job] = now.Add(every)
	return true, nil
}

func (c *memoryCadence) Forget(_ context.Context, job string) error {
	delete(c.next, job)
	return nil
}
