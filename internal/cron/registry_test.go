package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string { return s.name }

func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndIntervals(t *testing.T) {
	registry := NewRegistry()
	release := &stubJob{name: "payout-release"}
	retention := &stubJob{name: "settlement-retention"}
	require.NoError(t, registry.Register(release, time.Hour))
	require.NoError(t, registry.Register(retention, 24*time.Hour))

	entries := registry.Entries()
	require.Len(t, entries, 2)
	require.Same(t, release, entries[0].Job)
	require.Equal(t, 24*time.Hour, entries[1].Every)

	entries[0].Job = nil
	require.NotNil(t, registry.Entries()[0].Job)

	found, ok := registry.Lookup("settlement-retention")
	require.True(t, ok)
	require.Same(t, retention, found.Job)
	_, ok = registry.Lookup("order-ttl")
	require.False(t, ok)
}

func TestRegistryRejectsInvalidEntries(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&stubJob{name: "payout-release"}, time.Hour))

	require.Error(t, registry.Register(&stubJob{name: "payout-release"}, time.Hour))
	require.Error(t, registry.Register(nil, time.Hour))
	require.Error(t, registry.Register(&stubJob{name: "settlement-retention"}, 0))
}
