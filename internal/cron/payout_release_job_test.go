package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-settlement/internal/payouts"
)

type fakeReleaser struct {
	summary *payouts.ReleaseSummary
	err     error
	calls   int
}

func (f *fakeReleaser) ReleaseEligible(context.Context) (*payouts.ReleaseSummary, error) {
	f.calls++
	return f.summary, f.err
}

func TestPayoutReleaseJobRun(t *testing.T) {
	releaser := &fakeReleaser{summary: &payouts.ReleaseSummary{SellersScanned: 2, Payouts: []uuid.UUID{uuid.New(), uuid.New()}}}
	job, err := NewPayoutReleaseJob(PayoutReleaseJobParams{Logger: testLogger(), Payouts: releaser})
	require.NoError(t, err)
	require.Equal(t, "payout-release", job.Name())

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, 1, releaser.calls)
}

func TestPayoutReleaseJobWrapsPartialFailure(t *testing.T) {
	cause := errors.New("provider unavailable")
	releaser := &fakeReleaser{
		summary: &payouts.ReleaseSummary{SellersScanned: 2, Payouts: []uuid.UUID{uuid.New()}, Failed: 1},
		err:     cause,
	}
	job, err := NewPayoutReleaseJob(PayoutReleaseJobParams{Logger: testLogger(), Payouts: releaser})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.ErrorIs(t, err, cause)
	require.ErrorContains(t, err, "payout release")
}

func TestPayoutReleaseJobListingFailure(t *testing.T) {
	cause := errors.New("db down")
	job, err := NewPayoutReleaseJob(PayoutReleaseJobParams{Logger: testLogger(), Payouts: &fakeReleaser{err: cause}})
	require.NoError(t, err)
	require.ErrorIs(t, job.Run(context.Background()), cause)
}

func TestNewPayoutReleaseJobValidation(t *testing.T) {
	_, err := NewPayoutReleaseJob(PayoutReleaseJobParams{Payouts: &fakeReleaser{}})
	require.Error(t, err)
	_, err = NewPayoutReleaseJob(PayoutReleaseJobParams{Logger: testLogger()})
	require.Error(t, err)
}
