package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/packfinderz-settlement/internal/payouts"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

const payoutReleaseJobName = "payout-release"

type payoutReleaser interface {
	ReleaseEligible(ctx context.Context) (*payouts.ReleaseSummary, error)
}

type PayoutReleaseJobParams struct {
	Logger  *logger.Logger
	Payouts payoutReleaser
}

// NewPayoutReleaseJob scans for sellers with elapsed holds and batches each
// one's eligible entries into a payout.
func NewPayoutReleaseJob(params PayoutReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout service required")
	}
	return &payoutReleaseJob{logg: params.Logger, payouts: params.Payouts}, nil
}

type payoutReleaseJob struct {
	logg    *logger.Logger
	payouts payoutReleaser
}

func (j *payoutReleaseJob) Name() string { return payoutReleaseJobName }

// Run reports an error when any seller failed; sellers that succeeded keep
// their payouts.
func (j *payoutReleaseJob) Run(ctx context.Context) error {
	summary, err := j.payouts.ReleaseEligible(ctx)
	if summary != nil && summary.Failed > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"sellers_failed":  summary.Failed,
			"payouts_created": len(summary.Payouts),
		})
		j.logg.Warn(logCtx, "cron.payout_release_partial")
	}
	if err != nil {
		return fmt.Errorf("payout release: %w", err)
	}
	return nil
}
