package app

import (
	"fmt"

	"github.com/angelmondragon/packfinderz-settlement/internal/holds"
	"github.com/angelmondragon/packfinderz-settlement/internal/ledger"
	"github.com/angelmondragon/packfinderz-settlement/internal/orders"
	"github.com/angelmondragon/packfinderz-settlement/internal/payouts"
	"github.com/angelmondragon/packfinderz-settlement/internal/settlement"
	stripewebhook "github.com/angelmondragon/packfinderz-settlement/internal/webhooks/stripe"
	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/metrics"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
)

// Services is the settlement service graph shared by the api, the cron worker
// and the operator CLI.
type Services struct {
	Holds      *holds.Service
	Settlement *settlement.Service
	Payouts    *payouts.Service
	Webhooks   *stripewebhook.Service
	Outbox     *outbox.Repository
	DLQ        *outbox.DLQRepository
}

type ServicesParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Provider payouts.TransferProvider
	// Metrics may be nil for one-shot tools.
	Metrics *metrics.SettlementMetrics
}

// BuildServices wires repositories and services over one database client.
func BuildServices(params ServicesParams) (*Services, error) {
	if params.Config == nil || params.Logger == nil || params.DB == nil {
		return nil, fmt.Errorf("config, logger and database are required")
	}
	cfg := params.Config
	logg := params.Logger
	conn := params.DB.DB()

	if params.Metrics != nil {
		params.DB.SetObserver(params.Metrics)
	}

	ledgerRepo := ledger.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:     ledgerRepo,
		Fees:     ledger.FeeScheduleFromConfig(cfg.Settlement),
		HoldDays: cfg.Settlement.HoldDays,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	holdService, err := holds.NewService(holds.ServiceParams{Repo: ledgerRepo})
	if err != nil {
		return nil, fmt.Errorf("hold scheduler: %w", err)
	}

	settlementParams := settlement.ServiceParams{
		OrderRepo:         orders.NewRepository(conn),
		Ledger:            ledgerService,
		LedgerRepo:        ledgerRepo,
		Outbox:            emitter,
		TransactionRunner: params.DB,
		Logger:            logg,
	}
	payoutParams := payouts.ServiceParams{
		Repo:              payouts.NewRepository(conn),
		LedgerRepo:        ledgerRepo,
		Holds:             holdService,
		Provider:          params.Provider,
		Outbox:            emitter,
		TransactionRunner: params.DB,
		Logger:            logg,
		RetryAfter:        cfg.Settlement.PayoutRetryAfter,
	}
	webhookParams := stripewebhook.ServiceParams{Logger: logg}
	if params.Metrics != nil {
		settlementParams.Metrics = params.Metrics
		payoutParams.Metrics = params.Metrics
		webhookParams.Metrics = params.Metrics
	}

	settlementService, err := settlement.NewService(settlementParams)
	if err != nil {
		return nil, fmt.Errorf("settlement service: %w", err)
	}
	payoutService, err := payouts.NewService(payoutParams)
	if err != nil {
		return nil, fmt.Errorf("payout service: %w", err)
	}

	webhookParams.Settlement = settlementService
	webhookParams.Payouts = payoutService
	webhookService, err := stripewebhook.NewService(webhookParams)
	if err != nil {
		return nil, fmt.Errorf("stripe webhook service: %w", err)
	}

	return &Services{
		Holds:      holdService,
		Settlement: settlementService,
		Payouts:    payoutService,
		Webhooks:   webhookService,
		Outbox:     outboxRepo,
		DLQ:        outbox.NewDLQRepository(params.DB.DB()),
	}, nil
}
