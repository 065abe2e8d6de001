package stripewebhook

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/packfinderz-settlement/internal/payouts"
	"github.com/angelmondragon/packfinderz-settlement/internal/settlement"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

// Outcome is how the gateway disposed of an event. Every outcome answers 2xx.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type checkoutSettler interface {
	HandleCheckoutCompleted(ctx context.Context, session settlement.CheckoutSession) (*settlement.Result, error)
}

type payoutReconciler interface {
	HandlePayoutPaid(ctx context.Context, event payouts.PayoutEvent) (*payouts.ReconcileResult, error)
	HandlePayoutFailed(ctx context.Context, event payouts.PayoutEvent, status enums.PayoutStatus) (*payouts.ReconcileResult, error)
	HandlePayoutUpdated(ctx context.Context, event payouts.PayoutEvent) (*payouts.ReconcileResult, error)
}

type webhookMetrics interface {
	IncWebhookOutcome(eventType, outcome string)
}

type ServiceParams struct {
	Settlement checkoutSettler
	Payouts    payoutReconciler
	Metrics    webhookMetrics
	Logger     *logger.Logger
}

// Service routes verified provider events to settlement and payout reconciliation.
type Service struct {
	settlement checkoutSettler
	payouts    payoutReconciler
	metrics    webhookMetrics
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Settlement == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement service required")
	}
	if params.Payouts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout service required")
	}
	return &Service{
		settlement: params.Settlement,
		payouts:    params.Payouts,
		metrics:    params.Metrics,
		logg:       params.Logger,
	}, nil
}

// HandleEvent dispatches by event type. Unknown types are ignored. Handler
// errors are returned unchanged so the caller answers non-2xx and the provider
// redelivers.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event == nil || event.Data == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"stripe_event_id":   event.ID,
			"stripe_event_type": string(event.Type),
		})
	}

	outcome, err := s.dispatch(ctx, event)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncWebhookOutcome(string(event.Type), "error")
		}
		return "", err
	}
	if s.metrics != nil {
		s.metrics.IncWebhookOutcome(string(event.Type), string(outcome))
	}
	if s.logg != nil {
		logCtx := s.logg.WithField(ctx, "outcome", outcome)
		s.logg.Info(logCtx, "stripe.event_handled")
	}
	return outcome, nil
}

func (s *Service) dispatch(ctx context.Context, event *stripe.Event) (Outcome, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		session, err := decodeCheckoutSession(event.Data.Raw)
		if err != nil {
			return "", err
		}
		res, err := s.settlement.HandleCheckoutCompleted(ctx, session)
		if err != nil {
			return "", err
		}
		switch {
		case res.AlreadyPaid:
			return OutcomeDuplicate, nil
		case res.Deferred:
			return OutcomeIgnored, nil
		}
		return OutcomeProcessed, nil

	case stripe.EventTypePayoutPaid,
		stripe.EventTypePayoutFailed,
		stripe.EventTypePayoutCanceled,
		stripe.EventTypePayoutUpdated:
		payoutEvent, err := decodePayout(event.Data.Raw)
		if err != nil {
			return "", err
		}
		var res *payouts.ReconcileResult
		switch event.Type {
		case stripe.EventTypePayoutPaid:
			res, err = s.payouts.HandlePayoutPaid(ctx, payoutEvent)
		case stripe.EventTypePayoutFailed:
			res, err = s.payouts.HandlePayoutFailed(ctx, payoutEvent, enums.PayoutStatusFailed)
		case stripe.EventTypePayoutCanceled:
			res, err = s.payouts.HandlePayoutFailed(ctx, payoutEvent, enums.PayoutStatusCanceled)
		default:
			res, err = s.payouts.HandlePayoutUpdated(ctx, payoutEvent)
		}
		if err != nil {
			return "", err
		}
		switch {
		case res.Unknown:
			return OutcomeIgnored, nil
		case res.Noop:
			return OutcomeDuplicate, nil
		}
		return OutcomeProcessed, nil

	default:
		return OutcomeIgnored, nil
	}
}
