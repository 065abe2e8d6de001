package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/packfinderz-settlement/api/responses"
	stripewebhook "github.com/angelmondragon/packfinderz-settlement/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

const maxWebhookBody = 1 << 20

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error)
}

type stripeWebhookGuard interface {
	Claim(ctx context.Context, eventID, eventType string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type eventVerifier interface {
	VerifyEvent(payload []byte, signatureHeader string) (stripe.Event, error)
}

type webhookAck struct {
	EventID string                `json:"event_id"`
	Outcome stripewebhook.Outcome `json:"outcome"`
}

// StripeWebhook verifies and dispatches provider events for checkout settlement
// and payout reconciliation. Non-2xx answers make the provider redeliver.
func StripeWebhook(svc StripeWebhookService, client eventVerifier, guard stripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		event, err := client.VerifyEvent(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if guard != nil {
			claimed, err := guard.Claim(ctx, event.ID, string(event.Type))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if !claimed {
				responses.WriteSuccess(w, webhookAck{EventID: event.ID, Outcome: stripewebhook.OutcomeDuplicate})
				return
			}
		}

		outcome, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			if guard != nil {
				if relErr := guard.Release(ctx, event.ID); relErr != nil && logg != nil {
					logg.Warn(logg.WithField(ctx, "error", relErr.Error()), "stripe.idempotency_release_failed")
				}
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, webhookAck{EventID: event.ID, Outcome: outcome})
	}
}
