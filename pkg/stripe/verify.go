package stripe

import (
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

// VerifyEvent checks the Stripe-Signature header against the payload and decodes
// the event. Any mismatch, stale timestamp or malformed body is a signature error.
func VerifyEvent(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeSignature, "stripe signature missing")
	}
	if strings.TrimSpace(secret) == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeInternal, "webhook signing secret not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "verify signature")
	}
	return event, nil
}

// VerifyEvent verifies against the client's configured signing secret.
func (c *Client) VerifyEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	return VerifyEvent(payload, signatureHeader, c.SigningSecret())
}
