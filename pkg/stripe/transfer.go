package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

// TransferRequest describes a payout of settled funds to a seller's connected account.
type TransferRequest struct {
	SellerID           uuid.UUID
	DestinationAccount string
	Amount             decimal.Decimal
	Currency           string
	Description        string
	// IdempotencyKey is forwarded to Stripe so a retried request cannot move money twice.
	IdempotencyKey string
	Metadata       map[string]string
}

// Transfer is the provider's acknowledgement of a created payout. ID is the
// connected-account payout; FundingTransferID is the platform transfer that funded it.
type Transfer struct {
	ID                string
	FundingTransferID string
	Status            string
	Amount            decimal.Decimal
	Currency          string
	ArrivalDate       *time.Time
}

// ProviderError carries the provider's decline details.
type ProviderError struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("stripe: %s", e.Message)
	}
	return fmt.Sprintf("stripe %s: %s", e.Code, e.Message)
}

// CreateTransfer moves the amount from the platform balance to the seller's
// connected account and then pays it out to the seller's bank. Both calls carry
// keys derived from req.IdempotencyKey, so a repeated request replays instead of
// moving funds again. Amounts are converted to minor units; two-decimal
// currencies are assumed.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if c == nil || c.api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client not initialized")
	}
	if strings.TrimSpace(req.DestinationAccount) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination account required")
	}
	cents, err := ToMinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = c.currency
	}

	funding, err := c.api.V1Transfers.Create(ctx, c.fundingParams(req, cents, currency))
	if err != nil {
		return nil, translateError(err)
	}

	payout, err := c.api.V1Payouts.Create(ctx, c.payoutParams(req, cents, currency, funding.ID))
	if err != nil {
		return nil, translateError(err)
	}

	out := &Transfer{
		ID:                payout.ID,
		FundingTransferID: funding.ID,
		Status:            string(payout.Status),
		Amount:            FromMinorUnits(payout.Amount),
		Currency:          string(payout.Currency),
	}
	if payout.ArrivalDate > 0 {
		arrival := time.Unix(payout.ArrivalDate, 0).UTC()
		out.ArrivalDate = &arrival
	}
	return out, nil
}

func (c *Client) fundingParams(req TransferRequest, cents int64, currency string) *stripe.TransferCreateParams {
	params := &stripe.TransferCreateParams{
		Amount:      stripe.Int64(cents),
		Currency:    stripe.String(currency),
		Destination: stripe.String(req.DestinationAccount),
	}
	if req.IdempotencyKey != "" {
		params.TransferGroup = stripe.String(req.IdempotencyKey)
		params.SetIdempotencyKey(req.IdempotencyKey + ":transfer")
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.AddMetadata("seller_id", req.SellerID.String())
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

func (c *Client) payoutParams(req TransferRequest, cents int64, currency, fundingID string) *stripe.PayoutCreateParams {
	params := &stripe.PayoutCreateParams{
		Amount:   stripe.Int64(cents),
		Currency: stripe.String(currency),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.SetStripeAccount(req.DestinationAccount)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey + ":payout")
	}
	params.AddMetadata("seller_id", req.SellerID.String())
	params.AddMetadata("funding_transfer_id", fundingID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

// ToMinorUnits converts a decimal amount into cents, rejecting non-positive values
// and fractions of a cent.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "transfer amount must be positive")
	}
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "transfer amount has sub-cent precision")
	}
	return cents.IntPart(), nil
}

// FromMinorUnits converts cents into a two-decimal amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func translateError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &ProviderError{
			Code:       string(stripeErr.Code),
			Message:    stripeErr.Msg,
			HTTPStatus: stripeErr.HTTPStatusCode,
		}
	}
	return &ProviderError{Message: err.Error()}
}
