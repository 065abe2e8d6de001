package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// SellerAllocation is one seller's share of a paid order.
type SellerAllocation struct {
	SellerID             uuid.UUID       `json:"seller_id" validate:"required"`
	PaymentTransactionID uuid.UUID       `json:"payment_transaction_id" validate:"required"`
	GrossAmount          decimal.Decimal `json:"gross_amount"`
	NetAmount            decimal.Decimal `json:"net_amount"`
	PlannedReleaseDate   time.Time       `json:"planned_release_date"`
}

// OrderPaidEvent is emitted once the buyer's payment settles and funds are held per seller.
type OrderPaidEvent struct {
	OrderID           uuid.UUID          `json:"order_id" validate:"required"`
	BuyerID           uuid.UUID          `json:"buyer_id"`
	CheckoutSessionID string             `json:"checkout_session_id"`
	TotalAmount       decimal.Decimal    `json:"total_amount"`
	Currency          string             `json:"currency" validate:"omitempty,len=3"`
	Sellers           []SellerAllocation `json:"sellers" validate:"dive"`
	PaidAt            time.Time          `json:"paid_at"`
}

// PayoutCreatedEvent is emitted when held funds are batched into a provider payout.
type PayoutCreatedEvent struct {
	PayoutID              uuid.UUID       `json:"payout_id" validate:"required"`
	SellerID              uuid.UUID       `json:"seller_id" validate:"required"`
	ExternalPayoutID      string          `json:"external_payout_id" validate:"required"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	PaymentTransactionIDs []uuid.UUID     `json:"payment_transaction_ids" validate:"min=1"`
	CreatedAt             time.Time       `json:"created_at"`
}

// PayoutStatusEvent reports a provider-driven payout status change.
type PayoutStatusEvent struct {
	PayoutID         uuid.UUID          `json:"payout_id" validate:"required"`
	SellerID         uuid.UUID          `json:"seller_id"`
	ExternalPayoutID string             `json:"external_payout_id"`
	Status           enums.PayoutStatus `json:"status" validate:"required"`
	Amount           decimal.Decimal    `json:"amount"`
	EntryCount       int                `json:"entry_count"`
	FailureCode      *string            `json:"failure_code,omitempty"`
	FailureMessage   *string            `json:"failure_message,omitempty"`
	OccurredAt       time.Time          `json:"occurred_at"`
}
