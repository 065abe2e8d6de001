package payouts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

type payoutItemDTO struct {
	PaymentTransactionID uuid.UUID       `json:"payment_transaction_id"`
	TransferAmount       decimal.Decimal `json:"transfer_amount"`
	TransferDate         time.Time       `json:"transfer_date"`
	ItemNames            []string        `json:"item_names"`
}

type payoutDTO struct {
	ID               uuid.UUID          `json:"id"`
	SellerID         uuid.UUID          `json:"seller_id"`
	ExternalPayoutID string             `json:"external_payout_id"`
	Status           enums.PayoutStatus `json:"status"`
	Amount           decimal.Decimal    `json:"amount"`
	Currency         string             `json:"currency"`
	BankName         *string            `json:"bank_name,omitempty"`
	BankLast4        *string            `json:"bank_last4,omitempty"`
	ArrivalDate      *time.Time         `json:"arrival_date,omitempty"`
	FailureCode      *string            `json:"failure_code,omitempty"`
	FailureMessage   *string            `json:"failure_message,omitempty"`
	PaidAt           *time.Time         `json:"paid_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	Items            []payoutItemDTO    `json:"items,omitempty"`
}

type payoutListDTO struct {
	Payouts []payoutDTO `json:"payouts"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}

func toPayoutDTO(p *models.Payout) payoutDTO {
	dto := payoutDTO{
		ID:               p.ID,
		SellerID:         p.SellerID,
		ExternalPayoutID: p.ExternalPayoutID,
		Status:           p.Status,
		Amount:           p.Amount,
		Currency:         p.Currency,
		BankName:         p.BankName,
		BankLast4:        p.BankLast4,
		ArrivalDate:      p.ArrivalDate,
		FailureCode:      p.FailureCode,
		FailureMessage:   p.FailureMessage,
		PaidAt:           p.PaidAt,
		CreatedAt:        p.CreatedAt,
	}
	for _, item := range p.Items {
		names := []string(item.ItemNames)
		if names == nil {
			names = []string{}
		}
		dto.Items = append(dto.Items, payoutItemDTO{
			PaymentTransactionID: item.PaymentTransactionID,
			TransferAmount:       item.TransferAmount,
			TransferDate:         item.TransferDate,
			ItemNames:            names,
		})
	}
	return dto
}
