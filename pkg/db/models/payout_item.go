package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

// PayoutItem links one ledger entry to the payout that transferred it. Rows are
// never updated after insert.
type PayoutItem struct {
	ID                   uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	PayoutID             uuid.UUID        `gorm:"column:payout_id;type:uuid;not null;index"`
	PaymentTransactionID uuid.UUID        `gorm:"column:payment_transaction_id;type:uuid;not null;index"`
	TransferAmount       decimal.Decimal  `gorm:"column:transfer_amount;type:numeric(12,2);not null"`
	TransferDate         time.Time        `gorm:"column:transfer_date;not null"`
	ItemNames            types.StringList `gorm:"column:item_names;type:jsonb;not null"`
	CreatedAt            time.Time        `gorm:"column:created_at;autoCreateTime"`
}

func (p *PayoutItem) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
