package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// Payout is a single provider transfer to a seller.
type Payout struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	SellerID         uuid.UUID          `gorm:"column:seller_id;type:uuid;not null;index"`
	ExternalPayoutID string             `gorm:"column:external_payout_id;not null;uniqueIndex"`
	Status           enums.PayoutStatus `gorm:"column:status;type:payout_status;not null;default:'pending'"`
	Amount           decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency         string             `gorm:"column:currency;type:text;not null;default:'usd'"`
	BankName         *string            `gorm:"column:bank_name"`
	BankLast4        *string            `gorm:"column:bank_last4"`
	ArrivalDate      *time.Time         `gorm:"column:arrival_date"`
	FailureCode      *string            `gorm:"column:failure_code"`
	FailureMessage   *string            `gorm:"column:failure_message"`
	PaidAt           *time.Time         `gorm:"column:paid_at"`
	Items            []PayoutItem       `gorm:"foreignKey:PayoutID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payout) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
