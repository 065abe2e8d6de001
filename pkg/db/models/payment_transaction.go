package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// PaymentTransaction is the per-seller ledger entry for an order.
type PaymentTransaction struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID               `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_payment_transactions_order_seller,priority:1"`
	SellerID           uuid.UUID               `gorm:"column:seller_id;type:uuid;not null;uniqueIndex:ux_payment_transactions_order_seller,priority:2;index"`
	BuyerID            uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null"`
	GrossAmount        decimal.Decimal         `gorm:"column:gross_amount;type:numeric(12,2);not null"`
	PlatformFee        decimal.Decimal         `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	ProcessingFee      decimal.Decimal         `gorm:"column:processing_fee;type:numeric(12,2);not null"`
	NetAmount          decimal.Decimal         `gorm:"column:net_amount;type:numeric(12,2);not null"`
	Currency           string                  `gorm:"column:currency;type:text;not null;default:'usd'"`
	Status             enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'held'"`
	HoldReason         enums.HoldReason        `gorm:"column:hold_reason;type:hold_reason;not null;default:'standard'"`
	DaysToHold         int                     `gorm:"column:days_to_hold;not null;default:30"`
	HoldStartDate      time.Time               `gorm:"column:hold_start_date;not null"`
	PlannedReleaseDate time.Time               `gorm:"column:planned_release_date;not null"`
	ActualReleaseDate  *time.Time              `gorm:"column:actual_release_date"`
	PayedOut           bool                    `gorm:"column:payed_out;not null;default:false"`
	ReleasedBy         *string                 `gorm:"column:released_by"`
	Notes              *string                 `gorm:"column:notes"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentTransaction) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
