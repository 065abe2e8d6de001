package models

import (
	"time"

	"github.com/google/uuid"
)

// SellerAccount maps a seller to their connected provider account.
type SellerAccount struct {
	SellerID        uuid.UUID `gorm:"column:seller_id;type:uuid;primaryKey"`
	StripeAccountID string    `gorm:"column:stripe_account_id;not null;uniqueIndex"`
	Currency        string    `gorm:"column:currency;type:text;not null;default:'usd'"`
	BankName        *string   `gorm:"column:bank_name"`
	BankLast4       *string   `gorm:"column:bank_last4"`
	PayoutsEnabled  bool      `gorm:"column:payouts_enabled;not null;default:true"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
