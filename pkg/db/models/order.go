package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

// Order is the buyer-facing order produced at checkout. Settlement only touches
// the payment fields and the lock flag; Status belongs to fulfillment.
type Order struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID           uuid.UUID              `gorm:"column:buyer_id;type:uuid;not null;index"`
	Status            enums.OrderStatus      `gorm:"column:status;type:order_status;not null;default:'pending_payment'"`
	PaymentStatus     enums.PaymentStatus    `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	TotalAmount       decimal.Decimal        `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency          string                 `gorm:"column:currency;type:text;not null;default:'usd'"`
	IsLocked          bool                   `gorm:"column:is_locked;not null;default:false"`
	ShippingAddress   *types.ShippingAddress `gorm:"column:shipping_address;type:jsonb"`
	CheckoutSessionID *string                `gorm:"column:checkout_session_id"`
	PaidAt            *time.Time             `gorm:"column:paid_at"`
	Items             []OrderItem            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an id when the caller did not.
func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
