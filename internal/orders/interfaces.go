package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

// Repository defines the order reads and payment-field writes settlement needs.
// Items are owned by the cart collaborator and only ever read here.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID, update PaymentUpdate) error
}

// PaymentUpdate carries the fields written when a checkout session completes.
type PaymentUpdate struct {
	CheckoutSessionID string
	ShippingAddress   *types.ShippingAddress
	PaidAt            time.Time
}
