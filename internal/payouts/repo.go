package payouts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
)

// Repository persists payouts, their items, and seller payout accounts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindSellerAccount(ctx context.Context, sellerID uuid.UUID) (*models.SellerAccount, error)
	Create(ctx context.Context, payout *models.Payout) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	FindByExternalIDForUpdate(ctx context.Context, externalID string) (*models.Payout, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID, limit, offset int) ([]models.Payout, error)
	ListItems(ctx context.Context, payoutID uuid.UUID) ([]models.PayoutItem, error)
	CountItemLinks(ctx context.Context, entryIDs []uuid.UUID) (int64, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	ItemNamesByOrder(ctx context.Context, sellerID uuid.UUID, orderIDs []uuid.UUID) (map[uuid.UUID][]string, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindSellerAccount(ctx context.Context, sellerID uuid.UUID) (*models.SellerAccount, error) {
	var account models.SellerAccount
	if err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// Create inserts the payout together with its Items.
func (r *repository) Create(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("transfer_date ASC, id ASC") }).
		Where("id = ?", id).
		First(&payout).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) FindByExternalIDForUpdate(ctx context.Context, externalID string) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_payout_id = ?", externalID).
		First(&payout).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) ListBySeller(ctx context.Context, sellerID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	var rows []models.Payout
	query := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListItems(ctx context.Context, payoutID uuid.UUID) ([]models.PayoutItem, error) {
	var items []models.PayoutItem
	if err := r.db.WithContext(ctx).
		Where("payout_id = ?", payoutID).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// CountItemLinks counts payout items, from any payout, that reference the entries.
func (r *repository) CountItemLinks(ctx context.Context, entryIDs []uuid.UUID) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.PayoutItem{}).
		Where("payment_transaction_id IN ?", entryIDs).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// ItemNamesByOrder snapshots the seller's line item names for each order.
func (r *repository) ItemNamesByOrder(ctx context.Context, sellerID uuid.UUID, orderIDs []uuid.UUID) (map[uuid.UUID][]string, error) {
	out := make(map[uuid.UUID][]string, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	var items []models.OrderItem
	if err := r.db.WithContext(ctx).
		Select("order_id", "name").
		Where("seller_id = ?", sellerID).
		Where("order_id IN ?", orderIDs).
		Order("name ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.OrderID] = append(out[item.OrderID], item.Name)
	}
	return out, nil
}
