package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// Repository manages persistence for payment transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateBatch(ctx context.Context, entries []models.PaymentTransaction) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error)
	ListBySellerID(ctx context.Context, sellerID uuid.UUID) ([]models.PaymentTransaction, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID, forUpdate bool) ([]models.PaymentTransaction, error)
	ListEligible(ctx context.Context, sellerID uuid.UUID, asOf time.Time, forUpdate bool) ([]models.PaymentTransaction, error)
	ListSellersWithEligible(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	ClaimForPayout(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateBatch(ctx context.Context, entries []models.PaymentTransaction) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("seller_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListBySellerID(ctx context.Context, sellerID uuid.UUID) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("planned_release_date ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByIDs(ctx context.Context, ids []uuid.UUID, forUpdate bool) ([]models.PaymentTransaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := r.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rows []models.PaymentTransaction
	if err := query.
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListEligible selects entries whose hold has elapsed at asOf. Rows are ordered
// by id so concurrent lockers acquire row locks in the same order.
func (r *repository) ListEligible(ctx context.Context, sellerID uuid.UUID, asOf time.Time, forUpdate bool) ([]models.PaymentTransaction, error) {
	query := r.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rows []models.PaymentTransaction
	if err := query.
		Where("seller_id = ?", sellerID).
		Where("status IN ?", payableStatuses()).
		Where("payed_out = ?", false).
		Where("planned_release_date <= ?", asOf).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListSellersWithEligible(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Distinct("seller_id").
		Where("status IN ?", payableStatuses()).
		Where("payed_out = ?", false).
		Where("planned_release_date <= ?", asOf).
		Order("seller_id ASC").
		Pluck("seller_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// ClaimForPayout flips payed_out on entries that are still unclaimed and
// returns how many rows changed. A short count means another payout got there first.
func (r *repository) ClaimForPayout(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id IN ?", ids).
		Where("payed_out = ?", false).
		Where("status IN ?", payableStatuses()).
		Update("payed_out", true)
	return res.RowsAffected, res.Error
}

func payableStatuses() []string {
	statuses := enums.PayableTransactionStatuses()
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, status.String())
	}
	return out
}
