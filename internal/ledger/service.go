package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/holds"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

const defaultHoldDays = 30

// Service creates the per-seller ledger entries for a paid order.
type Service interface {
	CreateTransactions(ctx context.Context, tx *gorm.DB, order *models.Order) ([]models.PaymentTransaction, error)
}

type ServiceParams struct {
	Repo     Repository
	Fees     FeeSchedule
	// HoldDays of zero selects the default 30 day hold; config rejects zero.
	HoldDays int
	Clock    func() time.Time
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	fees     FeeSchedule
	holdDays int
	clock    func() time.Time
	logg     *logger.Logger
}

// NewService wires a ledger service with the provided repository.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}
	if params.HoldDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "hold days must be non-negative")
	}
	fees := params.Fees
	if fees.PlatformRate.IsZero() && fees.ProcessingRate.IsZero() && fees.ProcessingFixed.IsZero() {
		fees = DefaultFeeSchedule
	}
	holdDays := params.HoldDays
	if holdDays == 0 {
		holdDays = defaultHoldDays
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:     params.Repo,
		fees:     fees,
		holdDays: holdDays,
		clock:    clock,
		logg:     params.Logger,
	}, nil
}

// CreateTransactions must run inside the caller's settlement transaction. When
// the order already has entries they are returned unchanged.
func (s *service) CreateTransactions(ctx context.Context, tx *gorm.DB, order *models.Order) ([]models.PaymentTransaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if order == nil || order.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	if len(order.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no items")
	}

	repo := s.repo.WithTx(tx)
	existing, err := repo.ListByOrderID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entries")
	}
	if len(existing) > 0 {
		return existing, nil
	}

	groups, err := groupBySeller(order.Items)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	entries := make([]models.PaymentTransaction, 0, len(groups))
	for _, group := range groups {
		split := s.fees.Compute(group.gross)
		if split.Net.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller share does not cover fees").
				WithDetails(map[string]any{"seller_id": group.sellerID.String(), "gross": split.Gross.StringFixed(centPlaces)})
		}
		entries = append(entries, models.PaymentTransaction{
			ID:                 uuid.New(),
			OrderID:            order.ID,
			SellerID:           group.sellerID,
			BuyerID:            order.BuyerID,
			GrossAmount:        split.Gross,
			PlatformFee:        split.PlatformFee,
			ProcessingFee:      split.ProcessingFee,
			NetAmount:          split.Net,
			Currency:           order.Currency,
			Status:             enums.TransactionStatusHeld,
			HoldReason:         enums.HoldReasonStandard,
			DaysToHold:         s.holdDays,
			HoldStartDate:      now,
			PlannedReleaseDate: holds.ReleaseDate(now, s.holdDays),
		})
	}

	if err := repo.CreateBatch(ctx, entries); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "ledger entries already exist for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create ledger entries")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":     order.ID.String(),
			"seller_count": len(entries),
		})
		s.logg.Info(logCtx, "ledger.entries_created")
	}
	return entries, nil
}

type sellerGroup struct {
	sellerID uuid.UUID
	gross    decimal.Decimal
}

// groupBySeller sums line totals per seller in first-seen order.
func groupBySeller(items []models.OrderItem) ([]sellerGroup, error) {
	index := map[uuid.UUID]int{}
	groups := []sellerGroup{}
	for _, item := range items {
		if item.SellerID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item missing seller")
		}
		if item.Qty <= 0 || item.UnitPrice.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item has invalid price or quantity").
				WithDetails(map[string]any{"order_item_id": item.ID.String()})
		}
		pos, ok := index[item.SellerID]
		if !ok {
			pos = len(groups)
			index[item.SellerID] = pos
			groups = append(groups, sellerGroup{sellerID: item.SellerID, gross: decimal.Zero})
		}
		groups[pos].gross = groups[pos].gross.Add(item.LineTotal())
	}
	return groups, nil
}
