package holds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

type entryReader interface {
	ListEligible(ctx context.Context, sellerID uuid.UUID, asOf time.Time, forUpdate bool) ([]models.PaymentTransaction, error)
	ListSellersWithEligible(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
	ListBySellerID(ctx context.Context, sellerID uuid.UUID) ([]models.PaymentTransaction, error)
}

type ServiceParams struct {
	Repo  entryReader
	Clock func() time.Time
}

// Service answers hold-window questions. It never mutates ledger entries.
type Service struct {
	repo  entryReader
	clock func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{repo: params.Repo, clock: clock}, nil
}

// View is the read-only hold projection of a single ledger entry.
type View struct {
	PaymentTransactionID uuid.UUID               `json:"payment_transaction_id"`
	OrderID              uuid.UUID               `json:"order_id"`
	Status               enums.TransactionStatus `json:"status"`
	HoldReason           enums.HoldReason        `json:"hold_reason"`
	NetAmount            decimal.Decimal         `json:"net_amount"`
	Currency             string                  `json:"currency"`
	HoldStartDate        time.Time               `json:"hold_start_date"`
	PlannedReleaseDate   time.Time               `json:"planned_release_date"`
	ActualReleaseDate    *time.Time              `json:"actual_release_date,omitempty"`
	PayedOut             bool                    `json:"payed_out"`
	Eligible             bool                    `json:"eligible"`
	RemainingDays        int                     `json:"remaining_days"`
	RemainingHours       int                     `json:"remaining_hours"`
}

// Balance buckets a seller's net earnings by where they sit in the hold lifecycle.
type Balance struct {
	SellerID   uuid.UUID       `json:"seller_id"`
	Held       decimal.Decimal `json:"held"`
	Eligible   decimal.Decimal `json:"eligible"`
	InPayout   decimal.Decimal `json:"in_payout"`
	Released   decimal.Decimal `json:"released"`
	EntryCount int             `json:"entry_count"`
	AsOf       time.Time       `json:"as_of"`
}

// ListEligible returns the seller's entries whose hold has elapsed.
func (s *Service) ListEligible(ctx context.Context, sellerID uuid.UUID) ([]models.PaymentTransaction, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	now := s.clock()
	rows, err := s.repo.ListEligible(ctx, sellerID, now, false)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list eligible entries")
	}
	return FilterEligible(rows, now), nil
}

// ListSellersWithEligible is the scheduled scan's starting point.
func (s *Service) ListSellersWithEligible(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := s.repo.ListSellersWithEligible(ctx, s.clock())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sellers with eligible entries")
	}
	return ids, nil
}

func (s *Service) Views(ctx context.Context, sellerID uuid.UUID) ([]View, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	rows, err := s.repo.ListBySellerID(ctx, sellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list seller entries")
	}
	now := s.clock()
	views := make([]View, 0, len(rows))
	for _, row := range rows {
		views = append(views, NewView(row, now))
	}
	return views, nil
}

func (s *Service) Balance(ctx context.Context, sellerID uuid.UUID) (*Balance, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	rows, err := s.repo.ListBySellerID(ctx, sellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list seller entries")
	}
	now := s.clock()
	balance := &Balance{
		SellerID:   sellerID,
		Held:       decimal.Zero,
		Eligible:   decimal.Zero,
		InPayout:   decimal.Zero,
		Released:   decimal.Zero,
		EntryCount: len(rows),
		AsOf:       now,
	}
	for _, row := range rows {
		switch {
		case row.Status == enums.TransactionStatusReleased:
			balance.Released = balance.Released.Add(row.NetAmount)
		case row.PayedOut:
			balance.InPayout = balance.InPayout.Add(row.NetAmount)
		case IsEligible(row, now):
			balance.Eligible = balance.Eligible.Add(row.NetAmount)
		case row.Status.IsPayable():
			balance.Held = balance.Held.Add(row.NetAmount)
		}
	}
	return balance, nil
}

// NewView projects entry at now.
func NewView(entry models.PaymentTransaction, now time.Time) View {
	return View{
		PaymentTransactionID: entry.ID,
		OrderID:              entry.OrderID,
		Status:               entry.Status,
		HoldReason:           entry.HoldReason,
		NetAmount:            entry.NetAmount,
		Currency:             entry.Currency,
		HoldStartDate:        entry.HoldStartDate,
		PlannedReleaseDate:   PlannedRelease(entry),
		ActualReleaseDate:    entry.ActualReleaseDate,
		PayedOut:             entry.PayedOut,
		Eligible:             IsEligible(entry, now),
		RemainingDays:        RemainingDays(entry, now),
		RemainingHours:       RemainingHours(entry, now),
	}
}

// FilterEligible drops rows that fail IsEligible at now.
func FilterEligible(rows []models.PaymentTransaction, now time.Time) []models.PaymentTransaction {
	out := rows[:0:0]
	for _, row := range rows {
		if IsEligible(row, now) {
			out = append(out, row)
		}
	}
	return out
}
