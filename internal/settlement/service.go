package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/ledger"
	"github.com/angelmondragon/packfinderz-settlement/internal/orders"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

type txRunner interface {
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type settlementMetrics interface {
	IncOrderSettled()
}

// CheckoutSession is the provider-neutral view of a completed checkout.
type CheckoutSession struct {
	ID            string
	OrderID       uuid.UUID
	BuyerID       uuid.UUID
	PaymentStatus string
	AmountTotal   *decimal.Decimal
	Currency      string
	Shipping      *types.ShippingAddress
}

// Paid reports whether the provider captured funds for the session. Sessions
// completed with a delayed payment method settle on a later event.
func (c CheckoutSession) Paid() bool {
	switch strings.ToLower(strings.TrimSpace(c.PaymentStatus)) {
	case "", "paid", "no_payment_required":
		return true
	default:
		return false
	}
}

// Result describes what HandleCheckoutCompleted did.
type Result struct {
	OrderID      uuid.UUID
	AlreadyPaid  bool
	Deferred     bool
	Transactions []models.PaymentTransaction
}

type ServiceParams struct {
	OrderRepo         orders.Repository
	Ledger            ledger.Service
	LedgerRepo        ledger.Repository
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Metrics           settlementMetrics
	Logger            *logger.Logger
	Clock             func() time.Time
}

type Service struct {
	orders     orders.Repository
	ledger     ledger.Service
	ledgerRepo ledger.Repository
	outbox     outbox.Emitter
	txRunner   txRunner
	metrics    settlementMetrics
	logg       *logger.Logger
	clock      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.OrderRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repo required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.LedgerRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orders:     params.OrderRepo,
		ledger:     params.Ledger,
		ledgerRepo: params.LedgerRepo,
		outbox:     params.Outbox,
		txRunner:   params.TransactionRunner,
		metrics:    params.Metrics,
		logg:       params.Logger,
		clock:      clock,
	}, nil
}

// HandleCheckoutCompleted marks the order paid and writes its ledger entries and
// order_paid event in one serializable transaction. A repeat delivery for an
// order that is already paid returns AlreadyPaid without writing.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, session CheckoutSession) (*Result, error) {
	if session.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session missing order_id metadata")
	}
	if session.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session missing buyer_id metadata")
	}
	if session.Shipping != nil {
		normalized := session.Shipping.Normalized()
		if err := normalized.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
		}
		session.Shipping = &normalized
	}

	if s.logg != nil {
		ctx = s.logg.WithOrderID(ctx, session.OrderID.String())
	}

	if !session.Paid() {
		if s.logg != nil {
			logCtx := s.logg.WithField(ctx, "payment_status", session.PaymentStatus)
			s.logg.Info(logCtx, "order.settlement_deferred")
		}
		return &Result{OrderID: session.OrderID, Deferred: true}, nil
	}

	var result *Result
	err := s.txRunner.WithSerializableTx(ctx, func(tx *gorm.DB) error {
		res, err := s.settle(ctx, tx, session)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyPaid {
		if s.metrics != nil {
			s.metrics.IncOrderSettled()
		}
		if s.logg != nil {
			logCtx := s.logg.WithField(ctx, "seller_count", len(result.Transactions))
			s.logg.Info(logCtx, "order.settled")
		}
	}
	return result, nil
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, session CheckoutSession) (*Result, error) {
	order, err := s.orders.WithTx(tx).FindByIDForUpdate(ctx, session.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	if order.BuyerID != session.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "checkout session buyer does not own order")
	}

	switch order.PaymentStatus {
	case enums.PaymentStatusPaid:
		existing, err := s.ledgerRepo.WithTx(tx).ListByOrderID(ctx, order.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entries")
		}
		return &Result{OrderID: order.ID, AlreadyPaid: true, Transactions: existing}, nil
	}
	if !order.PaymentStatus.CanTransitionTo(enums.PaymentStatusPaid) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order payment cannot be marked paid").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus.String()})
	}

	if session.AmountTotal != nil && !session.AmountTotal.Equal(order.TotalAmount) && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"session_amount": session.AmountTotal.StringFixed(2),
			"order_amount":   order.TotalAmount.StringFixed(2),
		})
		s.logg.Warn(logCtx, "checkout amount differs from order total")
	}

	now := s.clock()
	if err := s.orders.WithTx(tx).MarkPaid(ctx, order.ID, orders.PaymentUpdate{
		CheckoutSessionID: session.ID,
		ShippingAddress:   session.Shipping,
		PaidAt:            now,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}

	entries, err := s.ledger.CreateTransactions(ctx, tx, order)
	if err != nil {
		return nil, err
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.BuyerViaStripe(order.BuyerID),
		Data:          orderPaidPayload(order, session.ID, entries, now),
		OccurredAt:    now,
		Once:          true,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order_paid")
	}

	return &Result{OrderID: order.ID, Transactions: entries}, nil
}

func orderPaidPayload(order *models.Order, sessionID string, entries []models.PaymentTransaction, paidAt time.Time) payloads.OrderPaidEvent {
	sellers := make([]payloads.SellerAllocation, 0, len(entries))
	for _, entry := range entries {
		sellers = append(sellers, payloads.SellerAllocation{
			SellerID:             entry.SellerID,
			PaymentTransactionID: entry.ID,
			GrossAmount:          entry.GrossAmount,
			NetAmount:            entry.NetAmount,
			PlannedReleaseDate:   entry.PlannedReleaseDate,
		})
	}
	return payloads.OrderPaidEvent{
		OrderID:           order.ID,
		BuyerID:           order.BuyerID,
		CheckoutSessionID: sessionID,
		TotalAmount:       order.TotalAmount,
		Currency:          order.Currency,
		Sellers:           sellers,
		PaidAt:            paidAt,
	}
}
