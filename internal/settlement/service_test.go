package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/ledger"
	"github.com/angelmondragon/packfinderz-settlement/internal/orders"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

type harness struct {
	client  *db.Client
	svc     *Service
	metrics *countingMetrics
	now     time.Time
}

func newHarness(t *testing.T, ledgerOverride ledger.Service) *harness {
	t.Helper()
	client := dbtest.Client(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	ledgerRepo := ledger.NewRepository(client.DB())
	ledgerSvc := ledgerOverride
	if ledgerSvc == nil {
		var err error
		ledgerSvc, err = ledger.NewService(ledger.ServiceParams{Repo: ledgerRepo, Clock: clock})
		require.NoError(t, err)
	}
	metrics := &countingMetrics{}
	svc, err := NewService(ServiceParams{
		OrderRepo:         orders.NewRepository(client.DB()),
		Ledger:            ledgerSvc,
		LedgerRepo:        ledgerRepo,
		Outbox:            outbox.NewService(outbox.NewRepository(client.DB()), nil),
		TransactionRunner: client,
		Metrics:           metrics,
		Clock:             clock,
	})
	require.NoError(t, err)
	return &harness{client: client, svc: svc, metrics: metrics, now: now}
}

func shipping() *types.ShippingAddress {
	return &types.ShippingAddress{Name: "Ada", Line1: " 1 Main St ", City: "Denver", State: "CO", PostalCode: "80202", Country: "us"}
}

func TestHandleCheckoutCompletedTwoSellers(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.client.DB()
	buyer := uuid.New()
	sellerA, sellerB := uuid.New(), uuid.New()
	order := dbtest.SeedOrder(t, conn, buyer,
		dbtest.Line{SellerID: sellerA, Name: "Pack A", UnitPrice: "100.00", Qty: 1},
		dbtest.Line{SellerID: sellerB, Name: "Pack B", UnitPrice: "50.00", Qty: 2},
	)

	res, err := h.svc.HandleCheckoutCompleted(context.Background(), CheckoutSession{
		ID:            "cs_test_123",
		OrderID:       order.ID,
		BuyerID:       buyer,
		PaymentStatus: "paid",
		Shipping:      shipping(),
	})
	require.NoError(t, err)
	assert.False(t, res.AlreadyPaid)
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, 1, h.metrics.settled)

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, enums.OrderStatusPendingPayment, stored.Status, "fulfillment status must not move")
	assert.True(t, stored.IsLocked)
	require.NotNil(t, stored.PaidAt)
	require.NotNil(t, stored.ShippingAddress)
	assert.Equal(t, "1 Main St", stored.ShippingAddress.Line1)
	assert.Equal(t, "US", stored.ShippingAddress.Country)

	var entries []models.PaymentTransaction
	require.NoError(t, conn.Where("order_id = ?", order.ID).Find(&entries).Error)
	require.Len(t, entries, 2)
	sellers := map[uuid.UUID]bool{}
	for _, entry := range entries {
		sellers[entry.SellerID] = true
		assert.True(t, entry.NetAmount.Equal(decimal.RequireFromString("91.80")))
		assert.Equal(t, enums.TransactionStatusHeld, entry.Status)
	}
	assert.True(t, sellers[sellerA] && sellers[sellerB])

	var events []models.OutboxEvent
	require.NoError(t, conn.Where("aggregate_id = ?", order.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderPaid, events[0].EventType)
}

func TestHandleCheckoutCompletedReplayIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.client.DB()
	buyer := uuid.New()
	order := dbtest.SeedOrder(t, conn, buyer,
		dbtest.Line{SellerID: uuid.New(), Name: "Pack A", UnitPrice: "100.00", Qty: 1},
		dbtest.Line{SellerID: uuid.New(), Name: "Pack B", UnitPrice: "50.00", Qty: 2},
	)
	session := CheckoutSession{ID: "cs_replay", OrderID: order.ID, BuyerID: buyer, PaymentStatus: "paid"}

	first, err := h.svc.HandleCheckoutCompleted(context.Background(), session)
	require.NoError(t, err)
	second, err := h.svc.HandleCheckoutCompleted(context.Background(), session)
	require.NoError(t, err)

	assert.False(t, first.AlreadyPaid)
	assert.True(t, second.AlreadyPaid)
	assert.Len(t, second.Transactions, 2)
	assert.Equal(t, 1, h.metrics.settled)

	var count int64
	require.NoError(t, conn.Model(&models.PaymentTransaction{}).Where("order_id = ?", order.ID).Count(&count).Error)
	assert.EqualValues(t, 2, count)
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", order.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestHandleCheckoutCompletedBuyerMismatch(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.client.DB()
	order := dbtest.SeedOrder(t, conn, uuid.New(),
		dbtest.Line{SellerID: uuid.New(), Name: "Pack", UnitPrice: "10.00", Qty: 1},
	)

	_, err := h.svc.HandleCheckoutCompleted(context.Background(), CheckoutSession{
		ID: "cs_wrong", OrderID: order.ID, BuyerID: uuid.New(), PaymentStatus: "paid",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
	assert.False(t, stored.IsLocked)
}

func TestHandleCheckoutCompletedRollsBackOnLedgerFailure(t *testing.T) {
	boom := errors.New("ledger unavailable")
	h := newHarness(t, failingLedger{err: boom})
	conn := h.client.DB()
	buyer := uuid.New()
	order := dbtest.SeedOrder(t, conn, buyer,
		dbtest.Line{SellerID: uuid.New(), Name: "Pack", UnitPrice: "10.00", Qty: 1},
	)

	_, err := h.svc.HandleCheckoutCompleted(context.Background(), CheckoutSession{
		ID: "cs_fail", OrderID: order.ID, BuyerID: buyer, PaymentStatus: "paid",
	})
	require.ErrorIs(t, err, boom)

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus, "order update must roll back with the ledger")
	assert.False(t, stored.IsLocked)
	assert.Equal(t, 0, h.metrics.settled)
}

func TestHandleCheckoutCompletedDefersUnpaidSession(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.client.DB()
	buyer := uuid.New()
	order := dbtest.SeedOrder(t, conn, buyer,
		dbtest.Line{SellerID: uuid.New(), Name: "Pack", UnitPrice: "10.00", Qty: 1},
	)

	res, err := h.svc.HandleCheckoutCompleted(context.Background(), CheckoutSession{
		ID: "cs_async", OrderID: order.ID, BuyerID: buyer, PaymentStatus: "unpaid",
	})
	require.NoError(t, err)
	assert.True(t, res.Deferred)

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
}

func TestHandleCheckoutCompletedValidation(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.HandleCheckoutCompleted(context.Background(), CheckoutSession{BuyerID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.HandleCheckoutCompleted(context.Background(), CheckoutSession{OrderID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.HandleCheckoutCompleted(context.Background(), CheckoutSession{OrderID: uuid.New(), BuyerID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

type countingMetrics struct {
	settled int
}

func (c *countingMetrics) IncOrderSettled() { c.settled++ }

type failingLedger struct {
	err error
}

func (f failingLedger) CreateTransactions(context.Context, *gorm.DB, *models.Order) ([]models.PaymentTransaction, error) {
	return nil, f.err
}
