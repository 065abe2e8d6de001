package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

func TestMarkPaidLeavesFulfillmentStatus(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	order := dbtest.SeedOrder(t, conn, uuid.New(),
		dbtest.Line{SellerID: uuid.New(), Name: "Pack", UnitPrice: "12.50", Qty: 2},
	)

	paidAt := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	addr := &types.ShippingAddress{Line1: "1 Main St", City: "Denver", State: "CO", PostalCode: "80202", Country: "US"}
	require.NoError(t, repo.MarkPaid(context.Background(), order.ID, PaymentUpdate{
		CheckoutSessionID: "cs_test_1",
		ShippingAddress:   addr,
		PaidAt:            paidAt,
	}))

	got, err := repo.FindByIDForUpdate(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, enums.OrderStatusPendingPayment, got.Status)
	assert.True(t, got.IsLocked)
	require.NotNil(t, got.CheckoutSessionID)
	assert.Equal(t, "cs_test_1", *got.CheckoutSessionID)
	require.NotNil(t, got.ShippingAddress)
	assert.Equal(t, "Denver", got.ShippingAddress.City)
	require.Len(t, got.Items, 1)
}

func TestFindByIDMissing(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.Error(t, err)
}
