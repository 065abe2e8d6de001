// Package dbtest opens sqlite-backed settlement databases for tests.
package dbtest

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// Open returns an in-memory database private to t with every settlement table
// migrated. A single pooled connection serializes concurrent transactions the
// way row locks would on Postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// Client wraps Open in a db.Client with a fast retry policy.
func Client(t testing.TB) *db.Client {
	t.Helper()
	return db.NewFromConn(Open(t), db.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})
}

// Line describes one order item for SeedOrder.
type Line struct {
	SellerID  uuid.UUID
	Name      string
	UnitPrice string
	Qty       int
}

// SeedOrder inserts an unpaid order with the given lines.
func SeedOrder(t testing.TB, conn *gorm.DB, buyerID uuid.UUID, lines ...Line) models.Order {
	t.Helper()
	order := models.Order{
		ID:            uuid.New(),
		BuyerID:       buyerID,
		Status:        enums.OrderStatusPendingPayment,
		PaymentStatus: enums.PaymentStatusPending,
		Currency:      "usd",
	}
	total := decimal.Zero
	for _, line := range lines {
		item := models.OrderItem{
			ID:        uuid.New(),
			OrderID:   order.ID,
			SellerID:  line.SellerID,
			ProductID: uuid.New(),
			Name:      line.Name,
			UnitPrice: decimal.RequireFromString(line.UnitPrice),
			Qty:       line.Qty,
		}
		total = total.Add(item.LineTotal())
		order.Items = append(order.Items, item)
	}
	order.TotalAmount = total
	if err := conn.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

// SeedSellerAccount registers a connected provider account for sellerID.
func SeedSellerAccount(t testing.TB, conn *gorm.DB, sellerID uuid.UUID) models.SellerAccount {
	t.Helper()
	bank := "Test Bank"
	last4 := "6789"
	account := models.SellerAccount{
		SellerID:        sellerID,
		StripeAccountID: "acct_" + strings.ReplaceAll(sellerID.String(), "-", "")[:16],
		Currency:        "usd",
		BankName:        &bank,
		BankLast4:       &last4,
		PayoutsEnabled:  true,
	}
	if err := conn.Create(&account).Error; err != nil {
		t.Fatalf("seed seller account: %v", err)
	}
	return account
}

// SeedEntry inserts a held ledger entry for sellerID with the given net amount
// whose hold started at start.
func SeedEntry(t testing.TB, conn *gorm.DB, sellerID uuid.UUID, net string, start time.Time, holdDays int) models.PaymentTransaction {
	t.Helper()
	amount := decimal.RequireFromString(net)
	entry := models.PaymentTransaction{
		ID:                 uuid.New(),
		OrderID:            uuid.New(),
		SellerID:           sellerID,
		BuyerID:            uuid.New(),
		GrossAmount:        amount,
		PlatformFee:        decimal.Zero,
		ProcessingFee:      decimal.Zero,
		NetAmount:          amount,
		Currency:           "usd",
		Status:             enums.TransactionStatusHeld,
		HoldReason:         enums.HoldReasonStandard,
		DaysToHold:         holdDays,
		HoldStartDate:      start.UTC(),
		PlannedReleaseDate: start.UTC().Add(time.Duration(holdDays) * 24 * time.Hour),
	}
	if err := conn.Create(&entry).Error; err != nil {
		t.Fatalf("seed ledger entry: %v", err)
	}
	return entry
}
