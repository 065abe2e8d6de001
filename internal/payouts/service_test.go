package payouts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/holds"
	"github.com/angelmondragon/packfinderz-settlement/internal/ledger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	pkgstripe "github.com/angelmondragon/packfinderz-settlement/pkg/stripe"
)

// fakeProvider answers a repeated idempotency key with the transfer it
// created for that key, the way the payment provider does.
type fakeProvider struct {
	mu    sync.Mutex
	calls []pkgstripe.TransferRequest
	byKey map[string]*pkgstripe.Transfer
	err   error
	seq   int
}

func (f *fakeProvider) CreateTransfer(_ context.Context, req pkgstripe.TransferRequest) (*pkgstripe.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	if prior, ok := f.byKey[req.IdempotencyKey]; ok {
		return prior, nil
	}
	f.seq++
	transfer := &pkgstripe.Transfer{
		ID:                fmt.Sprintf("po_test_%d", f.seq),
		FundingTransferID: fmt.Sprintf("tr_test_%d", f.seq),
		Status:            "pending",
		Amount:            req.Amount,
		Currency:          req.Currency,
	}
	if f.byKey == nil {
		f.byKey = map[string]*pkgstripe.Transfer{}
	}
	f.byKey[req.IdempotencyKey] = transfer
	return transfer, nil
}

// transfersCreated counts distinct transfers, ignoring replays.
func (f *fakeProvider) transfersCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingMetrics struct {
	mu         sync.Mutex
	created    int
	failures   map[string]int
	reconciled map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failures: map[string]int{}, reconciled: map[string]int{}}
}

func (r *recordingMetrics) ObservePayoutCreated(float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}

func (r *recordingMetrics) IncPayoutFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[reason]++
}

func (r *recordingMetrics) IncReconciled(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconciled[status]++
}

type harness struct {
	conn     *gorm.DB
	client   *db.Client
	params   ServiceParams
	svc      *Service
	provider *fakeProvider
	metrics  *recordingMetrics
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Client(t)
	h := &harness{conn: client.DB(), client: client, now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }
	ledgerRepo := ledger.NewRepository(client.DB())
	holdSvc, err := holds.NewService(holds.ServiceParams{Repo: ledgerRepo, Clock: clock})
	require.NoError(t, err)

	provider := &fakeProvider{}
	metrics := newRecordingMetrics()
	h.params = ServiceParams{
		Repo:              NewRepository(client.DB()),
		LedgerRepo:        ledgerRepo,
		Holds:             holdSvc,
		Provider:          provider,
		Outbox:            outbox.NewService(outbox.NewRepository(client.DB()), nil),
		TransactionRunner: client,
		Metrics:           metrics,
		Clock:             clock,
		RetryAfter:        90 * time.Second,
	}
	svc, err := NewService(h.params)
	require.NoError(t, err)
	h.svc, h.provider, h.metrics = svc, provider, metrics
	return h
}

// useRunner rebuilds the service around a different transaction runner.
func (h *harness) useRunner(t *testing.T, runner txRunner) {
	t.Helper()
	params := h.params
	params.TransactionRunner = runner
	svc, err := NewService(params)
	require.NoError(t, err)
	h.svc = svc
}

var errForcedRetry = errors.New("database is locked")

// retryingRunner commits nothing on its first passes: after fn succeeds it rolls
// back and runs fn again, calling beforeRetry in between.
type retryingRunner struct {
	client      *db.Client
	retries     int
	beforeRetry func()
}

func (r *retryingRunner) WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	for {
		err := r.client.WithTx(ctx, func(tx *gorm.DB) error {
			if err := fn(tx); err != nil {
				return err
			}
			if r.retries > 0 {
				r.retries--
				return errForcedRetry
			}
			return nil
		})
		if !errors.Is(err, errForcedRetry) {
			return err
		}
		if r.beforeRetry != nil {
			r.beforeRetry()
		}
	}
}

func (h *harness) seedEligible(t *testing.T, seller uuid.UUID, nets ...string) []models.PaymentTransaction {
	t.Helper()
	out := make([]models.PaymentTransaction, 0, len(nets))
	for _, net := range nets {
		out = append(out, dbtest.SeedEntry(t, h.conn, seller, net, h.now.AddDate(0, 0, -31), 30))
	}
	return out
}

func (h *harness) reload(t *testing.T, id uuid.UUID) models.PaymentTransaction {
	t.Helper()
	var entry models.PaymentTransaction
	require.NoError(t, h.conn.First(&entry, "id = ?", id).Error)
	return entry
}

// assertPayedOutLinkedOnce checks that every claimed entry is linked to exactly
// one payout that has not failed or been canceled.
func assertPayedOutLinkedOnce(t *testing.T, conn *gorm.DB) {
	t.Helper()
	var entries []models.PaymentTransaction
	require.NoError(t, conn.Where("payed_out = ?", true).Find(&entries).Error)
	for _, entry := range entries {
		var count int64
		require.NoError(t, conn.Table("payout_items").
			Joins("JOIN payouts ON payouts.id = payout_items.payout_id").
			Where("payout_items.payment_transaction_id = ?", entry.ID).
			Where("payouts.status NOT IN ?", []string{"failed", "canceled"}).
			Count(&count).Error)
		assert.EqualValues(t, 1, count, "entry %s", entry.ID)
	}
}

func TestCreatePayoutBatchesThreeEntries(t *testing.T) {
	h := newHarness(t)
	seller := uuid.New()
	dbtest.SeedSellerAccount(t, h.conn, seller)
	entries := h.seedEligible(t, seller, "91.80", "91.80", "91.80")

	payout, err := h.svc.CreatePayout(context.Background(), seller)
	require.NoError(t, err)

	assert.True(t, payout.Amount.Equal(decimal.RequireFromString("275.40")), "amount %s", payout.Amount)
	assert.Equal(t, enums.PayoutStatusPending, payout.Status)
	assert.Equal(t, "po_test_1", payout.ExternalPayoutID)

	stored, err := h.svc.Get(context.Background(), seller, payout.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 3)
	sum := decimal.Zero
	for _, item := range stored.Items {
		sum = sum.Add(item.TransferAmount)
	}
	assert.True(t, sum.Equal(stored.Amount), "items %s payout %s", sum, stored.Amount)

	for _, entry := range entries {
		got := h.reload(t, entry.ID)
		assert.True(t, got.PayedOut)
		assert.Equal(t, enums.TransactionStatusHeld, got.Status)
	}

	require.Equal(t, 1, h.provider.callCount())
	req := h.provider.calls[0]
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("275.40")))
	ids := []uuid.UUID{entries[2].ID, entries[0].ID, entries[1].ID}
	assert.Equal(t, TransferIdempotencyKey(seller, ids, 0), req.IdempotencyKey)

	var events int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", payout.ID, enums.EventPayoutCreated).
		Count(&events).Error)
	assert.EqualValues(t, 1, events)
	assert.Equal(t, 1, h.metrics.created)
	assertPayedOutLinkedOnce(t, h.conn)
}

func TestCreatePayoutNoEligible(t *testing.T) {
	h := newHarness(t)
	seller := uuid.New()
	dbtest.SeedSellerAccount(t, h.conn, seller)
	dbtest.SeedEntry(t, h.conn, seller, "10.00", h.now.AddDate(0, 0, -10), 30)

	_, err := h.svc.CreatePayout(context.Background(), seller)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 0, h.provider.callCount())
}

func TestCreatePayoutBoundaryIsInclusive(t *testing.T) {
	h := newHarness(t)
	seller := uuid.New()
	dbtest.SeedSellerAccount(t, h.conn, seller)
	entry := dbtest.SeedEntry(t, h.conn, seller, "42.00", h.now.AddDate(0, 0, -30), 30)
	require.True(t, holds.PlannedRelease(entry).Equal(h.now))

	payout, err := h.svc.CreatePayout(context.Background(), seller)
	require.NoError(t, err)
	assert.True(t, payout.Amount.Equal(decimal.RequireFromString("42.00")))
}

func TestCreatePayoutRequiresSellerAccount(t *testing.T) {
	h := newHarness(t)
	seller := uuid.New()
	h.seedEligible(t, seller, "10.00")

	_, err := h.svc.CreatePayout(context.Background(), seller)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, 0, h.provider.callCount())
}

func TestCreatePayoutProviderFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	seller := uuid.New()
	dbtest.SeedSellerAccount(t, h.conn, seller)
	entries := h.seedEligible(t, seller, "50.00", "25.00")
	h.provider.err = &pkgstripe.ProviderError{Code: "balance_insufficient", Message: "insufficient funds"}

	_, err := h.svc.CreatePayout(context.Background(), seller)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeExternalPayout))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 90, details["retry_after_seconds"])
	assert.Equal(t, "balance_insufficient", details["provider_code"])

	var payouts int64
	require.NoError(t, h.conn.Model(&models.Payout{}).Count(&payouts).Error)
	assert.EqualValues(t, 0, payouts)
	for _, entry := range entries {
		assert.False(t, h.reload(t, entry.ID).PayedOut)
	}
	assert.Equal(t, 1, h.metrics.failures["provider"])
}

func TestCreatePayoutConcurrentCallsClaimOnce(t *testing.T) {
	h := newHarness(t)
	seller := uuid.New()
	dbtest.SeedSellerAccount(t, h.conn, seller)
	h.seedEligible(t, seller, "10.00", "20.00", "30.00")

	const workers = 2
	var wg sync.WaitGroup
	results := make(chan error, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.svc.CreatePayout(context.Background(), seller)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	var items int64
	require.NoError(t, h.conn.Model(&models.PayoutItem{}).Count(&items).Error)
	assert.EqualValues(t, 3, items)
	assertPayedOutLinkedOnce(t, h.conn)
}

func TestReleaseEligibleAggregatesFailures(t *testing.T) {
	h := newHarness(t)
	withAccount, withoutAccount, notDue := uuid.New(), uuid.New(), uuid.New()
	dbtest.SeedSellerAccount(t, h.conn, withAccount)
	dbtest.SeedSellerAccount(t, h.conn, notDue)
	h.seedEligible(t, withAccount, "15.00")
	h.seedEligible(t, withoutAccount, "16.00")
	dbtest.SeedEntry(t, h.conn, notDue, "17.00", h.now, 30)

	summary, err := h.svc.ReleaseEligible(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), withoutAccount.String())
	assert.Equal(t, 2, summary.SellersScanned)
	assert.Len(t, summary.Payouts, 1)
	assert.Equal(t, 1, summary.Failed)
}

func TestGetRejectsOtherSeller(t *testing.T) {
	h := newHarness(t)
	seller := uuid.New()
	dbtest.SeedSellerAccount(t, h.conn, seller)
	h.seedEligible(t, seller, "12.00")
	payout, err := h.svc.CreatePayout(context.Background(), seller)
	require.NoError(t, err)

	_, err = h.svc.Get(context.Background(), uuid.New(), payout.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.Get(context.Background(), seller, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	list, err := h.svc.List(context.Background(), seller, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, payout.ID, list[0].ID)
}

func TestTransferIdempotencyKeyIgnoresOrder(t *testing.T) {
	seller := uuid.New()
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, TransferIdempotencyKey(seller, []uuid.UUID{a, b}, 0), TransferIdempotencyKey(seller, []uuid.UUID{b, a}, 0))
	assert.NotEqual(t, TransferIdempotencyKey(seller, []uuid.UUID{a}, 0), TransferIdempotencyKey(seller, []uuid.UUID{a, b}, 0))
	assert.NotEqual(t, TransferIdempotencyKey(seller, []uuid.UUID{a, b}, 0), TransferIdempotencyKey(seller, []uuid.UUID{a, b}, 2))
}

func TestCreatePayoutRetryReusesTransfer(t *testing.T) {
	h := newHarness(t)
	seller := uuid.New()
	dbtest.SeedSellerAccount(t, h.conn, seller)
	due := h.seedEligible(t, seller, "10.00")[0]
	// Due 100ms after the first attempt starts.
	dbtest.SeedEntry(t, h.conn, seller, "5.00", h.now.Add(100*time.Millisecond).AddDate(0, 0, -30), 30)

	h.useRunner(t, &retryingRunner{
		client:      h.client,
		retries:     1,
		beforeRetry: func() { h.now = h.now.Add(200 * time.Millisecond) },
	})

	payout, err := h.svc.CreatePayout(context.Background(), seller)
	require.NoError(t, err)
	assert.True(t, payout.Amount.Equal(decimal.RequireFromString("10.00")), "amount %s", payout.Amount)
	require.Len(t, payout.Items, 1)
	assert.Equal(t, due.ID, payout.Items[0].PaymentTransactionID)

	require.Equal(t, 2, h.provider.callCount())
	assert.Equal(t, h.provider.calls[0].IdempotencyKey, h.provider.calls[1].IdempotencyKey)
	assert.Equal(t, 1, h.provider.transfersCreated())
	assert.Zero(t, h.metrics.failures["unrecorded_transfer"])
	assertPayedOutLinkedOnce(t, h.conn)
}

func TestCreatePayoutReportsTransferWhenBatchIsLost(t *testing.T) {
	h := newHarness(t)
	seller := uuid.New()
	dbtest.SeedSellerAccount(t, h.conn, seller)
	entry := h.seedEligible(t, seller, "10.00")[0]

	h.useRunner(t, &retryingRunner{
		client:  h.client,
		retries: 1,
		beforeRetry: func() {
			require.NoError(t, h.conn.Model(&models.PaymentTransaction{}).
				Where("id = ?", entry.ID).
				Update("payed_out", true).Error)
		},
	})

	_, err := h.svc.CreatePayout(context.Background(), seller)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 1, h.provider.transfersCreated())
	assert.Equal(t, 1, h.metrics.failures["unrecorded_transfer"])

	var payouts int64
	require.NoError(t, h.conn.Model(&models.Payout{}).Count(&payouts).Error)
	assert.EqualValues(t, 0, payouts)
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}
