package payouts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/holds"
	"github.com/angelmondragon/packfinderz-settlement/internal/ledger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/payloads"
	pkgstripe "github.com/angelmondragon/packfinderz-settlement/pkg/stripe"
)

const (
	defaultRetryAfter = time.Minute
	defaultListLimit  = 50
	maxListLimit      = 200
)

const errNoEligible = "no eligible transactions"

// TransferProvider initiates the external transfer for a payout.
type TransferProvider interface {
	CreateTransfer(ctx context.Context, req pkgstripe.TransferRequest) (*pkgstripe.Transfer, error)
}

type txRunner interface {
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eligibleSellerLister interface {
	ListSellersWithEligible(ctx context.Context) ([]uuid.UUID, error)
}

type payoutMetrics interface {
	ObservePayoutCreated(amount float64)
	IncPayoutFailure(reason string)
	IncReconciled(status string)
}

// payoutAttempt carries state across the serializable retries of one
// CreatePayout call. Once the provider has accepted a transfer the batch is
// pinned, so every later attempt sends the same idempotency key.
type payoutAttempt struct {
	now        time.Time
	entryIDs   []uuid.UUID
	generation int64
	transfers  []*pkgstripe.Transfer
}

func (a *payoutAttempt) pinned() bool {
	return len(a.entryIDs) > 0
}

func (a *payoutAttempt) record(transfer *pkgstripe.Transfer, ids []uuid.UUID, generation int64) {
	a.entryIDs, a.generation = ids, generation
	for _, seen := range a.transfers {
		if seen.ID == transfer.ID {
			return
		}
	}
	a.transfers = append(a.transfers, transfer)
}

type ServiceParams struct {
	Repo              Repository
	LedgerRepo        ledger.Repository
	Holds             eligibleSellerLister
	Provider          TransferProvider
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Metrics           payoutMetrics
	Logger            *logger.Logger
	Clock             func() time.Time
	// RetryAfter is the hint returned to sellers when the provider rejects a transfer.
	RetryAfter time.Duration
}

// Service batches eligible ledger entries into payouts and reconciles provider outcomes.
type Service struct {
	repo       Repository
	ledgerRepo ledger.Repository
	holds      eligibleSellerLister
	provider   TransferProvider
	outbox     outbox.Emitter
	txRunner   txRunner
	metrics    payoutMetrics
	logg       *logger.Logger
	clock      func() time.Time
	retryAfter time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout repo required")
	}
	if params.LedgerRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	if params.Holds == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "hold scheduler required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transfer provider required")
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
	retryAfter := params.RetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	return &Service{
		repo:       params.Repo,
		ledgerRepo: params.LedgerRepo,
		holds:      params.Holds,
		provider:   params.Provider,
		outbox:     params.Outbox,
		txRunner:   params.TransactionRunner,
		metrics:    params.Metrics,
		logg:       params.Logger,
		clock:      clock,
		retryAfter: retryAfter,
	}, nil
}

// CreatePayout claims every eligible entry for the seller and transfers their
// combined net amount. The provider is called after the entries are locked and
// before anything is written; a provider failure leaves the database untouched.
// Eligibility is evaluated once, at the time of the call.
func (s *Service) CreatePayout(ctx context.Context, sellerID uuid.UUID) (*models.Payout, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if s.logg != nil {
		ctx = s.logg.WithSellerID(ctx, sellerID.String())
	}

	attempt := &payoutAttempt{now: s.clock()}
	var created *models.Payout
	err := s.txRunner.WithSerializableTx(ctx, func(tx *gorm.DB) error {
		payout, err := s.createPayoutTx(ctx, tx, sellerID, attempt)
		if err != nil {
			return err
		}
		created = payout
		return nil
	})
	if err != nil {
		s.recordFailure(ctx, err)
		s.reportUnrecorded(ctx, attempt)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObservePayoutCreated(created.Amount.InexactFloat64())
	}
	if s.logg != nil {
		logCtx := s.logg.WithPayoutID(ctx, created.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"amount":             created.Amount.StringFixed(2),
			"entry_count":        len(created.Items),
			"external_payout_id": created.ExternalPayoutID,
		})
		s.logg.Info(logCtx, "payout.created")
	}
	return created, nil
}

func (s *Service) createPayoutTx(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, attempt *payoutAttempt) (*models.Payout, error) {
	repo := s.repo.WithTx(tx)
	ledgerRepo := s.ledgerRepo.WithTx(tx)

	account, err := repo.FindSellerAccount(ctx, sellerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller has no payout account")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller account")
	}
	if !account.PayoutsEnabled {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payouts are disabled for seller account")
	}

	now := attempt.now
	entries, err := lockEntries(ctx, ledgerRepo, sellerID, attempt)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	ids := make([]uuid.UUID, 0, len(entries))
	orderIDs := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		total = total.Add(entry.NetAmount)
		ids = append(ids, entry.ID)
		orderIDs = append(orderIDs, entry.OrderID)
	}
	if !total.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "eligible balance is not positive")
	}

	generation := attempt.generation
	if !attempt.pinned() {
		generation, err = repo.CountItemLinks(ctx, ids)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count prior payout links")
		}
	}

	currency := account.Currency
	if currency == "" {
		currency = entries[0].Currency
	}

	transfer, err := s.provider.CreateTransfer(ctx, pkgstripe.TransferRequest{
		SellerID:           sellerID,
		DestinationAccount: account.StripeAccountID,
		Amount:             total,
		Currency:           currency,
		Description:        fmt.Sprintf("PackFinderz payout for %d orders", len(entries)),
		IdempotencyKey:     TransferIdempotencyKey(sellerID, ids, generation),
		Metadata:           map[string]string{"entry_count": fmt.Sprint(len(entries))},
	})
	if err != nil {
		return nil, s.externalError(err)
	}
	attempt.record(transfer, ids, generation)
	if currency == "" {
		currency = transfer.Currency
	}

	names, err := repo.ItemNamesByOrder(ctx, sellerID, orderIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "snapshot item names")
	}

	payout := &models.Payout{
		ID:               uuid.New(),
		SellerID:         sellerID,
		ExternalPayoutID: transfer.ID,
		Status:           enums.PayoutStatusPending,
		Amount:           total,
		Currency:         currency,
		BankName:         account.BankName,
		BankLast4:        account.BankLast4,
		ArrivalDate:      transfer.ArrivalDate,
		Items:            make([]models.PayoutItem, 0, len(entries)),
	}
	for _, entry := range entries {
		payout.Items = append(payout.Items, models.PayoutItem{
			ID:                   uuid.New(),
			PayoutID:             payout.ID,
			PaymentTransactionID: entry.ID,
			TransferAmount:       entry.NetAmount,
			TransferDate:         now,
			ItemNames:            names[entry.OrderID],
		})
	}
	if err := repo.Create(ctx, payout); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout")
	}

	claimed, err := ledgerRepo.ClaimForPayout(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark entries paid out")
	}
	if claimed != int64(len(ids)) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "ledger entries claimed by a concurrent payout")
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPayoutCreated,
		AggregateType: enums.AggregatePayout,
		AggregateID:   payout.ID,
		Actor:         outbox.Seller(sellerID),
		Data: payloads.PayoutCreatedEvent{
			PayoutID:              payout.ID,
			SellerID:              sellerID,
			ExternalPayoutID:      payout.ExternalPayoutID,
			Amount:                payout.Amount,
			Currency:              payout.Currency,
			PaymentTransactionIDs: ids,
			CreatedAt:             now,
		},
		OccurredAt: now,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payout_created")
	}
	return payout, nil
}

// lockEntries locks the batch for this attempt. A pinned batch must still be
// eligible in full; otherwise the seller's current eligible set is taken.
func lockEntries(ctx context.Context, ledgerRepo ledger.Repository, sellerID uuid.UUID, attempt *payoutAttempt) ([]models.PaymentTransaction, error) {
	if attempt.pinned() {
		locked, err := ledgerRepo.ListByIDs(ctx, attempt.entryIDs, true)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payout entries")
		}
		entries := holds.FilterEligible(locked, attempt.now)
		if len(entries) != len(attempt.entryIDs) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "ledger entries claimed by a concurrent payout")
		}
		return entries, nil
	}

	locked, err := ledgerRepo.ListEligible(ctx, sellerID, attempt.now, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock eligible entries")
	}
	entries := holds.FilterEligible(locked, attempt.now)
	if len(entries) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, errNoEligible)
	}
	return entries, nil
}

// reportUnrecorded flags provider payouts that were accepted but never
// committed, so they can be matched by hand.
func (s *Service) reportUnrecorded(ctx context.Context, attempt *payoutAttempt) {
	for _, transfer := range attempt.transfers {
		if s.metrics != nil {
			s.metrics.IncPayoutFailure("unrecorded_transfer")
		}
		if s.logg == nil {
			continue
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"external_payout_id":  transfer.ID,
			"funding_transfer_id": transfer.FundingTransferID,
			"amount":              transfer.Amount.StringFixed(2),
			"entry_count":         len(attempt.entryIDs),
		})
		s.logg.Warn(logCtx, "payout.transfer_unrecorded")
	}
}

func (s *Service) externalError(err error) error {
	details := map[string]any{"retry_after_seconds": int(s.retryAfter.Seconds())}
	var providerErr *pkgstripe.ProviderError
	if errors.As(err, &providerErr) && providerErr.Code != "" {
		details["provider_code"] = providerErr.Code
	}
	return pkgerrors.Wrap(pkgerrors.CodeExternalPayout, err, "payout provider rejected the transfer").
		WithDetails(details)
}

func (s *Service) recordFailure(ctx context.Context, err error) {
	reason := "internal"
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
		reason = "state_conflict"
	case pkgerrors.IsCode(err, pkgerrors.CodeExternalPayout):
		reason = "provider"
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
		reason = "validation"
	case pkgerrors.IsCode(err, pkgerrors.CodeTransaction):
		reason = "transaction"
	}
	if s.metrics != nil {
		s.metrics.IncPayoutFailure(reason)
	}
	if s.logg != nil && reason != "state_conflict" {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"reason":    reason,
			"retryable": pkgerrors.IsRetryable(err),
		})
		s.logg.Error(logCtx, "payout.create_failed", err)
	}
}

// TransferIdempotencyKey is stable for a given seller, set of entries and
// generation, so a re-run after a serialization conflict reuses the provider
// transfer. generation counts the entries' links to earlier payouts; it grows
// when a failed payout releases them, which gives the next batch a fresh key.
func TransferIdempotencyKey(sellerID uuid.UUID, entryIDs []uuid.UUID, generation int64) string {
	sorted := make([]string, 0, len(entryIDs))
	for _, id := range entryIDs {
		sorted = append(sorted, id.String())
	}
	sort.Strings(sorted)
	seed := strings.Join(sorted, ",") + "#" + strconv.FormatInt(generation, 10)
	digest := uuid.NewSHA1(sellerID, []byte(seed))
	return "payout-" + digest.String()
}

// ReleaseSummary reports what a scheduled scan did.
type ReleaseSummary struct {
	SellersScanned int
	Payouts        []uuid.UUID
	Skipped        int
	Failed         int
}

// ReleaseEligible creates a payout for every seller with eligible entries. One
// seller's failure does not stop the scan; failures are aggregated.
func (s *Service) ReleaseEligible(ctx context.Context) (*ReleaseSummary, error) {
	sellers, err := s.holds.ListSellersWithEligible(ctx)
	if err != nil {
		return nil, err
	}
	summary := &ReleaseSummary{SellersScanned: len(sellers)}
	var errs error
	for _, sellerID := range sellers {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		payout, err := s.CreatePayout(ctx, sellerID)
		switch {
		case err == nil:
			summary.Payouts = append(summary.Payouts, payout.ID)
		case isNoEligible(err):
			summary.Skipped++
		default:
			summary.Failed++
			errs = multierr.Append(errs, fmt.Errorf("seller %s: %w", sellerID, err))
		}
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"sellers": summary.SellersScanned,
			"payouts": len(summary.Payouts),
			"skipped": summary.Skipped,
			"failed":  summary.Failed,
		})
		s.logg.Info(logCtx, "payout.release_scan_complete")
	}
	return summary, errs
}

func isNoEligible(err error) bool {
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == pkgerrors.CodeStateConflict && typed.Message() == errNoEligible
}

// List returns the seller's payouts, newest first.
func (s *Service) List(ctx context.Context, sellerID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.repo.ListBySeller(ctx, sellerID, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}
	return rows, nil
}

// Get loads a payout with its items after checking the seller owns it.
func (s *Service) Get(ctx context.Context, sellerID, payoutID uuid.UUID) (*models.Payout, error) {
	if payoutID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout id is required")
	}
	payout, err := s.repo.FindByID(ctx, payoutID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	if payout.SellerID != sellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payout belongs to another seller")
	}
	return payout, nil
}
