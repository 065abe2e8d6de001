package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/payloads"
)

// PayoutEvent is the provider-neutral view of a payout webhook.
type PayoutEvent struct {
	ExternalPayoutID string
	Status           string
	ArrivalDate      *time.Time
	FailureCode      string
	FailureMessage   string
}

// ReconcileResult describes what a payout webhook changed.
type ReconcileResult struct {
	PayoutID uuid.UUID
	Status   enums.PayoutStatus
	Entries  int
	// Noop is set when the payout was already in a state the event implies.
	Noop bool
	// Unknown is set when no payout carries the external id, e.g. a payout the
	// seller triggered from the provider dashboard.
	Unknown bool
}

// HandlePayoutPaid finalizes the payout and releases every linked entry.
func (s *Service) HandlePayoutPaid(ctx context.Context, event PayoutEvent) (*ReconcileResult, error) {
	return s.reconcile(ctx, event, enums.PayoutStatusPaid)
}

// HandlePayoutFailed records the failure and returns every linked entry to the
// held, unclaimed state so the next scan picks it up again. status must be
// failed or canceled.
func (s *Service) HandlePayoutFailed(ctx context.Context, event PayoutEvent, status enums.PayoutStatus) (*ReconcileResult, error) {
	if status != enums.PayoutStatusFailed && status != enums.PayoutStatusCanceled {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "failure status must be failed or canceled")
	}
	return s.reconcile(ctx, event, status)
}

// HandlePayoutUpdated advances a pending payout to in_transit and refreshes its
// arrival date. Terminal statuses arrive on their own events and are ignored here.
func (s *Service) HandlePayoutUpdated(ctx context.Context, event PayoutEvent) (*ReconcileResult, error) {
	if enums.PayoutStatus(event.Status) != enums.PayoutStatusInTransit {
		return &ReconcileResult{Noop: true, Status: enums.PayoutStatus(event.Status)}, nil
	}
	return s.reconcile(ctx, event, enums.PayoutStatusInTransit)
}

func (s *Service) reconcile(ctx context.Context, event PayoutEvent, next enums.PayoutStatus) (*ReconcileResult, error) {
	if strings.TrimSpace(event.ExternalPayoutID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout id is required")
	}

	var result *ReconcileResult
	err := s.txRunner.WithSerializableTx(ctx, func(tx *gorm.DB) error {
		res, err := s.reconcileTx(ctx, tx, event, next)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Noop && !result.Unknown {
		if s.metrics != nil {
			s.metrics.IncReconciled(string(next))
		}
		if s.logg != nil {
			logCtx := s.logg.WithPayoutID(ctx, result.PayoutID.String())
			logCtx = s.logg.WithFields(logCtx, map[string]any{
				"status":      next,
				"entry_count": result.Entries,
			})
			s.logg.Info(logCtx, "payout.reconciled")
		}
	}
	return result, nil
}

func (s *Service) reconcileTx(ctx context.Context, tx *gorm.DB, event PayoutEvent, next enums.PayoutStatus) (*ReconcileResult, error) {
	repo := s.repo.WithTx(tx)
	payout, err := repo.FindByExternalIDForUpdate(ctx, event.ExternalPayoutID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ReconcileResult{Unknown: true, Noop: true}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payout")
	}

	result := &ReconcileResult{PayoutID: payout.ID, Status: payout.Status}
	if payout.Status.IsTerminal() || payout.Status == next {
		result.Noop = true
		return result, nil
	}
	if !payout.Status.CanTransitionTo(next) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "illegal payout transition").
			WithDetails(map[string]any{"from": payout.Status, "to": next})
	}

	now := s.clock()
	fields := map[string]any{"status": next}
	if event.ArrivalDate != nil {
		fields["arrival_date"] = *event.ArrivalDate
	}
	var entries int
	var eventType enums.OutboxEventType
	switch next {
	case enums.PayoutStatusPaid:
		fields["paid_at"] = now
		eventType = enums.EventPayoutPaid
		entries, err = s.releaseEntries(ctx, tx, payout.ID, now)
	case enums.PayoutStatusFailed, enums.PayoutStatusCanceled:
		if event.FailureCode != "" {
			fields["failure_code"] = event.FailureCode
		}
		if event.FailureMessage != "" {
			fields["failure_message"] = event.FailureMessage
		}
		eventType = enums.EventPayoutFailed
		entries, err = s.revertEntries(ctx, tx, payout.ID, next, event, now)
	case enums.PayoutStatusInTransit:
		eventType = enums.EventPayoutInTransit
	}
	if err != nil {
		return nil, err
	}
	if err := repo.UpdateFields(ctx, payout.ID, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout")
	}

	statusEvent := payloads.PayoutStatusEvent{
		PayoutID:         payout.ID,
		SellerID:         payout.SellerID,
		ExternalPayoutID: payout.ExternalPayoutID,
		Status:           next,
		Amount:           payout.Amount,
		EntryCount:       entries,
		OccurredAt:       now,
	}
	if event.FailureCode != "" {
		statusEvent.FailureCode = &event.FailureCode
	}
	if event.FailureMessage != "" {
		statusEvent.FailureMessage = &event.FailureMessage
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayout,
		AggregateID:   payout.ID,
		Actor:         outbox.Provider(),
		Data:          statusEvent,
		OccurredAt:    now,
		Once:          true,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payout status event")
	}

	result.Status = next
	result.Entries = entries
	return result, nil
}

func (s *Service) linkedEntries(ctx context.Context, tx *gorm.DB, payoutID uuid.UUID) ([]models.PaymentTransaction, error) {
	items, err := s.repo.WithTx(tx).ListItems(ctx, payoutID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout items")
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.PaymentTransactionID)
	}
	entries, err := s.ledgerRepo.WithTx(tx).ListByIDs(ctx, ids, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payout entries")
	}
	return entries, nil
}

func (s *Service) releaseEntries(ctx context.Context, tx *gorm.DB, payoutID uuid.UUID, now time.Time) (int, error) {
	entries, err := s.linkedEntries(ctx, tx, payoutID)
	if err != nil {
		return 0, err
	}
	ledgerRepo := s.ledgerRepo.WithTx(tx)
	releasedBy := "payout:" + payoutID.String()
	changed := 0
	for _, entry := range entries {
		if entry.Status == enums.TransactionStatusReleased {
			continue
		}
		if !entry.Status.CanTransitionTo(enums.TransactionStatusReleased) {
			return 0, pkgerrors.New(pkgerrors.CodeStateConflict, "ledger entry cannot be released").
				WithDetails(map[string]any{"payment_transaction_id": entry.ID.String(), "status": entry.Status})
		}
		fields := map[string]any{
			"status":      enums.TransactionStatusReleased,
			"released_by": releasedBy,
		}
		if entry.ActualReleaseDate == nil {
			fields["actual_release_date"] = now
		}
		if err := ledgerRepo.UpdateFields(ctx, entry.ID, fields); err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release ledger entry")
		}
		changed++
	}
	return changed, nil
}

func (s *Service) revertEntries(ctx context.Context, tx *gorm.DB, payoutID uuid.UUID, status enums.PayoutStatus, event PayoutEvent, now time.Time) (int, error) {
	entries, err := s.linkedEntries(ctx, tx, payoutID)
	if err != nil {
		return 0, err
	}
	ledgerRepo := s.ledgerRepo.WithTx(tx)
	changed := 0
	for _, entry := range entries {
		if !entry.Status.CanTransitionTo(enums.TransactionStatusHeld) {
			return 0, pkgerrors.New(pkgerrors.CodeStateConflict, "ledger entry cannot return to held").
				WithDetails(map[string]any{"payment_transaction_id": entry.ID.String(), "status": entry.Status})
		}
		fields := map[string]any{
			"status":    enums.TransactionStatusHeld,
			"payed_out": false,
			"notes":     appendNote(entry.Notes, failureNote(payoutID, status, event, now)),
		}
		if err := ledgerRepo.UpdateFields(ctx, entry.ID, fields); err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revert ledger entry")
		}
		changed++
	}
	return changed, nil
}

func failureNote(payoutID uuid.UUID, status enums.PayoutStatus, event PayoutEvent, at time.Time) string {
	note := fmt.Sprintf("%s payout %s %s", at.UTC().Format(time.RFC3339), payoutID, status)
	if event.FailureCode != "" {
		note += ": " + event.FailureCode
	}
	if event.FailureMessage != "" {
		note += " (" + event.FailureMessage + ")"
	}
	return note
}

func appendNote(existing *string, note string) string {
	if existing == nil || strings.TrimSpace(*existing) == "" {
		return note
	}
	return *existing + "\n" + note
}
