package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/packfinderz-settlement/internal/holds"
	"github.com/angelmondragon/packfinderz-settlement/internal/payouts"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

type holdReader interface {
	Views(ctx context.Context, sellerID uuid.UUID) ([]holds.View, error)
	Balance(ctx context.Context, sellerID uuid.UUID) (*holds.Balance, error)
	ListEligible(ctx context.Context, sellerID uuid.UUID) ([]models.PaymentTransaction, error)
}

type payoutRunner interface {
	CreatePayout(ctx context.Context, sellerID uuid.UUID) (*models.Payout, error)
	ReleaseEligible(ctx context.Context) (*payouts.ReleaseSummary, error)
}

type dlqReader interface {
	List(ctx context.Context, reason enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error)
	CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error)
}

func holdsCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holds",
		Short: "Show a seller's ledger entries with their hold countdown and balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sellerID, err := sellerFlag(cmd)
			if err != nil {
				return err
			}
			return runHolds(cmd.Context(), rt.services.Holds, sellerID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("seller", "", "seller store id")
	_ = cmd.MarkFlagRequired("seller")
	return cmd
}

func eligibleCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eligible",
		Short: "List the entries that would be paid out for a seller right now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sellerID, err := sellerFlag(cmd)
			if err != nil {
				return err
			}
			return runEligible(cmd.Context(), rt.services.Holds, sellerID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("seller", "", "seller store id")
	_ = cmd.MarkFlagRequired("seller")
	return cmd
}

func payoutCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payout",
		Short: "Batch a seller's eligible entries into a payout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sellerID, err := sellerFlag(cmd)
			if err != nil {
				return err
			}
			return runPayout(cmd.Context(), rt.services.Payouts, sellerID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("seller", "", "seller store id")
	_ = cmd.MarkFlagRequired("seller")
	return cmd
}

func scanCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run the scheduled payout release once for every seller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd.Context(), rt.services.Payouts, cmd.OutOrStdout())
		},
	}
}

func dlqCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Summarize settlement events the outbox publisher dead-lettered",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, _ := cmd.Flags().GetString("reason")
			reason, err := enums.ParseOutboxDLQErrorReason(raw)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			return runDLQ(cmd.Context(), rt.dlq, reason, limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("reason", "", "filter by reason: max_attempts, non_retryable or decode_failed")
	cmd.Flags().Int("limit", 20, "number of entries to list")
	return cmd
}

func sellerFlag(cmd *cobra.Command) (uuid.UUID, error) {
	raw, err := cmd.Flags().GetString("seller")
	if err != nil {
		return uuid.Nil, err
	}
	sellerID, err := uuid.Parse(raw)
	if err != nil || sellerID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid --seller %q", raw)
	}
	return sellerID, nil
}

func runHolds(ctx context.Context, svc holdReader, sellerID uuid.UUID, out io.Writer) error {
	views, err := svc.Views(ctx, sellerID)
	if err != nil {
		return err
	}
	balance, err := svc.Balance(ctx, sellerID)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{"holds": views, "balance": balance})
}

func runEligible(ctx context.Context, svc holdReader, sellerID uuid.UUID, out io.Writer) error {
	entries, err := svc.ListEligible(ctx, sellerID)
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	return writeJSON(out, map[string]any{"seller_id": sellerID, "count": len(ids), "payment_transaction_ids": ids})
}

func runPayout(ctx context.Context, svc payoutRunner, sellerID uuid.UUID, out io.Writer) error {
	payout, err := svc.CreatePayout(ctx, sellerID)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"payout_id":          payout.ID,
		"external_payout_id": payout.ExternalPayoutID,
		"status":             payout.Status,
		"amount":             payout.Amount,
		"currency":           payout.Currency,
	})
}

// runScan prints the summary even when some sellers failed.
func runScan(ctx context.Context, svc payoutRunner, out io.Writer) error {
	summary, err := svc.ReleaseEligible(ctx)
	if summary != nil {
		if writeErr := writeJSON(out, summary); writeErr != nil {
			return writeErr
		}
	}
	return err
}

type dlqRow struct {
	EventID     uuid.UUID                  `json:"event_id"`
	EventType   enums.OutboxEventType      `json:"event_type"`
	AggregateID uuid.UUID                  `json:"aggregate_id"`
	Reason      enums.OutboxDLQErrorReason `json:"reason"`
	Attempts    int                        `json:"attempts"`
	Error       string                     `json:"error,omitempty"`
}

func runDLQ(ctx context.Context, repo dlqReader, reason enums.OutboxDLQErrorReason, limit int, out io.Writer) error {
	counts, err := repo.CountByReason(ctx)
	if err != nil {
		return err
	}
	rows, err := repo.List(ctx, reason, limit)
	if err != nil {
		return err
	}
	entries := make([]dlqRow, 0, len(rows))
	for _, row := range rows {
		entry := dlqRow{
			EventID:     row.EventID,
			EventType:   row.EventType,
			AggregateID: row.AggregateID,
			Reason:      row.ErrorReason,
			Attempts:    row.AttemptCount,
		}
		if row.ErrorMessage != nil {
			entry.Error = *row.ErrorMessage
		}
		entries = append(entries, entry)
	}
	return writeJSON(out, map[string]any{"counts": counts, "entries": entries})
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
