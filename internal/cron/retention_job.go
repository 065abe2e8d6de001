package cron

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

const (
	defaultOutboxRetentionDays = 30
	defaultDLQRetentionDays    = 90
	defaultKeepAttempts        = 5
	defaultPruneChunk          = 500
	maxPruneChunksPerRun       = 40
)

type publishedPruner interface {
	PrunePublished(ctx context.Context, cutoff time.Time, minAttemptCount, limit int) (int64, error)
}

type deadLetterPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type RetentionJobParams struct {
	Logger       *logger.Logger
	Outbox       publishedPruner
	// DLQ is optional; dead letters are kept forever without it.
	DLQ          deadLetterPruner
	OutboxDays   int
	DLQDays      int
	KeepAttempts int
	ChunkSize    int
	Clock        func() time.Time
}

type retentionJob struct {
	logg         *logger.Logger
	outbox       publishedPruner
	dlq          deadLetterPruner
	outboxWindow time.Duration
	dlqWindow    time.Duration
	keepAttempts int
	chunk        int
	now          func() time.Time
}

// NewRetentionJob prunes delivered settlement events and expired dead letters.
// Deletes run in bounded chunks so one pass never holds a long table lock.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Outbox == nil:
		return nil, errors.New("outbox pruner required")
	}
	job := &retentionJob{
		logg:         params.Logger,
		outbox:       params.Outbox,
		outboxWindow: days(params.OutboxDays, defaultOutboxRetentionDays),
		dlqWindow:    days(params.DLQDays, defaultDLQRetentionDays),
		keepAttempts: orDefault(params.KeepAttempts, defaultKeepAttempts),
		chunk:        orDefault(params.ChunkSize, defaultPruneChunk),
		now:          params.Clock,
	}
	if params.DLQ != nil {
		job.dlq = params.DLQ
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

func (j *retentionJob) Name() string { return "settlement-retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()

	outboxCutoff := now.Add(-j.outboxWindow)
	published, outboxErr := j.drain(ctx, func(limit int) (int64, error) {
		return j.outbox.PrunePublished(ctx, outboxCutoff, j.keepAttempts, limit)
	})
	fields := map[string]any{
		"outbox_cutoff":  outboxCutoff,
		"outbox_deleted": published,
		"keep_attempts":  j.keepAttempts,
	}

	var dlqErr error
	if j.dlq != nil {
		dlqCutoff := now.Add(-j.dlqWindow)
		var dead int64
		dead, dlqErr = j.drain(ctx, func(limit int) (int64, error) {
			return j.dlq.PruneBefore(ctx, dlqCutoff, limit)
		})
		fields["dlq_cutoff"] = dlqCutoff
		fields["dlq_deleted"] = dead
	}

	logCtx := j.logg.WithFields(ctx, fields)
	if err := multierr.Append(outboxErr, dlqErr); err != nil {
		j.logg.Error(logCtx, "retention.prune_failed", err)
		return err
	}
	j.logg.Info(logCtx, "retention.prune_complete")
	return nil
}

// drain repeats prune until a chunk comes back short or the per-run cap is hit.
func (j *retentionJob) drain(ctx context.Context, prune func(limit int) (int64, error)) (int64, error) {
	var total int64
	for i := 0; i < maxPruneChunksPerRun; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := prune(j.chunk)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(j.chunk) {
			return total, nil
		}
	}
	return total, nil
}

func days(n, fallback int) time.Duration {
	return time.Duration(orDefault(n, fallback)) * 24 * time.Hour
}

func orDefault(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}
