package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/metrics"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	DLQRepository    dlqRepository
	PublisherFactory publisherFactory
	Metrics          *metrics.OutboxMetrics
	Clock            func() time.Time
}

// tuning is the publisher's view of config.OutboxConfig with defaults applied.
type tuning struct {
	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
}

func tuningFrom(cfg config.OutboxConfig) tuning {
	t := tuning{
		batchSize:      cfg.BatchSize,
		maxAttempts:    cfg.MaxAttempts,
		pollInterval:   time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		publishTimeout: defaultPublishTimeout,
	}
	if t.batchSize <= 0 {
		t.batchSize = defaultBatchSize
	}
	if t.maxAttempts <= 0 {
		t.maxAttempts = defaultMaxAttempts
	}
	if t.pollInterval <= 0 {
		t.pollInterval = defaultPollInterval
	}
	return t
}

// Service relays committed settlement events to Pub/Sub. A row is marked
// published only after the broker acks it, so delivery is at least once.
type Service struct {
	logg      *logger.Logger
	db        dbClient
	pubsub    pubSubClient
	repo      outboxRepository
	registry  registryResolver
	dlq       dlqRepository
	publishTo publisherFactory
	metrics   *metrics.OutboxMetrics
	clock     func() time.Time
	tuning    tuning
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	s := &Service{
		logg:      params.Logger,
		db:        params.DB,
		pubsub:    params.PubSub,
		repo:      params.Repository,
		registry:  params.Registry,
		dlq:       params.DLQRepository,
		publishTo: params.PublisherFactory,
		metrics:   params.Metrics,
		clock:     params.Clock,
		tuning:    tuningFrom(params.Config.Outbox),
	}
	if s.publishTo == nil {
		s.publishTo = pubsubPublishers(params.PubSub)
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// Run drains batches back to back while rows remain and waits one poll
// interval when the outbox is empty. Failed batches back off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "outbox.db_unavailable", err)
		return fmt.Errorf("database ping: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		s.logg.Error(ctx, "outbox.pubsub_unavailable", err)
		return fmt.Errorf("pubsub ping: %w", err)
	}

	backoff := s.newBackoff()
	for ctx.Err() == nil {
		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox.batch_failed", err)
			wait, _ = backoff.Next()
		case processed:
			backoff = s.newBackoff()
			continue
		default:
			backoff = s.newBackoff()
			wait = s.tuning.pollInterval
		}
		if err := sleepCtx(ctx, wait); err != nil {
			break
		}
	}
	s.logg.Info(ctx, "outbox.stopped")
	return ctx.Err()
}

func (s *Service) newBackoff() retry.Backoff {
	b := retry.NewExponential(s.tuning.pollInterval)
	b = retry.WithCappedDuration(maxIdleBackoff, b)
	return retry.WithJitter(jitterWindow, b)
}

// processBatch claims up to batchSize rows and settles each one in the same
// transaction. It reports whether any rows were claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	claimed := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.tuning.batchSize, s.tuning.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(events)
		s.metrics.ObserveBatch(claimed)
		for _, event := range events {
			if err := s.settle(ctx, tx, event, s.deliver(ctx, event)); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed > 0, err
}

// delivery is what happened to one row on this pass.
type delivery struct {
	resolved *registry.ResolvedEvent
	err      error
	// deadLetter is set when the row must leave the publish queue.
	deadLetter enums.OutboxDLQErrorReason
}

func (s *Service) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return delivery{err: err, deadLetter: enums.OutboxDLQReasonDecodeFailed}
	}

	d := delivery{resolved: resolved, err: s.publish(ctx, event, resolved)}
	var nonRetry registry.NonRetryableError
	switch {
	case d.err == nil:
	case errors.As(d.err, &nonRetry):
		d.deadLetter = enums.OutboxDLQReasonNonRetryable
	case event.AttemptCount+1 >= s.tuning.maxAttempts:
		d.err = fmt.Errorf("max publish attempts reached: %w", d.err)
		d.deadLetter = enums.OutboxDLQReasonMaxAttempts
	}
	return d
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publishTo(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}

	ctx, cancel := context.WithTimeout(ctx, s.tuning.publishTimeout)
	defer cancel()
	result := pub.Publish(ctx, eventMessage(event, resolved))
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher for topic %s returned no result", topic))
	}
	_, err := result.Get(ctx)
	return err
}

// settle records the delivery on the row. Only bookkeeping failures are
// returned; they roll the whole batch back.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, d delivery) error {
	logCtx := s.logg.WithFields(ctx, eventFields(event, d.resolved))
	eventType := string(event.EventType)

	switch {
	case d.deadLetter != "":
		logCtx = s.logg.WithFields(logCtx, map[string]any{"error_reason": d.deadLetter, "error": d.err.Error()})
		s.logg.Warn(logCtx, "outbox.event_dead_lettered")
		if err := s.deadLetter(tx, event, d.deadLetter, d.err); err != nil {
			return err
		}
		s.metrics.IncEvent(eventType, metrics.OutboxDeadLettered, string(d.deadLetter))

	case d.err != nil:
		logCtx = s.logg.WithFields(logCtx, map[string]any{"attempt_count": event.AttemptCount + 1, "error": d.err.Error()})
		s.logg.Warn(logCtx, "outbox.publish_failed")
		if err := s.repo.MarkFailedTx(tx, event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
		s.metrics.IncEvent(eventType, metrics.OutboxRetried, "")

	default:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.IncEvent(eventType, metrics.OutboxPublished, "")
		s.logg.Info(logCtx, "outbox.event_published")
	}
	return nil
}

func (s *Service) deadLetter(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	if err := s.dlq.InsertTx(tx, models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.clock(),
	}); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.tuning.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func eventFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if resolved != nil {
		fields["topic"] = resolved.Descriptor.Topic
		if resolved.Envelope.EventID != "" {
			fields["event_id"] = resolved.Envelope.EventID
		}
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
