package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

var errTxRequired = errors.New("outbox writes need the caller's transaction")

// DomainEvent is a settlement fact waiting to be written next to the state
// change that produced it.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
	// Once drops the event when the aggregate already has one of this type.
	Once bool
}

func (e DomainEvent) validate() error {
	if !e.EventType.IsValid() {
		return fmt.Errorf("unknown outbox event type %q", e.EventType)
	}
	if want := e.EventType.Aggregate(); want != e.AggregateType {
		return fmt.Errorf("event %s does not belong to aggregate %q (want %q)", e.EventType, e.AggregateType, want)
	}
	if e.AggregateID == uuid.Nil {
		return fmt.Errorf("event %s has no aggregate id", e.EventType)
	}
	return nil
}

// Emitter is what settlement services write events through.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit inserts the enveloped event with tx. Nothing is published here; the
// outbox publisher picks the row up after commit.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errTxRequired
	}
	if err := event.validate(); err != nil {
		return err
	}
	if event.Once {
		seen, err := s.repo.ExistsTx(tx, event.EventType, event.AggregateType, event.AggregateID)
		if err != nil {
			return fmt.Errorf("check existing %s: %w", event.EventType, err)
		}
		if seen {
			s.debug(ctx, event, "", "outbox.event_deduplicated")
			return nil
		}
	}

	envelope, err := newEnvelope(event.Version, event.OccurredAt, event.Actor, event.Data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", event.EventType, err)
	}
	if err := s.repo.Insert(tx, models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("insert %s: %w", event.EventType, err)
	}
	s.debug(ctx, event, envelope.EventID, "outbox.event_queued")
	return nil
}

func (s *Service) debug(ctx context.Context, event DomainEvent, eventID, msg string) {
	if s.logg == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	fields := map[string]any{
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID.String(),
	}
	if eventID != "" {
		fields["event_id"] = eventID
	}
	s.logg.Debug(s.logg.WithFields(ctx, fields), msg)
}
