// Package registry resolves outbox rows into typed settlement events and the
// topic each one is published to.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row the publisher should dead-letter instead of
// retrying.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable outbox error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

type EventRegistry struct {
	descriptors map[enums.OutboxEventType]EventDescriptor
	validate    *validator.Validate
}

// NewEventRegistry routes every settlement event to the settlement topic.
// Subscribers filter on the event_type attribute.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.SettlementTopic)
	if topic == "" {
		return nil, errors.New("settlement topic is required")
	}

	factories := map[enums.OutboxEventType]func() any{
		enums.EventOrderPaid:       func() any { return &payloads.OrderPaidEvent{} },
		enums.EventPayoutCreated:   func() any { return &payloads.PayoutCreatedEvent{} },
		enums.EventPayoutInTransit: func() any { return &payloads.PayoutStatusEvent{} },
		enums.EventPayoutPaid:      func() any { return &payloads.PayoutStatusEvent{} },
		enums.EventPayoutFailed:    func() any { return &payloads.PayoutStatusEvent{} },
	}
	r := &EventRegistry{
		descriptors: make(map[enums.OutboxEventType]EventDescriptor, len(factories)),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
	for eventType, factory := range factories {
		aggregate := eventType.Aggregate()
		if aggregate == "" {
			return nil, fmt.Errorf("event %s has no aggregate", eventType)
		}
		r.descriptors[eventType] = EventDescriptor{
			EventType:     eventType,
			AggregateType: aggregate,
			Topic:         topic,
			newPayload:    factory,
		}
	}
	return r, nil
}

// Resolve checks the row against its descriptor, then decodes and validates
// the envelope data. Every failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, err := r.describe(event)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload := desc.newPayload()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	if err := r.validate.Struct(payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("invalid %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func (r *EventRegistry) describe(event models.OutboxEvent) (EventDescriptor, error) {
	desc, ok := r.descriptors[event.EventType]
	switch {
	case !ok:
		return desc, fmt.Errorf("unsupported event type %q", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return desc, fmt.Errorf("%s belongs to %s, row says %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return desc, fmt.Errorf("%s row has no aggregate id", event.EventType)
	}
	return desc, nil
}
