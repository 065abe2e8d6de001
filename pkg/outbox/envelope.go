package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

const (
	currentEnvelopeVersion = 1

	SourceStripe = "stripe"
)

// ActorRef identifies who caused a settlement event. Provider callbacks and
// scheduled runs carry a Source instead of, or next to, a user.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
	Source string    `json:"source,omitempty"`
}

// BuyerViaStripe is the actor for a checkout the provider confirmed.
func BuyerViaStripe(buyerID uuid.UUID) *ActorRef {
	return &ActorRef{UserID: buyerID, Role: enums.ActorRoleBuyer.String(), Source: SourceStripe}
}

func Seller(sellerID uuid.UUID) *ActorRef {
	return &ActorRef{UserID: sellerID, Role: enums.ActorRoleSeller.String()}
}

func Provider() *ActorRef {
	return &ActorRef{Source: SourceStripe}
}

// PayloadEnvelope is the versioned JSON document stored in outbox_events and
// published as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(version int, occurredAt time.Time, actor *ActorRef, data any) (PayloadEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode event data: %w", err)
	}
	if version == 0 {
		version = currentEnvelopeVersion
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt,
		Actor:      actor,
		Data:       raw,
	}, nil
}

// DecodeEnvelope parses a stored payload and checks the fields every consumer
// relies on.
func DecodeEnvelope(payload []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch {
	case env.Version < 1 || env.Version > currentEnvelopeVersion:
		return PayloadEnvelope{}, fmt.Errorf("unsupported envelope version %d", env.Version)
	case env.EventID == "":
		return PayloadEnvelope{}, errors.New("envelope missing eventId")
	}
	trimmed := bytes.TrimSpace(env.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return PayloadEnvelope{}, errors.New("envelope missing data")
	}
	return env, nil
}
