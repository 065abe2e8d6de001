package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeDefaults(t *testing.T) {
	buyer := uuid.New()
	env, err := newEnvelope(0, time.Time{}, BuyerViaStripe(buyer), map[string]string{"order_id": "o-1"})
	require.NoError(t, err)
	require.Equal(t, currentEnvelopeVersion, env.Version)
	require.NotEmpty(t, env.EventID)
	require.False(t, env.OccurredAt.IsZero())
	require.Equal(t, buyer, env.Actor.UserID)
	require.Equal(t, SourceStripe, env.Actor.Source)
	require.JSONEq(t, `{"order_id":"o-1"}`, string(env.Data))
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := newEnvelope(1, time.Now().UTC(), Provider(), map[string]int{"amount_minor": 27540})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	require.Equal(t, env.EventID, decoded.EventID)

	for name, payload := range map[string]string{
		"not json":       `{`,
		"future version": `{"version":2,"eventId":"e","data":{}}`,
		"missing id":     `{"version":1,"data":{}}`,
		"null data":      `{"version":1,"eventId":"e","data":null}`,
		"absent data":    `{"version":1,"eventId":"e"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(payload))
			require.Error(t, err)
		})
	}
}
