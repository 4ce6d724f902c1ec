package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventMeta carries correlation data across a publish.
type EventMeta struct {
	CorrelationID string
	CausationID   string
	PartitionKey  string
}

// EventEnvelope is the shared wire shape for events on the topic
// exchange. Payload stays raw until the named event's parser runs.
type EventEnvelope struct {
	EventName     string          `json:"eventName"`
	EventVersion  int             `json:"eventVersion"`
	EventID       string          `json:"eventId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CausationID   string          `json:"causationId,omitempty"`
	Producer      string          `json:"producer"`
	PartitionKey  string          `json:"partitionKey"`
	Sequence      int64           `json:"sequence,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

func (e EventEnvelope) Validate(expectedName string, expectedVersion int) error {
	if e.EventName != expectedName {
		return fmt.Errorf("unexpected eventName %q", e.EventName)
	}
	if e.EventVersion != expectedVersion {
		return fmt.Errorf("unexpected eventVersion %d", e.EventVersion)
	}
	if e.EventID == "" {
		return fmt.Errorf("missing eventId")
	}
	if e.PartitionKey == "" {
		return fmt.Errorf("missing partitionKey")
	}
	return nil
}

func newEnvelope(name string, version int, meta EventMeta, sequence int64, occurredAt time.Time, payload any) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}

	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	return EventEnvelope{
		EventName:     name,
		EventVersion:  version,
		EventID:       uuid.NewString(),
		CorrelationID: correlationID,
		CausationID:   meta.CausationID,
		Producer:      serviceName,
		PartitionKey:  meta.PartitionKey,
		Sequence:      sequence,
		OccurredAt:    occurredAt,
		Payload:       raw,
	}, nil
}

func parseEnvelope(body []byte) (EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return EventEnvelope{}, err
	}
	return env, nil
}
