package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/restockly/notification-service-go/internal/notify"
)

const EventTypeInventoryLevelUpdated = "InventoryLevelUpdated"

// InventoryLevelUpdatedPayload mirrors the webhook body for deliveries
// routed through the broker instead of HTTP.
type InventoryLevelUpdatedPayload struct {
	Shop      string                   `json:"shop"`
	Updates   []notify.InventoryUpdate `json:"updates"`
	Timestamp time.Time                `json:"timestamp"`
}

type inventoryLevelUpdatedMessage struct {
	Envelope *EventEnvelope
	Payload  InventoryLevelUpdatedPayload
}

// parseInventoryLevelUpdated accepts both enveloped and bare payloads;
// relays that cannot wrap events publish the payload directly.
func parseInventoryLevelUpdated(body []byte) (inventoryLevelUpdatedMessage, error) {
	env, err := parseEnvelope(body)
	if err == nil && env.EventName == EventTypeInventoryLevelUpdated {
		if err := env.Validate(EventTypeInventoryLevelUpdated, 1); err != nil {
			return inventoryLevelUpdatedMessage{}, err
		}
		var payload InventoryLevelUpdatedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return inventoryLevelUpdatedMessage{}, fmt.Errorf("parse payload: %w", err)
		}
		return inventoryLevelUpdatedMessage{Envelope: &env, Payload: payload}, nil
	}

	var payload InventoryLevelUpdatedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return inventoryLevelUpdatedMessage{}, fmt.Errorf("parse inventory event: %w", err)
	}
	return inventoryLevelUpdatedMessage{Payload: payload}, nil
}
