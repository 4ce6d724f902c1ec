package events

import (
	"context"
	"fmt"
	"log"

	"github.com/restockly/notification-service-go/internal/dedup"
	"github.com/restockly/notification-service-go/internal/notify"
	"github.com/restockly/notification-service-go/internal/shop"
)

const inventoryUpdatedConsumerName = "notification-inventory-level-updated"

// Notifier runs one dispatch cycle. Satisfied by *notify.Service.
type Notifier interface {
	Notify(ctx context.Context, sess shop.Session, updates []notify.InventoryUpdate) ([]string, error)
}

// SessionStore resolves a shop domain to its stored session.
type SessionStore interface {
	SessionFor(ctx context.Context, shopDomain string) (shop.Session, error)
}

// InventoryLevelUpdatedHandler feeds broker-delivered inventory events
// into the same pipeline the webhook uses. Enveloped deliveries are
// checkpointed by sequence so redeliveries after an ack are skipped;
// returning an error NACKs the message.
func InventoryLevelUpdatedHandler(sessions SessionStore, checkpoints *dedup.Repository, notifier Notifier, logger *log.Logger) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		msg, err := parseInventoryLevelUpdated(body)
		if err != nil {
			return err
		}
		if msg.Payload.Shop == "" {
			return fmt.Errorf("missing shop")
		}
		if len(msg.Payload.Updates) == 0 {
			logger.Printf("inventory event for %s carries no updates", msg.Payload.Shop)
			return nil
		}

		partitionKey := msg.Payload.Shop
		var incomingSeq int64
		if msg.Envelope != nil {
			incomingSeq = msg.Envelope.Sequence
			if msg.Envelope.PartitionKey != "" {
				partitionKey = msg.Envelope.PartitionKey
			}
		}

		if checkpoints != nil && incomingSeq != 0 {
			last, ok, err := checkpoints.Last(ctx, inventoryUpdatedConsumerName, partitionKey)
			if err != nil {
				return err
			}
			if ok && incomingSeq <= last {
				logger.Printf("skip duplicate inventory event partition=%s seq=%d last=%d", partitionKey, incomingSeq, last)
				return nil
			}
		}

		sess, err := sessions.SessionFor(ctx, msg.Payload.Shop)
		if err != nil {
			return fmt.Errorf("session for %s: %w", msg.Payload.Shop, err)
		}

		if _, err := notifier.Notify(ctx, sess, msg.Payload.Updates); err != nil {
			return fmt.Errorf("notify %s: %w", msg.Payload.Shop, err)
		}

		if checkpoints != nil && incomingSeq != 0 {
			if err := checkpoints.Advance(ctx, inventoryUpdatedConsumerName, partitionKey, incomingSeq); err != nil {
				return err
			}
		}
		return nil
	}
}
