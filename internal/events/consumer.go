package events

import (
	"context"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes one delivery. A returned error NACKs the
// message without requeue (dead-letter semantics when configured).
type HandlerFunc func(ctx context.Context, body []byte) error

// StartInventoryUpdatedConsumer binds the service queue to the events
// exchange and runs the handler for each delivery until ctx is done.
func StartInventoryUpdatedConsumer(ctx context.Context, conn *amqp.Connection, handler HandlerFunc, logger *log.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		return fmt.Errorf("declare events exchange: %w", err)
	}

	queue := InventoryLevelUpdatedQueue()
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, InventoryLevelUpdatedRoutingKey, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					logger.Printf("delivery channel for %s closed", queue)
					return
				}
				if err := handler(ctx, d.Body); err != nil {
					logger.Printf("handle inventory event: %v", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	logger.Printf("consuming %s", queue)
	return nil
}
