package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher emits RestockNotified envelopes after dispatch cycles. It
// satisfies notify.EventSink.
type Publisher struct {
	ch  *amqp.Channel
	seq *SequenceAllocator
}

func NewPublisher(conn *amqp.Connection, seq *SequenceAllocator) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareEventsExchange(ch); err != nil {
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}
	return &Publisher{ch: ch, seq: seq}, nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) PublishRestockNotified(ctx context.Context, shopDomain string, notified []string, restockedItems int) error {
	now := time.Now().UTC()
	payload := RestockNotifiedPayload{
		Shop:           shopDomain,
		Notified:       notified,
		RestockedItems: restockedItems,
		Timestamp:      now,
	}

	seq, err := p.seq.Next(ctx, shopDomain)
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}

	env, err := newEnvelope(EventTypeRestockNotified, 1, EventMeta{PartitionKey: shopDomain}, seq, now, payload)
	if err != nil {
		return err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	return p.ch.PublishWithContext(ctx, EventsExchange, RestockNotifiedRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.EventID,
		Timestamp:    env.OccurredAt,
		Body:         body,
	})
}
