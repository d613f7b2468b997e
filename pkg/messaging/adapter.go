package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/teleconsult-api/internal/model"
)

// EventPublisher maps outbox events onto broker channels named
// "<prefix>.<event_type>".
type EventPublisher struct {
	broker Broker
	prefix string
}

func NewEventPublisher(broker Broker, prefix string) *EventPublisher {
	return &EventPublisher{broker: broker, prefix: prefix}
}

func (p *EventPublisher) Channel(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish sends one event. Subscribers deduplicate on Message.ID since
// relays are at-least-once.
func (p *EventPublisher) Publish(ctx context.Context, event *model.OutboxEvent) error {
	body, err := json.Marshal(Message{
		ID:         event.ID,
		Type:       event.EventType,
		Payload:    event.Payload,
		OccurredAt: event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.broker.Publish(ctx, p.Channel(event.EventType), body)
}
