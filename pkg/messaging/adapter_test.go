package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/teleconsult-api/internal/model"
)

type recordingBroker struct {
	channel string
	payload []byte
}

func (b *recordingBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.channel, b.payload = channel, payload
	return nil
}

func (b *recordingBroker) Ping(ctx context.Context) error { return nil }
func (b *recordingBroker) Close() error                   { return nil }

func TestEventPublisher(t *testing.T) {
	broker := &recordingBroker{}
	pub := NewEventPublisher(broker, "teleconsult")
	event := &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: model.EventBookingCreated,
		Payload:   json.RawMessage(`{"slot_id":"s1"}`),
		CreatedAt: time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC),
	}

	require.NoError(t, pub.Publish(context.Background(), event))
	assert.Equal(t, "teleconsult.booking.created", broker.channel)

	var msg Message
	require.NoError(t, json.Unmarshal(broker.payload, &msg))
	assert.Equal(t, event.ID, msg.ID)
	assert.Equal(t, model.EventBookingCreated, msg.Type)
	assert.JSONEq(t, `{"slot_id":"s1"}`, string(msg.Payload))
	assert.True(t, event.CreatedAt.Equal(msg.OccurredAt))

	assert.Equal(t, "payment.created", NewEventPublisher(broker, "").Channel(model.EventPaymentCreated))
}
