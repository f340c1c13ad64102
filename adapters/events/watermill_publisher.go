package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/sigil/ports"
)

// DefaultTopic is the topic account events are published to
const DefaultTopic = "sigil.events"

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher. An empty topic selects DefaultTopic.
func NewWatermillPublisher(publisher message.Publisher, topic string) *WatermillPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillPublisher{
		publisher: publisher,
		topic:     topic,
	}
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// Publish sends event as a JSON message. The event type is also set as message metadata
// so subscribers can filter without decoding the payload.
func (p *WatermillPublisher) Publish(ctx context.Context, event ports.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("type", event.Type)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
