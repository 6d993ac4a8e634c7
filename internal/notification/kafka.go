package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Producer is the subset of client.KafkaProducer the notifier needs.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaNotifier publishes deliveries to a topic consumed by the SMS,
// WhatsApp and email gateways.
type KafkaNotifier struct {
	producer Producer
	topic    string
}

func NewKafkaNotifier(producer Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (n *KafkaNotifier) Deliver(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	headers := map[string]string{
		"kind":       msg.Kind,
		"channel":    string(msg.Channel),
		"message_id": uuid.NewString(),
	}
	// Keyed by destination so one recipient's messages stay ordered.
	if err := n.producer.ProduceMessage(ctx, n.topic, []byte(msg.Destination), payload, headers); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
