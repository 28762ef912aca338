package event_sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
	event_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/ports/out"
)

// KafkaSink publishes outbox envelopes to a Kafka topic. Messages are keyed
// by aggregate id so every event for one aggregate lands on the same
// partition and consumers see them in order.
type KafkaSink struct {
	writer *kafka.Writer
}

var _ event_out.EventSink = (*KafkaSink)(nil)

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Publish(ctx context.Context, envelope *event_entities.Envelope) error {
	message := kafka.Message{
		Key:   []byte(envelope.AggregateID),
		Value: envelope.Payload,
		Time:  envelope.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(envelope.ID)},
			{Key: "event_type", Value: []byte(envelope.EventType)},
			{Key: "aggregate_type", Value: []byte(envelope.AggregateType)},
			{Key: "tenant_id", Value: []byte(envelope.TenantID)},
		},
	}

	if err := s.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("kafka publish %s: %w", envelope.EventType, err)
	}

	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
