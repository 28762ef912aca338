package event_sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
	event_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/ports/out"
)

// AMQPSink publishes outbox envelopes to a topic exchange. The routing key
// is the event type, so consumers bind with patterns like "payment.*" or
// "disbursement.paid".
type AMQPSink struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	url      string
}

var _ event_out.EventSink = (*AMQPSink)(nil)

func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	sink := &AMQPSink{url: url, exchange: exchange}

	if err := sink.connect(); err != nil {
		return nil, err
	}

	return sink, nil
}

func (s *AMQPSink) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()

		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := channel.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()

		return fmt.Errorf("amqp declare exchange %s: %w", s.exchange, err)
	}

	s.conn = conn
	s.channel = channel

	return nil
}

func (s *AMQPSink) Publish(_ context.Context, envelope *event_entities.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil || s.conn.IsClosed() {
		if err := s.connect(); err != nil {
			return err
		}
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    envelope.ID,
		Type:         envelope.EventType,
		Timestamp:    envelope.CreatedAt,
		DeliveryMode: amqp.Persistent,
		Body:         envelope.Payload,
		Headers: amqp.Table{
			"aggregate_type": envelope.AggregateType,
			"aggregate_id":   envelope.AggregateID,
			"tenant_id":      string(envelope.TenantID),
		},
	}

	if err := s.channel.Publish(s.exchange, envelope.EventType, false, false, publishing); err != nil {
		return fmt.Errorf("amqp publish %s: %w", envelope.EventType, err)
	}

	return nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != nil {
		s.channel.Close()
	}

	if s.conn != nil {
		return s.conn.Close()
	}

	return nil
}
