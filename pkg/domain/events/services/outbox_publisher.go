package event_services

import (
	"context"
	"encoding/json"
	"fmt"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
	event_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/ports/out"
)

// OutboxPublisher implements common.EventPublisher by staging events in the
// outbox store instead of talking to a broker. The processor drains the
// store asynchronously, so a publish succeeds as soon as the envelopes are
// durable.
type OutboxPublisher struct {
	store event_out.OutboxStore
}

func NewOutboxPublisher(store event_out.OutboxStore) *OutboxPublisher {
	return &OutboxPublisher{store: store}
}

func (p *OutboxPublisher) Publish(ctx context.Context, events ...common.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	envelopes := make([]*event_entities.Envelope, 0, len(events))

	for _, event := range events {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event.Type, err)
		}

		envelopes = append(envelopes, event_entities.NewEnvelope(event, payload))
	}

	if err := p.store.Append(ctx, envelopes...); err != nil {
		return fmt.Errorf("append to outbox: %w", err)
	}

	return nil
}
