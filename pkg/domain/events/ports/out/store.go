package event_out

import (
	"context"
	"time"

	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
)

// OutboxStore persists staged event envelopes. Append runs in the same unit
// of work as the domain change in transactional back-ends.
type OutboxStore interface {
	Append(ctx context.Context, envelopes ...*event_entities.Envelope) error
	// LockBatch atomically claims up to limit deliverable envelopes for
	// owner under a TTL, ordered by created_at.
	LockBatch(ctx context.Context, owner string, limit int, ttl time.Duration) ([]*event_entities.Envelope, error)
	Update(ctx context.Context, envelope *event_entities.Envelope) error
	// ListByStatus supports inspection and dead-letter tooling.
	ListByStatus(ctx context.Context, status event_entities.EnvelopeStatus) ([]*event_entities.Envelope, error)
}

// EventSink is the broker side of the outbox: Kafka, AMQP, or a test double.
type EventSink interface {
	Publish(ctx context.Context, envelope *event_entities.Envelope) error
}
