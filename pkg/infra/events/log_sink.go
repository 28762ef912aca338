package event_sinks

import (
	"context"
	"log/slog"

	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
	event_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/ports/out"
)

// LogSink writes envelopes to the structured log. Used in development and
// as a last-resort sink when no broker is configured.
type LogSink struct{}

var _ event_out.EventSink = LogSink{}

func (LogSink) Publish(ctx context.Context, envelope *event_entities.Envelope) error {
	slog.InfoContext(ctx, "event published",
		"event_id", envelope.ID,
		"event_type", envelope.EventType,
		"aggregate_type", envelope.AggregateType,
		"aggregate_id", envelope.AggregateID,
		"tenant_id", envelope.TenantID,
	)

	return nil
}
