package event_sinks

import (
	"context"

	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
	event_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/ports/out"
	"github.com/nyumbani-pay/nyumbani-pay/pkg/infra/metrics"
)

// InstrumentedSink counts deliveries and failures around any sink.
type InstrumentedSink struct {
	next    event_out.EventSink
	metrics *metrics.Registry
}

var _ event_out.EventSink = (*InstrumentedSink)(nil)

func NewInstrumentedSink(next event_out.EventSink, registry *metrics.Registry) *InstrumentedSink {
	return &InstrumentedSink{next: next, metrics: registry}
}

func (s *InstrumentedSink) Publish(ctx context.Context, envelope *event_entities.Envelope) error {
	if err := s.next.Publish(ctx, envelope); err != nil {
		s.metrics.OutboxFailures.Inc()

		if envelope.RetryCount+1 >= event_entities.MaxRetries {
			s.metrics.OutboxDeadLetters.Inc()
		}

		return err
	}

	s.metrics.OutboxPublished.Inc()

	return nil
}
