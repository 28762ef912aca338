package event_sinks

import (
	"context"
	"errors"

	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
	event_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/ports/out"
)

// FanoutSink delivers every envelope to each sink. A failure in any sink
// fails the delivery, so the outbox retries it; sinks must tolerate
// redelivery.
type FanoutSink struct {
	sinks []event_out.EventSink
}

var _ event_out.EventSink = (*FanoutSink)(nil)

func NewFanoutSink(sinks ...event_out.EventSink) *FanoutSink {
	return &FanoutSink{sinks: sinks}
}

func (s *FanoutSink) Publish(ctx context.Context, envelope *event_entities.Envelope) error {
	var errs []error

	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, envelope); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// HandlerFunc adapts a plain envelope handler, such as an in-process
// subscriber, into an EventSink.
type HandlerFunc func(ctx context.Context, envelope *event_entities.Envelope) error

var _ event_out.EventSink = HandlerFunc(nil)

func (f HandlerFunc) Publish(ctx context.Context, envelope *event_entities.Envelope) error {
	return f(ctx, envelope)
}
