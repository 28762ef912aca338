package event_services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
	event_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/ports/out"
)

// ProcessorConfig tunes the outbox drain loop.
type ProcessorConfig struct {
	BatchSize    int
	LockTTL      time.Duration
	PollInterval time.Duration
}

// Processor polls the outbox, locks a batch under a TTL, publishes each
// envelope to the sink and settles it. Failures reschedule with exponential
// backoff until the envelope dead-letters.
type Processor struct {
	store  event_out.OutboxStore
	sink   event_out.EventSink
	config ProcessorConfig
	owner  string
	now    func() time.Time
}

func NewProcessor(store event_out.OutboxStore, sink event_out.EventSink, config ProcessorConfig) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	if config.LockTTL <= 0 {
		config.LockTTL = 30 * time.Second
	}

	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}

	return &Processor{
		store:  store,
		sink:   sink,
		config: config,
		owner:  "outbox-" + uuid.NewString()[:8],
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ProcessOnce drains one locked batch. Returns how many envelopes were
// published.
func (p *Processor) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := p.store.LockBatch(ctx, p.owner, p.config.BatchSize, p.config.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("lock outbox batch: %w", err)
	}

	published := 0

	for _, envelope := range batch {
		if err := ctx.Err(); err != nil {
			return published, err
		}

		if err := p.sink.Publish(ctx, envelope); err != nil {
			envelope.MarkFailed(err.Error(), p.now())

			if envelope.Status == event_entities.EnvelopeDeadLetter {
				slog.ErrorContext(ctx, "outbox envelope dead-lettered",
					"envelope_id", envelope.ID,
					"event_type", envelope.EventType,
					"retries", envelope.RetryCount,
					"error", err,
				)
			} else {
				slog.WarnContext(ctx, "outbox publish failed, scheduled retry",
					"envelope_id", envelope.ID,
					"event_type", envelope.EventType,
					"retry_count", envelope.RetryCount,
					"next_retry_at", envelope.NextRetryAt,
				)
			}
		} else {
			envelope.MarkPublished(p.now())
			published++
		}

		if err := p.store.Update(ctx, envelope); err != nil {
			return published, fmt.Errorf("settle envelope %s: %w", envelope.ID, err)
		}
	}

	return published, nil
}

// Run drains the outbox until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}
