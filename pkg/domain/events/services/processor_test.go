package event_services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
	"github.com/nyumbani-pay/nyumbani-pay/pkg/infra/memory"
)

type recordingSink struct {
	published []*event_entities.Envelope
	err       error
}

func (s *recordingSink) Publish(_ context.Context, envelope *event_entities.Envelope) error {
	if s.err != nil {
		return s.err
	}

	s.published = append(s.published, envelope)

	return nil
}

func stageEvent(t *testing.T, store *memory.OutboxStore, eventType string, payload any) common.DomainEvent {
	t.Helper()

	publisher := NewOutboxPublisher(store)
	event := common.NewEvent(eventType, "payment_intent", "pi_1", common.TenantID("ten_acme"), payload)
	require.NoError(t, publisher.Publish(context.Background(), event))

	return event
}

func TestOutboxPublisher_StagesPendingEnvelopes(t *testing.T) {
	store := memory.NewOutboxStore()
	event := stageEvent(t, store, common.EventPaymentSucceeded, map[string]any{"amount_minor": int64(45000)})

	pending, err := store.ListByStatus(context.Background(), event_entities.EnvelopePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	envelope := pending[0]
	assert.Equal(t, event.ID, envelope.ID)
	assert.Equal(t, common.EventPaymentSucceeded, envelope.EventType)
	assert.Equal(t, common.TenantID("ten_acme"), envelope.TenantID)
	assert.Zero(t, envelope.RetryCount)

	var decoded map[string]any

	require.NoError(t, json.Unmarshal(envelope.Payload, &decoded))
	assert.Equal(t, float64(45000), decoded["amount_minor"])
}

func TestProcessor_PublishesAndSettles(t *testing.T) {
	store := memory.NewOutboxStore()
	stageEvent(t, store, common.EventPaymentSucceeded, map[string]any{"amount_minor": int64(45000)})
	stageEvent(t, store, common.EventDisbursementPaid, map[string]any{"amount_minor": int64(95000)})

	sink := &recordingSink{}
	processor := NewProcessor(store, sink, ProcessorConfig{})

	published, err := processor.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, published)
	assert.Len(t, sink.published, 2)

	settled, err := store.ListByStatus(context.Background(), event_entities.EnvelopePublished)
	require.NoError(t, err)
	require.Len(t, settled, 2)

	for _, envelope := range settled {
		assert.NotNil(t, envelope.PublishedAt)
		assert.Empty(t, envelope.LockOwner)
	}

	pending, err := store.ListByStatus(context.Background(), event_entities.EnvelopePending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessor_FailureSchedulesBackoffRetry(t *testing.T) {
	store := memory.NewOutboxStore()
	stageEvent(t, store, common.EventPaymentFailed, map[string]any{"reason": "card_declined"})

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	store.SetClock(func() time.Time { return clock })

	sink := &recordingSink{err: errors.New("broker unavailable")}
	processor := NewProcessor(store, sink, ProcessorConfig{})
	processor.now = func() time.Time { return clock }

	published, err := processor.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, published)

	failed, err := store.ListByStatus(context.Background(), event_entities.EnvelopeFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].RetryCount)
	assert.Equal(t, "broker unavailable", failed[0].LastError)
	require.NotNil(t, failed[0].NextRetryAt)
	assert.Equal(t, base.Add(2*time.Second), *failed[0].NextRetryAt)

	// Not due yet: the batch comes back empty.
	clock = base.Add(time.Second)

	batch, err := store.LockBatch(context.Background(), "worker", 10, 30*time.Second)
	require.NoError(t, err)
	assert.Empty(t, batch)

	// Past the backoff the retry is claimable again and backs off to 2^2.
	clock = base.Add(3 * time.Second)

	published, err = processor.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, published)

	failed, err = store.ListByStatus(context.Background(), event_entities.EnvelopeFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].RetryCount)
	require.NotNil(t, failed[0].NextRetryAt)
	assert.Equal(t, clock.Add(4*time.Second), *failed[0].NextRetryAt)
}

func TestProcessor_DeadLettersAfterRetryBudget(t *testing.T) {
	store := memory.NewOutboxStore()
	stageEvent(t, store, common.EventPaymentFailed, map[string]any{"reason": "card_declined"})

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return clock })

	sink := &recordingSink{err: errors.New("broker unavailable")}
	processor := NewProcessor(store, sink, ProcessorConfig{})
	processor.now = func() time.Time { return clock }

	for attempt := 0; attempt < event_entities.MaxRetries; attempt++ {
		_, err := processor.ProcessOnce(context.Background())
		require.NoError(t, err)

		clock = clock.Add(time.Hour)
	}

	dead, err := store.ListByStatus(context.Background(), event_entities.EnvelopeDeadLetter)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, event_entities.MaxRetries, dead[0].RetryCount)
	assert.Nil(t, dead[0].NextRetryAt)

	// Dead letters are never re-claimed.
	batch, err := store.LockBatch(context.Background(), "worker", 10, 30*time.Second)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestProcessor_LockKeepsConcurrentWorkersOut(t *testing.T) {
	store := memory.NewOutboxStore()
	stageEvent(t, store, common.EventPaymentSucceeded, map[string]any{"amount_minor": int64(45000)})

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return clock })

	first, err := store.LockBatch(context.Background(), "worker-a", 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := store.LockBatch(context.Background(), "worker-b", 10, 30*time.Second)
	require.NoError(t, err)
	assert.Empty(t, second)

	// Once the TTL lapses the envelope is claimable again.
	clock = clock.Add(31 * time.Second)

	third, err := store.LockBatch(context.Background(), "worker-b", 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, "worker-b", third[0].LockOwner)
}

func TestProcessor_BatchOrderAndLimit(t *testing.T) {
	store := memory.NewOutboxStore()

	publisher := NewOutboxPublisher(store)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		event := common.NewEvent(common.EventLedgerEntriesCreated, "journal", "jr_1", common.TenantID("ten_acme"), nil)
		event.OccurredAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, publisher.Publish(context.Background(), event))
	}

	batch, err := store.LockBatch(context.Background(), "worker", 2, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.True(t, batch[0].CreatedAt.Before(batch[1].CreatedAt))
	assert.Equal(t, base, batch[0].CreatedAt)
}
