package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
)

// OutboxStore is the in-memory OutboxStore.
type OutboxStore struct {
	mu        sync.Mutex
	envelopes map[string]*event_entities.Envelope
	now       func() time.Time
}

func NewOutboxStore() *OutboxStore {
	return &OutboxStore{
		envelopes: make(map[string]*event_entities.Envelope),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func copyEnvelope(in *event_entities.Envelope) *event_entities.Envelope {
	out := *in
	out.Payload = append([]byte(nil), in.Payload...)

	for _, src := range []**time.Time{&out.NextRetryAt, &out.LockExpiresAt, &out.PublishedAt} {
		if *src != nil {
			t := **src
			*src = &t
		}
	}

	return &out
}

func (s *OutboxStore) Append(_ context.Context, envelopes ...*event_entities.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, envelope := range envelopes {
		if _, ok := s.envelopes[envelope.ID]; ok {
			return common.Ef(common.KindConcurrency, "duplicate_id", "envelope %s already staged", envelope.ID)
		}

		s.envelopes[envelope.ID] = copyEnvelope(envelope)
	}

	return nil
}

func (s *OutboxStore) LockBatch(_ context.Context, owner string, limit int, ttl time.Duration) ([]*event_entities.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var candidates []*event_entities.Envelope

	for _, envelope := range s.envelopes {
		if envelope.Deliverable(now) {
			candidates = append(candidates, envelope)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}

		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	lockID := uuid.NewString()
	out := make([]*event_entities.Envelope, 0, len(candidates))

	for _, envelope := range candidates {
		envelope.Lock(lockID, owner, now.Add(ttl))
		out = append(out, copyEnvelope(envelope))
	}

	return out, nil
}

func (s *OutboxStore) Update(_ context.Context, envelope *event_entities.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.envelopes[envelope.ID]; !ok {
		return common.Ef(common.KindNotFound, "envelope_not_found", "envelope %s not found", envelope.ID)
	}

	s.envelopes[envelope.ID] = copyEnvelope(envelope)

	return nil
}

func (s *OutboxStore) ListByStatus(_ context.Context, status event_entities.EnvelopeStatus) ([]*event_entities.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*event_entities.Envelope

	for _, envelope := range s.envelopes {
		if envelope.Status == status {
			out = append(out, copyEnvelope(envelope))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}

		return out[i].ID < out[j].ID
	})

	return out, nil
}

// SetClock overrides the store's clock. Test hook.
func (s *OutboxStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = now
}
