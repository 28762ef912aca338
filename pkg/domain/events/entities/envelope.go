package event_entities

import (
	"time"

	"github.com/google/uuid"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
)

// EnvelopeStatus is the outbox delivery state.
type EnvelopeStatus string

const (
	EnvelopePending    EnvelopeStatus = "pending"
	EnvelopePublished  EnvelopeStatus = "published"
	EnvelopeFailed     EnvelopeStatus = "failed"
	EnvelopeDeadLetter EnvelopeStatus = "dead_letter"
)

// MaxRetries is how many delivery attempts an envelope gets before it is
// dead-lettered.
const MaxRetries = 5

// Envelope is one durably staged outbound event. It is written in the same
// unit of work as the domain change that produced it and drained by the
// outbox processor.
type Envelope struct {
	ID            string          `json:"id" bson:"_id"`
	AggregateType string          `json:"aggregate_type" bson:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id" bson:"aggregate_id"`
	EventType     string          `json:"event_type" bson:"event_type"`
	Payload       []byte          `json:"payload" bson:"payload"`
	TenantID      common.TenantID `json:"tenant_id" bson:"tenant_id"`
	Status        EnvelopeStatus  `json:"status" bson:"status"`
	RetryCount    int             `json:"retry_count" bson:"retry_count"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty" bson:"next_retry_at,omitempty"`
	LastError     string          `json:"last_error,omitempty" bson:"last_error,omitempty"`
	LockID        string          `json:"lock_id,omitempty" bson:"lock_id,omitempty"`
	LockOwner     string          `json:"lock_owner,omitempty" bson:"lock_owner,omitempty"`
	LockExpiresAt *time.Time      `json:"lock_expires_at,omitempty" bson:"lock_expires_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at" bson:"created_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty" bson:"published_at,omitempty"`
}

// NewEnvelope stages one domain event.
func NewEnvelope(event common.DomainEvent, payload []byte) *Envelope {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}

	return &Envelope{
		ID:            id,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.Type,
		Payload:       payload,
		TenantID:      event.TenantID,
		Status:        EnvelopePending,
		CreatedAt:     event.OccurredAt,
	}
}

// Backoff is the delay before the next delivery attempt: 2^retry_count
// seconds.
func (e *Envelope) Backoff() time.Duration {
	return time.Duration(1<<uint(e.RetryCount)) * time.Second
}

// MarkPublished settles the envelope.
func (e *Envelope) MarkPublished(at time.Time) {
	e.Status = EnvelopePublished
	published := at.UTC()
	e.PublishedAt = &published
	e.clearLock()
}

// MarkFailed records a delivery failure, schedules the retry with
// exponential backoff, and dead-letters once the retry budget is spent.
func (e *Envelope) MarkFailed(reason string, at time.Time) {
	e.RetryCount++
	e.LastError = reason
	e.clearLock()

	if e.RetryCount >= MaxRetries {
		e.Status = EnvelopeDeadLetter
		e.NextRetryAt = nil

		return
	}

	e.Status = EnvelopeFailed
	next := at.UTC().Add(e.Backoff())
	e.NextRetryAt = &next
}

// Lock claims the envelope for one processor under a TTL.
func (e *Envelope) Lock(lockID, owner string, expiresAt time.Time) {
	e.LockID = lockID
	e.LockOwner = owner
	expiry := expiresAt.UTC()
	e.LockExpiresAt = &expiry
}

func (e *Envelope) clearLock() {
	e.LockID = ""
	e.LockOwner = ""
	e.LockExpiresAt = nil
}

// Deliverable reports whether the envelope may be attempted at now: it is
// pending or due for retry, and not locked by a live processor.
func (e *Envelope) Deliverable(now time.Time) bool {
	switch e.Status {
	case EnvelopePending:
	case EnvelopeFailed:
		if e.NextRetryAt != nil && now.Before(*e.NextRetryAt) {
			return false
		}
	default:
		return false
	}

	if e.LockExpiresAt != nil && now.Before(*e.LockExpiresAt) {
		return false
	}

	return true
}
