package common

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types published by the core. Subscribers must tolerate duplicates.
const (
	EventLedgerEntriesCreated    = "ledger.entries_created"
	EventAccountBalanceUpdated   = "ledger.account_balance_updated"
	EventPaymentCreated          = "payment.created"
	EventPaymentSucceeded        = "payment.succeeded"
	EventPaymentFailed           = "payment.failed"
	EventPaymentCancelled        = "payment.cancelled"
	EventPaymentRefunded         = "payment.refunded"
	EventDisbursementInitiated   = "disbursement.initiated"
	EventDisbursementPaid        = "disbursement.paid"
	EventDisbursementFailed      = "disbursement.failed"
	EventStatementGenerated      = "statement.generated"
	EventStatementSent           = "statement.sent"
	EventReconciliationException = "reconciliation.exception"
)

// DomainEvent is the envelope-free event produced by aggregates. The outbox
// layer serialises Payload and persists it in the same unit of work as the
// state change that produced it.
type DomainEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	TenantID      TenantID  `json:"tenant_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	Payload       any       `json:"payload"`
}

// NewEvent builds a DomainEvent with a fresh id and the current time.
func NewEvent(eventType, aggregateType, aggregateID string, tenantID TenantID, payload any) DomainEvent {
	return DomainEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		TenantID:      tenantID,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}
}

// EventPublisher is injected into every component; the outbox implementation
// stores events durably before any broker sees them.
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// NopPublisher discards events. Used in tests that do not assert on events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...DomainEvent) error { return nil }
