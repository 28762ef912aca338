package payment_out

import (
	"context"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	payment_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/entities"
)

// PaymentIntentRepository persists payment intents. The (tenant,
// idempotency_key) pair is unique; Create must fail on a duplicate.
type PaymentIntentRepository interface {
	Create(ctx context.Context, intent *payment_entities.PaymentIntent) error
	Update(ctx context.Context, intent *payment_entities.PaymentIntent) error
	GetByID(ctx context.Context, tenantID common.TenantID, id common.PaymentIntentID) (*payment_entities.PaymentIntent, error)
	GetByIdempotencyKey(ctx context.Context, tenantID common.TenantID, key string) (*payment_entities.PaymentIntent, error)
	// GetByExternalID resolves webhook deliveries: provider name plus the
	// provider-side id.
	GetByExternalID(ctx context.Context, provider, externalID string) (*payment_entities.PaymentIntent, error)
	// ListProcessingOlderThan feeds provider status reconciliation.
	ListProcessingOlderThan(ctx context.Context, tenantID common.TenantID, cutoff time.Time) ([]*payment_entities.PaymentIntent, error)
	// ListSettledInPeriod returns succeeded / partially_refunded / refunded
	// intents with paid_at inside [from, to], ordered by (paid_at, id).
	ListSettledInPeriod(ctx context.Context, tenantID common.TenantID, from, to time.Time) ([]*payment_entities.PaymentIntent, error)
}
