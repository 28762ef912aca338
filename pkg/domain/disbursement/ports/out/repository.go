package disbursement_out

import (
	"context"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	disbursement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/entities"
)

// DisbursementRepository persists payout records. The (tenant,
// idempotency_key) pair is unique; Create must fail on a duplicate.
type DisbursementRepository interface {
	Create(ctx context.Context, d *disbursement_entities.Disbursement) error
	Update(ctx context.Context, d *disbursement_entities.Disbursement) error
	GetByID(ctx context.Context, tenantID common.TenantID, id common.DisbursementID) (*disbursement_entities.Disbursement, error)
	GetByIdempotencyKey(ctx context.Context, tenantID common.TenantID, key string) (*disbursement_entities.Disbursement, error)
	// GetByTransferID resolves provider payout callbacks.
	GetByTransferID(ctx context.Context, provider, transferID string) (*disbursement_entities.Disbursement, error)
	ListByOwner(ctx context.Context, tenantID common.TenantID, ownerID common.OwnerID) ([]*disbursement_entities.Disbursement, error)
}
