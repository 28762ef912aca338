package memory

import (
	"context"
	"sort"
	"sync"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	disbursement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/entities"
)

// DisbursementRepository is the in-memory DisbursementRepository.
type DisbursementRepository struct {
	mu         sync.RWMutex
	byID       map[common.DisbursementID]*disbursement_entities.Disbursement
	byIdem     map[string]common.DisbursementID
	byTransfer map[string]common.DisbursementID
}

func NewDisbursementRepository() *DisbursementRepository {
	return &DisbursementRepository{
		byID:       make(map[common.DisbursementID]*disbursement_entities.Disbursement),
		byIdem:     make(map[string]common.DisbursementID),
		byTransfer: make(map[string]common.DisbursementID),
	}
}

func copyDisbursement(in *disbursement_entities.Disbursement) *disbursement_entities.Disbursement {
	out := *in

	if in.JournalID != nil {
		j := *in.JournalID
		out.JournalID = &j
	}

	if in.InitiatedAt != nil {
		t := *in.InitiatedAt
		out.InitiatedAt = &t
	}

	if in.EstimatedArrival != nil {
		t := *in.EstimatedArrival
		out.EstimatedArrival = &t
	}

	return &out
}

func (r *DisbursementRepository) Create(_ context.Context, d *disbursement_entities.Disbursement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[d.ID]; ok {
		return common.Ef(common.KindConcurrency, "duplicate_id", "disbursement %s already exists", d.ID)
	}

	ik := idemKey(d.TenantID, d.IdempotencyKey)
	if _, ok := r.byIdem[ik]; ok {
		return common.Ef(common.KindConcurrency, "duplicate_idempotency_key",
			"idempotency key %q already used for tenant %s", d.IdempotencyKey, d.TenantID)
	}

	r.byID[d.ID] = copyDisbursement(d)
	r.byIdem[ik] = d.ID
	r.indexTransferLocked(d)

	return nil
}

func (r *DisbursementRepository) Update(_ context.Context, d *disbursement_entities.Disbursement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[d.ID]; !ok {
		return common.Ef(common.KindNotFound, "disbursement_not_found", "disbursement %s not found", d.ID)
	}

	r.byID[d.ID] = copyDisbursement(d)
	r.indexTransferLocked(d)

	return nil
}

func (r *DisbursementRepository) indexTransferLocked(d *disbursement_entities.Disbursement) {
	if d.ProviderName != "" && d.TransferID != "" {
		r.byTransfer[extKey(d.ProviderName, d.TransferID)] = d.ID
	}
}

func (r *DisbursementRepository) GetByID(_ context.Context, tenantID common.TenantID, id common.DisbursementID) (*disbursement_entities.Disbursement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byID[id]
	if !ok || d.TenantID != tenantID {
		return nil, nil
	}

	return copyDisbursement(d), nil
}

func (r *DisbursementRepository) GetByIdempotencyKey(_ context.Context, tenantID common.TenantID, key string) (*disbursement_entities.Disbursement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdem[idemKey(tenantID, key)]
	if !ok {
		return nil, nil
	}

	return copyDisbursement(r.byID[id]), nil
}

func (r *DisbursementRepository) GetByTransferID(_ context.Context, provider, transferID string) (*disbursement_entities.Disbursement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byTransfer[extKey(provider, transferID)]
	if !ok {
		return nil, nil
	}

	return copyDisbursement(r.byID[id]), nil
}

func (r *DisbursementRepository) ListByOwner(_ context.Context, tenantID common.TenantID, ownerID common.OwnerID) ([]*disbursement_entities.Disbursement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*disbursement_entities.Disbursement

	for _, d := range r.byID {
		if d.TenantID == tenantID && d.OwnerID == ownerID {
			out = append(out, copyDisbursement(d))
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
