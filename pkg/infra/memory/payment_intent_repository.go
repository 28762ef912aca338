package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	payment_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/entities"
)

// PaymentIntentRepository is the in-memory PaymentIntentRepository used by
// tests and local runs.
type PaymentIntentRepository struct {
	mu      sync.RWMutex
	byID    map[common.PaymentIntentID]*payment_entities.PaymentIntent
	byIdem  map[string]common.PaymentIntentID
	byExtID map[string]common.PaymentIntentID
}

func NewPaymentIntentRepository() *PaymentIntentRepository {
	return &PaymentIntentRepository{
		byID:    make(map[common.PaymentIntentID]*payment_entities.PaymentIntent),
		byIdem:  make(map[string]common.PaymentIntentID),
		byExtID: make(map[string]common.PaymentIntentID),
	}
}

func idemKey(tenantID common.TenantID, key string) string { return tenantID.String() + "/" + key }

func extKey(provider, externalID string) string { return provider + "/" + externalID }

func copyIntent(in *payment_entities.PaymentIntent) *payment_entities.PaymentIntent {
	out := *in

	if in.PaidAt != nil {
		paid := *in.PaidAt
		out.PaidAt = &paid
	}

	if in.LeaseID != nil {
		lease := *in.LeaseID
		out.LeaseID = &lease
	}

	return &out
}

func (r *PaymentIntentRepository) Create(_ context.Context, intent *payment_entities.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[intent.ID]; ok {
		return common.Ef(common.KindConcurrency, "duplicate_id", "payment intent %s already exists", intent.ID)
	}

	ik := idemKey(intent.TenantID, intent.IdempotencyKey)
	if _, ok := r.byIdem[ik]; ok {
		return common.Ef(common.KindConcurrency, "duplicate_idempotency_key",
			"idempotency key %q already used for tenant %s", intent.IdempotencyKey, intent.TenantID)
	}

	r.byID[intent.ID] = copyIntent(intent)
	r.byIdem[ik] = intent.ID
	r.indexExternalLocked(intent)

	return nil
}

func (r *PaymentIntentRepository) Update(_ context.Context, intent *payment_entities.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[intent.ID]; !ok {
		return common.Ef(common.KindNotFound, "payment_not_found", "payment intent %s not found", intent.ID)
	}

	r.byID[intent.ID] = copyIntent(intent)
	r.indexExternalLocked(intent)

	return nil
}

func (r *PaymentIntentRepository) indexExternalLocked(intent *payment_entities.PaymentIntent) {
	if intent.ProviderName != "" && intent.ExternalID != "" {
		r.byExtID[extKey(intent.ProviderName, intent.ExternalID)] = intent.ID
	}
}

func (r *PaymentIntentRepository) GetByID(_ context.Context, tenantID common.TenantID, id common.PaymentIntentID) (*payment_entities.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	intent, ok := r.byID[id]
	if !ok || intent.TenantID != tenantID {
		return nil, nil
	}

	return copyIntent(intent), nil
}

func (r *PaymentIntentRepository) GetByIdempotencyKey(_ context.Context, tenantID common.TenantID, key string) (*payment_entities.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdem[idemKey(tenantID, key)]
	if !ok {
		return nil, nil
	}

	return copyIntent(r.byID[id]), nil
}

func (r *PaymentIntentRepository) GetByExternalID(_ context.Context, provider, externalID string) (*payment_entities.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExtID[extKey(provider, externalID)]
	if !ok {
		return nil, nil
	}

	return copyIntent(r.byID[id]), nil
}

func (r *PaymentIntentRepository) ListProcessingOlderThan(_ context.Context, tenantID common.TenantID, cutoff time.Time) ([]*payment_entities.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*payment_entities.PaymentIntent

	for _, intent := range r.byID {
		if intent.TenantID != tenantID {
			continue
		}

		if intent.Status != payment_entities.StatusProcessing && intent.Status != payment_entities.StatusRequiresAction {
			continue
		}

		if intent.UpdatedAt.Before(cutoff) {
			out = append(out, copyIntent(intent))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}

		return out[i].ID < out[j].ID
	})

	return out, nil
}

func (r *PaymentIntentRepository) ListSettledInPeriod(_ context.Context, tenantID common.TenantID, from, to time.Time) ([]*payment_entities.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*payment_entities.PaymentIntent

	for _, intent := range r.byID {
		if intent.TenantID != tenantID || intent.PaidAt == nil {
			continue
		}

		switch intent.Status {
		case payment_entities.StatusSucceeded, payment_entities.StatusPartiallyRefunded, payment_entities.StatusRefunded:
		default:
			continue
		}

		if intent.PaidAt.Before(from) || intent.PaidAt.After(to) {
			continue
		}

		out = append(out, copyIntent(intent))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaidAt.Equal(*out[j].PaidAt) {
			return out[i].PaidAt.Before(*out[j].PaidAt)
		}

		return out[i].ID < out[j].ID
	})

	return out, nil
}
