package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	disbursement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/entities"
	disbursement_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/ports/out"
)

// DisbursementRepository is the Mongo implementation of the payout record
// port.
type DisbursementRepository struct {
	collection *mongo.Collection
}

var _ disbursement_out.DisbursementRepository = (*DisbursementRepository)(nil)

func NewDisbursementRepository(db *mongo.Database) *DisbursementRepository {
	return &DisbursementRepository{collection: db.Collection(disbursementsCollection)}
}

func (r *DisbursementRepository) Create(ctx context.Context, disbursement *disbursement_entities.Disbursement) error {
	if _, err := r.collection.InsertOne(ctx, disbursement); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return common.Ef(common.KindConcurrency, "duplicate_idempotency_key",
				"idempotency key %q already used", disbursement.IdempotencyKey)
		}

		return fmt.Errorf("insert disbursement: %w", err)
	}

	return nil
}

func (r *DisbursementRepository) Update(ctx context.Context, disbursement *disbursement_entities.Disbursement) error {
	result, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": disbursement.ID, "tenant_id": disbursement.TenantID}, disbursement)
	if err != nil {
		return fmt.Errorf("update disbursement: %w", err)
	}

	if result.MatchedCount == 0 {
		return common.Ef(common.KindNotFound, "disbursement_not_found", "disbursement %s not found", disbursement.ID)
	}

	return nil
}

func (r *DisbursementRepository) GetByID(ctx context.Context, tenantID common.TenantID, id common.DisbursementID) (*disbursement_entities.Disbursement, error) {
	return r.findOne(ctx, bson.M{"_id": id, "tenant_id": tenantID})
}

func (r *DisbursementRepository) GetByIdempotencyKey(ctx context.Context, tenantID common.TenantID, key string) (*disbursement_entities.Disbursement, error) {
	return r.findOne(ctx, bson.M{"tenant_id": tenantID, "idempotency_key": key})
}

func (r *DisbursementRepository) GetByTransferID(ctx context.Context, provider, transferID string) (*disbursement_entities.Disbursement, error) {
	return r.findOne(ctx, bson.M{"provider_name": provider, "transfer_id": transferID})
}

func (r *DisbursementRepository) findOne(ctx context.Context, filter bson.M) (*disbursement_entities.Disbursement, error) {
	var disbursement disbursement_entities.Disbursement

	err := r.collection.FindOne(ctx, filter).Decode(&disbursement)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.E(common.KindNotFound, "disbursement_not_found", "disbursement not found")
	}

	if err != nil {
		return nil, fmt.Errorf("find disbursement: %w", err)
	}

	return &disbursement, nil
}

func (r *DisbursementRepository) ListByOwner(ctx context.Context, tenantID common.TenantID, ownerID common.OwnerID) ([]*disbursement_entities.Disbursement, error) {
	cursor, err := r.collection.Find(ctx,
		bson.M{"tenant_id": tenantID, "owner_id": ownerID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list disbursements: %w", err)
	}

	var disbursements []*disbursement_entities.Disbursement

	if err := cursor.All(ctx, &disbursements); err != nil {
		return nil, fmt.Errorf("decode disbursements: %w", err)
	}

	return disbursements, nil
}
