package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	payment_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/entities"
	payment_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/ports/out"
)

// PaymentIntentRepository is the Mongo implementation of the intent port.
// The unique (tenant_id, idempotency_key) index backs the dedup guarantee.
type PaymentIntentRepository struct {
	collection *mongo.Collection
}

var _ payment_out.PaymentIntentRepository = (*PaymentIntentRepository)(nil)

func NewPaymentIntentRepository(db *mongo.Database) *PaymentIntentRepository {
	return &PaymentIntentRepository{collection: db.Collection(paymentIntentsCollection)}
}

func (r *PaymentIntentRepository) Create(ctx context.Context, intent *payment_entities.PaymentIntent) error {
	if _, err := r.collection.InsertOne(ctx, intent); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return common.Ef(common.KindConcurrency, "duplicate_idempotency_key",
				"idempotency key %q already used", intent.IdempotencyKey)
		}

		return fmt.Errorf("insert payment intent: %w", err)
	}

	return nil
}

func (r *PaymentIntentRepository) Update(ctx context.Context, intent *payment_entities.PaymentIntent) error {
	result, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": intent.ID, "tenant_id": intent.TenantID}, intent)
	if err != nil {
		return fmt.Errorf("update payment intent: %w", err)
	}

	if result.MatchedCount == 0 {
		return common.Ef(common.KindNotFound, "payment_not_found", "payment %s not found", intent.ID)
	}

	return nil
}

func (r *PaymentIntentRepository) GetByID(ctx context.Context, tenantID common.TenantID, id common.PaymentIntentID) (*payment_entities.PaymentIntent, error) {
	return r.findOne(ctx, bson.M{"_id": id, "tenant_id": tenantID})
}

func (r *PaymentIntentRepository) GetByIdempotencyKey(ctx context.Context, tenantID common.TenantID, key string) (*payment_entities.PaymentIntent, error) {
	return r.findOne(ctx, bson.M{"tenant_id": tenantID, "idempotency_key": key})
}

func (r *PaymentIntentRepository) GetByExternalID(ctx context.Context, provider, externalID string) (*payment_entities.PaymentIntent, error) {
	return r.findOne(ctx, bson.M{"provider_name": provider, "external_id": externalID})
}

func (r *PaymentIntentRepository) findOne(ctx context.Context, filter bson.M) (*payment_entities.PaymentIntent, error) {
	var intent payment_entities.PaymentIntent

	err := r.collection.FindOne(ctx, filter).Decode(&intent)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.E(common.KindNotFound, "payment_not_found", "payment intent not found")
	}

	if err != nil {
		return nil, fmt.Errorf("find payment intent: %w", err)
	}

	return &intent, nil
}

func (r *PaymentIntentRepository) ListProcessingOlderThan(ctx context.Context, tenantID common.TenantID, cutoff time.Time) ([]*payment_entities.PaymentIntent, error) {
	return r.list(ctx, bson.M{
		"tenant_id": tenantID,
		"status": bson.M{"$in": bson.A{
			payment_entities.StatusProcessing,
			payment_entities.StatusRequiresAction,
		}},
		"updated_at": bson.M{"$lt": cutoff},
	}, bson.D{{Key: "updated_at", Value: 1}, {Key: "_id", Value: 1}})
}

func (r *PaymentIntentRepository) ListSettledInPeriod(ctx context.Context, tenantID common.TenantID, from, to time.Time) ([]*payment_entities.PaymentIntent, error) {
	return r.list(ctx, bson.M{
		"tenant_id": tenantID,
		"status": bson.M{"$in": bson.A{
			payment_entities.StatusSucceeded,
			payment_entities.StatusPartiallyRefunded,
			payment_entities.StatusRefunded,
		}},
		"paid_at": bson.M{"$gte": from, "$lte": to},
	}, bson.D{{Key: "paid_at", Value: 1}, {Key: "_id", Value: 1}})
}

func (r *PaymentIntentRepository) list(ctx context.Context, filter bson.M, sort bson.D) ([]*payment_entities.PaymentIntent, error) {
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("list payment intents: %w", err)
	}

	var intents []*payment_entities.PaymentIntent

	if err := cursor.All(ctx, &intents); err != nil {
		return nil, fmt.Errorf("decode payment intents: %w", err)
	}

	return intents, nil
}
