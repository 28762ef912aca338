package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
	event_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/ports/out"
)

// OutboxStore is the Mongo implementation of the outbox port. LockBatch
// claims envelopes one at a time with findOneAndUpdate so two processors
// never hold the same envelope.
type OutboxStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

var _ event_out.OutboxStore = (*OutboxStore)(nil)

func NewOutboxStore(db *mongo.Database) *OutboxStore {
	return &OutboxStore{
		collection: db.Collection(outboxCollection),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *OutboxStore) Append(ctx context.Context, envelopes ...*event_entities.Envelope) error {
	docs := make([]any, len(envelopes))
	for i, envelope := range envelopes {
		docs[i] = envelope
	}

	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return common.E(common.KindConcurrency, "duplicate_id", "envelope already staged")
		}

		return fmt.Errorf("append to outbox: %w", err)
	}

	return nil
}

func (s *OutboxStore) LockBatch(ctx context.Context, owner string, limit int, ttl time.Duration) ([]*event_entities.Envelope, error) {
	now := s.now()
	lockID := uuid.NewString()
	expiresAt := now.Add(ttl)

	deliverable := bson.M{
		"$or": bson.A{
			bson.M{"status": event_entities.EnvelopePending},
			bson.M{
				"status": event_entities.EnvelopeFailed,
				"$or": bson.A{
					bson.M{"next_retry_at": bson.M{"$lte": now}},
					bson.M{"next_retry_at": nil},
				},
			},
		},
	}

	filter := bson.M{
		"$and": bson.A{
			deliverable,
			bson.M{"$or": bson.A{
				bson.M{"lock_expires_at": nil},
				bson.M{"lock_expires_at": bson.M{"$lte": now}},
			}},
		},
	}

	update := bson.M{"$set": bson.M{
		"lock_id":         lockID,
		"lock_owner":      owner,
		"lock_expires_at": expiresAt,
	}}

	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var batch []*event_entities.Envelope

	for len(batch) < limit {
		var envelope event_entities.Envelope

		err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&envelope)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}

		if err != nil {
			return batch, fmt.Errorf("claim envelope: %w", err)
		}

		batch = append(batch, &envelope)
	}

	return batch, nil
}

func (s *OutboxStore) Update(ctx context.Context, envelope *event_entities.Envelope) error {
	result, err := s.collection.ReplaceOne(ctx, bson.M{"_id": envelope.ID}, envelope)
	if err != nil {
		return fmt.Errorf("update envelope: %w", err)
	}

	if result.MatchedCount == 0 {
		return common.Ef(common.KindNotFound, "envelope_not_found", "envelope %s not found", envelope.ID)
	}

	return nil
}

func (s *OutboxStore) ListByStatus(ctx context.Context, status event_entities.EnvelopeStatus) ([]*event_entities.Envelope, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"status": status},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}

	var envelopes []*event_entities.Envelope

	if err := cursor.All(ctx, &envelopes); err != nil {
		return nil, fmt.Errorf("decode envelopes: %w", err)
	}

	return envelopes, nil
}
