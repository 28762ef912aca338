package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	accountsCollection       = "ledger_accounts"
	entriesCollection        = "ledger_entries"
	paymentIntentsCollection = "payment_intents"
	disbursementsCollection  = "disbursements"
	statementsCollection     = "statements"
	outboxCollection         = "outbox"
)

// Connect opens a client, pings the primary and returns the database handle.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10*time.Second).
		SetServerSelectionTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return client.Database(database), nil
}

// EnsureIndexes creates the unique and query indexes the repositories rely
// on. Safe to call on every boot; Mongo treats existing indexes as no-ops.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		accountsCollection: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "type", Value: 1}}},
			{Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "type", Value: 1},
				{Key: "scope.owner_id", Value: 1},
				{Key: "scope.customer_id", Value: 1},
			}},
		},
		entriesCollection: {
			{
				Keys: bson.D{
					{Key: "tenant_id", Value: 1},
					{Key: "account_id", Value: 1},
					{Key: "sequence_number", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "journal_id", Value: 1}}},
			{Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "account_id", Value: 1},
				{Key: "effective_date", Value: 1},
			}},
		},
		paymentIntentsCollection: {
			{
				Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "external_id", Value: 1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "paid_at", Value: 1}}},
		},
		disbursementsCollection: {
			{
				Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "transfer_id", Value: 1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "owner_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		statementsCollection: {
			{
				Keys: bson.D{
					{Key: "tenant_id", Value: 1},
					{Key: "account_id", Value: 1},
					{Key: "type", Value: 1},
					{Key: "period_start", Value: 1},
					{Key: "period_end", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		outboxCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "lock_expires_at", Value: 1}}},
		},
	}

	for collection, models := range specs {
		if _, err := db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", collection, err)
		}
	}

	return nil
}
