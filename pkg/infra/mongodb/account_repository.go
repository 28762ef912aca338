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
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	ledger_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/ports/out"
)

// AccountRepository is the Mongo implementation of the ledger account port.
type AccountRepository struct {
	collection *mongo.Collection
}

var _ ledger_out.AccountRepository = (*AccountRepository)(nil)

func NewAccountRepository(db *mongo.Database) *AccountRepository {
	return &AccountRepository{collection: db.Collection(accountsCollection)}
}

func (r *AccountRepository) Create(ctx context.Context, account *ledger_entities.Account) error {
	if _, err := r.collection.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return common.Ef(common.KindConcurrency, "duplicate_id", "account %s already exists", account.ID)
		}

		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, tenantID common.TenantID, id common.AccountID) (*ledger_entities.Account, error) {
	var account ledger_entities.Account

	err := r.collection.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.Ef(common.KindNotFound, "account_not_found", "account %s not found", id)
	}

	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}

	return &account, nil
}

func (r *AccountRepository) GetByScope(ctx context.Context, tenantID common.TenantID, accountType ledger_entities.AccountType, scope ledger_entities.AccountScope) (*ledger_entities.Account, error) {
	filter := bson.M{"tenant_id": tenantID, "type": accountType}

	switch {
	case scope.OwnerID != nil:
		filter["scope.owner_id"] = *scope.OwnerID
	case scope.CustomerID != nil:
		filter["scope.customer_id"] = *scope.CustomerID
	case scope.PropertyID != nil:
		filter["scope.property_id"] = *scope.PropertyID
	}

	var account ledger_entities.Account

	err := r.collection.FindOne(ctx, filter).Decode(&account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.Ef(common.KindNotFound, "account_not_found", "no %s account for scope", accountType)
	}

	if err != nil {
		return nil, fmt.Errorf("find account by scope: %w", err)
	}

	return &account, nil
}

func (r *AccountRepository) ListByTenant(ctx context.Context, tenantID common.TenantID) ([]*ledger_entities.Account, error) {
	return r.list(ctx, bson.M{"tenant_id": tenantID})
}

func (r *AccountRepository) ListByType(ctx context.Context, tenantID common.TenantID, accountType ledger_entities.AccountType) ([]*ledger_entities.Account, error) {
	return r.list(ctx, bson.M{"tenant_id": tenantID, "type": accountType})
}

func (r *AccountRepository) list(ctx context.Context, filter bson.M) ([]*ledger_entities.Account, error) {
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var accounts []*ledger_entities.Account

	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}

	return accounts, nil
}

// UpdateBalance applies one optimistic write; a version mismatch comes back
// as (false, nil) so the caller can retry the whole journal.
func (r *AccountRepository) UpdateBalance(ctx context.Context, update ledger_out.BalanceUpdate) (bool, error) {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{
			"_id":       update.AccountID,
			"tenant_id": update.TenantID,
			"version":   update.ExpectedVersion,
		},
		bson.M{
			"$set": bson.M{
				"balance_minor": update.NewBalanceMinor,
				"last_entry_id": update.LastEntryID,
				"entry_count":   update.NewEntryCount,
				"updated_at":    time.Now().UTC(),
			},
			"$inc": bson.M{"version": 1},
		})
	if err != nil {
		return false, fmt.Errorf("update balance: %w", err)
	}

	return result.ModifiedCount == 1, nil
}

func (r *AccountRepository) UpdateStatus(ctx context.Context, tenantID common.TenantID, id common.AccountID, status ledger_entities.AccountStatus) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "tenant_id": tenantID},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}

	if result.MatchedCount == 0 {
		return common.Ef(common.KindNotFound, "account_not_found", "account %s not found", id)
	}

	return nil
}
