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

// LedgerRepository is the Mongo implementation of the entry port. PostJournal
// runs in a multi-document transaction so entries and balance updates commit
// together; requires a replica set.
type LedgerRepository struct {
	db       *mongo.Database
	entries  *mongo.Collection
	accounts *AccountRepository
}

var _ ledger_out.LedgerRepository = (*LedgerRepository)(nil)

func NewLedgerRepository(db *mongo.Database, accounts *AccountRepository) *LedgerRepository {
	return &LedgerRepository{
		db:       db,
		entries:  db.Collection(entriesCollection),
		accounts: accounts,
	}
}

func (r *LedgerRepository) PostJournal(ctx context.Context, entries []*ledger_entities.LedgerEntry, updates []ledger_out.BalanceUpdate) error {
	session, err := r.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		for _, update := range updates {
			applied, err := r.accounts.UpdateBalance(sc, update)
			if err != nil {
				return nil, err
			}

			if !applied {
				return nil, common.Ef(common.KindConcurrency, "version_mismatch",
					"account %s version %d is stale", update.AccountID, update.ExpectedVersion)
			}
		}

		docs := make([]any, len(entries))
		for i, entry := range entries {
			docs[i] = entry
		}

		if _, err := r.entries.InsertMany(sc, docs); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, common.E(common.KindConcurrency, "sequence_conflict",
					"sequence number already taken")
			}

			return nil, fmt.Errorf("insert entries: %w", err)
		}

		return nil, nil
	})
	if err != nil {
		return err
	}

	return nil
}

func (r *LedgerRepository) GetEntry(ctx context.Context, tenantID common.TenantID, id common.LedgerEntryID) (*ledger_entities.LedgerEntry, error) {
	var entry ledger_entities.LedgerEntry

	err := r.entries.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.Ef(common.KindNotFound, "entry_not_found", "ledger entry %s not found", id)
	}

	if err != nil {
		return nil, fmt.Errorf("find entry: %w", err)
	}

	return &entry, nil
}

func (r *LedgerRepository) GetJournal(ctx context.Context, tenantID common.TenantID, id common.JournalID) ([]*ledger_entities.LedgerEntry, error) {
	entries, err := r.find(ctx, bson.M{"tenant_id": tenantID, "journal_id": id},
		options.Find().SetSort(bson.D{{Key: "sequence_number", Value: 1}}))
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, common.Ef(common.KindNotFound, "journal_not_found", "journal %s not found", id)
	}

	return entries, nil
}

func (r *LedgerRepository) FindByAccount(ctx context.Context, tenantID common.TenantID, accountID common.AccountID, page ledger_out.Page) ([]*ledger_entities.LedgerEntry, int64, error) {
	filter := bson.M{"tenant_id": tenantID, "account_id": accountID}

	total, err := r.entries.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "sequence_number", Value: 1}})

	if page.Offset > 0 {
		opts.SetSkip(int64(page.Offset))
	}

	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}

	entries, err := r.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

func (r *LedgerRepository) FindByAccountAndPeriod(ctx context.Context, tenantID common.TenantID, accountID common.AccountID, from, to time.Time) ([]*ledger_entities.LedgerEntry, error) {
	return r.find(ctx, bson.M{
		"tenant_id":      tenantID,
		"account_id":     accountID,
		"effective_date": bson.M{"$gte": from, "$lte": to},
	}, options.Find().SetSort(bson.D{{Key: "sequence_number", Value: 1}}))
}

func (r *LedgerRepository) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]*ledger_entities.LedgerEntry, error) {
	cursor, err := r.entries.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}

	var entries []*ledger_entities.LedgerEntry

	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}

	return entries, nil
}

// GetNextSequence reads the highest stored sequence and returns the next
// one. The unique (tenant, account, sequence) index catches racing
// allocations; callers re-allocate on conflict.
func (r *LedgerRepository) GetNextSequence(ctx context.Context, tenantID common.TenantID, accountID common.AccountID) (int64, error) {
	var last ledger_entities.LedgerEntry

	err := r.entries.FindOne(ctx,
		bson.M{"tenant_id": tenantID, "account_id": accountID},
		options.FindOne().SetSort(bson.D{{Key: "sequence_number", Value: -1}}),
	).Decode(&last)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return 1, nil
	}

	if err != nil {
		return 0, fmt.Errorf("find last sequence: %w", err)
	}

	return last.SequenceNumber + 1, nil
}

func (r *LedgerRepository) ListSequenceNumbers(ctx context.Context, tenantID common.TenantID, accountID common.AccountID) ([]int64, error) {
	cursor, err := r.entries.Find(ctx,
		bson.M{"tenant_id": tenantID, "account_id": accountID},
		options.Find().SetProjection(bson.M{"sequence_number": 1}))
	if err != nil {
		return nil, fmt.Errorf("list sequence numbers: %w", err)
	}

	var docs []struct {
		SequenceNumber int64 `bson:"sequence_number"`
	}

	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode sequence numbers: %w", err)
	}

	out := make([]int64, len(docs))
	for i, doc := range docs {
		out[i] = doc.SequenceNumber
	}

	return out, nil
}

func (r *LedgerRepository) SumDirectional(ctx context.Context, tenantID common.TenantID, accountID common.AccountID, until *time.Time) (int64, error) {
	match := bson.M{"tenant_id": tenantID, "account_id": accountID}

	if until != nil {
		match["effective_date"] = bson.M{"$lte": *until}
	}

	// Signed sum in one aggregation: debits count positive, credits negative.
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id": nil,
			"total": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$direction", ledger_entities.DirectionDebit}},
				"$amount.amount_minor",
				bson.M{"$multiply": bson.A{"$amount.amount_minor", -1}},
			}}},
		}}},
	}

	cursor, err := r.entries.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("sum entries: %w", err)
	}

	var results []struct {
		Total int64 `bson:"total"`
	}

	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("decode sum: %w", err)
	}

	if len(results) == 0 {
		return 0, nil
	}

	return results[0].Total, nil
}
