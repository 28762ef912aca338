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
	statement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/entities"
	statement_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/ports/out"
)

// StatementRepository is the Mongo implementation of the statement port.
// The unique (tenant, account, type, period) index backs the duplicate
// guard.
type StatementRepository struct {
	collection *mongo.Collection
}

var _ statement_out.StatementRepository = (*StatementRepository)(nil)

func NewStatementRepository(db *mongo.Database) *StatementRepository {
	return &StatementRepository{collection: db.Collection(statementsCollection)}
}

func (r *StatementRepository) Create(ctx context.Context, statement *statement_entities.Statement) error {
	if _, err := r.collection.InsertOne(ctx, statement); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return common.Ef(common.KindState, "duplicate_statement",
				"statement for account %s and period already exists", statement.AccountID)
		}

		return fmt.Errorf("insert statement: %w", err)
	}

	return nil
}

func (r *StatementRepository) Update(ctx context.Context, statement *statement_entities.Statement) error {
	result, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": statement.ID, "tenant_id": statement.TenantID}, statement)
	if err != nil {
		return fmt.Errorf("update statement: %w", err)
	}

	if result.MatchedCount == 0 {
		return common.Ef(common.KindNotFound, "statement_not_found", "statement %s not found", statement.ID)
	}

	return nil
}

func (r *StatementRepository) GetByID(ctx context.Context, tenantID common.TenantID, id common.StatementID) (*statement_entities.Statement, error) {
	var statement statement_entities.Statement

	err := r.collection.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&statement)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.Ef(common.KindNotFound, "statement_not_found", "statement %s not found", id)
	}

	if err != nil {
		return nil, fmt.Errorf("find statement: %w", err)
	}

	return &statement, nil
}

func (r *StatementRepository) FindByPeriod(ctx context.Context, tenantID common.TenantID, accountID common.AccountID, statementType statement_entities.StatementType, periodStart, periodEnd time.Time) (*statement_entities.Statement, error) {
	var statement statement_entities.Statement

	err := r.collection.FindOne(ctx, bson.M{
		"tenant_id":    tenantID,
		"account_id":   accountID,
		"type":         statementType,
		"period_start": periodStart,
		"period_end":   periodEnd,
	}).Decode(&statement)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.E(common.KindNotFound, "statement_not_found", "no statement for period")
	}

	if err != nil {
		return nil, fmt.Errorf("find statement by period: %w", err)
	}

	return &statement, nil
}

func (r *StatementRepository) ListByAccount(ctx context.Context, tenantID common.TenantID, accountID common.AccountID) ([]*statement_entities.Statement, error) {
	cursor, err := r.collection.Find(ctx,
		bson.M{"tenant_id": tenantID, "account_id": accountID},
		options.Find().SetSort(bson.D{{Key: "period_start", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}

	var statements []*statement_entities.Statement

	if err := cursor.All(ctx, &statements); err != nil {
		return nil, fmt.Errorf("decode statements: %w", err)
	}

	return statements, nil
}
