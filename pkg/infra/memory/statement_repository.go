package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	statement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/entities"
)

// StatementRepository is the in-memory StatementRepository.
type StatementRepository struct {
	mu   sync.RWMutex
	byID map[common.StatementID]*statement_entities.Statement
}

func NewStatementRepository() *StatementRepository {
	return &StatementRepository{byID: make(map[common.StatementID]*statement_entities.Statement)}
}

func copyStatement(in *statement_entities.Statement) *statement_entities.Statement {
	out := *in
	out.LineItems = append([]statement_entities.LineItem(nil), in.LineItems...)
	out.CategorySummaries = append([]statement_entities.CategorySummary(nil), in.CategorySummaries...)

	if in.SentAt != nil {
		t := *in.SentAt
		out.SentAt = &t
	}

	if in.ViewedAt != nil {
		t := *in.ViewedAt
		out.ViewedAt = &t
	}

	return &out
}

func (r *StatementRepository) Create(_ context.Context, statement *statement_entities.Statement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[statement.ID]; ok {
		return common.Ef(common.KindConcurrency, "duplicate_id", "statement %s already exists", statement.ID)
	}

	for _, existing := range r.byID {
		if existing.TenantID == statement.TenantID &&
			existing.AccountID == statement.AccountID &&
			existing.Type == statement.Type &&
			existing.PeriodStart.Equal(statement.PeriodStart) &&
			existing.PeriodEnd.Equal(statement.PeriodEnd) {
			return common.Ef(common.KindState, "duplicate_statement",
				"statement %s already covers this period", existing.ID)
		}
	}

	r.byID[statement.ID] = copyStatement(statement)

	return nil
}

func (r *StatementRepository) Update(_ context.Context, statement *statement_entities.Statement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[statement.ID]; !ok {
		return common.Ef(common.KindNotFound, "statement_not_found", "statement %s not found", statement.ID)
	}

	r.byID[statement.ID] = copyStatement(statement)

	return nil
}

func (r *StatementRepository) GetByID(_ context.Context, tenantID common.TenantID, id common.StatementID) (*statement_entities.Statement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statement, ok := r.byID[id]
	if !ok || statement.TenantID != tenantID {
		return nil, nil
	}

	return copyStatement(statement), nil
}

func (r *StatementRepository) FindByPeriod(_ context.Context, tenantID common.TenantID, accountID common.AccountID, statementType statement_entities.StatementType, periodStart, periodEnd time.Time) (*statement_entities.Statement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, statement := range r.byID {
		if statement.TenantID == tenantID &&
			statement.AccountID == accountID &&
			statement.Type == statementType &&
			statement.PeriodStart.Equal(periodStart) &&
			statement.PeriodEnd.Equal(periodEnd) {
			return copyStatement(statement), nil
		}
	}

	return nil, nil
}

func (r *StatementRepository) ListByAccount(_ context.Context, tenantID common.TenantID, accountID common.AccountID) ([]*statement_entities.Statement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*statement_entities.Statement

	for _, statement := range r.byID {
		if statement.TenantID == tenantID && statement.AccountID == accountID {
			out = append(out, copyStatement(statement))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.Before(out[j].PeriodStart)
		}

		return out[i].ID < out[j].ID
	})

	return out, nil
}
