package statement_out

import (
	"context"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	statement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/entities"
)

// StatementRepository persists materialised statements. The (tenant,
// account, type, period_start, period_end) key is unique.
type StatementRepository interface {
	Create(ctx context.Context, statement *statement_entities.Statement) error
	Update(ctx context.Context, statement *statement_entities.Statement) error
	GetByID(ctx context.Context, tenantID common.TenantID, id common.StatementID) (*statement_entities.Statement, error)
	// FindByPeriod enforces the uniqueness invariant at generation time.
	FindByPeriod(ctx context.Context, tenantID common.TenantID, accountID common.AccountID, statementType statement_entities.StatementType, periodStart, periodEnd time.Time) (*statement_entities.Statement, error)
	ListByAccount(ctx context.Context, tenantID common.TenantID, accountID common.AccountID) ([]*statement_entities.Statement, error)
}
