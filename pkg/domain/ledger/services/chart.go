package ledger_services

import (
	"context"
	"fmt"
	"log/slog"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	ledger_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/ports/out"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// ChartService provisions the tenant's chart of accounts. Every Ensure
// method is idempotent: an existing account is returned, never duplicated.
type ChartService struct {
	accounts ledger_out.AccountRepository
}

func NewChartService(accounts ledger_out.AccountRepository) *ChartService {
	return &ChartService{accounts: accounts}
}

// TenantChart is the tenant-level half of the chart; per-customer and
// per-owner accounts are created on onboarding.
type TenantChart struct {
	Revenue *ledger_entities.Account
	Expense *ledger_entities.Account
}

// EnsureTenantChart creates the platform revenue and expense accounts for a
// tenant if they do not exist yet.
func (s *ChartService) EnsureTenantChart(ctx context.Context, tenantID common.TenantID, currency shared_vo.Currency) (*TenantChart, error) {
	revenue, err := s.ensureUnscoped(ctx, tenantID, ledger_entities.AccountTypePlatformRevenue, "Platform revenue", currency)
	if err != nil {
		return nil, err
	}

	expense, err := s.ensureUnscoped(ctx, tenantID, ledger_entities.AccountTypePlatformExpense, "Platform expense", currency)
	if err != nil {
		return nil, err
	}

	return &TenantChart{Revenue: revenue, Expense: expense}, nil
}

// EnsureCustomerAccount creates the customer's liability account if needed.
func (s *ChartService) EnsureCustomerAccount(ctx context.Context, tenantID common.TenantID, customerID common.CustomerID, currency shared_vo.Currency) (*ledger_entities.Account, error) {
	scope := ledger_entities.AccountScope{CustomerID: &customerID}

	existing, err := s.accounts.GetByScope(ctx, tenantID, ledger_entities.AccountTypeCustomerLiability, scope)
	if err == nil && existing != nil {
		return existing, nil
	}

	if err != nil && !common.IsKind(err, common.KindNotFound) {
		return nil, fmt.Errorf("look up customer account: %w", err)
	}

	account := ledger_entities.NewAccount(tenantID, ledger_entities.AccountTypeCustomerLiability,
		fmt.Sprintf("Customer %s", customerID), currency, scope)

	return s.create(ctx, account)
}

// OwnerChart is the pair of accounts tracking one owner's money: the
// holding account accumulating settled funds and the operating account
// receiving disbursements.
type OwnerChart struct {
	Holding   *ledger_entities.Account
	Operating *ledger_entities.Account
}

// EnsureOwnerChart creates the owner's holding and operating accounts if
// needed.
func (s *ChartService) EnsureOwnerChart(ctx context.Context, tenantID common.TenantID, ownerID common.OwnerID, currency shared_vo.Currency) (*OwnerChart, error) {
	scope := ledger_entities.AccountScope{OwnerID: &ownerID}

	holding, err := s.ensureScoped(ctx, tenantID, ledger_entities.AccountTypePlatformHolding,
		fmt.Sprintf("Holding for owner %s", ownerID), currency, scope)
	if err != nil {
		return nil, err
	}

	operating, err := s.ensureScoped(ctx, tenantID, ledger_entities.AccountTypeOwnerOperating,
		fmt.Sprintf("Operating for owner %s", ownerID), currency, scope)
	if err != nil {
		return nil, err
	}

	return &OwnerChart{Holding: holding, Operating: operating}, nil
}

func (s *ChartService) ensureScoped(ctx context.Context, tenantID common.TenantID, accountType ledger_entities.AccountType, name string, currency shared_vo.Currency, scope ledger_entities.AccountScope) (*ledger_entities.Account, error) {
	existing, err := s.accounts.GetByScope(ctx, tenantID, accountType, scope)
	if err == nil && existing != nil {
		return existing, nil
	}

	if err != nil && !common.IsKind(err, common.KindNotFound) {
		return nil, fmt.Errorf("look up %s account: %w", accountType, err)
	}

	return s.create(ctx, ledger_entities.NewAccount(tenantID, accountType, name, currency, scope))
}

func (s *ChartService) ensureUnscoped(ctx context.Context, tenantID common.TenantID, accountType ledger_entities.AccountType, name string, currency shared_vo.Currency) (*ledger_entities.Account, error) {
	existing, err := s.accounts.ListByType(ctx, tenantID, accountType)
	if err != nil {
		return nil, fmt.Errorf("list %s accounts: %w", accountType, err)
	}

	for _, account := range existing {
		if account.Currency == currency && account.Scope == (ledger_entities.AccountScope{}) {
			return account, nil
		}
	}

	return s.create(ctx, ledger_entities.NewAccount(tenantID, accountType, name, currency, ledger_entities.AccountScope{}))
}

func (s *ChartService) create(ctx context.Context, account *ledger_entities.Account) (*ledger_entities.Account, error) {
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("create %s account: %w", account.Type, err)
	}

	slog.InfoContext(ctx, "ledger account provisioned",
		"tenant_id", account.TenantID,
		"account_id", account.ID,
		"type", account.Type,
		"currency", account.Currency,
	)

	return account, nil
}
