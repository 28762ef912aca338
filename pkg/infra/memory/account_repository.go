package memory

import (
	"context"
	"sync"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	ledger_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/ports/out"
)

// AccountRepository is the in-memory account store. It enforces the same
// optimistic-version semantics as the production store so concurrency tests
// exercise the real retry path.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[common.AccountID]*ledger_entities.Account
}

// NewAccountRepository creates an empty store.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{accounts: make(map[common.AccountID]*ledger_entities.Account)}
}

func (r *AccountRepository) Create(_ context.Context, account *ledger_entities.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[account.ID]; exists {
		return common.Ef(common.KindValidation, "duplicate_account", "account %s already exists", account.ID)
	}

	cp := *account
	r.accounts[account.ID] = &cp

	return nil
}

func (r *AccountRepository) GetByID(_ context.Context, tenantID common.TenantID, id common.AccountID) (*ledger_entities.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok || account.TenantID != tenantID {
		return nil, nil
	}

	cp := *account

	return &cp, nil
}

func (r *AccountRepository) GetByScope(_ context.Context, tenantID common.TenantID, accountType ledger_entities.AccountType, scope ledger_entities.AccountScope) (*ledger_entities.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if account.TenantID != tenantID || account.Type != accountType {
			continue
		}

		if !scopeMatches(account.Scope, scope) {
			continue
		}

		cp := *account

		return &cp, nil
	}

	return nil, nil
}

func scopeMatches(have, want ledger_entities.AccountScope) bool {
	if want.CustomerID != nil && (have.CustomerID == nil || *have.CustomerID != *want.CustomerID) {
		return false
	}

	if want.OwnerID != nil && (have.OwnerID == nil || *have.OwnerID != *want.OwnerID) {
		return false
	}

	if want.PropertyID != nil && (have.PropertyID == nil || *have.PropertyID != *want.PropertyID) {
		return false
	}

	return true
}

func (r *AccountRepository) ListByTenant(_ context.Context, tenantID common.TenantID) ([]*ledger_entities.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*ledger_entities.Account{}

	for _, account := range r.accounts {
		if account.TenantID == tenantID {
			cp := *account
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (r *AccountRepository) ListByType(_ context.Context, tenantID common.TenantID, accountType ledger_entities.AccountType) ([]*ledger_entities.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*ledger_entities.Account{}

	for _, account := range r.accounts {
		if account.TenantID == tenantID && account.Type == accountType {
			cp := *account
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (r *AccountRepository) UpdateBalance(_ context.Context, update ledger_out.BalanceUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.applyBalanceLocked(update), nil
}

// applyBalanceLocked applies one optimistic write; callers hold r.mu.
func (r *AccountRepository) applyBalanceLocked(update ledger_out.BalanceUpdate) bool {
	account, ok := r.accounts[update.AccountID]
	if !ok || account.TenantID != update.TenantID {
		return false
	}

	if account.Version != update.ExpectedVersion {
		return false
	}

	lastEntry := update.LastEntryID
	account.BalanceMinor = update.NewBalanceMinor
	account.LastEntryID = &lastEntry
	account.EntryCount = update.NewEntryCount
	account.Version++
	account.UpdatedAt = time.Now().UTC()

	return true
}

// ApplyBalanceUpdates applies a journal's balance writes as one unit:
// every expected version must match or nothing is applied.
func (r *AccountRepository) ApplyBalanceUpdates(updates []ledger_out.BalanceUpdate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range updates {
		account, ok := r.accounts[u.AccountID]
		if !ok || account.TenantID != u.TenantID || account.Version != u.ExpectedVersion {
			return false
		}
	}

	for _, u := range updates {
		r.applyBalanceLocked(u)
	}

	return true
}

func (r *AccountRepository) UpdateStatus(_ context.Context, tenantID common.TenantID, id common.AccountID, status ledger_entities.AccountStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok || account.TenantID != tenantID {
		return common.Ef(common.KindNotFound, "account_not_found", "account %s not found", id)
	}

	account.Status = status
	account.UpdatedAt = time.Now().UTC()

	return nil
}
