package ledger_out

import (
	"context"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
)

// Page is a limit/offset window over an account's entries.
type Page struct {
	Limit  int
	Offset int
}

// BalanceUpdate is the optimistic write applied to one account when a
// journal commits. ExpectedVersion must match the stored version or the
// whole journal write fails with a concurrency error.
type BalanceUpdate struct {
	AccountID       common.AccountID
	TenantID        common.TenantID
	NewBalanceMinor int64
	LastEntryID     common.LedgerEntryID
	NewEntryCount   int64
	ExpectedVersion int64
}

// AccountRepository persists ledger accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *ledger_entities.Account) error
	GetByID(ctx context.Context, tenantID common.TenantID, id common.AccountID) (*ledger_entities.Account, error)
	// GetByScope finds the single account of a type scoped to an owner or
	// customer, e.g. the owner_operating account for one owner.
	GetByScope(ctx context.Context, tenantID common.TenantID, accountType ledger_entities.AccountType, scope ledger_entities.AccountScope) (*ledger_entities.Account, error)
	ListByTenant(ctx context.Context, tenantID common.TenantID) ([]*ledger_entities.Account, error)
	ListByType(ctx context.Context, tenantID common.TenantID, accountType ledger_entities.AccountType) ([]*ledger_entities.Account, error)
	// UpdateBalance applies one optimistic balance write. Returns false
	// (and no error) when the stored version does not match.
	UpdateBalance(ctx context.Context, update BalanceUpdate) (bool, error)
	UpdateStatus(ctx context.Context, tenantID common.TenantID, id common.AccountID, status ledger_entities.AccountStatus) error
}

// LedgerRepository persists immutable entries. PostJournal is the only write
// path for entries and must be atomic: all entries and all balance updates
// commit, or none do.
type LedgerRepository interface {
	// PostJournal atomically appends the journal's entries and applies the
	// balance updates. A version mismatch on any account fails the whole
	// write with a concurrency-kind error and persists nothing.
	PostJournal(ctx context.Context, entries []*ledger_entities.LedgerEntry, updates []BalanceUpdate) error

	GetEntry(ctx context.Context, tenantID common.TenantID, id common.LedgerEntryID) (*ledger_entities.LedgerEntry, error)
	GetJournal(ctx context.Context, tenantID common.TenantID, id common.JournalID) ([]*ledger_entities.LedgerEntry, error)

	// FindByAccount returns entries ordered by sequence number ascending.
	FindByAccount(ctx context.Context, tenantID common.TenantID, accountID common.AccountID, page Page) ([]*ledger_entities.LedgerEntry, int64, error)
	// FindByAccountAndPeriod returns entries with effective date in
	// [from, to], ordered by sequence number ascending.
	FindByAccountAndPeriod(ctx context.Context, tenantID common.TenantID, accountID common.AccountID, from, to time.Time) ([]*ledger_entities.LedgerEntry, error)

	// GetNextSequence allocates the next gapless sequence number for the
	// account. Callers re-allocate on optimistic retry.
	GetNextSequence(ctx context.Context, tenantID common.TenantID, accountID common.AccountID) (int64, error)
	// ListSequenceNumbers returns every stored sequence number for the
	// account, unordered. Used by integrity verification.
	ListSequenceNumbers(ctx context.Context, tenantID common.TenantID, accountID common.AccountID) ([]int64, error)

	// SumDirectional recomputes the balance from entries: Σ debit − Σ credit
	// in minor units, optionally bounded by effective date (nil = all).
	SumDirectional(ctx context.Context, tenantID common.TenantID, accountID common.AccountID, until *time.Time) (int64, error)
}
