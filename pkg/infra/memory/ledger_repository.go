package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	ledger_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/ports/out"
)

// LedgerRepository is the in-memory entry store. PostJournal is atomic with
// respect to the paired account repository: either all balance updates apply
// and all entries append, or nothing changes.
type LedgerRepository struct {
	mu       sync.RWMutex
	accounts *AccountRepository
	entries  []*ledger_entities.LedgerEntry
	byID     map[common.LedgerEntryID]*ledger_entities.LedgerEntry
}

// NewLedgerRepository pairs the entry store with its account store.
func NewLedgerRepository(accounts *AccountRepository) *LedgerRepository {
	return &LedgerRepository{
		accounts: accounts,
		byID:     make(map[common.LedgerEntryID]*ledger_entities.LedgerEntry),
	}
}

func (r *LedgerRepository) PostJournal(_ context.Context, entries []*ledger_entities.LedgerEntry, updates []ledger_out.BalanceUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.accounts.ApplyBalanceUpdates(updates) {
		return common.E(common.KindConcurrency, "concurrency_conflict", "account version changed under the journal")
	}

	for _, entry := range entries {
		cp := *entry
		r.entries = append(r.entries, &cp)
		r.byID[entry.ID] = &cp
	}

	return nil
}

func (r *LedgerRepository) GetEntry(_ context.Context, tenantID common.TenantID, id common.LedgerEntryID) (*ledger_entities.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byID[id]
	if !ok || entry.TenantID != tenantID {
		return nil, nil
	}

	cp := *entry

	return &cp, nil
}

func (r *LedgerRepository) GetJournal(_ context.Context, tenantID common.TenantID, id common.JournalID) ([]*ledger_entities.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*ledger_entities.LedgerEntry{}

	for _, entry := range r.entries {
		if entry.TenantID == tenantID && entry.JournalID == id {
			cp := *entry
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (r *LedgerRepository) accountEntriesLocked(tenantID common.TenantID, accountID common.AccountID) []*ledger_entities.LedgerEntry {
	out := []*ledger_entities.LedgerEntry{}

	for _, entry := range r.entries {
		if entry.TenantID == tenantID && entry.AccountID == accountID {
			out = append(out, entry)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })

	return out
}

func (r *LedgerRepository) FindByAccount(_ context.Context, tenantID common.TenantID, accountID common.AccountID, page ledger_out.Page) ([]*ledger_entities.LedgerEntry, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.accountEntriesLocked(tenantID, accountID)
	total := int64(len(all))

	start := page.Offset
	if start > len(all) {
		start = len(all)
	}

	end := len(all)
	if page.Limit > 0 && start+page.Limit < end {
		end = start + page.Limit
	}

	out := make([]*ledger_entities.LedgerEntry, 0, end-start)
	for _, entry := range all[start:end] {
		cp := *entry
		out = append(out, &cp)
	}

	return out, total, nil
}

func (r *LedgerRepository) FindByAccountAndPeriod(_ context.Context, tenantID common.TenantID, accountID common.AccountID, from, to time.Time) ([]*ledger_entities.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*ledger_entities.LedgerEntry{}

	for _, entry := range r.accountEntriesLocked(tenantID, accountID) {
		if entry.EffectiveDate.Before(from) || entry.EffectiveDate.After(to) {
			continue
		}

		cp := *entry
		out = append(out, &cp)
	}

	return out, nil
}

func (r *LedgerRepository) GetNextSequence(_ context.Context, tenantID common.TenantID, accountID common.AccountID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var max int64

	for _, entry := range r.entries {
		if entry.TenantID == tenantID && entry.AccountID == accountID && entry.SequenceNumber > max {
			max = entry.SequenceNumber
		}
	}

	return max + 1, nil
}

func (r *LedgerRepository) ListSequenceNumbers(_ context.Context, tenantID common.TenantID, accountID common.AccountID) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []int64{}

	for _, entry := range r.entries {
		if entry.TenantID == tenantID && entry.AccountID == accountID {
			out = append(out, entry.SequenceNumber)
		}
	}

	return out, nil
}

func (r *LedgerRepository) SumDirectional(_ context.Context, tenantID common.TenantID, accountID common.AccountID, until *time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sum int64

	for _, entry := range r.entries {
		if entry.TenantID != tenantID || entry.AccountID != accountID {
			continue
		}

		if until != nil && entry.EffectiveDate.After(*until) {
			continue
		}

		sum += entry.SignedMinor()
	}

	return sum, nil
}

// InjectEntry appends a raw entry without touching balances. Test hook for
// integrity scenarios (fabricated sequence gaps, drifted balances).
func (r *LedgerRepository) InjectEntry(entry *ledger_entities.LedgerEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *entry
	r.entries = append(r.entries, &cp)
	r.byID[entry.ID] = &cp
}
