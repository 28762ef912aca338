package ledger_services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
	"github.com/nyumbani-pay/nyumbani-pay/pkg/infra/memory"
)

const testTenant = common.TenantID("tn_test")

type capturePublisher struct {
	mu     sync.Mutex
	events []common.DomainEvent
}

func (p *capturePublisher) Publish(_ context.Context, events ...common.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *capturePublisher) ofType(eventType string) []common.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := []common.DomainEvent{}
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type ledgerFixture struct {
	accounts  *memory.AccountRepository
	entries   *memory.LedgerRepository
	publisher *capturePublisher
	service   *LedgerService
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	accounts := memory.NewAccountRepository()
	entries := memory.NewLedgerRepository(accounts)
	publisher := &capturePublisher{}

	return &ledgerFixture{
		accounts:  accounts,
		entries:   entries,
		publisher: publisher,
		service:   NewLedgerService(accounts, entries, publisher),
	}
}

func (f *ledgerFixture) createAccount(t *testing.T, accountType ledger_entities.AccountType, name string) *ledger_entities.Account {
	t.Helper()

	account := ledger_entities.NewAccount(testTenant, accountType, name, shared_vo.KES, ledger_entities.AccountScope{})
	require.NoError(t, f.accounts.Create(context.Background(), account))

	return account
}

func debit(accountID common.AccountID, minor int64, entryType ledger_entities.LedgerEntryType) JournalLine {
	return JournalLine{
		AccountID: accountID,
		Direction: ledger_entities.DirectionDebit,
		Amount:    shared_vo.NewMoney(minor, shared_vo.KES),
		Type:      entryType,
	}
}

func credit(accountID common.AccountID, minor int64, entryType ledger_entities.LedgerEntryType) JournalLine {
	return JournalLine{
		AccountID: accountID,
		Direction: ledger_entities.DirectionCredit,
		Amount:    shared_vo.NewMoney(minor, shared_vo.KES),
		Type:      entryType,
	}
}

func TestPostJournal_BalancedHappyPath(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	custLiab := f.createAccount(t, ledger_entities.AccountTypeCustomerLiability, "cust_liab")
	holding := f.createAccount(t, ledger_entities.AccountTypePlatformHolding, "plat_holding")
	revenue := f.createAccount(t, ledger_entities.AccountTypePlatformRevenue, "plat_revenue")

	result, err := f.service.PostJournal(ctx, JournalRequest{
		TenantID:  testTenant,
		CreatedBy: "test",
		Lines: []JournalLine{
			debit(custLiab.ID, 100000, ledger_entities.EntryTypeRentPayment),
			credit(holding.ID, 95000, ledger_entities.EntryTypeRentPayment),
			credit(revenue.ID, 5000, ledger_entities.EntryTypePlatformFee),
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 3)

	for _, entry := range result.Entries {
		assert.Equal(t, int64(1), entry.SequenceNumber, "each account starts at sequence 1")
		assert.Equal(t, result.JournalID, entry.JournalID)
	}

	wantBalances := map[common.AccountID]int64{
		custLiab.ID: 100000,
		holding.ID:  -95000,
		revenue.ID:  -5000,
	}

	for accountID, want := range wantBalances {
		balance, err := f.service.Balance(ctx, testTenant, accountID)
		require.NoError(t, err)
		assert.Equal(t, want, balance.AmountMinor, "balance of %s", accountID)
	}

	assert.Len(t, f.publisher.ofType(common.EventLedgerEntriesCreated), 1)
	assert.Len(t, f.publisher.ofType(common.EventAccountBalanceUpdated), 3)
}

func TestPostJournal_UnbalancedRejected(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	custLiab := f.createAccount(t, ledger_entities.AccountTypeCustomerLiability, "cust_liab")
	holding := f.createAccount(t, ledger_entities.AccountTypePlatformHolding, "plat_holding")

	_, err := f.service.PostJournal(ctx, JournalRequest{
		TenantID: testTenant,
		Lines: []JournalLine{
			debit(custLiab.ID, 100000, ledger_entities.EntryTypeRentPayment),
			credit(holding.ID, 95000, ledger_entities.EntryTypeRentPayment),
		},
	})
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
	assert.Equal(t, "unbalanced_journal", common.CodeOf(err))

	// nothing persisted, no events
	balance, err := f.service.Balance(ctx, testTenant, custLiab.ID)
	require.NoError(t, err)
	assert.Zero(t, balance.AmountMinor)
	assert.Empty(t, f.publisher.events)
}

func TestPostJournal_EmptyJournalRejected(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.service.PostJournal(context.Background(), JournalRequest{TenantID: testTenant})
	assert.Equal(t, "empty_journal", common.CodeOf(err))
}

func TestPostJournal_InactiveAccountRejected(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	a := f.createAccount(t, ledger_entities.AccountTypeCustomerLiability, "a")
	b := f.createAccount(t, ledger_entities.AccountTypePlatformHolding, "b")
	require.NoError(t, f.accounts.UpdateStatus(ctx, testTenant, b.ID, ledger_entities.AccountStatusSuspended))

	_, err := f.service.PostJournal(ctx, JournalRequest{
		TenantID: testTenant,
		Lines: []JournalLine{
			debit(a.ID, 1000, ledger_entities.EntryTypeAdjustment),
			credit(b.ID, 1000, ledger_entities.EntryTypeAdjustment),
		},
	})
	assert.Equal(t, "account_inactive", common.CodeOf(err))
}

func TestPostJournal_CurrencyMismatchRejected(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	a := f.createAccount(t, ledger_entities.AccountTypeCustomerLiability, "a")
	b := f.createAccount(t, ledger_entities.AccountTypePlatformHolding, "b")

	_, err := f.service.PostJournal(ctx, JournalRequest{
		TenantID: testTenant,
		Lines: []JournalLine{
			{AccountID: a.ID, Direction: ledger_entities.DirectionDebit, Amount: shared_vo.NewMoney(1000, shared_vo.USD), Type: ledger_entities.EntryTypeAdjustment},
			{AccountID: b.ID, Direction: ledger_entities.DirectionCredit, Amount: shared_vo.NewMoney(1000, shared_vo.USD), Type: ledger_entities.EntryTypeAdjustment},
		},
	})
	assert.Equal(t, "currency_mismatch", common.CodeOf(err))
}

func TestVoid_RestoresBalances(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	a := f.createAccount(t, ledger_entities.AccountTypeCustomerLiability, "a")
	b := f.createAccount(t, ledger_entities.AccountTypePlatformHolding, "b")

	result, err := f.service.PostJournal(ctx, JournalRequest{
		TenantID: testTenant,
		Lines: []JournalLine{
			debit(a.ID, 45000, ledger_entities.EntryTypeRentPayment),
			credit(b.ID, 45000, ledger_entities.EntryTypeRentPayment),
		},
	})
	require.NoError(t, err)

	// void every entry of the journal: balances return to zero
	for _, entry := range result.Entries {
		_, err := f.service.VoidEntry(ctx, testTenant, entry.ID, "test void")
		require.NoError(t, err)
	}

	for _, accountID := range []common.AccountID{a.ID, b.ID} {
		balance, err := f.service.Balance(ctx, testTenant, accountID)
		require.NoError(t, err)
		assert.Zero(t, balance.AmountMinor, "account %s should return to zero", accountID)
	}
}

func TestCorrection_SameAmountIsBalanceIdempotent(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	a := f.createAccount(t, ledger_entities.AccountTypeCustomerLiability, "a")
	b := f.createAccount(t, ledger_entities.AccountTypePlatformHolding, "b")

	result, err := f.service.PostJournal(ctx, JournalRequest{
		TenantID: testTenant,
		Lines: []JournalLine{
			debit(a.ID, 30000, ledger_entities.EntryTypeRentPayment),
			credit(b.ID, 30000, ledger_entities.EntryTypeRentPayment),
		},
	})
	require.NoError(t, err)

	before, err := f.service.Balance(ctx, testTenant, a.ID)
	require.NoError(t, err)

	correction, err := f.service.PostCorrection(ctx, testTenant, result.Entries[0].ID,
		shared_vo.NewMoney(30000, shared_vo.KES), "same amount")
	require.NoError(t, err)
	require.Len(t, correction.Entries, 2)

	after, err := f.service.Balance(ctx, testTenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, before.AmountMinor, after.AmountMinor)

	for _, entry := range correction.Entries {
		require.NotNil(t, entry.CorrectionOf)
		assert.Equal(t, result.Entries[0].ID, *entry.CorrectionOf)
	}
}

func TestCorrection_AdjustsBalanceByDifference(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	a := f.createAccount(t, ledger_entities.AccountTypeCustomerLiability, "a")
	b := f.createAccount(t, ledger_entities.AccountTypePlatformHolding, "b")

	result, err := f.service.PostJournal(ctx, JournalRequest{
		TenantID: testTenant,
		Lines: []JournalLine{
			debit(a.ID, 50000, ledger_entities.EntryTypeRentPayment),
			credit(b.ID, 50000, ledger_entities.EntryTypeRentPayment),
		},
	})
	require.NoError(t, err)

	_, err = f.service.PostCorrection(ctx, testTenant, result.Entries[0].ID,
		shared_vo.NewMoney(45000, shared_vo.KES), "overstated rent")
	require.NoError(t, err)

	balance, err := f.service.Balance(ctx, testTenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(45000), balance.AmountMinor)
}

func TestVerifySequence_DetectsGap(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	a := f.createAccount(t, ledger_entities.AccountTypeCustomerLiability, "a")
	b := f.createAccount(t, ledger_entities.AccountTypePlatformHolding, "b")

	_, err := f.service.PostJournal(ctx, JournalRequest{
		TenantID: testTenant,
		Lines: []JournalLine{
			debit(a.ID, 1000, ledger_entities.EntryTypeAdjustment),
			credit(b.ID, 1000, ledger_entities.EntryTypeAdjustment),
		},
	})
	require.NoError(t, err)

	// fabricate sequence 3 on account a, omitting 2
	f.entries.InjectEntry(&ledger_entities.LedgerEntry{
		ID:             common.NewLedgerEntryID(),
		TenantID:       testTenant,
		AccountID:      a.ID,
		JournalID:      common.NewJournalID(),
		Type:           ledger_entities.EntryTypeAdjustment,
		Direction:      ledger_entities.DirectionDebit,
		Amount:         shared_vo.NewMoney(500, shared_vo.KES),
		BalanceAfter:   shared_vo.NewMoney(1500, shared_vo.KES),
		SequenceNumber: 3,
		EffectiveDate:  time.Now().UTC(),
		PostedAt:       time.Now().UTC(),
	})

	report, err := f.service.VerifySequence(ctx, testTenant, a.ID)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, []int64{2}, report.Gaps)
	assert.Empty(t, report.Duplicates)
}

func TestVerifyAccountBalance_DetectsDrift(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	a := f.createAccount(t, ledger_entities.AccountTypeCustomerLiability, "a")
	b := f.createAccount(t, ledger_entities.AccountTypePlatformHolding, "b")

	_, err := f.service.PostJournal(ctx, JournalRequest{
		TenantID: testTenant,
		Lines: []JournalLine{
			debit(a.ID, 20000, ledger_entities.EntryTypeRentPayment),
			credit(b.ID, 20000, ledger_entities.EntryTypeRentPayment),
		},
	})
	require.NoError(t, err)

	report, err := f.service.VerifyAccountBalance(ctx, testTenant, a.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid)

	// inject a raw entry without the balance write: materialised drifts
	f.entries.InjectEntry(&ledger_entities.LedgerEntry{
		ID:             common.NewLedgerEntryID(),
		TenantID:       testTenant,
		AccountID:      a.ID,
		JournalID:      common.NewJournalID(),
		Type:           ledger_entities.EntryTypeAdjustment,
		Direction:      ledger_entities.DirectionDebit,
		Amount:         shared_vo.NewMoney(777, shared_vo.KES),
		BalanceAfter:   shared_vo.NewMoney(20777, shared_vo.KES),
		SequenceNumber: 2,
		EffectiveDate:  time.Now().UTC(),
		PostedAt:       time.Now().UTC(),
	})

	report, err = f.service.VerifyAccountBalance(ctx, testTenant, a.ID)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, int64(-777), report.DiscrepancyMinor)
}

func TestStatement_PeriodView(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	a := f.createAccount(t, ledger_entities.AccountTypeOwnerOperating, "owner_op")
	b := f.createAccount(t, ledger_entities.AccountTypePlatformHolding, "holding")

	january := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	february := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	// opening balance of 10000 established in January
	_, err := f.service.PostJournal(ctx, JournalRequest{
		TenantID:      testTenant,
		EffectiveDate: january,
		Lines: []JournalLine{
			debit(a.ID, 10000, ledger_entities.EntryTypeOpeningBalance),
			credit(b.ID, 10000, ledger_entities.EntryTypeOpeningBalance),
		},
	})
	require.NoError(t, err)

	// February activity
	for _, line := range [][2]JournalLine{
		{debit(a.ID, 45000, ledger_entities.EntryTypeRentPayment), credit(b.ID, 45000, ledger_entities.EntryTypeRentPayment)},
		{credit(a.ID, 5000, ledger_entities.EntryTypePlatformFee), debit(b.ID, 5000, ledger_entities.EntryTypePlatformFee)},
		{debit(a.ID, 45000, ledger_entities.EntryTypeRentPayment), credit(b.ID, 45000, ledger_entities.EntryTypeRentPayment)},
		{credit(a.ID, 90000, ledger_entities.EntryTypeDisbursement), debit(b.ID, 90000, ledger_entities.EntryTypeDisbursement)},
	} {
		_, err := f.service.PostJournal(ctx, JournalRequest{
			TenantID:      testTenant,
			EffectiveDate: february,
			Lines:         []JournalLine{line[0], line[1]},
		})
		require.NoError(t, err)
	}

	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 28, 23, 59, 59, 999000000, time.UTC)

	view, err := f.service.Statement(ctx, testTenant, a.ID, from, to)
	require.NoError(t, err)

	assert.Equal(t, int64(10000), view.OpeningBalance.AmountMinor)
	assert.Equal(t, int64(90000), view.TotalDebits.AmountMinor)
	assert.Equal(t, int64(95000), view.TotalCredits.AmountMinor)
	assert.Equal(t, int64(5000), view.ClosingBalance.AmountMinor)
	assert.Len(t, view.Entries, 4)
}

func TestPostJournal_ConcurrentWriters_OneRetries(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	a := f.createAccount(t, ledger_entities.AccountTypeCustomerLiability, "a")
	b := f.createAccount(t, ledger_entities.AccountTypePlatformHolding, "b")

	var wg sync.WaitGroup
	errs := make([]error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.PostJournal(ctx, JournalRequest{
				TenantID: testTenant,
				Lines: []JournalLine{
					debit(a.ID, 100, ledger_entities.EntryTypeAdjustment),
					credit(b.ID, 100, ledger_entities.EntryTypeAdjustment),
				},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.Equal(t, common.KindConcurrency, common.KindOf(err))
		}
	}
	require.Positive(t, succeeded)

	balance, err := f.service.Balance(ctx, testTenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(succeeded*100), balance.AmountMinor)

	report, err := f.service.VerifySequence(ctx, testTenant, a.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid, "gaps=%v dups=%v", report.Gaps, report.Duplicates)
}
