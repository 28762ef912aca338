package reconciliation_services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	ledger_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/services"
	payment_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/entities"
	payment_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/ports/out"
	reconciliation_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/reconciliation/entities"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
	"github.com/nyumbani-pay/nyumbani-pay/pkg/infra/memory"
)

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

	var out []common.DomainEvent

	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}

	return out
}

// statusProvider implements only the calls status sync makes; everything
// else panics through the embedded nil interface.
type statusProvider struct {
	payment_out.PaymentProvider
	status *payment_out.PaymentIntentResult
	err    error
}

func (p *statusProvider) Name() string { return "stub" }

func (p *statusProvider) GetPaymentIntentStatus(context.Context, string) (*payment_out.PaymentIntentResult, error) {
	return p.status, p.err
}

type mapResolver map[string]payment_out.PaymentProvider

func (m mapResolver) ByName(name string) (payment_out.PaymentProvider, error) {
	p, ok := m[name]
	if !ok {
		return nil, common.Ef(common.KindNotFound, "unknown_provider", "no provider named %q", name)
	}

	return p, nil
}

type recordingApplier struct {
	applied []payment_out.WebhookEvent
}

func (a *recordingApplier) HandleWebhook(_ context.Context, event payment_out.WebhookEvent) error {
	a.applied = append(a.applied, event)

	return nil
}

type reconcilerFixture struct {
	reconciler *Reconciler
	accounts   *memory.AccountRepository
	entries    *memory.LedgerRepository
	intents    *memory.PaymentIntentRepository
	ledger     *ledger_services.LedgerService
	applier    *recordingApplier
	events     *capturePublisher
	provider   *statusProvider
	tenantID   common.TenantID
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	accounts := memory.NewAccountRepository()
	entries := memory.NewLedgerRepository(accounts)
	intents := memory.NewPaymentIntentRepository()
	events := &capturePublisher{}
	ledger := ledger_services.NewLedgerService(accounts, entries, common.NopPublisher{})
	applier := &recordingApplier{}
	provider := &statusProvider{}

	reconciler := NewReconciler(
		ledger,
		intents,
		mapResolver{"stub": provider},
		applier,
		NewBankMatcher(DefaultMatcherConfig()),
		events,
	)

	return &reconcilerFixture{
		reconciler: reconciler,
		accounts:   accounts,
		entries:    entries,
		intents:    intents,
		ledger:     ledger,
		applier:    applier,
		events:     events,
		provider:   provider,
		tenantID:   common.TenantID("ten_acme"),
	}
}

func (f *reconcilerFixture) newAccount(t *testing.T, name string) *ledger_entities.Account {
	t.Helper()

	account := ledger_entities.NewAccount(f.tenantID, ledger_entities.AccountTypeCustomerLiability, name, shared_vo.KES, ledger_entities.AccountScope{})
	require.NoError(t, f.accounts.Create(context.Background(), account))

	return account
}

func TestVerifyLedger_HealthyAccounts(t *testing.T) {
	f := newReconcilerFixture(t)
	debit := f.newAccount(t, "cust_liab")
	credit := f.newAccount(t, "holding")

	_, err := f.ledger.PostJournal(context.Background(), ledger_services.JournalRequest{
		TenantID: f.tenantID,
		Lines: []ledger_services.JournalLine{
			{AccountID: debit.ID, Direction: ledger_entities.DirectionDebit, Amount: shared_vo.NewMoney(10_000, shared_vo.KES), Type: ledger_entities.EntryTypeRentPayment},
			{AccountID: credit.ID, Direction: ledger_entities.DirectionCredit, Amount: shared_vo.NewMoney(10_000, shared_vo.KES), Type: ledger_entities.EntryTypeRentPayment},
		},
	})
	require.NoError(t, err)

	checks, err := f.reconciler.VerifyLedger(context.Background(), f.tenantID)
	require.NoError(t, err)
	require.Len(t, checks, 2)

	for _, check := range checks {
		assert.True(t, check.Healthy())
	}

	assert.Empty(t, f.events.ofType(common.EventReconciliationException))
}

func TestVerifyLedger_DriftEmitsException(t *testing.T) {
	f := newReconcilerFixture(t)
	account := f.newAccount(t, "cust_liab")

	// An entry written behind the balance path leaves the materialised
	// balance stale.
	f.entries.InjectEntry(&ledger_entities.LedgerEntry{
		ID:             common.NewLedgerEntryID(),
		TenantID:       f.tenantID,
		AccountID:      account.ID,
		Type:           ledger_entities.EntryTypeAdjustment,
		Direction:      ledger_entities.DirectionDebit,
		Amount:         shared_vo.NewMoney(777, shared_vo.KES),
		SequenceNumber: 1,
		EffectiveDate:  time.Now().UTC(),
		PostedAt:       time.Now().UTC(),
	})

	checks, err := f.reconciler.VerifyLedger(context.Background(), f.tenantID)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.False(t, checks[0].Healthy())
	assert.Equal(t, int64(-777), checks[0].Balance.DiscrepancyMinor)

	exceptions := f.events.ofType(common.EventReconciliationException)
	require.NotEmpty(t, exceptions)

	payload, ok := exceptions[0].Payload.(reconciliation_entities.Exception)
	require.True(t, ok)
	assert.Equal(t, "balance_drift", payload.Code)
	assert.Equal(t, reconciliation_entities.SeverityCritical, payload.Severity)
}

func staleProcessingIntent(t *testing.T, f *reconcilerFixture, id, externalID string, age time.Duration) {
	t.Helper()

	intent := &payment_entities.PaymentIntent{
		ID:             common.PaymentIntentID(id),
		TenantID:       f.tenantID,
		Status:         payment_entities.StatusProcessing,
		Amount:         shared_vo.NewMoney(50_000, shared_vo.KES),
		IdempotencyKey: id,
		ProviderName:   "stub",
		ExternalID:     externalID,
		CreatedAt:      time.Now().UTC().Add(-age),
		UpdatedAt:      time.Now().UTC().Add(-age),
	}
	require.NoError(t, f.intents.Create(context.Background(), intent))
}

func TestSyncProviderStatus_AppliesAuthoritativeStatus(t *testing.T) {
	f := newReconcilerFixture(t)
	staleProcessingIntent(t, f, "pi_stale", "ext_1", time.Hour)
	f.provider.status = &payment_out.PaymentIntentResult{
		ExternalID: "ext_1",
		Status:     payment_out.ProviderStatusSucceeded,
		ReceiptURL: "https://example.test/r/1",
	}

	synced, err := f.reconciler.SyncProviderStatus(context.Background(), f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, synced)

	require.Len(t, f.applier.applied, 1)
	assert.Equal(t, payment_out.ProviderStatusSucceeded, f.applier.applied[0].Status)
	assert.Equal(t, "ext_1", f.applier.applied[0].ExternalID)
}

func TestSyncProviderStatus_SkipsFreshAndStillPending(t *testing.T) {
	f := newReconcilerFixture(t)
	staleProcessingIntent(t, f, "pi_fresh", "ext_fresh", time.Minute)
	staleProcessingIntent(t, f, "pi_pending", "ext_pending", time.Hour)
	f.provider.status = &payment_out.PaymentIntentResult{
		ExternalID: "ext_pending",
		Status:     payment_out.ProviderStatusPending,
	}

	synced, err := f.reconciler.SyncProviderStatus(context.Background(), f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 0, synced)
	assert.Empty(t, f.applier.applied)
}

func TestReconcileBank_CleanPeriod(t *testing.T) {
	f := newReconcilerFixture(t)
	account := f.newAccount(t, "cust_liab")
	holding := f.newAccount(t, "holding")
	ctx := context.Background()

	paidAt := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)
	intent := &payment_entities.PaymentIntent{
		ID:             common.PaymentIntentID("pi_rent"),
		TenantID:       f.tenantID,
		Status:         payment_entities.StatusSucceeded,
		Amount:         shared_vo.NewMoney(45_000, shared_vo.KES),
		Description:    "Rent Acme Unit 5A",
		IdempotencyKey: "rent-feb",
		ProviderName:   "stub",
		ExternalID:     "mpesa_XYZ",
		PaidAt:         &paidAt,
	}
	require.NoError(t, f.intents.Create(ctx, intent))

	_, err := f.ledger.PostJournal(ctx, ledger_services.JournalRequest{
		TenantID:      f.tenantID,
		EffectiveDate: paidAt,
		Lines: []ledger_services.JournalLine{
			{AccountID: account.ID, Direction: ledger_entities.DirectionDebit, Amount: shared_vo.NewMoney(45_000, shared_vo.KES), Type: ledger_entities.EntryTypeRentPayment},
			{AccountID: holding.ID, Direction: ledger_entities.DirectionCredit, Amount: shared_vo.NewMoney(45_000, shared_vo.KES), Type: ledger_entities.EntryTypeRentPayment},
		},
	})
	require.NoError(t, err)

	record, err := f.reconciler.ReconcileBank(ctx, BankReconcileRequest{
		TenantID:       f.tenantID,
		AccountID:      account.ID,
		PeriodStart:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC),
		OpeningBalance: shared_vo.Zero(shared_vo.KES),
		Transactions: []reconciliation_entities.BankTransaction{
			{
				ID:        "bt_1",
				Date:      paidAt,
				Amount:    shared_vo.NewMoney(45_000, shared_vo.KES),
				Direction: reconciliation_entities.BankCredit,
				Reference: "mpesa_XYZ RENT Acme 5A",
			},
		},
	})
	require.NoError(t, err)

	require.Len(t, record.MatchedItems, 1)
	assert.Equal(t, reconciliation_entities.MatchExact, record.MatchedItems[0].Outcome)
	assert.Empty(t, record.UnmatchedPayments)
	assert.Empty(t, record.UnmatchedBankTransactions)

	// Bank closing 45000 vs ledger closing (debit account) 45000.
	assert.Equal(t, int64(45_000), record.ClosingBalance.AmountMinor)
	assert.Equal(t, int64(45_000), record.ExpectedBalance.AmountMinor)
	assert.Zero(t, record.DiscrepancyMinor)
	assert.Empty(t, record.Exceptions)
}

func TestReconcileBank_DiscrepancyAndUnmatched(t *testing.T) {
	f := newReconcilerFixture(t)
	account := f.newAccount(t, "cust_liab")
	ctx := context.Background()

	record, err := f.reconciler.ReconcileBank(ctx, BankReconcileRequest{
		TenantID:       f.tenantID,
		AccountID:      account.ID,
		PeriodStart:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC),
		OpeningBalance: shared_vo.Zero(shared_vo.KES),
		Transactions: []reconciliation_entities.BankTransaction{
			{
				ID:        "bt_ghost",
				Date:      time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
				Amount:    shared_vo.NewMoney(12_345, shared_vo.KES),
				Direction: reconciliation_entities.BankCredit,
				Reference: "unknown deposit",
			},
		},
	})
	require.NoError(t, err)

	assert.Empty(t, record.MatchedItems)
	require.Len(t, record.UnmatchedBankTransactions, 1)
	assert.Equal(t, "bt_ghost", record.UnmatchedBankTransactions[0])
	assert.Equal(t, int64(12_345), record.DiscrepancyMinor)

	codes := map[string]bool{}
	for _, exc := range record.Exceptions {
		codes[exc.Code] = true
	}

	assert.True(t, codes["unmatched_bank_transaction"])
	assert.True(t, codes["balance_discrepancy"])
	assert.NotEmpty(t, f.events.ofType(common.EventReconciliationException))
}
