package statement_services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	ledger_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/services"
	statement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/entities"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
	"github.com/nyumbani-pay/nyumbani-pay/pkg/infra/memory"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []common.DomainEvent
}

func (r *eventRecorder) Publish(_ context.Context, events ...common.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, events...)

	return nil
}

func (r *eventRecorder) ofType(eventType string) []common.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []common.DomainEvent

	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}

	return out
}

type builderFixture struct {
	builder  *Builder
	accounts *memory.AccountRepository
	ledger   *ledger_services.LedgerService
	events   *eventRecorder
	tenantID common.TenantID
	account  *ledger_entities.Account
	other    *ledger_entities.Account
}

func newBuilderFixture(t *testing.T) *builderFixture {
	t.Helper()

	tenantID := common.TenantID("ten_acme")
	accounts := memory.NewAccountRepository()
	entries := memory.NewLedgerRepository(accounts)
	events := &eventRecorder{}
	ledger := ledger_services.NewLedgerService(accounts, entries, common.NopPublisher{})

	account := ledger_entities.NewAccount(tenantID, ledger_entities.AccountTypeOwnerOperating,
		"operating", shared_vo.KES, ledger_entities.AccountScope{})
	other := ledger_entities.NewAccount(tenantID, ledger_entities.AccountTypeCustomerLiability,
		"scratch", shared_vo.KES, ledger_entities.AccountScope{})

	ctx := context.Background()
	require.NoError(t, accounts.Create(ctx, account))
	require.NoError(t, accounts.Create(ctx, other))

	return &builderFixture{
		builder:  NewBuilder(memory.NewStatementRepository(), ledger, events),
		accounts: accounts,
		ledger:   ledger,
		events:   events,
		tenantID: tenantID,
		account:  account,
		other:    other,
	}
}

func (f *builderFixture) post(t *testing.T, effective time.Time, dir ledger_entities.EntryDirection, amountMinor int64, entryType ledger_entities.LedgerEntryType, description string) {
	t.Helper()

	opposite := ledger_entities.DirectionDebit
	if dir == ledger_entities.DirectionDebit {
		opposite = ledger_entities.DirectionCredit
	}

	_, err := f.ledger.PostJournal(context.Background(), ledger_services.JournalRequest{
		TenantID:      f.tenantID,
		EffectiveDate: effective,
		Lines: []ledger_services.JournalLine{
			{AccountID: f.account.ID, Direction: dir, Amount: shared_vo.NewMoney(amountMinor, shared_vo.KES), Type: entryType, Description: description},
			{AccountID: f.other.ID, Direction: opposite, Amount: shared_vo.NewMoney(amountMinor, shared_vo.KES), Type: entryType, Description: description},
		},
	})
	require.NoError(t, err)
}

func (f *builderFixture) generateRequest() GenerateRequest {
	start, end := statement_entities.MonthlyPeriod(2026, time.February)

	return GenerateRequest{
		TenantID:    f.tenantID,
		AccountID:   f.account.ID,
		Type:        statement_entities.StatementOwner,
		PeriodType:  statement_entities.PeriodMonthly,
		PeriodStart: start,
		PeriodEnd:   end,
	}
}

func TestGenerate_PeriodStatement(t *testing.T) {
	f := newBuilderFixture(t)

	jan := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	feb := func(day int) time.Time { return time.Date(2026, 2, day, 10, 0, 0, 0, time.UTC) }

	// Opening balance 10000, then February activity per the period: debits
	// 45000 + 45000, credits 5000 + 90000, closing 5000.
	f.post(t, jan, ledger_entities.DirectionDebit, 10_000, ledger_entities.EntryTypeOpeningBalance, "opening")
	f.post(t, feb(3), ledger_entities.DirectionDebit, 45_000, ledger_entities.EntryTypeRentPayment, "rent march")
	f.post(t, feb(7), ledger_entities.DirectionCredit, 5_000, ledger_entities.EntryTypePlatformFee, "platform fee")
	f.post(t, feb(14), ledger_entities.DirectionDebit, 45_000, ledger_entities.EntryTypeRentPayment, "rent april")
	f.post(t, feb(21), ledger_entities.DirectionCredit, 90_000, ledger_entities.EntryTypeDisbursement, "payout")

	statement, err := f.builder.Generate(context.Background(), f.generateRequest())
	require.NoError(t, err)

	assert.Equal(t, statement_entities.StatementGenerated, statement.Status)
	assert.Equal(t, int64(10_000), statement.OpeningBalance.AmountMinor)
	assert.Equal(t, int64(90_000), statement.TotalDebits.AmountMinor)
	assert.Equal(t, int64(95_000), statement.TotalCredits.AmountMinor)
	assert.Equal(t, int64(5_000), statement.ClosingBalance.AmountMinor)

	require.Len(t, statement.LineItems, 4)
	assert.Equal(t, int64(55_000), statement.LineItems[0].Balance.AmountMinor)
	assert.Equal(t, int64(5_000), statement.LineItems[3].Balance.AmountMinor)

	// closing = opening + debits − credits.
	assert.Equal(t,
		statement.OpeningBalance.AmountMinor+statement.TotalDebits.AmountMinor-statement.TotalCredits.AmountMinor,
		statement.ClosingBalance.AmountMinor)

	require.Len(t, statement.CategorySummaries, 3)
	assert.Equal(t, ledger_entities.EntryTypeRentPayment, statement.CategorySummaries[0].Type)
	assert.Equal(t, int64(90_000), statement.CategorySummaries[0].Net.AmountMinor)
	assert.Equal(t, ledger_entities.EntryTypeDisbursement, statement.CategorySummaries[1].Type)
	assert.Equal(t, int64(-90_000), statement.CategorySummaries[1].Net.AmountMinor)
	assert.Equal(t, ledger_entities.EntryTypePlatformFee, statement.CategorySummaries[2].Type)

	assert.Len(t, f.events.ofType(common.EventStatementGenerated), 1)
}

func TestGenerate_DuplicatePeriodRejected(t *testing.T) {
	f := newBuilderFixture(t)

	_, err := f.builder.Generate(context.Background(), f.generateRequest())
	require.NoError(t, err)

	_, err = f.builder.Generate(context.Background(), f.generateRequest())
	require.Error(t, err)
	assert.Equal(t, "duplicate_statement", common.CodeOf(err))
}

func TestDeliver_TransitionsAndEmits(t *testing.T) {
	f := newBuilderFixture(t)
	ctx := context.Background()

	statement, err := f.builder.Generate(ctx, f.generateRequest())
	require.NoError(t, err)

	sent, err := f.builder.Deliver(ctx, f.tenantID, statement.ID, "owner@example.test")
	require.NoError(t, err)
	assert.Equal(t, statement_entities.StatementSent, sent.Status)
	assert.Equal(t, "owner@example.test", sent.DeliveryDestination)
	require.NotNil(t, sent.SentAt)
	assert.Len(t, f.events.ofType(common.EventStatementSent), 1)

	viewed, err := f.builder.MarkViewed(ctx, f.tenantID, statement.ID)
	require.NoError(t, err)
	assert.Equal(t, statement_entities.StatementViewed, viewed.Status)

	// viewed is terminal for delivery transitions.
	_, err = f.builder.Deliver(ctx, f.tenantID, statement.ID, "owner@example.test")
	require.Error(t, err)
	assert.Equal(t, "illegal_transition", common.CodeOf(err))
}

func TestMarkViewed_RequiresSent(t *testing.T) {
	f := newBuilderFixture(t)

	statement, err := f.builder.Generate(context.Background(), f.generateRequest())
	require.NoError(t, err)

	_, err = f.builder.MarkViewed(context.Background(), f.tenantID, statement.ID)
	require.Error(t, err)
	assert.Equal(t, "illegal_transition", common.CodeOf(err))
}

func TestMonthlyPeriod_Bounds(t *testing.T) {
	start, end := statement_entities.MonthlyPeriod(2026, time.February)

	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 2, 28, 23, 59, 59, 999_000_000, time.UTC), end)

	start, end = statement_entities.QuarterlyPeriod(2026, 4)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 12, 31, 23, 59, 59, 999_000_000, time.UTC), end)
}

func TestExport_Formats(t *testing.T) {
	f := newBuilderFixture(t)

	feb := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	f.post(t, feb, ledger_entities.DirectionDebit, 123_456, ledger_entities.EntryTypeRentPayment, "rent")

	statement, err := f.builder.Generate(context.Background(), f.generateRequest())
	require.NoError(t, err)

	html, err := ExportStatement(statement, FormatPDFHTML)
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", html.ContentType)
	assert.Contains(t, string(html.Content), "<!DOCTYPE html>")
	assert.Contains(t, string(html.Content), "1234.56")

	csvExport, err := ExportStatement(statement, FormatCSV)
	require.NoError(t, err)
	content := string(csvExport.Content)
	assert.True(t, strings.HasPrefix(content, "statement_id,"))
	assert.Contains(t, content, "date,type,description,reference,debit,credit,balance")
	assert.Contains(t, content, "1234.56")
	assert.Contains(t, content, "category,total_debits,total_credits,net")

	jsonExport, err := ExportStatement(statement, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", jsonExport.ContentType)
	assert.Contains(t, string(jsonExport.Content), `"closing_balance"`)

	_, err = ExportStatement(statement, ExportFormat("xml"))
	require.Error(t, err)
	assert.Equal(t, "unknown_format", common.CodeOf(err))
}
