package statement_services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	ledger_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/services"
	statement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/entities"
	statement_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/ports/out"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// GenerateRequest asks for one statement over a period.
type GenerateRequest struct {
	TenantID    common.TenantID
	AccountID   common.AccountID
	Type        statement_entities.StatementType
	OwnerID     *common.OwnerID
	CustomerID  *common.CustomerID
	PropertyID  *common.PropertyID
	PeriodType  statement_entities.PeriodType
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Builder materialises statements from the ledger's period view. The ledger
// is the only source of truth; the builder never reads payment or
// disbursement records directly.
type Builder struct {
	statements statement_out.StatementRepository
	ledger     *ledger_services.LedgerService
	publisher  common.EventPublisher
	now        func() time.Time
}

func NewBuilder(statements statement_out.StatementRepository, ledger *ledger_services.LedgerService, publisher common.EventPublisher) *Builder {
	return &Builder{
		statements: statements,
		ledger:     ledger,
		publisher:  publisher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Generate builds and persists the statement for the period. A statement
// already covering the same (tenant, account, type, period) fails with
// duplicate_statement.
func (b *Builder) Generate(ctx context.Context, req GenerateRequest) (*statement_entities.Statement, error) {
	if !req.PeriodEnd.After(req.PeriodStart) {
		return nil, common.E(common.KindValidation, "invalid_period", "period end must be after period start")
	}

	existing, err := b.statements.FindByPeriod(ctx, req.TenantID, req.AccountID, req.Type, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("duplicate lookup: %w", err)
	}

	if existing != nil {
		return nil, common.Ef(common.KindState, "duplicate_statement",
			"statement %s already covers this period", existing.ID)
	}

	view, err := b.ledger.Statement(ctx, req.TenantID, req.AccountID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return nil, err
	}

	currency := view.OpeningBalance.Currency

	statement := &statement_entities.Statement{
		ID:             common.NewStatementID(),
		TenantID:       req.TenantID,
		Type:           req.Type,
		Status:         statement_entities.StatementGenerated,
		AccountID:      req.AccountID,
		OwnerID:        req.OwnerID,
		CustomerID:     req.CustomerID,
		PropertyID:     req.PropertyID,
		PeriodType:     req.PeriodType,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
		Currency:       currency,
		OpeningBalance: view.OpeningBalance,
		ClosingBalance: view.ClosingBalance,
		TotalDebits:    view.TotalDebits,
		TotalCredits:   view.TotalCredits,
		GeneratedAt:    b.now(),
	}

	statement.LineItems = foldLineItems(view)
	statement.CategorySummaries = summarise(view.Entries, currency)

	if err := b.statements.Create(ctx, statement); err != nil {
		return nil, fmt.Errorf("persist statement: %w", err)
	}

	if err := b.publisher.Publish(ctx, common.NewEvent(common.EventStatementGenerated, "statement", statement.ID.String(), statement.TenantID, statement)); err != nil {
		slog.WarnContext(ctx, "failed to publish statement.generated", "statement_id", statement.ID, "error", err)
	}

	slog.InfoContext(ctx, "statement generated",
		"tenant_id", req.TenantID,
		"statement_id", statement.ID,
		"account_id", req.AccountID,
		"line_items", len(statement.LineItems),
	)

	return statement, nil
}

// foldLineItems walks the period's entries in sequence order keeping a
// running balance: debit adds, credit subtracts.
func foldLineItems(view *ledger_services.PeriodView) []statement_entities.LineItem {
	currency := view.OpeningBalance.Currency
	running := view.OpeningBalance.AmountMinor
	items := make([]statement_entities.LineItem, 0, len(view.Entries))

	for _, entry := range view.Entries {
		item := statement_entities.LineItem{
			Date:        entry.EffectiveDate,
			Type:        entry.Type,
			Description: entry.Description,
		}

		if entry.Refs.PaymentIntentID != nil {
			item.Reference = entry.Refs.PaymentIntentID.String()
		}

		amount := entry.Amount

		if entry.Direction == ledger_entities.DirectionDebit {
			running += amount.AmountMinor
			item.Debit = &amount
		} else {
			running -= amount.AmountMinor
			item.Credit = &amount
		}

		item.Balance = shared_vo.NewMoney(running, currency)
		items = append(items, item)
	}

	return items
}

func summarise(entries []*ledger_entities.LedgerEntry, currency shared_vo.Currency) []statement_entities.CategorySummary {
	type totals struct{ debits, credits int64 }

	byType := map[ledger_entities.LedgerEntryType]*totals{}
	order := []ledger_entities.LedgerEntryType{}

	for _, entry := range entries {
		t, ok := byType[entry.Type]
		if !ok {
			t = &totals{}
			byType[entry.Type] = t
			order = append(order, entry.Type)
		}

		if entry.Direction == ledger_entities.DirectionDebit {
			t.debits += entry.Amount.AmountMinor
		} else {
			t.credits += entry.Amount.AmountMinor
		}
	}

	summaries := make([]statement_entities.CategorySummary, 0, len(order))

	for _, entryType := range order {
		t := byType[entryType]
		summaries = append(summaries, statement_entities.CategorySummary{
			Type:         entryType,
			TotalDebits:  shared_vo.NewMoney(t.debits, currency),
			TotalCredits: shared_vo.NewMoney(t.credits, currency),
			Net:          shared_vo.NewMoney(t.debits-t.credits, currency),
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		ni, nj := summaries[i].Net.AmountMinor, summaries[j].Net.AmountMinor
		if ni < 0 {
			ni = -ni
		}
		if nj < 0 {
			nj = -nj
		}

		return ni > nj
	})

	return summaries
}

// Deliver transitions generated → sent and emits statement.sent.
func (b *Builder) Deliver(ctx context.Context, tenantID common.TenantID, id common.StatementID, destination string) (*statement_entities.Statement, error) {
	statement, err := b.get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if err := statement.MarkSent(destination, b.now()); err != nil {
		return nil, err
	}

	if err := b.statements.Update(ctx, statement); err != nil {
		return nil, fmt.Errorf("persist statement: %w", err)
	}

	if err := b.publisher.Publish(ctx, common.NewEvent(common.EventStatementSent, "statement", statement.ID.String(), tenantID, statement)); err != nil {
		slog.WarnContext(ctx, "failed to publish statement.sent", "statement_id", statement.ID, "error", err)
	}

	return statement, nil
}

// MarkViewed transitions sent → viewed.
func (b *Builder) MarkViewed(ctx context.Context, tenantID common.TenantID, id common.StatementID) (*statement_entities.Statement, error) {
	statement, err := b.get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if err := statement.MarkViewed(b.now()); err != nil {
		return nil, err
	}

	if err := b.statements.Update(ctx, statement); err != nil {
		return nil, fmt.Errorf("persist statement: %w", err)
	}

	return statement, nil
}

// Get fetches one statement scoped to a tenant.
func (b *Builder) Get(ctx context.Context, tenantID common.TenantID, id common.StatementID) (*statement_entities.Statement, error) {
	return b.get(ctx, tenantID, id)
}

func (b *Builder) get(ctx context.Context, tenantID common.TenantID, id common.StatementID) (*statement_entities.Statement, error) {
	statement, err := b.statements.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if statement == nil {
		return nil, common.Ef(common.KindNotFound, "statement_not_found", "statement %s not found", id)
	}

	return statement, nil
}
