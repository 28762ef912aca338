package ledger_services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	ledger_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/ports/out"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// maxPostAttempts bounds optimistic-lock retries on the posting path. Domain
// errors never retry; only version conflicts do.
const maxPostAttempts = 5

// JournalLine is one requested posting line.
type JournalLine struct {
	AccountID    common.AccountID
	Direction    ledger_entities.EntryDirection
	Amount       shared_vo.Money
	Type         ledger_entities.LedgerEntryType
	Description  string
	Refs         ledger_entities.EntryRefs
	CorrectionOf *common.LedgerEntryID
}

// JournalRequest is a balanced set of lines posted atomically.
type JournalRequest struct {
	TenantID      common.TenantID
	EffectiveDate time.Time
	CreatedBy     string
	Lines         []JournalLine
}

// JournalResult reports the persisted journal.
type JournalResult struct {
	JournalID common.JournalID
	Entries   []*ledger_entities.LedgerEntry
}

// VerificationReport is the outcome of comparing a materialised balance with
// the balance recomputed from entries.
type VerificationReport struct {
	AccountID         common.AccountID
	MaterialisedMinor int64
	RecomputedMinor   int64
	DiscrepancyMinor  int64
	Valid             bool
}

// SequenceReport lists gaps and duplicates in an account's sequence numbers.
type SequenceReport struct {
	AccountID  common.AccountID
	EntryCount int64
	Gaps       []int64
	Duplicates []int64
	Valid      bool
}

// PeriodView is the ledger's period-bounded view of one account, consumed by
// the statement builder.
type PeriodView struct {
	AccountID      common.AccountID
	From, To       time.Time
	OpeningBalance shared_vo.Money
	ClosingBalance shared_vo.Money
	TotalDebits    shared_vo.Money
	TotalCredits   shared_vo.Money
	Entries        []*ledger_entities.LedgerEntry
}

// PagedEntries is one page of an account's entries.
type PagedEntries struct {
	Entries []*ledger_entities.LedgerEntry
	Total   int64
}

// LedgerService is the only writer of ledger entries. All monetary effects in
// the platform flow through PostJournal or the compensating paths built on it.
type LedgerService struct {
	accounts  ledger_out.AccountRepository
	entries   ledger_out.LedgerRepository
	publisher common.EventPublisher
	now       func() time.Time
}

// NewLedgerService wires the ledger engine.
func NewLedgerService(accounts ledger_out.AccountRepository, entries ledger_out.LedgerRepository, publisher common.EventPublisher) *LedgerService {
	return &LedgerService{
		accounts:  accounts,
		entries:   entries,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EntriesCreatedPayload is the payload of ledger.entries_created.
type EntriesCreatedPayload struct {
	JournalID common.JournalID       `json:"journal_id"`
	EntryIDs  []common.LedgerEntryID `json:"entry_ids"`
}

// BalanceUpdatedPayload is the payload of ledger.account_balance_updated.
type BalanceUpdatedPayload struct {
	AccountID       common.AccountID   `json:"account_id"`
	NewBalanceMinor int64              `json:"new_balance_minor"`
	Currency        shared_vo.Currency `json:"currency"`
}

// PostJournal validates and posts a balanced journal. Concurrency conflicts
// on touched accounts retry from the account-load step with fresh balances,
// versions and sequence numbers, bounded by maxPostAttempts.
func (s *LedgerService) PostJournal(ctx context.Context, req JournalRequest) (*JournalResult, error) {
	if err := s.validateBalanced(req.Lines); err != nil {
		return nil, err
	}

	return s.post(ctx, req)
}

func (s *LedgerService) validateBalanced(lines []JournalLine) error {
	if len(lines) == 0 {
		return common.E(common.KindValidation, "empty_journal", "journal must contain at least one line")
	}

	totals := map[shared_vo.Currency]int64{}

	for _, line := range lines {
		if !ledger_entities.ValidEntryType(line.Type) {
			return common.Ef(common.KindValidation, "unknown_entry_type", "unknown ledger entry type %q", line.Type)
		}

		if line.Amount.AmountMinor <= 0 {
			return common.E(common.KindValidation, "non_positive_amount", "line amounts must be positive")
		}

		if line.Direction == ledger_entities.DirectionDebit {
			totals[line.Amount.Currency] += line.Amount.AmountMinor
		} else {
			totals[line.Amount.Currency] -= line.Amount.AmountMinor
		}
	}

	if len(totals) > 1 {
		return common.E(common.KindValidation, "currency_mismatch", "a journal spans exactly one currency")
	}

	for currency, net := range totals {
		if net != 0 {
			return common.Ef(common.KindValidation, "unbalanced_journal",
				"debits and credits differ by %d minor units of %s", net, currency)
		}
	}

	return nil
}

// post runs the posting algorithm shared by balanced journals and the
// compensating correction/void paths (which are one-sided per account and
// skip the balanced check by construction).
func (s *LedgerService) post(ctx context.Context, req JournalRequest) (*JournalResult, error) {
	if len(req.Lines) == 0 {
		return nil, common.E(common.KindValidation, "empty_journal", "journal must contain at least one line")
	}

	effective := req.EffectiveDate
	if effective.IsZero() {
		effective = s.now()
	}

	var lastErr error

	for attempt := 1; attempt <= maxPostAttempts; attempt++ {
		result, err := s.tryPost(ctx, req, effective)
		if err == nil {
			return result, nil
		}

		if !common.IsKind(err, common.KindConcurrency) {
			return nil, err
		}

		lastErr = err

		slog.WarnContext(ctx, "journal posting hit a version conflict, retrying",
			"tenant_id", req.TenantID,
			"attempt", attempt,
		)
	}

	return nil, common.Wrap(common.KindConcurrency, "concurrency_conflict",
		fmt.Sprintf("journal posting exhausted %d attempts", maxPostAttempts), lastErr)
}

func (s *LedgerService) tryPost(ctx context.Context, req JournalRequest, effective time.Time) (*JournalResult, error) {
	journalID := common.NewJournalID()
	postedAt := s.now()

	// One pass over the lines: load each touched account once, keep running
	// balances, entry counts and next sequence numbers locally so multiple
	// lines on one account stay gapless.
	loaded := map[common.AccountID]*ledger_entities.Account{}
	running := map[common.AccountID]int64{}
	nextSeq := map[common.AccountID]int64{}
	counts := map[common.AccountID]int64{}
	lastEntry := map[common.AccountID]common.LedgerEntryID{}
	order := []common.AccountID{}

	entries := make([]*ledger_entities.LedgerEntry, 0, len(req.Lines))

	for _, line := range req.Lines {
		account, ok := loaded[line.AccountID]
		if !ok {
			var err error

			account, err = s.accounts.GetByID(ctx, req.TenantID, line.AccountID)
			if err != nil {
				return nil, err
			}

			if account == nil {
				return nil, common.Ef(common.KindNotFound, "account_not_found", "account %s not found", line.AccountID)
			}

			if !account.IsActive() {
				return nil, common.Ef(common.KindState, "account_inactive", "account %s is %s", account.ID, account.Status)
			}

			seq, err := s.entries.GetNextSequence(ctx, req.TenantID, account.ID)
			if err != nil {
				return nil, fmt.Errorf("allocate sequence for %s: %w", account.ID, err)
			}

			loaded[line.AccountID] = account
			running[line.AccountID] = account.BalanceMinor
			nextSeq[line.AccountID] = seq
			counts[line.AccountID] = account.EntryCount
			order = append(order, line.AccountID)
		}

		if line.Amount.Currency != account.Currency {
			return nil, common.Ef(common.KindValidation, "currency_mismatch",
				"line currency %s does not match account currency %s", line.Amount.Currency, account.Currency)
		}

		balance := running[line.AccountID]
		if line.Direction == ledger_entities.DirectionDebit {
			balance += line.Amount.AmountMinor
		} else {
			balance -= line.Amount.AmountMinor
		}

		entry := &ledger_entities.LedgerEntry{
			ID:             common.NewLedgerEntryID(),
			TenantID:       req.TenantID,
			AccountID:      account.ID,
			JournalID:      journalID,
			Type:           line.Type,
			Direction:      line.Direction,
			Amount:         line.Amount,
			BalanceAfter:   shared_vo.NewMoney(balance, account.Currency),
			SequenceNumber: nextSeq[line.AccountID],
			Description:    line.Description,
			Refs:           line.Refs,
			CorrectionOf:   line.CorrectionOf,
			EffectiveDate:  effective,
			PostedAt:       postedAt,
			CreatedBy:      req.CreatedBy,
		}

		entries = append(entries, entry)
		running[line.AccountID] = balance
		nextSeq[line.AccountID]++
		counts[line.AccountID]++
		lastEntry[line.AccountID] = entry.ID
	}

	updates := make([]ledger_out.BalanceUpdate, 0, len(order))
	for _, accountID := range order {
		updates = append(updates, ledger_out.BalanceUpdate{
			AccountID:       accountID,
			TenantID:        req.TenantID,
			NewBalanceMinor: running[accountID],
			LastEntryID:     lastEntry[accountID],
			NewEntryCount:   counts[accountID],
			ExpectedVersion: loaded[accountID].Version,
		})
	}

	if err := s.entries.PostJournal(ctx, entries, updates); err != nil {
		return nil, err
	}

	s.publishPosted(ctx, req.TenantID, journalID, entries, updates, loaded)

	slog.InfoContext(ctx, "journal posted",
		"tenant_id", req.TenantID,
		"journal_id", journalID,
		"entries", len(entries),
		"accounts", len(updates),
	)

	return &JournalResult{JournalID: journalID, Entries: entries}, nil
}

func (s *LedgerService) publishPosted(
	ctx context.Context,
	tenantID common.TenantID,
	journalID common.JournalID,
	entries []*ledger_entities.LedgerEntry,
	updates []ledger_out.BalanceUpdate,
	accounts map[common.AccountID]*ledger_entities.Account,
) {
	entryIDs := make([]common.LedgerEntryID, 0, len(entries))
	for _, e := range entries {
		entryIDs = append(entryIDs, e.ID)
	}

	events := []common.DomainEvent{
		common.NewEvent(common.EventLedgerEntriesCreated, "journal", journalID.String(), tenantID,
			EntriesCreatedPayload{JournalID: journalID, EntryIDs: entryIDs}),
	}

	for _, u := range updates {
		events = append(events, common.NewEvent(common.EventAccountBalanceUpdated, "account", u.AccountID.String(), tenantID,
			BalanceUpdatedPayload{
				AccountID:       u.AccountID,
				NewBalanceMinor: u.NewBalanceMinor,
				Currency:        accounts[u.AccountID].Currency,
			}))
	}

	if err := s.publisher.Publish(ctx, events...); err != nil {
		// Outbox append shares the unit of work in real deployments; a
		// failure here is logged and surfaced by reconciliation, never by
		// unwinding a committed journal.
		slog.ErrorContext(ctx, "failed to publish ledger events",
			"journal_id", journalID,
			"error", err,
		)
	}
}

// Balance returns the materialised balance.
func (s *LedgerService) Balance(ctx context.Context, tenantID common.TenantID, accountID common.AccountID) (shared_vo.Money, error) {
	account, err := s.accounts.GetByID(ctx, tenantID, accountID)
	if err != nil {
		return shared_vo.Money{}, err
	}

	if account == nil {
		return shared_vo.Money{}, common.Ef(common.KindNotFound, "account_not_found", "account %s not found", accountID)
	}

	return account.Balance(), nil
}

// Accounts lists every account of a tenant.
func (s *LedgerService) Accounts(ctx context.Context, tenantID common.TenantID) ([]*ledger_entities.Account, error) {
	return s.accounts.ListByTenant(ctx, tenantID)
}

// BalanceAsOf recomputes the balance from entries effective through t.
func (s *LedgerService) BalanceAsOf(ctx context.Context, tenantID common.TenantID, accountID common.AccountID, t time.Time) (shared_vo.Money, error) {
	account, err := s.accounts.GetByID(ctx, tenantID, accountID)
	if err != nil {
		return shared_vo.Money{}, err
	}

	if account == nil {
		return shared_vo.Money{}, common.Ef(common.KindNotFound, "account_not_found", "account %s not found", accountID)
	}

	sum, err := s.entries.SumDirectional(ctx, tenantID, accountID, &t)
	if err != nil {
		return shared_vo.Money{}, fmt.Errorf("recompute balance as of %s: %w", t, err)
	}

	return shared_vo.NewMoney(sum, account.Currency), nil
}

// Entries returns one page of an account's entries in sequence order.
func (s *LedgerService) Entries(ctx context.Context, tenantID common.TenantID, accountID common.AccountID, page ledger_out.Page) (*PagedEntries, error) {
	entries, total, err := s.entries.FindByAccount(ctx, tenantID, accountID, page)
	if err != nil {
		return nil, err
	}

	return &PagedEntries{Entries: entries, Total: total}, nil
}

// Statement builds the period-bounded view the statement builder folds into
// line items. Opening balance is the recomputed balance 1ms before the
// period starts.
func (s *LedgerService) Statement(ctx context.Context, tenantID common.TenantID, accountID common.AccountID, from, to time.Time) (*PeriodView, error) {
	account, err := s.accounts.GetByID(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}

	if account == nil {
		return nil, common.Ef(common.KindNotFound, "account_not_found", "account %s not found", accountID)
	}

	opening, err := s.BalanceAsOf(ctx, tenantID, accountID, from.Add(-time.Millisecond))
	if err != nil {
		return nil, err
	}

	entries, err := s.entries.FindByAccountAndPeriod(ctx, tenantID, accountID, from, to)
	if err != nil {
		return nil, err
	}

	var debits, credits int64

	for _, e := range entries {
		if e.Direction == ledger_entities.DirectionDebit {
			debits += e.Amount.AmountMinor
		} else {
			credits += e.Amount.AmountMinor
		}
	}

	closing := opening.AmountMinor + debits - credits

	return &PeriodView{
		AccountID:      accountID,
		From:           from,
		To:             to,
		OpeningBalance: opening,
		ClosingBalance: shared_vo.NewMoney(closing, account.Currency),
		TotalDebits:    shared_vo.NewMoney(debits, account.Currency),
		TotalCredits:   shared_vo.NewMoney(credits, account.Currency),
		Entries:        entries,
	}, nil
}

// PostCorrection reverses the original entry and posts a fresh entry with
// the corrected amount in the original direction, both on the original
// account and both carrying correction_of. The original is never mutated.
func (s *LedgerService) PostCorrection(ctx context.Context, tenantID common.TenantID, originalID common.LedgerEntryID, corrected shared_vo.Money, reason string) (*JournalResult, error) {
	original, err := s.entries.GetEntry(ctx, tenantID, originalID)
	if err != nil {
		return nil, err
	}

	if original == nil {
		return nil, common.Ef(common.KindNotFound, "entry_not_found", "ledger entry %s not found", originalID)
	}

	if corrected.Currency != original.Amount.Currency {
		return nil, common.E(common.KindValidation, "currency_mismatch", "corrected amount must keep the original currency")
	}

	if corrected.AmountMinor <= 0 {
		return nil, common.E(common.KindValidation, "non_positive_amount", "corrected amount must be positive")
	}

	correctionOf := original.ID

	return s.post(ctx, JournalRequest{
		TenantID:  tenantID,
		CreatedBy: "ledger:correction",
		Lines: []JournalLine{
			{
				AccountID:    original.AccountID,
				Direction:    original.Direction.Opposite(),
				Amount:       original.Amount,
				Type:         ledger_entities.EntryTypeCorrection,
				Description:  fmt.Sprintf("reversal of %s: %s", original.ID, reason),
				CorrectionOf: &correctionOf,
				Refs:         original.Refs,
			},
			{
				AccountID:    original.AccountID,
				Direction:    original.Direction,
				Amount:       corrected,
				Type:         ledger_entities.EntryTypeCorrection,
				Description:  fmt.Sprintf("correction of %s: %s", original.ID, reason),
				CorrectionOf: &correctionOf,
				Refs:         original.Refs,
			},
		},
	})
}

// VoidEntry posts a single compensating reversal of the entry.
func (s *LedgerService) VoidEntry(ctx context.Context, tenantID common.TenantID, entryID common.LedgerEntryID, reason string) (*JournalResult, error) {
	original, err := s.entries.GetEntry(ctx, tenantID, entryID)
	if err != nil {
		return nil, err
	}

	if original == nil {
		return nil, common.Ef(common.KindNotFound, "entry_not_found", "ledger entry %s not found", entryID)
	}

	correctionOf := original.ID

	return s.post(ctx, JournalRequest{
		TenantID:  tenantID,
		CreatedBy: "ledger:void",
		Lines: []JournalLine{
			{
				AccountID:    original.AccountID,
				Direction:    original.Direction.Opposite(),
				Amount:       original.Amount,
				Type:         ledger_entities.EntryTypeVoid,
				Description:  fmt.Sprintf("void of %s: %s", original.ID, reason),
				CorrectionOf: &correctionOf,
				Refs:         original.Refs,
			},
		},
	})
}
