package reconciliation_services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/services"
	payment_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/ports/out"
	reconciliation_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/reconciliation/entities"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// defaultStaleAfter is how long an intent may sit in processing before
// provider status sync queries the provider directly.
const defaultStaleAfter = 30 * time.Minute

// StatusApplier drives an intent through the state machine from an
// authoritative provider status, exactly as a webhook delivery would.
type StatusApplier interface {
	HandleWebhook(ctx context.Context, event payment_out.WebhookEvent) error
}

// ProviderResolver looks up a registered provider by name.
type ProviderResolver interface {
	ByName(name string) (payment_out.PaymentProvider, error)
}

// Reconciler performs the three reconciliation activities: ledger
// self-verification, provider status sync, and bank-transaction matching.
type Reconciler struct {
	ledger    *ledger_services.LedgerService
	intents   payment_out.PaymentIntentRepository
	providers ProviderResolver
	applier   StatusApplier
	matcher   *BankMatcher
	publisher common.EventPublisher
	staleAfter time.Duration
	now        func() time.Time
}

func NewReconciler(
	ledger *ledger_services.LedgerService,
	intents payment_out.PaymentIntentRepository,
	providers ProviderResolver,
	applier StatusApplier,
	matcher *BankMatcher,
	publisher common.EventPublisher,
) *Reconciler {
	return &Reconciler{
		ledger:     ledger,
		intents:    intents,
		providers:  providers,
		applier:    applier,
		matcher:    matcher,
		publisher:  publisher,
		staleAfter: defaultStaleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// AccountCheck is the self-verification result for one account.
type AccountCheck struct {
	AccountID common.AccountID
	Balance   *ledger_services.VerificationReport
	Sequence  *ledger_services.SequenceReport
}

// Healthy reports whether both checks passed.
func (c AccountCheck) Healthy() bool {
	return c.Balance.Valid && c.Sequence.Valid
}

// VerifyLedger runs balance and sequence verification over every account of
// the tenant, emitting a reconciliation exception event per unhealthy
// account.
func (r *Reconciler) VerifyLedger(ctx context.Context, tenantID common.TenantID) ([]AccountCheck, error) {
	accounts, err := r.ledger.Accounts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	checks := make([]AccountCheck, 0, len(accounts))

	for _, account := range accounts {
		balance, err := r.ledger.VerifyAccountBalance(ctx, tenantID, account.ID)
		if err != nil {
			return nil, err
		}

		sequence, err := r.ledger.VerifySequence(ctx, tenantID, account.ID)
		if err != nil {
			return nil, err
		}

		check := AccountCheck{AccountID: account.ID, Balance: balance, Sequence: sequence}
		checks = append(checks, check)

		if check.Healthy() {
			continue
		}

		for _, exc := range r.accountExceptions(check) {
			r.emitException(ctx, tenantID, account.ID.String(), exc)
		}
	}

	return checks, nil
}

func (r *Reconciler) accountExceptions(check AccountCheck) []reconciliation_entities.Exception {
	var out []reconciliation_entities.Exception

	if !check.Balance.Valid {
		out = append(out, reconciliation_entities.Exception{
			Code:      "balance_drift",
			Severity:  reconciliation_entities.SeverityCritical,
			Message:   fmt.Sprintf("materialised balance off by %d minor units", check.Balance.DiscrepancyMinor),
			AccountID: check.AccountID,
		})
	}

	if !check.Sequence.Valid {
		out = append(out, reconciliation_entities.Exception{
			Code:      "sequence_integrity",
			Severity:  reconciliation_entities.SeverityCritical,
			Message:   fmt.Sprintf("sequence gaps %v duplicates %v", check.Sequence.Gaps, check.Sequence.Duplicates),
			AccountID: check.AccountID,
		})
	}

	return out
}

// SyncProviderStatus queries the provider for every intent stuck in
// processing longer than the threshold and applies the authoritative status
// through the webhook path. Returns how many intents changed state.
func (r *Reconciler) SyncProviderStatus(ctx context.Context, tenantID common.TenantID) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)

	stale, err := r.intents.ListProcessingOlderThan(ctx, tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale intents: %w", err)
	}

	synced := 0

	for _, intent := range stale {
		provider, err := r.providers.ByName(intent.ProviderName)
		if err != nil {
			slog.WarnContext(ctx, "stale intent references unknown provider",
				"payment_intent_id", intent.ID, "provider", intent.ProviderName)

			continue
		}

		status, err := provider.GetPaymentIntentStatus(ctx, intent.ExternalID)
		if err != nil {
			slog.WarnContext(ctx, "provider status query failed",
				"payment_intent_id", intent.ID, "error", err)

			continue
		}

		if status.Status == payment_out.ProviderStatusPending {
			continue
		}

		err = r.applier.HandleWebhook(ctx, payment_out.WebhookEvent{
			Provider:      intent.ProviderName,
			ExternalID:    intent.ExternalID,
			Status:        status.Status,
			ReceiptURL:    status.ReceiptURL,
			FailureReason: status.FailureReason,
		})
		if err != nil {
			slog.WarnContext(ctx, "status sync transition failed",
				"payment_intent_id", intent.ID, "status", status.Status, "error", err)

			continue
		}

		synced++
	}

	return synced, nil
}

// BankReconcileRequest is the input of one bank-feed reconciliation run.
type BankReconcileRequest struct {
	TenantID       common.TenantID
	AccountID      common.AccountID
	PeriodStart    time.Time
	PeriodEnd      time.Time
	OpeningBalance shared_vo.Money
	Transactions   []reconciliation_entities.BankTransaction
}

// ReconcileBank matches the period's settled payments against the supplied
// bank feed and computes the balance discrepancy:
// (opening + Σ bank credits − Σ bank debits) − expected ledger closing.
func (r *Reconciler) ReconcileBank(ctx context.Context, req BankReconcileRequest) (*reconciliation_entities.ReconciliationRecord, error) {
	payments, err := r.intents.ListSettledInPeriod(ctx, req.TenantID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("list settled payments: %w", err)
	}

	expectedClosing, err := r.ledger.BalanceAsOf(ctx, req.TenantID, req.AccountID, req.PeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("expected closing balance: %w", err)
	}

	report := r.matcher.Match(payments, req.Transactions)

	bankClosing := req.OpeningBalance.AmountMinor

	for _, txn := range req.Transactions {
		if txn.Direction == reconciliation_entities.BankCredit {
			bankClosing += txn.Amount.AmountMinor
		} else {
			bankClosing -= txn.Amount.AmountMinor
		}
	}

	record := &reconciliation_entities.ReconciliationRecord{
		ID:               common.NewReconciliationID(),
		TenantID:         req.TenantID,
		AccountID:        req.AccountID,
		PeriodStart:      req.PeriodStart,
		PeriodEnd:        req.PeriodEnd,
		OpeningBalance:   req.OpeningBalance,
		ClosingBalance:   shared_vo.NewMoney(bankClosing, req.OpeningBalance.Currency),
		ExpectedBalance:  expectedClosing,
		DiscrepancyMinor: bankClosing - expectedClosing.AmountMinor,
		MatchedItems:     report.Matched,
		RunAt:            r.now(),
	}

	for _, item := range report.Matched {
		if item.Outcome != reconciliation_entities.MatchAmbiguous {
			continue
		}

		exc := reconciliation_entities.Exception{
			Code:      "ambiguous_match",
			Severity:  reconciliation_entities.SeverityWarning,
			Message:   fmt.Sprintf("payment %s matched bank txn %s with score %d, manual review required", item.PaymentIntentID, item.BankTransactionID, item.Score),
			AccountID: req.AccountID,
			Reference: item.BankTransactionID,
		}
		record.Exceptions = append(record.Exceptions, exc)
		r.emitException(ctx, req.TenantID, item.PaymentIntentID.String(), exc)
	}

	for _, payment := range report.UnmatchedPayments {
		record.UnmatchedPayments = append(record.UnmatchedPayments, payment.ID)
		record.Exceptions = append(record.Exceptions, reconciliation_entities.Exception{
			Code:      string(reconciliation_entities.MatchUnmatched),
			Severity:  reconciliation_entities.SeverityWarning,
			Message:   fmt.Sprintf("payment %s has no bank counterpart", payment.ID),
			AccountID: req.AccountID,
		})
	}

	for _, txn := range report.UnmatchedBankTransactions {
		record.UnmatchedBankTransactions = append(record.UnmatchedBankTransactions, txn.ID)
		exc := reconciliation_entities.Exception{
			Code:      string(reconciliation_entities.MatchUnmatchedBankTransaction),
			Severity:  reconciliation_entities.SeverityWarning,
			Message:   fmt.Sprintf("bank txn %s (%s) matches no payment", txn.ID, txn.Amount),
			AccountID: req.AccountID,
			Reference: txn.ID,
		}
		record.Exceptions = append(record.Exceptions, exc)
		r.emitException(ctx, req.TenantID, txn.ID, exc)
	}

	if record.DiscrepancyMinor != 0 {
		exc := reconciliation_entities.Exception{
			Code:      "balance_discrepancy",
			Severity:  reconciliation_entities.SeverityCritical,
			Message:   fmt.Sprintf("bank closing differs from ledger by %d minor units", record.DiscrepancyMinor),
			AccountID: req.AccountID,
		}
		record.Exceptions = append(record.Exceptions, exc)
		r.emitException(ctx, req.TenantID, req.AccountID.String(), exc)
	}

	slog.InfoContext(ctx, "bank reconciliation complete",
		"tenant_id", req.TenantID,
		"account_id", req.AccountID,
		"matched", len(record.MatchedItems),
		"unmatched_payments", len(record.UnmatchedPayments),
		"unmatched_bank_transactions", len(record.UnmatchedBankTransactions),
		"discrepancy_minor", record.DiscrepancyMinor,
	)

	return record, nil
}

func (r *Reconciler) emitException(ctx context.Context, tenantID common.TenantID, aggregateID string, exc reconciliation_entities.Exception) {
	event := common.NewEvent(common.EventReconciliationException, "reconciliation", aggregateID, tenantID, exc)

	if err := r.publisher.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "failed to publish reconciliation exception", "code", exc.Code, "error", err)
	}
}
