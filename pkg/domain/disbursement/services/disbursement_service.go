package disbursement_services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	disbursement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/entities"
	disbursement_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/ports/out"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	ledger_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/ports/out"
	ledger_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/services"
	payment_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/ports/out"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// TransferRouter resolves the payout provider for a currency.
type TransferRouter interface {
	ForCurrency(currency shared_vo.Currency) (payment_out.PaymentProvider, error)
}

// Service computes and executes owner payouts. The platform holding account
// scoped to an owner carries that owner's undisbursed funds as a credit
// balance; disbursing debits holding and credits the owner's operating
// account.
type Service struct {
	disbursements disbursement_out.DisbursementRepository
	accounts      ledger_out.AccountRepository
	ledger        *ledger_services.LedgerService
	router        TransferRouter
	tenants       common.TenantDirectory
	publisher     common.EventPublisher
	now           func() time.Time
}

func NewService(
	disbursements disbursement_out.DisbursementRepository,
	accounts ledger_out.AccountRepository,
	ledger *ledger_services.LedgerService,
	router TransferRouter,
	tenants common.TenantDirectory,
	publisher common.EventPublisher,
) *Service {
	return &Service{
		disbursements: disbursements,
		accounts:      accounts,
		ledger:        ledger,
		router:        router,
		tenants:       tenants,
		publisher:     publisher,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ProcessRequest asks for one owner payout. A nil Amount disburses the full
// available balance.
type ProcessRequest struct {
	TenantID        common.TenantID
	OwnerID         common.OwnerID
	Amount          *shared_vo.Money
	Destination     string
	DestinationType disbursement_entities.DestinationType
	IdempotencyKey  string
}

// Preview shows what a payout would move without executing it.
type Preview struct {
	OwnerID   common.OwnerID
	Available shared_vo.Money
	Requested shared_vo.Money
	Payable   bool
	Reason    string
}

// OwnerBalance pairs an owner with their disbursable balance.
type OwnerBalance struct {
	OwnerID   common.OwnerID
	Available shared_vo.Money
}

// Breakdown decomposes an owner's period income into payout components.
type Breakdown struct {
	OwnerID         common.OwnerID
	From, To        time.Time
	Gross           shared_vo.Money
	PlatformFee     shared_vo.Money
	ProcessingFee   shared_vo.Money
	Maintenance     shared_vo.Money
	OtherDeductions shared_vo.Money
	Holdback        shared_vo.Money
	Net             shared_vo.Money
}

func (s *Service) holdingAccount(ctx context.Context, tenantID common.TenantID, ownerID common.OwnerID) (*ledger_entities.Account, error) {
	account, err := s.accounts.GetByScope(ctx, tenantID, ledger_entities.AccountTypePlatformHolding,
		ledger_entities.AccountScope{OwnerID: &ownerID})
	if err != nil {
		return nil, err
	}

	if account == nil {
		return nil, common.Ef(common.KindNotFound, "account_not_found",
			"no holding account for owner %s", ownerID)
	}

	return account, nil
}

func (s *Service) operatingAccount(ctx context.Context, tenantID common.TenantID, ownerID common.OwnerID) (*ledger_entities.Account, error) {
	account, err := s.accounts.GetByScope(ctx, tenantID, ledger_entities.AccountTypeOwnerOperating,
		ledger_entities.AccountScope{OwnerID: &ownerID})
	if err != nil {
		return nil, err
	}

	if account == nil {
		return nil, common.Ef(common.KindNotFound, "account_not_found",
			"no operating account for owner %s", ownerID)
	}

	return account, nil
}

// available converts the holding account's credit balance into a positive
// disbursable amount. Debit adds and credit subtracts, so held funds show as
// a negative materialised balance.
func available(holding *ledger_entities.Account) shared_vo.Money {
	amount := -holding.BalanceMinor
	if amount < 0 {
		amount = 0
	}

	return shared_vo.NewMoney(amount, holding.Currency)
}

// Process executes one payout end to end: record, provider transfer, ledger
// journal, status. Replays under the same idempotency key return the
// existing record untouched.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (*disbursement_entities.Disbursement, error) {
	if req.IdempotencyKey == "" {
		return nil, common.E(common.KindValidation, "missing_idempotency_key", "idempotency key is required")
	}

	if existing, err := s.disbursements.GetByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey); err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	} else if existing != nil {
		slog.InfoContext(ctx, "disbursement deduplicated by idempotency key",
			"tenant_id", req.TenantID,
			"disbursement_id", existing.ID,
			"idempotency_key", req.IdempotencyKey,
		)

		return existing, nil
	}

	holding, err := s.holdingAccount(ctx, req.TenantID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	operating, err := s.operatingAccount(ctx, req.TenantID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	avail := available(holding)

	amount := avail
	if req.Amount != nil {
		amount = *req.Amount
	}

	if amount.Currency != holding.Currency {
		return nil, common.E(common.KindValidation, "currency_mismatch", "payout currency must match the holding account")
	}

	if amount.AmountMinor <= 0 {
		return nil, common.E(common.KindValidation, "non_positive_amount", "payout amount must be positive")
	}

	if amount.AmountMinor > avail.AmountMinor {
		return nil, common.Ef(common.KindState, "insufficient_balance",
			"requested %d exceeds available %d", amount.AmountMinor, avail.AmountMinor)
	}

	now := s.now()
	record := &disbursement_entities.Disbursement{
		ID:              common.NewDisbursementID(),
		TenantID:        req.TenantID,
		OwnerID:         req.OwnerID,
		Amount:          amount,
		Status:          disbursement_entities.DisbursementPending,
		Destination:     req.Destination,
		DestinationType: req.DestinationType,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.disbursements.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("persist disbursement: %w", err)
	}

	provider, err := s.router.ForCurrency(amount.Currency)
	if err != nil {
		return nil, err
	}

	transfer, err := provider.CreateTransfer(ctx, payment_out.TransferParams{
		Amount:         amount,
		Destination:    req.Destination,
		Description:    fmt.Sprintf("Payout to owner %s", req.OwnerID),
		IdempotencyKey: req.IdempotencyKey,
		Metadata: map[string]string{
			"disbursement_id": record.ID.String(),
			"tenant_id":       req.TenantID.String(),
		},
	})
	if err != nil {
		s.failBeforeJournal(ctx, record, err.Error())

		return nil, common.Wrap(common.KindProvider, "provider_error", "provider rejected transfer", err)
	}

	if transfer.Status == payment_out.TransferStatusFailed {
		s.failBeforeJournal(ctx, record, transfer.FailureReason)

		return record, nil
	}

	if err := record.MarkProcessing(provider.Name(), transfer.TransferID, now); err != nil {
		return nil, err
	}

	journal, err := s.ledger.PostJournal(ctx, ledger_services.JournalRequest{
		TenantID:  req.TenantID,
		CreatedBy: "disbursement:" + record.ID.String(),
		Lines: []ledger_services.JournalLine{
			{
				AccountID:   holding.ID,
				Direction:   ledger_entities.DirectionDebit,
				Amount:      amount,
				Type:        ledger_entities.EntryTypeDisbursement,
				Description: fmt.Sprintf("Disbursement %s to owner %s", record.ID, req.OwnerID),
				Refs:        ledger_entities.EntryRefs{},
			},
			{
				AccountID:   operating.ID,
				Direction:   ledger_entities.DirectionCredit,
				Amount:      amount,
				Type:        ledger_entities.EntryTypeDisbursement,
				Description: fmt.Sprintf("Disbursement %s received", record.ID),
				Refs:        ledger_entities.EntryRefs{},
			},
		},
	})
	if err != nil {
		// Funds moved at the provider but the ledger write failed; the
		// record stays processing and reconciliation will surface it.
		record.FlagForReconciliation()

		if saveErr := s.disbursements.Update(ctx, record); saveErr != nil {
			slog.ErrorContext(ctx, "failed to persist disbursement after journal failure",
				"disbursement_id", record.ID, "error", saveErr)
		}

		return nil, fmt.Errorf("post disbursement journal: %w", err)
	}

	journalID := journal.JournalID
	record.JournalID = &journalID

	switch transfer.Status {
	case payment_out.TransferStatusInTransit:
		if err := record.MarkInTransit(transfer.EstimatedArrival); err != nil {
			return nil, err
		}
	case payment_out.TransferStatusPaid:
		if err := record.MarkPaid(); err != nil {
			return nil, err
		}
	}

	if err := s.disbursements.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("persist disbursement: %w", err)
	}

	s.publish(ctx, record, common.EventDisbursementInitiated)

	if record.Status == disbursement_entities.DisbursementPaid {
		s.publish(ctx, record, common.EventDisbursementPaid)
	}

	slog.InfoContext(ctx, "disbursement initiated",
		"tenant_id", req.TenantID,
		"disbursement_id", record.ID,
		"owner_id", req.OwnerID,
		"amount_minor", amount.AmountMinor,
		"currency", amount.Currency,
		"transfer_id", record.TransferID,
	)

	return record, nil
}

func (s *Service) failBeforeJournal(ctx context.Context, record *disbursement_entities.Disbursement, reason string) {
	if err := record.MarkFailed(reason); err != nil {
		slog.ErrorContext(ctx, "cannot fail disbursement", "disbursement_id", record.ID, "error", err)

		return
	}

	if err := s.disbursements.Update(ctx, record); err != nil {
		slog.ErrorContext(ctx, "failed to persist failed disbursement", "disbursement_id", record.ID, "error", err)
	}

	s.publish(ctx, record, common.EventDisbursementFailed)
}

func (s *Service) publish(ctx context.Context, record *disbursement_entities.Disbursement, eventType string) {
	if err := s.publisher.Publish(ctx, common.NewEvent(eventType, "disbursement", record.ID.String(), record.TenantID, record)); err != nil {
		slog.WarnContext(ctx, "failed to publish disbursement event", "type", eventType, "error", err)
	}
}

// Preview reports whether a payout of the requested (or full) amount could
// run right now.
func (s *Service) Preview(ctx context.Context, tenantID common.TenantID, ownerID common.OwnerID, amount *shared_vo.Money) (*Preview, error) {
	holding, err := s.holdingAccount(ctx, tenantID, ownerID)
	if err != nil {
		return nil, err
	}

	avail := available(holding)

	requested := avail
	if amount != nil {
		requested = *amount
	}

	preview := &Preview{OwnerID: ownerID, Available: avail, Requested: requested, Payable: true}

	switch {
	case requested.AmountMinor <= 0:
		preview.Payable = false
		preview.Reason = "non_positive_amount"
	case requested.AmountMinor > avail.AmountMinor:
		preview.Payable = false
		preview.Reason = "insufficient_balance"
	}

	return preview, nil
}

// EligibleOwners lists owners whose disbursable balance meets the minimum.
func (s *Service) EligibleOwners(ctx context.Context, tenantID common.TenantID, minBalanceMinor int64) ([]OwnerBalance, error) {
	holdings, err := s.accounts.ListByType(ctx, tenantID, ledger_entities.AccountTypePlatformHolding)
	if err != nil {
		return nil, err
	}

	var out []OwnerBalance

	for _, holding := range holdings {
		if holding.Scope.OwnerID == nil || !holding.IsActive() {
			continue
		}

		avail := available(holding)
		if avail.AmountMinor >= minBalanceMinor && avail.AmountMinor > 0 {
			out = append(out, OwnerBalance{OwnerID: *holding.Scope.OwnerID, Available: avail})
		}
	}

	return out, nil
}

// Breakdown sums the owner's holding-account entries for a period by entry
// type. net = gross − deductions − holdback, floored at zero.
func (s *Service) Breakdown(ctx context.Context, tenantID common.TenantID, ownerID common.OwnerID, from, to time.Time) (*Breakdown, error) {
	holding, err := s.holdingAccount(ctx, tenantID, ownerID)
	if err != nil {
		return nil, err
	}

	view, err := s.ledger.Statement(ctx, tenantID, holding.ID, from, to)
	if err != nil {
		return nil, err
	}

	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}

	currency := holding.Currency
	breakdown := &Breakdown{
		OwnerID: ownerID,
		From:    from,
		To:      to,
	}

	var gross, platformFee, processingFee, maintenance, other int64

	for _, entry := range view.Entries {
		switch entry.Type {
		case ledger_entities.EntryTypeRentPayment, ledger_entities.EntryTypeDeposit:
			// Income arrives as credits on the holding account.
			if entry.Direction == ledger_entities.DirectionCredit {
				gross += entry.Amount.AmountMinor
			} else {
				gross -= entry.Amount.AmountMinor
			}
		case ledger_entities.EntryTypePlatformFee:
			platformFee += entry.Amount.AmountMinor
		case ledger_entities.EntryTypeProcessingFee:
			processingFee += entry.Amount.AmountMinor
		case ledger_entities.EntryTypeMaintenance:
			maintenance += entry.Amount.AmountMinor
		case ledger_entities.EntryTypeDisbursement:
			// Prior payouts are not a deduction from the period's income.
		default:
			if entry.Direction == ledger_entities.DirectionDebit {
				other += entry.Amount.AmountMinor
			}
		}
	}

	holdback := shared_vo.NewMoney(gross, currency).Percent(tenant.Payout.HoldbackPercent)

	net := gross - platformFee - processingFee - maintenance - other - holdback.AmountMinor
	if net < 0 {
		net = 0
	}

	breakdown.Gross = shared_vo.NewMoney(gross, currency)
	breakdown.PlatformFee = shared_vo.NewMoney(platformFee, currency)
	breakdown.ProcessingFee = shared_vo.NewMoney(processingFee, currency)
	breakdown.Maintenance = shared_vo.NewMoney(maintenance, currency)
	breakdown.OtherDeductions = shared_vo.NewMoney(other, currency)
	breakdown.Holdback = holdback
	breakdown.Net = shared_vo.NewMoney(net, currency)

	return breakdown, nil
}

// HandleTransferResult applies a provider payout callback to the record
// matched by transfer id. Inconclusive (timeout) callbacks flag the record
// for reconciliation instead of guessing a state.
func (s *Service) HandleTransferResult(ctx context.Context, provider, transferID string, status payment_out.ProviderTransferStatus, failureReason string, timedOut bool) error {
	record, err := s.disbursements.GetByTransferID(ctx, provider, transferID)
	if err != nil {
		return fmt.Errorf("transfer lookup: %w", err)
	}

	if record == nil {
		slog.WarnContext(ctx, "transfer result for unknown disbursement, acking",
			"provider", provider, "transfer_id", transferID)

		return nil
	}

	if timedOut {
		record.FlagForReconciliation()

		return s.disbursements.Update(ctx, record)
	}

	before := record.Status

	switch status {
	case payment_out.TransferStatusInTransit:
		if err := record.MarkInTransit(record.EstimatedArrival); err != nil {
			return err
		}
	case payment_out.TransferStatusPaid:
		if err := record.MarkPaid(); err != nil {
			return err
		}
	case payment_out.TransferStatusFailed:
		if err := record.MarkFailed(failureReason); err != nil {
			return err
		}
	default:
		return nil
	}

	if record.Status == before {
		return nil
	}

	if err := s.disbursements.Update(ctx, record); err != nil {
		return fmt.Errorf("persist disbursement: %w", err)
	}

	switch record.Status {
	case disbursement_entities.DisbursementPaid:
		s.publish(ctx, record, common.EventDisbursementPaid)
	case disbursement_entities.DisbursementFailed:
		s.publish(ctx, record, common.EventDisbursementFailed)
	}

	return nil
}
