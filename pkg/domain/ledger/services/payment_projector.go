package ledger_services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// OwnerResolver maps a lease to the owner whose holding account receives
// the net settlement. The lease aggregate lives with an external
// collaborator.
type OwnerResolver interface {
	OwnerForLease(ctx context.Context, tenantID common.TenantID, leaseID common.LeaseID) (common.OwnerID, error)
}

// PaymentProjector is the ledger-side subscriber posting the accounting
// effect of payment events. The orchestrator never writes ledger entries;
// this projector is the only bridge between the payment and ledger sides.
type PaymentProjector struct {
	ledger *LedgerService
	chart  *ChartService
	owners OwnerResolver
}

func NewPaymentProjector(ledger *LedgerService, chart *ChartService, owners OwnerResolver) *PaymentProjector {
	return &PaymentProjector{ledger: ledger, chart: chart, owners: owners}
}

// settledPayload mirrors the payment.succeeded payload shape on the wire.
type settledPayload struct {
	PaymentIntentID common.PaymentIntentID `json:"payment_intent_id"`
	CustomerID      common.CustomerID      `json:"customer_id"`
	LeaseID         *common.LeaseID        `json:"lease_id,omitempty"`
	Type            string                 `json:"type"`
	Amount          shared_vo.Money        `json:"amount"`
	PlatformFee     shared_vo.Money        `json:"platform_fee"`
	NetAmount       shared_vo.Money        `json:"net_amount"`
	PaidAt          time.Time              `json:"paid_at"`
}

// refundedPayload mirrors the payment.refunded payload shape on the wire.
type refundedPayload struct {
	PaymentIntentID     common.PaymentIntentID `json:"payment_intent_id"`
	CustomerID          common.CustomerID      `json:"customer_id"`
	LeaseID             *common.LeaseID        `json:"lease_id,omitempty"`
	AmountMinor         int64                  `json:"amount_minor"`
	Currency            shared_vo.Currency     `json:"currency"`
	OriginalAmountMinor int64                  `json:"original_amount_minor"`
	PlatformFeeMinor    int64                  `json:"platform_fee_minor"`
}

// HandleEnvelope projects one outbox envelope onto the ledger. Event types
// without a ledger effect are ignored.
func (p *PaymentProjector) HandleEnvelope(ctx context.Context, envelope *event_entities.Envelope) error {
	switch envelope.EventType {
	case common.EventPaymentSucceeded:
		var payload settledPayload

		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return common.Wrap(common.KindIntegrity, "malformed_payload", "cannot decode payment.succeeded", err)
		}

		return p.recordSettlement(ctx, envelope.TenantID, payload)
	case common.EventPaymentRefunded:
		var payload refundedPayload

		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return common.Wrap(common.KindIntegrity, "malformed_payload", "cannot decode payment.refunded", err)
		}

		return p.recordRefund(ctx, envelope.TenantID, payload)
	default:
		return nil
	}
}

func entryTypeFor(paymentType string) ledger_entities.LedgerEntryType {
	if paymentType == "deposit" {
		return ledger_entities.EntryTypeDeposit
	}

	return ledger_entities.EntryTypeRentPayment
}

// recordSettlement posts the settlement journal: customer liability debited
// for the full amount, owner holding credited the net, platform revenue
// credited the fee.
func (p *PaymentProjector) recordSettlement(ctx context.Context, tenantID common.TenantID, payload settledPayload) error {
	currency := payload.Amount.Currency

	liability, err := p.chart.EnsureCustomerAccount(ctx, tenantID, payload.CustomerID, currency)
	if err != nil {
		return err
	}

	holding, err := p.holdingFor(ctx, tenantID, payload.LeaseID, currency)
	if err != nil {
		return err
	}

	chart, err := p.chart.EnsureTenantChart(ctx, tenantID, currency)
	if err != nil {
		return err
	}

	entryType := entryTypeFor(payload.Type)
	refs := ledger_entities.EntryRefs{PaymentIntentID: &payload.PaymentIntentID, LeaseID: payload.LeaseID}

	lines := []JournalLine{
		{
			AccountID:   liability.ID,
			Direction:   ledger_entities.DirectionDebit,
			Amount:      payload.Amount,
			Type:        entryType,
			Description: fmt.Sprintf("Payment %s settled", payload.PaymentIntentID),
			Refs:        refs,
		},
		{
			AccountID:   holding.ID,
			Direction:   ledger_entities.DirectionCredit,
			Amount:      payload.NetAmount,
			Type:        entryType,
			Description: fmt.Sprintf("Net of payment %s", payload.PaymentIntentID),
			Refs:        refs,
		},
	}

	if payload.PlatformFee.AmountMinor > 0 {
		lines = append(lines, JournalLine{
			AccountID:   chart.Revenue.ID,
			Direction:   ledger_entities.DirectionCredit,
			Amount:      payload.PlatformFee,
			Type:        ledger_entities.EntryTypePlatformFee,
			Description: fmt.Sprintf("Platform fee on %s", payload.PaymentIntentID),
			Refs:        refs,
		})
	}

	result, err := p.ledger.PostJournal(ctx, JournalRequest{
		TenantID:      tenantID,
		EffectiveDate: payload.PaidAt,
		CreatedBy:     fmt.Sprintf("payment:%s", payload.PaymentIntentID),
		Lines:         lines,
	})
	if err != nil {
		return fmt.Errorf("post settlement journal: %w", err)
	}

	slog.InfoContext(ctx, "settlement journal posted",
		"tenant_id", tenantID,
		"payment_intent_id", payload.PaymentIntentID,
		"journal_id", result.JournalID,
	)

	return nil
}

// recordRefund reverses the settlement proportionally: the fee share of the
// refund comes out of platform revenue, the rest out of the owner's
// holding.
func (p *PaymentProjector) recordRefund(ctx context.Context, tenantID common.TenantID, payload refundedPayload) error {
	currency := payload.Currency

	liability, err := p.chart.EnsureCustomerAccount(ctx, tenantID, payload.CustomerID, currency)
	if err != nil {
		return err
	}

	holding, err := p.holdingFor(ctx, tenantID, payload.LeaseID, currency)
	if err != nil {
		return err
	}

	chart, err := p.chart.EnsureTenantChart(ctx, tenantID, currency)
	if err != nil {
		return err
	}

	feeShare := proportionalFee(payload.AmountMinor, payload.OriginalAmountMinor, payload.PlatformFeeMinor)
	netShare := payload.AmountMinor - feeShare

	refs := ledger_entities.EntryRefs{PaymentIntentID: &payload.PaymentIntentID, LeaseID: payload.LeaseID}

	lines := []JournalLine{
		{
			AccountID:   liability.ID,
			Direction:   ledger_entities.DirectionCredit,
			Amount:      shared_vo.NewMoney(payload.AmountMinor, currency),
			Type:        ledger_entities.EntryTypeRefund,
			Description: fmt.Sprintf("Refund of payment %s", payload.PaymentIntentID),
			Refs:        refs,
		},
	}

	if netShare > 0 {
		lines = append(lines, JournalLine{
			AccountID:   holding.ID,
			Direction:   ledger_entities.DirectionDebit,
			Amount:      shared_vo.NewMoney(netShare, currency),
			Type:        ledger_entities.EntryTypeRefund,
			Description: fmt.Sprintf("Net share of refund on %s", payload.PaymentIntentID),
			Refs:        refs,
		})
	}

	if feeShare > 0 {
		lines = append(lines, JournalLine{
			AccountID:   chart.Revenue.ID,
			Direction:   ledger_entities.DirectionDebit,
			Amount:      shared_vo.NewMoney(feeShare, currency),
			Type:        ledger_entities.EntryTypeRefund,
			Description: fmt.Sprintf("Fee share of refund on %s", payload.PaymentIntentID),
			Refs:        refs,
		})
	}

	result, err := p.ledger.PostJournal(ctx, JournalRequest{
		TenantID:      tenantID,
		EffectiveDate: time.Now().UTC(),
		CreatedBy:     fmt.Sprintf("refund:%s", payload.PaymentIntentID),
		Lines:         lines,
	})
	if err != nil {
		return fmt.Errorf("post refund journal: %w", err)
	}

	slog.InfoContext(ctx, "refund journal posted",
		"tenant_id", tenantID,
		"payment_intent_id", payload.PaymentIntentID,
		"journal_id", result.JournalID,
		"fee_share_minor", feeShare,
	)

	return nil
}

// holdingFor resolves the holding account receiving (or returning) the net:
// the lease's owner when a lease is attached, otherwise the tenant-level
// unscoped holding account.
func (p *PaymentProjector) holdingFor(ctx context.Context, tenantID common.TenantID, leaseID *common.LeaseID, currency shared_vo.Currency) (*ledger_entities.Account, error) {
	if leaseID != nil && p.owners != nil {
		ownerID, err := p.owners.OwnerForLease(ctx, tenantID, *leaseID)
		if err == nil {
			chart, err := p.chart.EnsureOwnerChart(ctx, tenantID, ownerID, currency)
			if err != nil {
				return nil, err
			}

			return chart.Holding, nil
		}

		slog.WarnContext(ctx, "cannot resolve lease owner, using tenant holding",
			"tenant_id", tenantID,
			"lease_id", *leaseID,
			"error", err,
		)
	}

	return p.chart.ensureUnscoped(ctx, tenantID, ledger_entities.AccountTypePlatformHolding, "Platform holding", currency)
}

// proportionalFee is round_half_away(refund × fee / original) in minor
// units, capped at the original fee.
func proportionalFee(refundMinor, originalMinor, feeMinor int64) int64 {
	if originalMinor <= 0 || feeMinor <= 0 {
		return 0
	}

	share := decimal.NewFromInt(refundMinor).
		Mul(decimal.NewFromInt(feeMinor)).
		Div(decimal.NewFromInt(originalMinor)).
		Round(0).
		IntPart()

	if share > feeMinor {
		return feeMinor
	}

	return share
}
