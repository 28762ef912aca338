package disbursement_entities

import (
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// DisbursementStatus is the payout lifecycle state.
type DisbursementStatus string

const (
	DisbursementPending    DisbursementStatus = "pending"
	DisbursementProcessing DisbursementStatus = "processing"
	DisbursementInTransit  DisbursementStatus = "in_transit"
	DisbursementPaid       DisbursementStatus = "paid"
	DisbursementFailed     DisbursementStatus = "failed"
	DisbursementCancelled  DisbursementStatus = "cancelled"
)

// DestinationType tells the provider how to interpret Destination.
type DestinationType string

const (
	DestinationBankAccount  DestinationType = "bank_account"
	DestinationMobileWallet DestinationType = "mobile_wallet"
	DestinationConnected    DestinationType = "connected_account"
)

// Disbursement tracks one owner payout from request through provider
// settlement. JournalID links the ledger movement posted when the provider
// acknowledged the transfer.
type Disbursement struct {
	ID               common.DisbursementID `json:"id" bson:"_id"`
	TenantID         common.TenantID       `json:"tenant_id" bson:"tenant_id"`
	OwnerID          common.OwnerID        `json:"owner_id" bson:"owner_id"`
	Amount           shared_vo.Money       `json:"amount" bson:"amount"`
	Status           DisbursementStatus    `json:"status" bson:"status"`
	Destination      string                `json:"destination" bson:"destination"`
	DestinationType  DestinationType       `json:"destination_type" bson:"destination_type"`
	ProviderName     string                `json:"provider_name,omitempty" bson:"provider_name,omitempty"`
	TransferID       string                `json:"transfer_id,omitempty" bson:"transfer_id,omitempty"`
	IdempotencyKey   string                `json:"idempotency_key" bson:"idempotency_key"`
	JournalID        *common.JournalID     `json:"journal_id,omitempty" bson:"journal_id,omitempty"`
	FailureReason    string                `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`
	// NeedsReconciliation is set when the provider's answer was inconclusive
	// (e.g. a mobile-money timeout callback) and a later status check must
	// settle the record.
	NeedsReconciliation bool       `json:"needs_reconciliation,omitempty" bson:"needs_reconciliation,omitempty"`
	InitiatedAt         *time.Time `json:"initiated_at,omitempty" bson:"initiated_at,omitempty"`
	EstimatedArrival    *time.Time `json:"estimated_arrival,omitempty" bson:"estimated_arrival,omitempty"`
	CreatedAt           time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" bson:"updated_at"`
}

// IsTerminal reports whether the payout reached a final state.
func (d *Disbursement) IsTerminal() bool {
	switch d.Status {
	case DisbursementPaid, DisbursementFailed, DisbursementCancelled:
		return true
	default:
		return false
	}
}

func (d *Disbursement) illegal(target DisbursementStatus) error {
	return common.Ef(common.KindState, "illegal_transition",
		"disbursement %s cannot move from %s to %s", d.ID, d.Status, target)
}

func (d *Disbursement) touch() { d.UpdatedAt = time.Now().UTC() }

// MarkProcessing records the provider accepting the transfer.
func (d *Disbursement) MarkProcessing(provider, transferID string, initiatedAt time.Time) error {
	if d.Status != DisbursementPending {
		return d.illegal(DisbursementProcessing)
	}

	d.Status = DisbursementProcessing
	d.ProviderName = provider
	d.TransferID = transferID
	at := initiatedAt.UTC()
	d.InitiatedAt = &at
	d.touch()

	return nil
}

// MarkInTransit records provider confirmation that funds left the platform.
func (d *Disbursement) MarkInTransit(estimatedArrival *time.Time) error {
	switch d.Status {
	case DisbursementProcessing, DisbursementInTransit:
	default:
		return d.illegal(DisbursementInTransit)
	}

	d.Status = DisbursementInTransit
	d.EstimatedArrival = estimatedArrival
	d.touch()

	return nil
}

// MarkPaid settles the payout; idempotent on replay.
func (d *Disbursement) MarkPaid() error {
	if d.Status == DisbursementPaid {
		return nil
	}

	switch d.Status {
	case DisbursementProcessing, DisbursementInTransit:
	default:
		return d.illegal(DisbursementPaid)
	}

	d.Status = DisbursementPaid
	d.NeedsReconciliation = false
	d.touch()

	return nil
}

// MarkFailed records a provider failure; idempotent on replay.
func (d *Disbursement) MarkFailed(reason string) error {
	if d.Status == DisbursementFailed {
		return nil
	}

	if d.IsTerminal() {
		return d.illegal(DisbursementFailed)
	}

	d.Status = DisbursementFailed
	d.FailureReason = reason
	d.touch()

	return nil
}

// MarkCancelled cancels a payout the provider has not accepted yet.
func (d *Disbursement) MarkCancelled(reason string) error {
	if d.Status == DisbursementCancelled {
		return nil
	}

	if d.Status != DisbursementPending {
		return d.illegal(DisbursementCancelled)
	}

	d.Status = DisbursementCancelled
	d.FailureReason = reason
	d.touch()

	return nil
}

// FlagForReconciliation marks the record for a later authoritative status
// check without changing its state.
func (d *Disbursement) FlagForReconciliation() {
	d.NeedsReconciliation = true
	d.touch()
}
