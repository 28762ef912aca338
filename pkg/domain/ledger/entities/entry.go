package ledger_entities

import (
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// EntryDirection is debit or credit. Debit always adds to the materialised
// balance, credit always subtracts, uniformly across account types.
type EntryDirection string

const (
	DirectionDebit  EntryDirection = "debit"
	DirectionCredit EntryDirection = "credit"
)

// Opposite returns the reversing direction.
func (d EntryDirection) Opposite() EntryDirection {
	if d == DirectionDebit {
		return DirectionCredit
	}

	return DirectionDebit
}

// LedgerEntryType is the closed set of entry categories. There is no string
// passthrough: callers must use one of these.
type LedgerEntryType string

const (
	EntryTypeRentPayment    LedgerEntryType = "rent_payment"
	EntryTypeDeposit        LedgerEntryType = "deposit"
	EntryTypePlatformFee    LedgerEntryType = "platform_fee"
	EntryTypeProcessingFee  LedgerEntryType = "processing_fee"
	EntryTypeMaintenance    LedgerEntryType = "maintenance"
	EntryTypeDisbursement   LedgerEntryType = "disbursement"
	EntryTypeRefund         LedgerEntryType = "refund"
	EntryTypeAdjustment     LedgerEntryType = "adjustment"
	EntryTypeCorrection     LedgerEntryType = "correction"
	EntryTypeVoid           LedgerEntryType = "void"
	EntryTypeOpeningBalance LedgerEntryType = "opening_balance"
)

var knownEntryTypes = map[LedgerEntryType]bool{
	EntryTypeRentPayment: true, EntryTypeDeposit: true, EntryTypePlatformFee: true,
	EntryTypeProcessingFee: true, EntryTypeMaintenance: true, EntryTypeDisbursement: true,
	EntryTypeRefund: true, EntryTypeAdjustment: true, EntryTypeCorrection: true,
	EntryTypeVoid: true, EntryTypeOpeningBalance: true,
}

// ValidEntryType reports membership in the closed set.
func ValidEntryType(t LedgerEntryType) bool { return knownEntryTypes[t] }

// EntryRefs carries the optional references an entry may point at.
type EntryRefs struct {
	PaymentIntentID *common.PaymentIntentID `json:"payment_intent_id,omitempty" bson:"payment_intent_id,omitempty"`
	LeaseID         *common.LeaseID         `json:"lease_id,omitempty" bson:"lease_id,omitempty"`
	PropertyID      *common.PropertyID      `json:"property_id,omitempty" bson:"property_id,omitempty"`
	UnitID          *common.UnitID          `json:"unit_id,omitempty" bson:"unit_id,omitempty"`
}

// LedgerEntry is a single immutable line within a journal. Entries are
// append-only; SequenceNumber is strictly increasing and gapless per
// (tenant, account); BalanceAfter is the account's running balance through
// this entry.
type LedgerEntry struct {
	ID             common.LedgerEntryID  `json:"id" bson:"_id"`
	TenantID       common.TenantID       `json:"tenant_id" bson:"tenant_id"`
	AccountID      common.AccountID      `json:"account_id" bson:"account_id"`
	JournalID      common.JournalID      `json:"journal_id" bson:"journal_id"`
	Type           LedgerEntryType       `json:"type" bson:"type"`
	Direction      EntryDirection        `json:"direction" bson:"direction"`
	Amount         shared_vo.Money       `json:"amount" bson:"amount"`
	BalanceAfter   shared_vo.Money       `json:"balance_after" bson:"balance_after"`
	SequenceNumber int64                 `json:"sequence_number" bson:"sequence_number"`
	Description    string                `json:"description" bson:"description"`
	Refs           EntryRefs             `json:"refs" bson:"refs"`
	CorrectionOf   *common.LedgerEntryID `json:"correction_of,omitempty" bson:"correction_of,omitempty"`
	EffectiveDate  time.Time             `json:"effective_date" bson:"effective_date"`
	PostedAt       time.Time             `json:"posted_at" bson:"posted_at"`
	CreatedBy      string                `json:"created_by" bson:"created_by"`
}

// SignedMinor is the entry's directional effect on the balance in minor
// units: positive for debits, negative for credits.
func (e *LedgerEntry) SignedMinor() int64 {
	if e.Direction == DirectionDebit {
		return e.Amount.AmountMinor
	}

	return -e.Amount.AmountMinor
}
