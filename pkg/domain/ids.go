package common

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Every entity identity is a tagged string so identifier kinds cannot be
// crossed at interface boundaries. Constructors generate prefixed UUIDs;
// Parse* constructors validate the prefix of externally supplied values.

type TenantID string
type CustomerID string
type OwnerID string
type PropertyID string
type UnitID string
type LeaseID string

type PaymentIntentID string
type LedgerEntryID string
type JournalID string
type AccountID string
type StatementID string
type DisbursementID string
type ReconciliationID string

const (
	prefixPaymentIntent  = "pi_"
	prefixLedgerEntry    = "le_"
	prefixJournal        = "jr_"
	prefixAccount        = "acc_"
	prefixStatement      = "st_"
	prefixDisbursement   = "dis_"
	prefixReconciliation = "rec_"
)

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func NewPaymentIntentID() PaymentIntentID { return PaymentIntentID(newID(prefixPaymentIntent)) }
func NewLedgerEntryID() LedgerEntryID     { return LedgerEntryID(newID(prefixLedgerEntry)) }
func NewJournalID() JournalID             { return JournalID(newID(prefixJournal)) }
func NewAccountID() AccountID             { return AccountID(newID(prefixAccount)) }
func NewStatementID() StatementID         { return StatementID(newID(prefixStatement)) }
func NewDisbursementID() DisbursementID   { return DisbursementID(newID(prefixDisbursement)) }
func NewReconciliationID() ReconciliationID {
	return ReconciliationID(newID(prefixReconciliation))
}

func parseTagged(prefix, value, kind string) (string, error) {
	if !strings.HasPrefix(value, prefix) || len(value) <= len(prefix) {
		return "", E(KindValidation, "invalid_id", fmt.Sprintf("%q is not a valid %s id", value, kind))
	}

	return value, nil
}

func ParsePaymentIntentID(v string) (PaymentIntentID, error) {
	s, err := parseTagged(prefixPaymentIntent, v, "payment intent")
	return PaymentIntentID(s), err
}

func ParseLedgerEntryID(v string) (LedgerEntryID, error) {
	s, err := parseTagged(prefixLedgerEntry, v, "ledger entry")
	return LedgerEntryID(s), err
}

func ParseAccountID(v string) (AccountID, error) {
	s, err := parseTagged(prefixAccount, v, "account")
	return AccountID(s), err
}

func ParseDisbursementID(v string) (DisbursementID, error) {
	s, err := parseTagged(prefixDisbursement, v, "disbursement")
	return DisbursementID(s), err
}

func (id PaymentIntentID) String() string  { return string(id) }
func (id LedgerEntryID) String() string    { return string(id) }
func (id JournalID) String() string        { return string(id) }
func (id AccountID) String() string        { return string(id) }
func (id StatementID) String() string      { return string(id) }
func (id DisbursementID) String() string   { return string(id) }
func (id ReconciliationID) String() string { return string(id) }
func (id TenantID) String() string         { return string(id) }
func (id CustomerID) String() string       { return string(id) }
func (id OwnerID) String() string          { return string(id) }
func (id PropertyID) String() string       { return string(id) }
