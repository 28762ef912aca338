package reconciliation_entities

import (
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// BankDirection is the direction of a bank transaction as the bank reports
// it: a credit increases the bank account, a debit decreases it.
type BankDirection string

const (
	BankCredit BankDirection = "credit"
	BankDebit  BankDirection = "debit"
)

// BankTransaction is one line of an externally supplied bank feed.
type BankTransaction struct {
	ID          string          `json:"id" bson:"_id"`
	Date        time.Time       `json:"date" bson:"date"`
	Amount      shared_vo.Money `json:"amount" bson:"amount"`
	Direction   BankDirection   `json:"direction" bson:"direction"`
	Reference   string          `json:"reference" bson:"reference"`
	Description string          `json:"description,omitempty" bson:"description,omitempty"`
}

// MatchOutcome classifies how a payment reconciled against the bank feed.
type MatchOutcome string

const (
	MatchExact     MatchOutcome = "exact"
	MatchPartial   MatchOutcome = "partial"
	MatchAmbiguous MatchOutcome = "ambiguous"
	// MatchUnmatched marks an internal payment with no bank counterpart.
	MatchUnmatched MatchOutcome = "unmatched"
	// MatchUnmatchedBankTransaction marks a bank line no payment claimed.
	MatchUnmatchedBankTransaction MatchOutcome = "unmatched_bank_transaction"
)

// MatchedItem pairs one payment with the bank transaction it consumed.
type MatchedItem struct {
	PaymentIntentID   common.PaymentIntentID `json:"payment_intent_id" bson:"payment_intent_id"`
	BankTransactionID string                 `json:"bank_transaction_id" bson:"bank_transaction_id"`
	Score             int                    `json:"score" bson:"score"`
	Outcome           MatchOutcome           `json:"outcome" bson:"outcome"`
	AmountDeltaMinor  int64                  `json:"amount_delta_minor" bson:"amount_delta_minor"`
}

// ExceptionSeverity ranks reconciliation exceptions for triage.
type ExceptionSeverity string

const (
	SeverityWarning  ExceptionSeverity = "warning"
	SeverityCritical ExceptionSeverity = "critical"
)

// Exception flags a disagreement between two independent sources that needs
// human or automated resolution.
type Exception struct {
	Code      string            `json:"code" bson:"code"`
	Severity  ExceptionSeverity `json:"severity" bson:"severity"`
	Message   string            `json:"message" bson:"message"`
	AccountID common.AccountID  `json:"account_id,omitempty" bson:"account_id,omitempty"`
	Reference string            `json:"reference,omitempty" bson:"reference,omitempty"`
}

// ReconciliationRecord is the persisted result of one reconciliation run
// over an account and period.
type ReconciliationRecord struct {
	ID                        common.ReconciliationID  `json:"id" bson:"_id"`
	TenantID                  common.TenantID          `json:"tenant_id" bson:"tenant_id"`
	AccountID                 common.AccountID         `json:"account_id" bson:"account_id"`
	PeriodStart               time.Time                `json:"period_start" bson:"period_start"`
	PeriodEnd                 time.Time                `json:"period_end" bson:"period_end"`
	OpeningBalance            shared_vo.Money          `json:"opening_balance" bson:"opening_balance"`
	ClosingBalance            shared_vo.Money          `json:"closing_balance" bson:"closing_balance"`
	ExpectedBalance           shared_vo.Money          `json:"expected_balance" bson:"expected_balance"`
	DiscrepancyMinor          int64                    `json:"discrepancy_minor" bson:"discrepancy_minor"`
	MatchedItems              []MatchedItem            `json:"matched_items" bson:"matched_items"`
	UnmatchedPayments         []common.PaymentIntentID `json:"unmatched_payments" bson:"unmatched_payments"`
	UnmatchedBankTransactions []string                 `json:"unmatched_bank_transactions" bson:"unmatched_bank_transactions"`
	Exceptions                []Exception              `json:"exceptions" bson:"exceptions"`
	RunAt                     time.Time                `json:"run_at" bson:"run_at"`
}
