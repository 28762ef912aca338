package statement_entities

import (
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// StatementType says who the statement is for.
type StatementType string

const (
	StatementOwner    StatementType = "owner"
	StatementCustomer StatementType = "customer"
	StatementPlatform StatementType = "platform"
)

// StatementStatus is the delivery lifecycle.
type StatementStatus string

const (
	StatementDraft     StatementStatus = "draft"
	StatementGenerated StatementStatus = "generated"
	StatementSent      StatementStatus = "sent"
	StatementViewed    StatementStatus = "viewed"
)

// PeriodType classifies the statement window.
type PeriodType string

const (
	PeriodMonthly   PeriodType = "monthly"
	PeriodQuarterly PeriodType = "quarterly"
	PeriodAnnual    PeriodType = "annual"
	PeriodCustom    PeriodType = "custom"
)

// MonthlyPeriod returns [y-m-01 00:00, last day 23:59:59.999] UTC.
func MonthlyPeriod(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)

	return start, start.AddDate(0, 1, 0).Add(-time.Millisecond)
}

// QuarterlyPeriod returns the quarter (1..4) bounds of a year.
func QuarterlyPeriod(year, quarter int) (time.Time, time.Time) {
	start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)

	return start, start.AddDate(0, 3, 0).Add(-time.Millisecond)
}

// AnnualPeriod returns the calendar-year bounds.
func AnnualPeriod(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)

	return start, start.AddDate(1, 0, 0).Add(-time.Millisecond)
}

// LineItem is one statement row with the running balance after it.
type LineItem struct {
	Date        time.Time                      `json:"date" bson:"date"`
	Type        ledger_entities.LedgerEntryType `json:"type" bson:"type"`
	Description string                         `json:"description" bson:"description"`
	Reference   string                         `json:"reference,omitempty" bson:"reference,omitempty"`
	Debit       *shared_vo.Money               `json:"debit,omitempty" bson:"debit,omitempty"`
	Credit      *shared_vo.Money               `json:"credit,omitempty" bson:"credit,omitempty"`
	Balance     shared_vo.Money                `json:"balance" bson:"balance"`
}

// CategorySummary aggregates the period's entries of one type.
type CategorySummary struct {
	Type         ledger_entities.LedgerEntryType `json:"type" bson:"type"`
	TotalDebits  shared_vo.Money                `json:"total_debits" bson:"total_debits"`
	TotalCredits shared_vo.Money                `json:"total_credits" bson:"total_credits"`
	// Net is debits − credits; summaries sort by |net| descending.
	Net shared_vo.Money `json:"net" bson:"net"`
}

// Statement is the materialised period view of one account. At most one
// statement exists per (tenant, account, type, period_start, period_end).
type Statement struct {
	ID                  common.StatementID `json:"id" bson:"_id"`
	TenantID            common.TenantID    `json:"tenant_id" bson:"tenant_id"`
	Type                StatementType      `json:"type" bson:"type"`
	Status              StatementStatus    `json:"status" bson:"status"`
	AccountID           common.AccountID   `json:"account_id" bson:"account_id"`
	OwnerID             *common.OwnerID    `json:"owner_id,omitempty" bson:"owner_id,omitempty"`
	CustomerID          *common.CustomerID `json:"customer_id,omitempty" bson:"customer_id,omitempty"`
	PropertyID          *common.PropertyID `json:"property_id,omitempty" bson:"property_id,omitempty"`
	PeriodType          PeriodType         `json:"period_type" bson:"period_type"`
	PeriodStart         time.Time          `json:"period_start" bson:"period_start"`
	PeriodEnd           time.Time          `json:"period_end" bson:"period_end"`
	Currency            shared_vo.Currency `json:"currency" bson:"currency"`
	OpeningBalance      shared_vo.Money    `json:"opening_balance" bson:"opening_balance"`
	ClosingBalance      shared_vo.Money    `json:"closing_balance" bson:"closing_balance"`
	TotalDebits         shared_vo.Money    `json:"total_debits" bson:"total_debits"`
	TotalCredits        shared_vo.Money    `json:"total_credits" bson:"total_credits"`
	LineItems           []LineItem         `json:"line_items" bson:"line_items"`
	CategorySummaries   []CategorySummary  `json:"category_summaries" bson:"category_summaries"`
	GeneratedAt         time.Time          `json:"generated_at" bson:"generated_at"`
	SentAt              *time.Time         `json:"sent_at,omitempty" bson:"sent_at,omitempty"`
	ViewedAt            *time.Time         `json:"viewed_at,omitempty" bson:"viewed_at,omitempty"`
	DeliveryDestination string             `json:"delivery_destination,omitempty" bson:"delivery_destination,omitempty"`
}

// MarkSent transitions generated → sent.
func (s *Statement) MarkSent(destination string, at time.Time) error {
	if s.Status != StatementGenerated {
		return common.Ef(common.KindState, "illegal_transition",
			"statement %s is %s, only generated statements can be sent", s.ID, s.Status)
	}

	s.Status = StatementSent
	s.DeliveryDestination = destination
	sent := at.UTC()
	s.SentAt = &sent

	return nil
}

// MarkViewed transitions sent → viewed.
func (s *Statement) MarkViewed(at time.Time) error {
	if s.Status != StatementSent {
		return common.Ef(common.KindState, "illegal_transition",
			"statement %s is %s, only sent statements can be viewed", s.ID, s.Status)
	}

	s.Status = StatementViewed
	viewed := at.UTC()
	s.ViewedAt = &viewed

	return nil
}
