package ledger_entities

import (
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// AccountType classifies ledger accounts. Categorisation into asset versus
// liability columns is a reporting concern of the statement builder; posting
// treats every type uniformly (debit adds, credit subtracts).
type AccountType string

const (
	AccountTypeCustomerLiability AccountType = "customer_liability"
	AccountTypeOwnerOperating    AccountType = "owner_operating"
	AccountTypePlatformHolding   AccountType = "platform_holding"
	AccountTypePlatformRevenue   AccountType = "platform_revenue"
	AccountTypePlatformExpense   AccountType = "platform_expense"
)

// AccountStatus is the account lifecycle. Accounts are never deleted.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusClosed    AccountStatus = "closed"
)

// AccountScope optionally ties an account to the customer, owner or property
// it tracks money for.
type AccountScope struct {
	CustomerID *common.CustomerID `json:"customer_id,omitempty" bson:"customer_id,omitempty"`
	OwnerID    *common.OwnerID    `json:"owner_id,omitempty" bson:"owner_id,omitempty"`
	PropertyID *common.PropertyID `json:"property_id,omitempty" bson:"property_id,omitempty"`
}

// Account holds a materialised balance over an append-only entry stream.
// Version implements optimistic locking: every balance update carries the
// expected version and bumps it by one.
type Account struct {
	ID               common.AccountID      `json:"id" bson:"_id"`
	TenantID         common.TenantID       `json:"tenant_id" bson:"tenant_id"`
	Type             AccountType           `json:"type" bson:"type"`
	Name             string                `json:"name" bson:"name"`
	Currency         shared_vo.Currency    `json:"currency" bson:"currency"`
	BalanceMinor     int64                 `json:"balance_minor" bson:"balance_minor"`
	LastEntryID      *common.LedgerEntryID `json:"last_entry_id,omitempty" bson:"last_entry_id,omitempty"`
	EntryCount       int64                 `json:"entry_count" bson:"entry_count"`
	Status           AccountStatus         `json:"status" bson:"status"`
	Scope            AccountScope          `json:"scope" bson:"scope"`
	Version          int64                 `json:"version" bson:"version"`
	CreatedAt        time.Time             `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at" bson:"updated_at"`
}

// NewAccount creates an active account with a zero balance.
func NewAccount(tenantID common.TenantID, accountType AccountType, name string, currency shared_vo.Currency, scope AccountScope) *Account {
	now := time.Now().UTC()

	return &Account{
		ID:        common.NewAccountID(),
		TenantID:  tenantID,
		Type:      accountType,
		Name:      name,
		Currency:  currency,
		Status:    AccountStatusActive,
		Scope:     scope,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Balance returns the materialised balance as Money.
func (a *Account) Balance() shared_vo.Money {
	return shared_vo.NewMoney(a.BalanceMinor, a.Currency)
}

// IsActive reports whether the account accepts postings.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Suspend blocks further postings. Suspension is reversible; closing is not.
func (a *Account) Suspend() error {
	if a.Status == AccountStatusClosed {
		return common.E(common.KindState, "account_closed", "cannot suspend a closed account")
	}

	a.Status = AccountStatusSuspended
	a.UpdatedAt = time.Now().UTC()

	return nil
}
