package common

import (
	"context"

	"github.com/shopspring/decimal"
)

// PayoutSettings carries the per-owner disbursement configuration a tenant
// exposes to the core.
type PayoutSettings struct {
	// HoldbackPercent is withheld from gross owner income for anticipated
	// expenses. Zero unless the tenant configures otherwise.
	HoldbackPercent decimal.Decimal
	MinimumPayout   int64
	Schedule        string
}

// TenantView is the slice of the tenant aggregate the payments core needs.
// The full tenant lives with an external collaborator.
type TenantView struct {
	ID                 TenantID
	Name               string
	PlatformFeePercent decimal.Decimal
	Payout             PayoutSettings
}

// TenantDirectory resolves tenant views. Implementations live outside the
// core (remote service, cache); tests use a fixture.
type TenantDirectory interface {
	Get(ctx context.Context, id TenantID) (*TenantView, error)
}
