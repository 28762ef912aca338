package payment_services

import (
	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	payment_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/ports/out"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// ProviderRegistry routes a currency to a provider. Built once at startup
// and read-only afterwards.
type ProviderRegistry struct {
	byCurrency map[shared_vo.Currency]payment_out.PaymentProvider
	byName     map[string]payment_out.PaymentProvider
	fallback   payment_out.PaymentProvider
}

// NewProviderRegistry registers each provider under every currency it
// supports. The first registered provider becomes the default unless
// SetDefault overrides it. Later registrations win currency conflicts so
// composition order expresses preference.
func NewProviderRegistry(providers ...payment_out.PaymentProvider) *ProviderRegistry {
	r := &ProviderRegistry{
		byCurrency: make(map[shared_vo.Currency]payment_out.PaymentProvider),
		byName:     make(map[string]payment_out.PaymentProvider),
	}

	for _, p := range providers {
		r.Register(p)
	}

	return r
}

// Register adds a provider for all its supported currencies.
func (r *ProviderRegistry) Register(p payment_out.PaymentProvider) {
	r.byName[p.Name()] = p

	for _, currency := range p.SupportedCurrencies() {
		r.byCurrency[currency] = p
	}

	if r.fallback == nil {
		r.fallback = p
	}
}

// SetDefault overrides the fallback provider.
func (r *ProviderRegistry) SetDefault(p payment_out.PaymentProvider) {
	r.fallback = p
}

// ForCurrency resolves the provider for a currency, falling back to the
// default. No match at all fails with no_provider_for_currency.
func (r *ProviderRegistry) ForCurrency(currency shared_vo.Currency) (payment_out.PaymentProvider, error) {
	if p, ok := r.byCurrency[currency]; ok {
		return p, nil
	}

	if r.fallback != nil {
		return r.fallback, nil
	}

	return nil, common.Ef(common.KindValidation, "no_provider_for_currency", "no provider registered for %s", currency)
}

// ByName resolves a provider by its registered name.
func (r *ProviderRegistry) ByName(name string) (payment_out.PaymentProvider, error) {
	if p, ok := r.byName[name]; ok {
		return p, nil
	}

	return nil, common.Ef(common.KindNotFound, "unknown_provider", "no provider named %q", name)
}
