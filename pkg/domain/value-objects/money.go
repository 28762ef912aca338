package shared_vo

import (
	"fmt"

	"github.com/shopspring/decimal"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
)

// Currency is the closed set of currencies the platform settles in.
type Currency string

const (
	KES Currency = "KES"
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	TZS Currency = "TZS"
	UGX Currency = "UGX"
)

var knownCurrencies = map[Currency]bool{
	KES: true, USD: true, EUR: true, GBP: true, TZS: true, UGX: true,
}

// ParseCurrency validates a currency code against the closed set.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(code)
	if !knownCurrencies[c] {
		return "", common.Ef(common.KindValidation, "unknown_currency", "unknown currency code %q", code)
	}

	return c, nil
}

// Money is an amount in minor units (100 minor = 1 major) of a single
// currency. No floating point touches monetary values anywhere.
type Money struct {
	AmountMinor int64    `json:"amount_minor" bson:"amount_minor"`
	Currency    Currency `json:"currency" bson:"currency"`
}

// NewMoney builds a Money value.
func NewMoney(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Zero returns the zero amount of a currency.
func Zero(currency Currency) Money {
	return Money{AmountMinor: 0, Currency: currency}
}

func (m Money) IsZero() bool     { return m.AmountMinor == 0 }
func (m Money) IsNegative() bool { return m.AmountMinor < 0 }
func (m Money) IsPositive() bool { return m.AmountMinor > 0 }

func (m Money) sameCurrency(other Money, op string) error {
	if m.Currency != other.Currency {
		return common.Ef(common.KindValidation, "currency_mismatch",
			"cannot %s %s and %s", op, m.Currency, other.Currency)
	}

	return nil
}

// Add returns m + other; fails if currencies differ.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other, "add"); err != nil {
		return Money{}, err
	}

	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// Sub returns m − other; fails if currencies differ.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other, "subtract"); err != nil {
		return Money{}, err
	}

	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// Neg returns the negated amount.
func (m Money) Neg() Money {
	return Money{AmountMinor: -m.AmountMinor, Currency: m.Currency}
}

// Abs returns the absolute amount.
func (m Money) Abs() Money {
	if m.AmountMinor < 0 {
		return m.Neg()
	}

	return m
}

// Cmp compares amounts: -1, 0, +1. Fails if currencies differ.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other, "compare"); err != nil {
		return 0, err
	}

	switch {
	case m.AmountMinor < other.AmountMinor:
		return -1, nil
	case m.AmountMinor > other.AmountMinor:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal reports value equality including currency.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.AmountMinor == other.AmountMinor
}

// Percent returns round_half_away(m × pct / 100) in minor units. Used for
// platform fees and holdbacks; decimal keeps the intermediate exact.
func (m Money) Percent(pct decimal.Decimal) Money {
	amount := decimal.NewFromInt(m.AmountMinor).
		Mul(pct).
		Div(decimal.NewFromInt(100)).
		Round(0) // shopspring rounds half away from zero

	return Money{AmountMinor: amount.IntPart(), Currency: m.Currency}
}

// MajorString renders the amount in major units with two fraction digits,
// e.g. 123456 KES -> "1234.56". Negative amounts keep a single leading sign.
func (m Money) MajorString() string {
	minor := m.AmountMinor
	sign := ""

	if minor < 0 {
		sign = "-"
		minor = -minor
	}

	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// String implements fmt.Stringer: "KES 1234.56".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Currency, m.MajorString())
}
