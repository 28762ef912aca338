package shared_vo

import (
	"testing"

	"github.com/shopspring/decimal"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
)

func TestMoney_AddSub(t *testing.T) {
	a := NewMoney(100000, KES)
	b := NewMoney(45000, KES)

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.AmountMinor != 145000 {
		t.Errorf("sum = %d, want 145000", sum.AmountMinor)
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if diff.AmountMinor != 55000 {
		t.Errorf("diff = %d, want 55000", diff.AmountMinor)
	}
}

func TestMoney_CurrencyMismatch(t *testing.T) {
	a := NewMoney(100, KES)
	b := NewMoney(100, USD)

	if _, err := a.Add(b); !common.IsKind(err, common.KindValidation) {
		t.Errorf("Add across currencies: err = %v, want validation error", err)
	}
	if _, err := a.Sub(b); err == nil {
		t.Error("Sub across currencies should fail")
	}
	if _, err := a.Cmp(b); err == nil {
		t.Error("Cmp across currencies should fail")
	}
}

func TestMoney_Percent_HalfAwayFromZero(t *testing.T) {
	cases := []struct {
		amount int64
		pct    string
		want   int64
	}{
		{100000, "5", 5000},
		{100001, "5", 5000},  // 5000.05 rounds down
		{100010, "5", 5001},  // 5000.5 rounds half away from zero
		{-100010, "5", -5001},
		{33333, "3", 1000},   // 999.99 rounds up
		{100000, "0", 0},
	}

	for _, tc := range cases {
		pct, _ := decimal.NewFromString(tc.pct)
		got := NewMoney(tc.amount, KES).Percent(pct)
		if got.AmountMinor != tc.want {
			t.Errorf("Percent(%d, %s%%) = %d, want %d", tc.amount, tc.pct, got.AmountMinor, tc.want)
		}
	}
}

func TestMoney_MajorString(t *testing.T) {
	cases := []struct {
		minor int64
		want  string
	}{
		{123456, "1234.56"},
		{5, "0.05"},
		{-95000, "-950.00"},
		{0, "0.00"},
	}

	for _, tc := range cases {
		if got := NewMoney(tc.minor, KES).MajorString(); got != tc.want {
			t.Errorf("MajorString(%d) = %q, want %q", tc.minor, got, tc.want)
		}
	}
}

func TestParseCurrency(t *testing.T) {
	if _, err := ParseCurrency("KES"); err != nil {
		t.Errorf("KES should parse: %v", err)
	}
	if _, err := ParseCurrency("ZWL"); err == nil {
		t.Error("ZWL should not parse")
	}
}
