/*
Package money provides the fixed-point currency value type used by the
settlement engine.

PURPOSE:
  Group finance tolerates zero drift: a contribution of 10000.00 and a
  contribution of 9999.99 are different things, and penalties compound over
  months. Money therefore stores integer minor units (cents) and performs
  every rate multiplication through decimal.Decimal with explicit half-up
  rounding to 2 decimal places. Amounts are never compared via floating point.

KEY CONCEPTS:
  - Money: int64 minor units + ISO currency code
  - Rate math: Money.MulRate / Money.Percent round half-up to 2 decimals
  - Exact comparison: Equal/Cmp operate on the raw minor units

WIRE FORMAT:
  Money crosses the system boundary as integer minor units plus the ISO
  currency code: {"minor_units": 1000000, "currency": "KES"}.

USAGE:
  required := money.New(1000000, "KES")           // 10,000.00 KES
  penalty := required.Percent(decimal.NewFromFloat(0.05))

SEE ALSO:
  - engine/interest.go, engine/penalty.go: heaviest users of rate math
*/
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// minorUnitPlaces is the number of decimal places for all supported
// currencies. The engine assumes 2 everywhere; all supported group
// currencies are 2-decimal.
const minorUnitPlaces = 2

// Money is an exact monetary amount: integer minor units plus a currency tag.
// The zero value is "0 units of no currency" and is safe to add to.
type Money struct {
	units    int64
	currency string
}

// New creates a Money from minor units (e.g. cents).
func New(minorUnits int64, currency string) Money {
	return Money{units: minorUnits, currency: currency}
}

// FromDecimal converts a major-unit decimal amount (e.g. 123.456) into Money,
// rounding half-up to 2 decimal places.
func FromDecimal(d decimal.Decimal, currency string) Money {
	scaled := d.Shift(minorUnitPlaces).Round(0)
	return Money{units: scaled.IntPart(), currency: currency}
}

// FromMajor creates a Money from whole major units (e.g. 10000 => 10,000.00).
func FromMajor(major int64, currency string) Money {
	return Money{units: major * 100, currency: currency}
}

// Parse parses a major-unit decimal string ("10000.00").
func Parse(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: cannot parse %q: %w", s, err)
	}
	return FromDecimal(d, currency), nil
}

// MustParse is Parse that panics on bad input; intended for constants and
// tests.
func MustParse(s, currency string) Money {
	m, err := Parse(s, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// MinorUnits returns the raw integer amount.
func (m Money) MinorUnits() int64 { return m.units }

// Currency returns the ISO currency code.
func (m Money) Currency() string { return m.currency }

// Decimal returns the major-unit decimal representation (2 places).
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.units, -minorUnitPlaces)
}

// Zero returns a zero amount in the same currency.
func (m Money) Zero() Money { return Money{units: 0, currency: m.currency} }

// Arithmetic. Operands must share a currency; the result keeps the
// receiver's currency tag.
func (m Money) Add(o Money) Money { return Money{units: m.units + o.units, currency: m.cur(o)} }
func (m Money) Sub(o Money) Money { return Money{units: m.units - o.units, currency: m.cur(o)} }
func (m Money) Neg() Money        { return Money{units: -m.units, currency: m.currency} }

func (m Money) cur(o Money) string {
	if m.currency != "" {
		return m.currency
	}
	return o.currency
}

// MulRate multiplies by an arbitrary decimal rate, rounding half-up to
// 2 decimal places. This is the single rounding point for all rate math.
func (m Money) MulRate(rate decimal.Decimal) Money {
	res := m.Decimal().Mul(rate).Round(minorUnitPlaces)
	return FromDecimal(res, m.currency)
}

// Percent applies a fractional rate (0.05 == 5%). Alias of MulRate kept for
// readability at call sites dealing with policy percentages.
func (m Money) Percent(rate decimal.Decimal) Money { return m.MulRate(rate) }

// Div divides by an integer count, rounding half-up to 2 decimal places.
// Used for equal-installment schedules; the caller reconciles the remainder.
func (m Money) Div(n int64) Money {
	res := m.Decimal().Div(decimal.NewFromInt(n)).Round(minorUnitPlaces)
	return FromDecimal(res, m.currency)
}

// Comparison. Exact integer comparison on minor units - no epsilon.
func (m Money) Cmp(o Money) int {
	switch {
	case m.units < o.units:
		return -1
	case m.units > o.units:
		return 1
	default:
		return 0
	}
}

func (m Money) Equal(o Money) bool       { return m.units == o.units }
func (m Money) GreaterThan(o Money) bool { return m.units > o.units }
func (m Money) LessThan(o Money) bool    { return m.units < o.units }
func (m Money) IsZero() bool             { return m.units == 0 }
func (m Money) IsNegative() bool         { return m.units < 0 }
func (m Money) IsPositive() bool         { return m.units > 0 }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// String renders the major-unit amount with the currency code, e.g.
// "10000.00 KES".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(minorUnitPlaces), m.currency)
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

type moneyJSON struct {
	MinorUnits int64  `json:"minor_units"`
	Currency   string `json:"currency"`
}

// MarshalJSON serializes as integer minor units + ISO currency code.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{MinorUnits: m.units, Currency: m.currency})
}

// UnmarshalJSON reverses MarshalJSON. Round-trips are exact for any value
// representable at 2-decimal precision.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.units = raw.MinorUnits
	m.currency = raw.Currency
	return nil
}
