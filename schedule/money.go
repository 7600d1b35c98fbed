package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency value, exact in memory, a JSON number on the wire
// =============================================================================

// CurrencyPlaces is the number of fraction digits every stored amount is rounded to.
const CurrencyPlaces = 2

// Money is a currency amount in the single implicit currency.
type Money struct {
	decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{Decimal: decimal.Zero}

// NewMoney converts a float to a rounded amount.
func NewMoney(value float64) Money {
	return Money{Decimal: decimal.NewFromFloat(value)}.Round2()
}

// NewMoneyFromDecimal rounds d to currency precision.
func NewMoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Decimal: d}.Round2()
}

// ParseMoney parses a decimal string. Invalid input returns an error.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return NewMoneyFromDecimal(d), nil
}

// MustMoney is ParseMoney for literals.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Round2() Money            { return Money{Decimal: m.Decimal.Round(CurrencyPlaces)} }
func (m Money) Add(o Money) Money        { return Money{Decimal: m.Decimal.Add(o.Decimal)}.Round2() }
func (m Money) Sub(o Money) Money        { return Money{Decimal: m.Decimal.Sub(o.Decimal)}.Round2() }
func (m Money) Neg() Money               { return Money{Decimal: m.Decimal.Neg()} }
func (m Money) Abs() Money               { return Money{Decimal: m.Decimal.Abs()} }
func (m Money) Equal(o Money) bool       { return m.Decimal.Equal(o.Decimal) }
func (m Money) IsPositive() bool         { return m.Decimal.IsPositive() }
func (m Money) IsNegative() bool         { return m.Decimal.IsNegative() }
func (m Money) IsZero() bool             { return m.Decimal.IsZero() }
func (m Money) GreaterThan(o Money) bool { return m.Decimal.GreaterThan(o.Decimal) }

// Float64 returns the nearest float, for logging and DTOs.
func (m Money) Float64() float64 {
	f, _ := m.Decimal.Float64()
	return f
}

func (m Money) String() string { return m.Decimal.StringFixed(CurrencyPlaces) }

// MarshalJSON writes a bare JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = Zero
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	parsed, err := ParseMoney(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
