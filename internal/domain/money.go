package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits carried by Money.
const MoneyScale = 2

// maxMoney bounds parsed amounts so ledger sums stay far away from int64 overflow.
const maxMoney Money = 1_000_000_000_000_000

// Money is a fixed-point amount counted in minor units (cents).
type Money int64

// ParseMoney parses a decimal string such as "25000" or "12.50" exactly.
func ParseMoney(raw string) (Money, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal amount", ErrInvalidAmount, raw)
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal converts d to minor units, rejecting sub-cent precision.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	minor := d.Shift(MoneyScale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d fractional digits", ErrInvalidAmount, d.String(), MoneyScale)
	}
	if minor.Abs().GreaterThan(decimal.NewFromInt(int64(maxMoney))) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, d.String())
	}
	return Money(minor.IntPart()), nil
}

// MustMoney is for constants and tests.
func MustMoney(raw string) Money {
	m, err := ParseMoney(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// Major builds Money from whole units.
func Major(units int64) Money { return Money(units * 100) }

func (m Money) Decimal() decimal.Decimal { return decimal.New(int64(m), -MoneyScale) }

func (m Money) String() string { return m.Decimal().StringFixed(MoneyScale) }

func (m Money) IsNegative() bool { return m < 0 }

// MarshalJSON encodes money as a quoted decimal string to avoid float rounding at clients.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "12.50" and 12.50.
func (m *Money) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		*m = 0
		return nil
	}
	text := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
	}
	parsed, err := ParseMoney(text)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// OptionalRatio is a [0,1] value that may be absent.
type OptionalRatio struct {
	Value decimal.Decimal
	Valid bool
}

func Ratio(value string) OptionalRatio {
	return OptionalRatio{Value: decimal.RequireFromString(value), Valid: true}
}

// Or returns the value, or fallback when absent.
func (r OptionalRatio) Or(fallback decimal.Decimal) decimal.Decimal {
	if !r.Valid {
		return fallback
	}
	return r.Value
}

func (r OptionalRatio) Validate() error {
	if !r.Valid {
		return nil
	}
	if r.Value.IsNegative() || r.Value.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: ratio %s outside [0,1]", ErrInvalidInput, r.Value.String())
	}
	return nil
}

func (r OptionalRatio) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value.String())
}

func (r *OptionalRatio) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		*r = OptionalRatio{}
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	*r = OptionalRatio{Value: d, Valid: true}
	return r.Validate()
}
