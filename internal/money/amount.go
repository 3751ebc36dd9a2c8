package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNegative is returned when a non-negative amount is required.
var ErrNegative = errors.New("money: amount must not be negative")

// Amount is a decimal monetary value in a single currency. The zero value is
// usable and equals zero.
type Amount struct {
	dec decimal.Decimal
}

// Zero returns the zero amount.
func Zero() Amount {
	return Amount{}
}

// FromString parses a decimal string such as "10", "0.30" or "-4.99".
func FromString(value string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Amount{}, fmt.Errorf("money: parse %q: %w", value, err)
	}
	return Amount{dec: d}, nil
}

// FromFloat converts a float64. Conversion goes through the decimal string
// representation, so common inputs like 0.1 stay exact.
func FromFloat(value float64) Amount {
	return Amount{dec: decimal.NewFromFloat(value)}
}

// FromInt converts an integer number of currency units.
func FromInt(value int64) Amount {
	return Amount{dec: decimal.NewFromInt(value)}
}

// MustFromString parses value and panics on failure. For tests and constants.
func MustFromString(value string) Amount {
	a, err := FromString(value)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{dec: a.dec.Add(b.dec)}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{dec: a.dec.Sub(b.dec)}
}

// MulInt returns a * n.
func (a Amount) MulInt(n int64) Amount {
	return Amount{dec: a.dec.Mul(decimal.NewFromInt(n))}
}

// Percent returns pct percent of a, e.g. a.Percent(FromInt(10)) is a tenth.
func (a Amount) Percent(pct Amount) Amount {
	return Amount{dec: a.dec.Mul(pct.dec).Div(decimal.NewFromInt(100))}
}

// Neg returns the negated amount.
func (a Amount) Neg() Amount {
	return Amount{dec: a.dec.Neg()}
}

// ClampZero returns a, or zero when a is negative.
func (a Amount) ClampZero() Amount {
	if a.IsNegative() {
		return Amount{}
	}
	return a
}

// IsNegative reports whether the amount is below zero.
func (a Amount) IsNegative() bool {
	return a.dec.IsNegative()
}

// IsZero reports whether the amount equals zero.
func (a Amount) IsZero() bool {
	return a.dec.IsZero()
}

// Equal reports numeric equality, so 0.3 equals 0.30.
func (a Amount) Equal(b Amount) bool {
	return a.dec.Equal(b.dec)
}

// Cmp compares a and b, returning -1, 0 or 1.
func (a Amount) Cmp(b Amount) int {
	return a.dec.Cmp(b.dec)
}

// String renders the exact decimal representation.
func (a Amount) String() string {
	return a.dec.String()
}

// StringFixed renders the amount with the given number of decimal places.
func (a Amount) StringFixed(places int32) string {
	return a.dec.StringFixed(places)
}

// Float64 returns the nearest float64 representation. Display use only.
func (a Amount) Float64() float64 {
	f, _ := a.dec.Float64()
	return f
}

// MarshalJSON renders the amount as a bare JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.dec.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		a.dec = decimal.Decimal{}
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("money: unmarshal %q: %w", raw, err)
	}
	a.dec = d
	return nil
}
