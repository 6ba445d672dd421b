// Package money provides an exact fixed-point decimal amount for currency.
//
// All arithmetic runs at a higher internal scale than the comparison/display
// scale so that chained operations do not compound rounding error. Comparisons
// round both operands to the comparison scale first, so two amounts that
// differ only beyond cent precision are considered equal. Finalize performs
// the one authoritative rounding step before persistence or display.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// internalScale is the precision used for intermediate arithmetic.
	internalScale = 8
	// CompareScale is the precision at which amounts are compared and shown.
	CompareScale = 2
)

var (
	// ErrInvalidAmount is returned when constructing from a non-numeric string.
	ErrInvalidAmount = errors.New("amount is not a valid decimal number")

	// ErrDivisionByZero is returned when the divisor rounds to zero at the
	// comparison scale. Dividing by sub-cent noise is always a caller bug.
	ErrDivisionByZero = errors.New("division by an amount that rounds to zero")
)

// Money wraps a decimal amount. The zero value is zero currency units.
// Every operation returns a new Money; values are never mutated in place.
type Money struct {
	d decimal.Decimal
}

// From parses a decimal string into a Money.
func From(value string) (Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	return Money{d: d}, nil
}

// MustFrom is From for statically known inputs. It panics on invalid input
// and exists for tests and configuration defaults.
func MustFrom(value string) Money {
	m, err := From(value)
	if err != nil {
		panic(err)
	}
	return m
}

// FromMinorUnits builds a Money from an integer count of minor units
// (e.g. cents), the inverse of MinorUnits. Used when reading gateway amounts.
func FromMinorUnits(units int64, factor int64) Money {
	return Money{d: decimal.NewFromInt(units).Div(decimal.NewFromInt(factor))}
}

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }

// Sub returns m - o.
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }

// Mul returns m * o at the internal scale.
func (m Money) Mul(o Money) Money {
	return Money{d: m.d.Mul(o.d).Round(internalScale)}
}

// Div returns m / o at the internal scale. It fails with ErrDivisionByZero
// when the divisor rounds to zero at the comparison scale.
func (m Money) Div(o Money) (Money, error) {
	if o.cmpRounded().IsZero() {
		return Money{}, ErrDivisionByZero
	}
	return Money{d: m.d.DivRound(o.d, internalScale)}, nil
}

// cmpRounded returns the amount rounded to the comparison scale.
// decimal.Round rounds half away from zero, which is the required mode.
func (m Money) cmpRounded() decimal.Decimal {
	return m.d.Round(CompareScale)
}

// Equal reports whether m and o are equal at the comparison scale.
func (m Money) Equal(o Money) bool {
	return m.cmpRounded().Equal(o.cmpRounded())
}

// GreaterThan reports whether m > o at the comparison scale.
func (m Money) GreaterThan(o Money) bool {
	return m.cmpRounded().GreaterThan(o.cmpRounded())
}

// GreaterThanOrEqual reports whether m >= o at the comparison scale.
func (m Money) GreaterThanOrEqual(o Money) bool {
	return m.cmpRounded().GreaterThanOrEqual(o.cmpRounded())
}

// LessThan reports whether m < o at the comparison scale.
func (m Money) LessThan(o Money) bool {
	return m.cmpRounded().LessThan(o.cmpRounded())
}

// IsZero reports whether m rounds to zero at the comparison scale.
func (m Money) IsZero() bool { return m.cmpRounded().IsZero() }

// IsPositive reports whether m rounds to a positive amount.
func (m Money) IsPositive() bool { return m.cmpRounded().IsPositive() }

// IsNegative reports whether m rounds to a negative amount.
func (m Money) IsNegative() bool { return m.cmpRounded().IsNegative() }

// Finalize performs the authoritative rounding step at the given scale,
// half away from zero. The result is what gets persisted or displayed.
func (m Money) Finalize(scale int32) Money {
	return Money{d: m.d.Round(scale)}
}

// MinorUnits converts the amount to an integer count of minor units
// (e.g. factor 100 for cents). It rounds, never truncates. This is used
// exactly at the gateway boundary.
func (m Money) MinorUnits(factor int64) int64 {
	return m.d.Mul(decimal.NewFromInt(factor)).Round(0).IntPart()
}

// Raw returns the untruncated decimal string.
func (m Money) Raw() string { return m.d.String() }

// String returns the amount at display scale.
func (m Money) String() string {
	return m.cmpRounded().StringFixed(CompareScale)
}
