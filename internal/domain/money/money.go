// Package money holds the rounding policy applied to order amounts.
package money

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Policy rounds amounts to the minor unit of a single currency.
type Policy struct {
	unit  currency.Unit
	scale int32
}

// NewPolicy returns the rounding policy for an ISO 4217 currency code.
func NewPolicy(code string) (Policy, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Policy{}, errors.Wrapf(err, "parse currency %q", code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return Policy{unit: unit, scale: int32(scale)}, nil
}

// MustPolicy is like NewPolicy but panics on an unknown code.
func MustPolicy(code string) Policy {
	p, err := NewPolicy(code)
	if err != nil {
		panic(err)
	}
	return p
}

// Currency returns the ISO code of the policy's currency.
func (p Policy) Currency() string { return p.unit.String() }

// Scale returns the number of minor-unit digits.
func (p Policy) Scale() int32 { return p.scale }

// Round rounds half away from zero to the currency scale.
func (p Policy) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(p.scale)
}

// Format renders d with exactly Scale fractional digits.
func (p Policy) Format(d decimal.Decimal) string {
	return d.StringFixed(p.scale)
}
