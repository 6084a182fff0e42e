package promo

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Check validates r for an order with the given subtotal at time now.
// Checks run in a fixed order: availability, window, usage, minimum amount.
func (r *Rule) Check(now time.Time, subtotal decimal.Decimal) error {
	if !r.Active {
		return ErrNotFound
	}
	if now.Before(r.ValidFrom) || now.After(r.ValidUntil) {
		return ErrExpired
	}
	if r.CurrentUses >= r.MaxUses {
		return ErrLimitReached
	}
	if subtotal.LessThan(r.MinOrderAmount) {
		return ErrMinOrderNotMet.WithDetail("min_order_amount", r.MinOrderAmount.String())
	}
	return nil
}

// Discount returns the unrounded discount r grants on subtotal. The result
// never exceeds subtotal and is never negative.
func (r *Rule) Discount(subtotal decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch r.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(r.Value).Div(hundred)
	case DiscountFixed:
		amount = r.Value
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", r.DiscountType)
	}
	amount = decimal.Min(amount, subtotal)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount, nil
}
