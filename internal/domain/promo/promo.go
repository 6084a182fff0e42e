package promo

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/apperr"
)

// DiscountType enumerates the supported promo discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixed takes a fixed amount, capped at the subtotal.
	DiscountFixed DiscountType = "FIXED"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

var (
	// ErrNotFound is returned when a code does not exist or is disabled.
	ErrNotFound = apperr.New(apperr.PromoNotFound, "promo code not found")
	// ErrExpired is returned outside the code's validity window.
	ErrExpired = apperr.New(apperr.PromoExpired, "promo code is expired or not yet valid")
	// ErrLimitReached is returned once current uses reach max uses.
	ErrLimitReached = apperr.New(apperr.PromoLimitReached, "promo code usage limit reached")
	// ErrMinOrderNotMet is returned when the subtotal is below the minimum.
	ErrMinOrderNotMet = apperr.New(apperr.PromoMinOrder, "order amount is below the promo code minimum")
	// ErrConflict is returned when creating a code that already exists.
	ErrConflict = apperr.New(apperr.PromoConflict, "promo code already exists")
)

// Rule is a promo code together with its usage counter.
type Rule struct {
	Code           string
	DiscountType   DiscountType
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	MaxUses        int
	CurrentUses    int
	ValidFrom      time.Time
	ValidUntil     time.Time
	Active         bool
	CreatedBy      string
}

// Store is the transactional view of promo codes used while applying them.
type Store interface {
	// LockByCode locks the promo row for the rest of the transaction.
	// It returns ErrNotFound when no row matches.
	LockByCode(ctx context.Context, code string) (*Rule, error)
	// AddUses adjusts current_uses of a locked promo by delta.
	AddUses(ctx context.Context, code string, delta int) error
}

// Repository persists promo codes outside of order transactions.
type Repository interface {
	// Create inserts a new code and returns ErrConflict on duplicates.
	Create(ctx context.Context, rule *Rule) error
	FindByCode(ctx context.Context, code string) (*Rule, error)
}

// NormalizeCode trims and upper-cases a code as entered by a buyer.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
