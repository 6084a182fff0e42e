package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/auth"
)

const maxCodeLen = 20

// CreateRequest holds the input for registering a promo code.
type CreateRequest struct {
	Code           string
	DiscountType   DiscountType
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	MaxUses        int
	ValidFrom      time.Time
	ValidUntil     time.Time
}

// Validate checks the request shape and normalizes the code in place.
func (r *CreateRequest) Validate() error {
	r.Code = NormalizeCode(r.Code)
	switch {
	case r.Code == "":
		return apperr.New(apperr.Validation, "code is required")
	case len(r.Code) > maxCodeLen:
		return apperr.Errorf(apperr.Validation, "code must be at most %d characters", maxCodeLen)
	case !r.DiscountType.Valid():
		return apperr.Errorf(apperr.Validation, "unknown discount type %q", r.DiscountType)
	case !r.Value.IsPositive():
		return apperr.New(apperr.Validation, "discount value must be positive")
	case r.DiscountType == DiscountPercentage && r.Value.GreaterThan(hundred):
		return apperr.New(apperr.Validation, "percentage discount must not exceed 100")
	case r.MinOrderAmount.IsNegative():
		return apperr.New(apperr.Validation, "min order amount must not be negative")
	case r.MaxUses < 1:
		return apperr.New(apperr.Validation, "max uses must be at least 1")
	case !r.ValidFrom.Before(r.ValidUntil):
		return apperr.New(apperr.Validation, "valid_from must be before valid_until")
	}
	return nil
}

// Service manages the promo code catalog.
type Service struct {
	repo Repository
}

// NewService returns a Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create registers a new active promo code on behalf of a seller or admin.
func (s *Service) Create(ctx context.Context, id auth.Identity, req CreateRequest) (*Rule, error) {
	if err := id.Require(auth.RoleSeller, auth.RoleAdmin); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rule := &Rule{
		Code:           req.Code,
		DiscountType:   req.DiscountType,
		Value:          req.Value,
		MinOrderAmount: req.MinOrderAmount,
		MaxUses:        req.MaxUses,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
		Active:         true,
		CreatedBy:      id.UserID,
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "create promo code %q", rule.Code)
	}
	return rule, nil
}
