package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Applied is the outcome of a successful Apply.
type Applied struct {
	Code     string
	Discount decimal.Decimal
}

// Engine validates promo codes and maintains their usage counters inside
// the caller's transaction.
type Engine struct {
	now   func() time.Time
	round func(decimal.Decimal) decimal.Decimal
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithRounding sets how discount amounts are rounded.
func WithRounding(round func(decimal.Decimal) decimal.Decimal) EngineOption {
	return func(e *Engine) { e.round = round }
}

// NewEngine returns an Engine rounding to two decimal places by default.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		now:   time.Now,
		round: func(d decimal.Decimal) decimal.Decimal { return d.Round(2) },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply locks code, checks it against subtotal, and counts one use. The
// counter change becomes visible only when the enclosing transaction commits.
func (e *Engine) Apply(ctx context.Context, store Store, code string, subtotal decimal.Decimal) (*Applied, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}
	rule, err := store.LockByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound.WithDetail("promo_code", code)
		}
		return nil, errors.Wrap(err, "lock promo code")
	}
	if err := rule.Check(e.now(), subtotal); err != nil {
		return nil, err
	}

	amount, err := rule.Discount(subtotal)
	if err != nil {
		return nil, err
	}

	if err := store.AddUses(ctx, rule.Code, 1); err != nil {
		return nil, errors.Wrap(err, "increment promo uses")
	}
	return &Applied{Code: rule.Code, Discount: e.round(amount)}, nil
}

// Release gives back one use of code, never dropping below zero. A code
// that no longer exists is ignored.
func (e *Engine) Release(ctx context.Context, store Store, code string) error {
	rule, err := store.LockByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "lock promo code")
	}
	if rule.CurrentUses == 0 {
		zctx.From(ctx).Warn("Promo code released with no recorded uses",
			zap.String("code", rule.Code),
			zap.Int("max_uses", rule.MaxUses),
		)
		return nil
	}
	if err := store.AddUses(ctx, rule.Code, -1); err != nil {
		return errors.Wrap(err, "decrement promo uses")
	}
	return nil
}
