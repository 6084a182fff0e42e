package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace/internal/domain/promo"
)

const (
	promoColumns = `code, discount_type, value, min_order_amount, max_uses, current_uses,
		valid_from, valid_until, active, created_by`

	insertPromoSQL = `INSERT INTO promo_codes (code, discount_type, value, min_order_amount, max_uses,
		current_uses, valid_from, valid_until, active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	getPromoByCodeSQL = `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1`

	lockPromoByCodeSQL = `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1 FOR UPDATE`

	addPromoUsesSQL = `UPDATE promo_codes SET current_uses = current_uses + $2 WHERE code = $1`

	promoPrimaryKey = "promo_codes_pkey"
)

var _ promo.Repository = (*Store)(nil)

// Create inserts a promo code. It returns promo.ErrConflict when the code
// already exists.
func (s *Store) Create(ctx context.Context, r *promo.Rule) error {
	_, err := s.pool.Exec(ctx, insertPromoSQL,
		r.Code, string(r.DiscountType), r.Value, r.MinOrderAmount, r.MaxUses,
		r.CurrentUses, r.ValidFrom, r.ValidUntil, r.Active, r.CreatedBy,
	)
	if err != nil {
		if isConstraint(err, codeUniqueViolation, promoPrimaryKey) {
			return promo.ErrConflict
		}
		return fmt.Errorf("creating promo code %q: %w", r.Code, err)
	}
	return nil
}

// FindByCode looks up a promo code without locking it.
func (s *Store) FindByCode(ctx context.Context, code string) (*promo.Rule, error) {
	return findPromo(ctx, s.pool, getPromoByCodeSQL, promo.NormalizeCode(code))
}

type promoTx struct {
	q querier
}

var _ promo.Store = promoTx{}

func (t promoTx) LockByCode(ctx context.Context, code string) (*promo.Rule, error) {
	return findPromo(ctx, t.q, lockPromoByCodeSQL, code)
}

func (t promoTx) AddUses(ctx context.Context, code string, delta int) error {
	tag, err := t.q.Exec(ctx, addPromoUsesSQL, code, delta)
	if err != nil {
		if isPgCode(err, codeCheckViolation) {
			return errors.Wrapf(err, "promo %q: current uses out of range", code)
		}
		return fmt.Errorf("adding uses to promo %q: %w", code, err)
	}
	if tag.RowsAffected() != 1 {
		return errors.Errorf("promo %q: no row", code)
	}
	return nil
}

func findPromo(ctx context.Context, q querier, sql, code string) (*promo.Rule, error) {
	rows, err := q.Query(ctx, sql, code)
	if err != nil {
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}
	rule, err := pgx.CollectExactlyOneRow(rows, scanPromo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}
	return &rule, nil
}

func scanPromo(row pgx.CollectableRow) (promo.Rule, error) {
	var (
		r   promo.Rule
		typ string
	)
	err := row.Scan(
		&r.Code, &typ, &r.Value, &r.MinOrderAmount, &r.MaxUses, &r.CurrentUses,
		&r.ValidFrom, &r.ValidUntil, &r.Active, &r.CreatedBy,
	)
	r.DiscountType = promo.DiscountType(typ)
	return r, err
}
