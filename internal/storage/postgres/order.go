package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/order"
)

const (
	orderColumns = `id::text, buyer_id, status, discount, total, promo_code, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (id, buyer_id, status, discount, total, promo_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	updateOrderSQL = `UPDATE orders
		SET status = $2, discount = $3, total = $4, promo_code = $5, updated_at = $6
		WHERE id = $1`

	listOrderItemsSQL = `SELECT product_id, quantity, unit_price FROM order_items
		WHERE order_id = $1 ORDER BY product_id`

	deleteOrderItemsSQL = `DELETE FROM order_items WHERE order_id = $1`

	activeOrderIndex = "orders_one_active_per_buyer"
)

var orderItemColumns = []string{"order_id", "product_id", "quantity", "unit_price"}

type orderTx struct {
	pg pgx.Tx
}

var _ order.Repository = orderTx{}

func (t orderTx) Insert(ctx context.Context, o *order.Order) error {
	_, err := t.pg.Exec(ctx, insertOrderSQL,
		o.ID, o.BuyerID, string(o.Status), o.Discount, o.Total, nullString(o.PromoCode), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isConstraint(err, codeUniqueViolation, activeOrderIndex) {
			return order.ErrHasActive
		}
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}
	return t.insertItems(ctx, o)
}

func (t orderTx) Get(ctx context.Context, id string) (*order.Order, error) {
	return t.get(ctx, getOrderSQL, id)
}

func (t orderTx) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return t.get(ctx, getOrderForUpdateSQL, id)
}

func (t orderTx) Update(ctx context.Context, o *order.Order) error {
	tag, err := t.pg.Exec(ctx, updateOrderSQL,
		o.ID, string(o.Status), o.Discount, o.Total, nullString(o.PromoCode), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	if _, err := t.pg.Exec(ctx, deleteOrderItemsSQL, o.ID); err != nil {
		return fmt.Errorf("deleting items of order %q: %w", o.ID, err)
	}
	return t.insertItems(ctx, o)
}

func (t orderTx) insertItems(ctx context.Context, o *order.Order) error {
	_, err := t.pg.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns,
		pgx.CopyFromSlice(len(o.Items), func(i int) ([]any, error) {
			it := o.Items[i]
			return []any{o.ID, it.ProductID, it.Quantity, it.UnitPrice}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("inserting items of order %q: %w", o.ID, err)
	}
	return nil
}

func (t orderTx) get(ctx context.Context, sql, id string) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}

	rows, err := t.pg.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = t.pg.Query(ctx, listOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", id, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		status    string
		promoCode *string
		discount  decimal.Decimal
		total     decimal.Decimal
		created   time.Time
		updated   time.Time
	)
	err := row.Scan(&o.ID, &o.BuyerID, &status, &discount, &total, &promoCode, &created, &updated)
	o.Status = order.Status(status)
	o.Discount, o.Total = discount, total
	o.CreatedAt, o.UpdatedAt = created.UTC(), updated.UTC()
	if promoCode != nil {
		o.PromoCode = *promoCode
	}
	return o, err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
