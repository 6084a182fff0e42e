package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/stock"
)

const (
	productColumns = `id, seller_id, name, price, stock, category, status`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	lockProductsSQL = `SELECT ` + productColumns + ` FROM products
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	setStockSQL = `UPDATE products SET stock = $2 WHERE id = $1`

	insertProductSQL = `INSERT INTO products (seller_id, name, price, stock, category, status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	lockProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	updateProductSQL = `UPDATE products
		SET name = $2, price = $3, stock = $4, category = $5, status = $6
		WHERE id = $1`
)

var _ product.Repository = (*Store)(nil)

// List returns all products from the catalog ordered by ID.
func (s *Store) List(ctx context.Context) ([]product.Product, error) {
	rows, err := s.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := s.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// AddProduct inserts p and returns it with the assigned id.
func (s *Store) AddProduct(ctx context.Context, p product.Product) (product.Product, error) {
	err := s.pool.QueryRow(ctx, insertProductSQL,
		p.SellerID, p.Name, p.Price, p.Stock, p.Category, string(p.Status),
	).Scan(&p.ID)
	if err != nil {
		return p, fmt.Errorf("inserting product %q: %w", p.Name, err)
	}
	return p, nil
}

// UpdateProduct locks the row, applies fn and writes every editable column
// back. The lock is subject to the store's lock_timeout.
func (s *Store) UpdateProduct(ctx context.Context, id int64, fn func(p *product.Product) error) (*product.Product, error) {
	var updated product.Product
	err := s.InTx(ctx, func(ctx context.Context, otx order.Tx) error {
		q := otx.(*tx).pg
		rows, err := q.Query(ctx, lockProductSQL, id)
		if err != nil {
			return fmt.Errorf("locking product %d: %w", id, err)
		}
		p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return product.ErrNotFound
			}
			return fmt.Errorf("locking product %d: %w", id, err)
		}
		if err := fn(&p); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, updateProductSQL,
			p.ID, p.Name, p.Price, p.Stock, p.Category, string(p.Status),
		); err != nil {
			return fmt.Errorf("updating product %d: %w", id, err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

type productTx struct {
	q querier
}

var _ stock.Store = productTx{}

func (t productTx) LockProducts(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := t.q.Query(ctx, lockProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (t productTx) SetStock(ctx context.Context, id int64, stock int) error {
	tag, err := t.q.Exec(ctx, setStockSQL, id, stock)
	if err != nil {
		return fmt.Errorf("setting stock of product %d: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return errors.Errorf("product %d: no row", id)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p      product.Product
		status string
	)
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Price, &p.Stock, &p.Category, &status)
	p.Status = product.Status(status)
	return p, err
}
