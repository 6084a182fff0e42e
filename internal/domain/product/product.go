package product

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/apperr"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = apperr.New(apperr.ProductNotFound, "product not found")

// Status is the catalog lifecycle state of a product.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusArchived Status = "ARCHIVED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusArchived:
		return true
	default:
		return false
	}
}

// Product is a catalog item listed by a seller.
type Product struct {
	ID       int64
	SellerID string
	Name     string
	Price    decimal.Decimal
	Stock    int
	Category string
	Status   Status
}

// Orderable reports whether the product may be reserved.
func (p Product) Orderable() bool { return p.Status == StatusActive }

// Repository persists the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id int64) (*Product, error)
	// AddProduct inserts p and returns it with the assigned id.
	AddProduct(ctx context.Context, p Product) (Product, error)
	// UpdateProduct locks the product, applies fn and saves the result in
	// one transaction. Nothing is written when fn fails.
	UpdateProduct(ctx context.Context, id int64, fn func(p *Product) error) (*Product, error)
}
