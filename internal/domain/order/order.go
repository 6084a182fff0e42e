package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/promo"
	"github.com/xenking/marketplace/internal/domain/stock"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = apperr.New(apperr.OrderNotFound, "order not found")

// Order is a buyer's order together with its priced line items.
type Order struct {
	ID        string
	BuyerID   string
	Status    Status
	Items     []Item
	Discount  decimal.Decimal
	Total     decimal.Decimal
	PromoCode string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is one order line. UnitPrice is the product price captured when the
// line was reserved and never changes afterwards.
type Item struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal returns the sum of UnitPrice × Quantity over all items.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// Lines returns the items as stock ledger lines.
func (o *Order) Lines() []stock.Line {
	out := make([]stock.Line, len(o.Items))
	for i, it := range o.Items {
		out[i] = stock.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

// Repository persists orders inside a transaction.
type Repository interface {
	Insert(ctx context.Context, o *Order) error
	// Get returns ErrNotFound when the order does not exist.
	Get(ctx context.Context, id string) (*Order, error)
	// GetForUpdate is Get plus an exclusive lock on the order row.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	// Update stores status, amounts, promo code and replaces the items.
	Update(ctx context.Context, o *Order) error
}

// ClaimStore holds the per-buyer active order markers.
type ClaimStore interface {
	// Claim records orderID as the buyer's active order. It reports false
	// when the buyer already holds a claim.
	Claim(ctx context.Context, buyerID, orderID string) (bool, error)
	// Release removes the buyer's claim if it belongs to orderID.
	Release(ctx context.Context, buyerID, orderID string) error
}

// Tx exposes the repositories bound to one database transaction.
type Tx interface {
	Products() stock.Store
	Promos() promo.Store
	Claims() ClaimStore
	Orders() Repository
	Operations() OperationLog
}

// Transactor runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Lock waits exceeding the configured
// bound fail with CONCURRENCY_TIMEOUT.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// IdempotencyStore remembers which order a client request key produced.
type IdempotencyStore interface {
	Lookup(ctx context.Context, buyerID, key string) (orderID string, found bool, err error)
	Remember(ctx context.Context, buyerID, key, orderID string) error
}
