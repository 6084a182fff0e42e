// Package stock implements the per-product inventory ledger used while an
// order transaction is open.
//
// A Ledger is bound to one transaction. It takes exclusive row locks on the
// products it touches, always in ascending product id order, and mutates
// stock only through the Store of that transaction, so nothing it does is
// visible to other transactions until commit.
package stock

import (
	"cmp"
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/samber/lo"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/product"
)

// Store is the transactional view of product rows the ledger mutates.
type Store interface {
	// LockProducts exclusively locks the rows for ids, acquiring the locks in
	// the order given. Ids without a row are omitted from the result.
	LockProducts(ctx context.Context, ids []int64) ([]product.Product, error)
	// SetStock overwrites the stock of a locked product.
	SetStock(ctx context.Context, id int64, stock int) error
}

// Line is a product quantity to reserve or release.
type Line struct {
	ProductID int64
	Quantity  int
}

// Shortage describes one line that cannot be satisfied from current stock.
type Shortage struct {
	ProductID int64 `json:"product_id"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

// ErrOverRelease is returned when a release exceeds what is held.
var ErrOverRelease = errors.New("release exceeds reserved quantity")

// Ledger reserves and releases stock inside one transaction.
type Ledger struct {
	store  Store
	rows   map[int64]*product.Product // nil value: locked lookup found no row
	held   map[int64]int
	maxKey int64
}

// NewLedger returns a Ledger operating on store.
func NewLedger(store Store) *Ledger {
	return &Ledger{
		store: store,
		rows:  make(map[int64]*product.Product),
		held:  make(map[int64]int),
	}
}

// Lock acquires exclusive locks on every product in ids in ascending order.
// Operations touching several products must lock them all with a single
// call before reserving or releasing, otherwise lock order across
// transactions is not guaranteed.
func (l *Ledger) Lock(ctx context.Context, ids ...int64) error {
	pending := lo.Filter(lo.Uniq(ids), func(id int64, _ int) bool {
		_, ok := l.rows[id]
		return !ok
	})
	if len(pending) == 0 {
		return nil
	}
	slices.Sort(pending)
	if len(l.rows) > 0 && pending[0] < l.maxKey {
		return errors.Errorf("lock product %d after %d breaks ascending lock order", pending[0], l.maxKey)
	}

	locked, err := l.store.LockProducts(ctx, pending)
	if err != nil {
		return errors.Wrap(err, "lock products")
	}
	for _, id := range pending {
		l.rows[id] = nil
	}
	for i := range locked {
		p := locked[i]
		l.rows[p.ID] = &p
	}
	l.maxKey = pending[len(pending)-1]
	return nil
}

// Hold records quantity already reserved by the order being processed, so
// that it can later be released.
func (l *Ledger) Hold(productID int64, qty int) {
	l.held[productID] += qty
}

// Product returns the locked row for id.
func (l *Ledger) Product(id int64) (product.Product, bool) {
	p, ok := l.rows[id]
	if !ok || p == nil {
		return product.Product{}, false
	}
	return *p, true
}

// Reserve decrements stock of one product and returns the locked row as it
// was before the decrement.
func (l *Ledger) Reserve(ctx context.Context, productID int64, qty int) (product.Product, error) {
	out, err := l.ReserveAll(ctx, []Line{{ProductID: productID, Quantity: qty}})
	if err != nil {
		return product.Product{}, err
	}
	return out[0], nil
}

// ReserveAll reserves every line or none of them. Lines are processed in
// ascending product id order. Every line short on stock is reported in the
// INSUFFICIENT_STOCK error details.
func (l *Ledger) ReserveAll(ctx context.Context, lines []Line) ([]product.Product, error) {
	for _, ln := range lines {
		if ln.Quantity < 1 {
			return nil, apperr.Errorf(apperr.Validation, "quantity for product %d must be at least 1", ln.ProductID)
		}
	}
	if err := l.Lock(ctx, lo.Map(lines, func(ln Line, _ int) int64 { return ln.ProductID })...); err != nil {
		return nil, err
	}

	sorted := slices.Clone(lines)
	slices.SortStableFunc(sorted, func(a, b Line) int { return cmp.Compare(a.ProductID, b.ProductID) })

	var (
		shortages []Shortage
		requested = make(map[int64]int, len(sorted))
	)
	for _, ln := range sorted {
		p, ok := l.Product(ln.ProductID)
		if !ok {
			return nil, product.ErrNotFound.WithDetail("product_id", ln.ProductID)
		}
		if !p.Orderable() {
			return nil, apperr.Errorf(apperr.ProductInactive, "product %d is not available for ordering", p.ID).
				WithDetail("product_id", p.ID)
		}
		requested[ln.ProductID] += ln.Quantity
		if p.Stock < requested[ln.ProductID] {
			shortages = append(shortages, Shortage{
				ProductID: p.ID,
				Requested: requested[ln.ProductID],
				Available: p.Stock,
			})
		}
	}
	if len(shortages) > 0 {
		return nil, apperr.New(apperr.InsufficientStock, "insufficient stock").
			WithDetail("items", shortages)
	}

	out := make([]product.Product, len(lines))
	for i, ln := range lines {
		p, _ := l.Product(ln.ProductID)
		out[i] = p
	}
	for _, ln := range sorted {
		if err := l.adjust(ctx, ln.ProductID, -ln.Quantity); err != nil {
			return nil, err
		}
		l.held[ln.ProductID] += ln.Quantity
	}
	return out, nil
}

// Release restores qty units of a product previously reserved or held.
func (l *Ledger) Release(ctx context.Context, productID int64, qty int) error {
	if qty < 1 {
		return nil
	}
	if l.held[productID] < qty {
		return errors.Wrapf(ErrOverRelease, "product %d: release %d, held %d", productID, qty, l.held[productID])
	}
	if err := l.Lock(ctx, productID); err != nil {
		return err
	}
	if _, ok := l.Product(productID); !ok {
		return product.ErrNotFound.WithDetail("product_id", productID)
	}
	if err := l.adjust(ctx, productID, qty); err != nil {
		return err
	}
	l.held[productID] -= qty
	return nil
}

// ReleaseAll releases every line in ascending product id order.
func (l *Ledger) ReleaseAll(ctx context.Context, lines []Line) error {
	if err := l.Lock(ctx, lo.Map(lines, func(ln Line, _ int) int64 { return ln.ProductID })...); err != nil {
		return err
	}
	sorted := slices.Clone(lines)
	slices.SortStableFunc(sorted, func(a, b Line) int { return cmp.Compare(a.ProductID, b.ProductID) })
	for _, ln := range sorted {
		if err := l.Release(ctx, ln.ProductID, ln.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) adjust(ctx context.Context, id int64, delta int) error {
	p := l.rows[id]
	next := p.Stock + delta
	if next < 0 {
		return apperr.Errorf(apperr.InsufficientStock, "insufficient stock for product %d", id)
	}
	if err := l.store.SetStock(ctx, id, next); err != nil {
		return errors.Wrapf(err, "set stock of product %d", id)
	}
	p.Stock = next
	return nil
}
