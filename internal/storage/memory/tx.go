package memory

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/promo"
	"github.com/xenking/marketplace/internal/domain/stock"
)

type tx struct {
	st *state
}

var _ order.Tx = (*tx)(nil)

func (t *tx) Products() stock.Store { return productTx{t.st} }
func (t *tx) Promos() promo.Store { return promoTx{t.st} }
func (t *tx) Claims() order.ClaimStore { return claimTx{t.st} }
func (t *tx) Orders() order.Repository { return orderTx{t.st} }
func (t *tx) Operations() order.OperationLog { return operationTx{t.st} }

type productTx struct{ st *state }

func (p productTx) LockProducts(_ context.Context, ids []int64) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if row, ok := p.st.products[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (p productTx) SetStock(_ context.Context, id int64, stock int) error {
	row, ok := p.st.products[id]
	if !ok {
		return errors.Errorf("product %d: no row", id)
	}
	if stock < 0 {
		return errors.Errorf("product %d: stock must not be negative", id)
	}
	row.Stock = stock
	p.st.products[id] = row
	return nil
}

type promoTx struct{ st *state }

func (p promoTx) LockByCode(_ context.Context, code string) (*promo.Rule, error) {
	r, ok := p.st.promos[code]
	if !ok {
		return nil, promo.ErrNotFound
	}
	return &r, nil
}

func (p promoTx) AddUses(_ context.Context, code string, delta int) error {
	r, ok := p.st.promos[code]
	if !ok {
		return errors.Errorf("promo %q: no row", code)
	}
	uses := r.CurrentUses + delta
	if uses < 0 || uses > r.MaxUses {
		return errors.Errorf("promo %q: current uses %d out of range", code, uses)
	}
	r.CurrentUses = uses
	p.st.promos[code] = r
	return nil
}

type claimTx struct{ st *state }

func (c claimTx) Claim(_ context.Context, buyerID, orderID string) (bool, error) {
	if _, ok := c.st.claims[buyerID]; ok {
		return false, nil
	}
	c.st.claims[buyerID] = orderID
	return true, nil
}

func (c claimTx) Release(_ context.Context, buyerID, orderID string) error {
	if c.st.claims[buyerID] == orderID {
		delete(c.st.claims, buyerID)
	}
	return nil
}

type orderTx struct{ st *state }

func (o orderTx) Insert(_ context.Context, ord *order.Order) error {
	if _, ok := o.st.orders[ord.ID]; ok {
		return errors.Errorf("order %q already exists", ord.ID)
	}
	o.st.orders[ord.ID] = copyOrder(*ord)
	return nil
}

func (o orderTx) Get(_ context.Context, id string) (*order.Order, error) {
	ord, ok := o.st.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	ord = copyOrder(ord)
	return &ord, nil
}

func (o orderTx) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return o.Get(ctx, id)
}

func (o orderTx) Update(_ context.Context, ord *order.Order) error {
	if _, ok := o.st.orders[ord.ID]; !ok {
		return order.ErrNotFound
	}
	o.st.orders[ord.ID] = copyOrder(*ord)
	return nil
}

type operationTx struct{ st *state }

func (o operationTx) Record(_ context.Context, op order.Operation) error {
	o.st.ops = append(o.st.ops, op)
	return nil
}

func (o operationTx) LastAt(_ context.Context, buyerID string, typ order.OperationType) (time.Time, bool, error) {
	var (
		last  time.Time
		found bool
	)
	for _, op := range o.st.ops {
		if op.BuyerID == buyerID && op.Type == typ && (!found || op.CreatedAt.After(last)) {
			last, found = op.CreatedAt, true
		}
	}
	return last, found, nil
}
