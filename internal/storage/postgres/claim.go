package postgres

import (
	"context"
	"fmt"

	"github.com/xenking/marketplace/internal/domain/order"
)

const (
	// A concurrent insert for the same buyer blocks on the uncommitted row
	// and then either conflicts or proceeds, depending on the first outcome.
	claimSQL = `INSERT INTO active_order_claims (buyer_id, order_id) VALUES ($1, $2)
		ON CONFLICT (buyer_id) DO NOTHING`

	releaseClaimSQL = `DELETE FROM active_order_claims WHERE buyer_id = $1 AND order_id = $2`
)

type claimTx struct {
	q querier
}

var _ order.ClaimStore = claimTx{}

func (t claimTx) Claim(ctx context.Context, buyerID, orderID string) (bool, error) {
	tag, err := t.q.Exec(ctx, claimSQL, buyerID, orderID)
	if err != nil {
		return false, fmt.Errorf("claiming active order for %q: %w", buyerID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t claimTx) Release(ctx context.Context, buyerID, orderID string) error {
	if _, err := t.q.Exec(ctx, releaseClaimSQL, buyerID, orderID); err != nil {
		return fmt.Errorf("releasing active order of %q: %w", buyerID, err)
	}
	return nil
}
