package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xenking/marketplace/internal/domain/order"
)

const (
	recordOperationSQL = `INSERT INTO user_operations (buyer_id, operation_type, order_id, created_at)
		VALUES ($1, $2, $3, $4)`

	lastOperationSQL = `SELECT max(created_at) FROM user_operations
		WHERE buyer_id = $1 AND operation_type = $2`
)

type operationTx struct {
	q querier
}

var _ order.OperationLog = operationTx{}

func (t operationTx) Record(ctx context.Context, op order.Operation) error {
	_, err := t.q.Exec(ctx, recordOperationSQL, op.BuyerID, string(op.Type), op.OrderID, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording %s for %q: %w", op.Type, op.BuyerID, err)
	}
	return nil
}

func (t operationTx) LastAt(ctx context.Context, buyerID string, typ order.OperationType) (time.Time, bool, error) {
	var last *time.Time
	if err := t.q.QueryRow(ctx, lastOperationSQL, buyerID, string(typ)).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("reading last %s of %q: %w", typ, buyerID, err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}
