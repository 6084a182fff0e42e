package order

import (
	"context"
	"time"
)

// OperationType names a buyer action recorded in the operation history.
type OperationType string

const (
	OpCreateOrder OperationType = "CREATE_ORDER"
	OpUpdateOrder OperationType = "UPDATE_ORDER"
)

// Operation is one entry of a buyer's operation history.
type Operation struct {
	BuyerID   string
	Type      OperationType
	OrderID   string
	CreatedAt time.Time
}

// OperationLog stores the operation history.
type OperationLog interface {
	Record(ctx context.Context, op Operation) error
	// LastAt returns the time of the buyer's latest operation of type typ.
	LastAt(ctx context.Context, buyerID string, typ OperationType) (time.Time, bool, error)
}
