package order

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/marketplace/internal/domain/apperr"
)

// ErrHasActive is returned when a buyer already holds a non-terminal order.
var ErrHasActive = apperr.New(apperr.OrderHasActive, "buyer already has an active order")

// Guard enforces at most one non-terminal order per buyer. Claims are rows
// written in the order transaction, so a concurrent claim for the same
// buyer waits for the first transaction and then observes its outcome.
type Guard struct {
	claims ClaimStore
}

// NewGuard returns a Guard over the claims of one transaction.
func NewGuard(claims ClaimStore) Guard {
	return Guard{claims: claims}
}

// Claim marks orderID as the buyer's active order.
func (g Guard) Claim(ctx context.Context, buyerID, orderID string) error {
	ok, err := g.claims.Claim(ctx, buyerID, orderID)
	if err != nil {
		if errors.Is(err, apperr.OrderHasActive) {
			return ErrHasActive
		}
		return errors.Wrap(err, "claim active order slot")
	}
	if !ok {
		return ErrHasActive
	}
	return nil
}

// Release frees the buyer's slot held by orderID.
func (g Guard) Release(ctx context.Context, buyerID, orderID string) error {
	if err := g.claims.Release(ctx, buyerID, orderID); err != nil {
		return errors.Wrap(err, "release active order slot")
	}
	return nil
}
