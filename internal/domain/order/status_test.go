package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace/internal/domain/apperr"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusCreated, StatusUpdated, true},
		{StatusCreated, StatusCancelled, true},
		{StatusCreated, StatusCompleted, true},
		{StatusUpdated, StatusUpdated, true},
		{StatusUpdated, StatusCancelled, true},
		{StatusCancelled, StatusCancelled, false},
		{StatusCancelled, StatusUpdated, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCompleted, StatusUpdated, false},
		{StatusCreated, StatusCreated, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestOrder_Cancel(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	o := &Order{Status: StatusUpdated}

	require.NoError(t, o.Cancel(at))
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, at, o.UpdatedAt)

	err := o.Cancel(at.Add(time.Hour))
	require.ErrorIs(t, err, apperr.OrderNotMutable)
	assert.Equal(t, at, o.UpdatedAt, "rejected transition leaves the order as is")

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "CANCELLED", appErr.Details["status"])
}

func TestOrder_Totals(t *testing.T) {
	o := Order{Items: []Item{
		{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("10.50")},
		{ProductID: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("0.99")},
	}}
	assert.True(t, o.Subtotal().Equal(decimal.RequireFromString("21.99")))
	assert.Len(t, o.Lines(), 2)
}

type fakeClaims struct {
	ok  bool
	err error
}

func (f fakeClaims) Claim(context.Context, string, string) (bool, error) { return f.ok, f.err }
func (f fakeClaims) Release(context.Context, string, string) error { return f.err }

func TestGuard_Claim(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, NewGuard(fakeClaims{ok: true}).Claim(ctx, "b", "o"))
	require.ErrorIs(t, NewGuard(fakeClaims{}).Claim(ctx, "b", "o"), apperr.OrderHasActive)
	require.ErrorIs(t, NewGuard(fakeClaims{err: apperr.New(apperr.OrderHasActive, "dup")}).Claim(ctx, "b", "o"),
		apperr.OrderHasActive)

	err := NewGuard(fakeClaims{err: errors.New("conn reset")}).Claim(ctx, "b", "o")
	require.Error(t, err)
	assert.Equal(t, apperr.Internal, apperr.CodeOf(err))
}
