package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/promo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seedProduct(t *testing.T, s *Store, stock int) product.Product {
	t.Helper()
	p, err := s.AddProduct(context.Background(), product.Product{
		SellerID: "seller-1",
		Name:     "Phone",
		Price:    decimal.RequireFromString("999.99"),
		Stock:    stock,
		Category: "electronics",
		Status:   product.StatusActive,
	})
	require.NoError(t, err)
	return p
}

func TestStore_RollbackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedProduct(t, s, 10)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		require.NoError(t, tx.Products().SetStock(ctx, p.ID, 3))
		ok, err := tx.Claims().Claim(ctx, "buyer-1", "order-1")
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Stock)
	_, claimed := s.ActiveOrder("buyer-1")
	assert.False(t, claimed)
}

func TestStore_CommitPublishes(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedProduct(t, s, 10)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.Products().SetStock(ctx, p.ID, 7)
	}))

	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Stock)
}

func TestStore_LockTimeout(t *testing.T) {
	s := New(WithLockTimeout(20 * time.Millisecond))
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.InTx(ctx, func(context.Context, order.Tx) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := s.InTx(ctx, func(context.Context, order.Tx) error { return nil })
	require.ErrorIs(t, err, apperr.ConcurrencyTimeout)

	close(release)
	require.NoError(t, <-done)
}

func TestStore_Claims(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		ok, err := tx.Claims().Claim(ctx, "buyer-1", "order-1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.Claims().Claim(ctx, "buyer-1", "order-2")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, tx.Claims().Release(ctx, "buyer-1", "order-2"))
		return nil
	}))

	id, ok := s.ActiveOrder("buyer-1")
	require.True(t, ok, "release by a different order must not free the slot")
	assert.Equal(t, "order-1", id)
}

func TestStore_PromoUses(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &promo.Rule{
		Code:         "ONCE",
		DiscountType: promo.DiscountFixed,
		Value:        decimal.NewFromInt(5),
		MaxUses:      1,
		Active:       true,
	}))
	require.ErrorIs(t, s.Create(ctx, &promo.Rule{Code: "ONCE"}), apperr.PromoConflict)

	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		require.NoError(t, tx.Promos().AddUses(ctx, "ONCE", 1))
		return tx.Promos().AddUses(ctx, "ONCE", 1)
	})
	require.Error(t, err, "uses must never exceed max uses")

	r, err := s.FindByCode(ctx, "once")
	require.NoError(t, err)
	assert.Equal(t, 0, r.CurrentUses)
}

func TestStore_UpdateProduct(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedProduct(t, s, 10)

	got, err := s.UpdateProduct(ctx, p.ID, func(p *product.Product) error {
		p.Stock = 4
		p.Status = product.StatusArchived
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, product.StatusArchived, got.Status)

	stored, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Stock)

	denied := apperr.New(apperr.AccessDenied, "no")
	_, err = s.UpdateProduct(ctx, p.ID, func(p *product.Product) error {
		p.Stock = 0
		return denied
	})
	require.ErrorIs(t, err, denied)
	stored, err = s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Stock)

	_, err = s.UpdateProduct(ctx, 999, func(*product.Product) error { return nil })
	require.ErrorIs(t, err, product.ErrNotFound)
}
