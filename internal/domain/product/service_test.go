package product

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/auth"
)

type mockRepo struct {
	products map[int64]Product
	nextID   int64
}

func newMockRepo(ps ...Product) *mockRepo {
	m := &mockRepo{products: make(map[int64]Product), nextID: 1}
	for _, p := range ps {
		m.products[p.ID] = p
		m.nextID = max(m.nextID, p.ID+1)
	}
	return m
}

func (m *mockRepo) List(context.Context) ([]Product, error) { return nil, nil }

func (m *mockRepo) GetByID(_ context.Context, id int64) (*Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *mockRepo) AddProduct(_ context.Context, p Product) (Product, error) {
	p.ID = m.nextID
	m.nextID++
	m.products[p.ID] = p
	return p, nil
}

func (m *mockRepo) UpdateProduct(_ context.Context, id int64, fn func(p *Product) error) (*Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(&p); err != nil {
		return nil, err
	}
	m.products[id] = p
	return &p, nil
}

var (
	seller = auth.Identity{UserID: "s1", Role: auth.RoleSeller}
	admin  = auth.Identity{UserID: "a1", Role: auth.RoleAdmin}
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func listed() Product {
	return Product{
		ID:       7,
		SellerID: "s1",
		Name:     "Kettle",
		Price:    d("39.90"),
		Stock:    12,
		Category: "kitchen",
		Status:   StatusActive,
	}
}

func TestService_Create(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	p, err := svc.Create(ctx, seller, CreateRequest{
		SellerID: "someone-else",
		Name:     "  Kettle ",
		Price:    d("39.90"),
		Stock:    12,
		Category: "kitchen",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, "s1", p.SellerID)
	assert.Equal(t, "Kettle", p.Name)
	assert.Equal(t, StatusActive, p.Status)

	p, err = svc.Create(ctx, admin, CreateRequest{
		SellerID: "s2",
		Name:     "Toaster",
		Price:    d("0"),
		Category: "kitchen",
		Status:   StatusInactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "s2", p.SellerID)
	assert.Equal(t, StatusInactive, p.Status)
	assert.Len(t, repo.products, 2)
}

func TestService_Create_Rejects(t *testing.T) {
	valid := func() CreateRequest {
		return CreateRequest{Name: "Kettle", Price: d("39.90"), Stock: 1, Category: "kitchen"}
	}

	tests := []struct {
		name     string
		id       auth.Identity
		mutate   func(r *CreateRequest)
		wantCode apperr.Code
	}{
		{name: "buyer", id: auth.Identity{UserID: "u1", Role: auth.RoleUser}, wantCode: apperr.AccessDenied},
		{name: "blank name", id: seller, mutate: func(r *CreateRequest) { r.Name = "   " }, wantCode: apperr.Validation},
		{name: "long name", id: seller, mutate: func(r *CreateRequest) { r.Name = strings.Repeat("x", 256) }, wantCode: apperr.Validation},
		{name: "no category", id: seller, mutate: func(r *CreateRequest) { r.Category = "" }, wantCode: apperr.Validation},
		{name: "negative price", id: seller, mutate: func(r *CreateRequest) { r.Price = d("-0.01") }, wantCode: apperr.Validation},
		{name: "negative stock", id: seller, mutate: func(r *CreateRequest) { r.Stock = -1 }, wantCode: apperr.Validation},
		{name: "stock above limit", id: seller, mutate: func(r *CreateRequest) { r.Stock = MaxStock + 1 }, wantCode: apperr.Validation},
		{name: "unknown status", id: seller, mutate: func(r *CreateRequest) { r.Status = "SOLD_OUT" }, wantCode: apperr.Validation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			repo := newMockRepo()
			_, err := NewService(repo).Create(context.Background(), tt.id, req)
			require.ErrorIs(t, err, tt.wantCode)
			assert.Empty(t, repo.products)
		})
	}
}

func TestService_Update(t *testing.T) {
	repo := newMockRepo(listed())
	svc := NewService(repo)

	price := d("44.00")
	name := "Kettle 2L"
	p, err := svc.Update(context.Background(), seller, 7, UpdateRequest{Name: &name, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "Kettle 2L", p.Name)
	assert.True(t, p.Price.Equal(price))
	assert.Equal(t, 12, p.Stock)
	assert.Equal(t, "kitchen", p.Category)
}

func TestService_Update_Rejects(t *testing.T) {
	negative := -5
	blank := " "
	unknown := Status("GONE")

	tests := []struct {
		name     string
		id       auth.Identity
		product  int64
		req      UpdateRequest
		wantCode apperr.Code
	}{
		{name: "buyer", id: auth.Identity{UserID: "s1", Role: auth.RoleUser}, product: 7, wantCode: apperr.AccessDenied},
		{name: "other seller", id: auth.Identity{UserID: "s2", Role: auth.RoleSeller}, product: 7, wantCode: apperr.AccessDenied},
		{name: "missing", id: seller, product: 8, wantCode: apperr.ProductNotFound},
		{name: "negative stock", id: seller, product: 7, req: UpdateRequest{Stock: &negative}, wantCode: apperr.Validation},
		{name: "blank category", id: seller, product: 7, req: UpdateRequest{Category: &blank}, wantCode: apperr.Validation},
		{name: "unknown status", id: admin, product: 7, req: UpdateRequest{Status: &unknown}, wantCode: apperr.Validation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo(listed())
			_, err := NewService(repo).Update(context.Background(), tt.id, tt.product, tt.req)
			require.ErrorIs(t, err, tt.wantCode)
			assert.Equal(t, listed(), repo.products[7])
		})
	}
}

func TestService_Archive(t *testing.T) {
	for _, id := range []auth.Identity{seller, admin} {
		t.Run(string(id.Role), func(t *testing.T) {
			repo := newMockRepo(listed())
			p, err := NewService(repo).Archive(context.Background(), id, 7)
			require.NoError(t, err)
			assert.Equal(t, StatusArchived, p.Status)
			assert.False(t, p.Orderable())
			assert.Equal(t, StatusArchived, repo.products[7].Status)
		})
	}
}
