package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/promo"
	"github.com/xenking/marketplace/internal/storage/memory"
	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

var secret = []byte("test-secret")

var (
	buyer  = auth.Identity{UserID: "buyer-1", Role: auth.RoleUser}
	other  = auth.Identity{UserID: "buyer-2", Role: auth.RoleUser}
	seller = auth.Identity{UserID: "seller-1", Role: auth.RoleSeller}
	admin  = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}
)

// --- Mock implementations ---

type failingProducts struct {
	product.Repository
}

func (failingProducts) List(context.Context) ([]product.Product, error) {
	return nil, errors.New("db down")
}

func (failingProducts) GetByID(context.Context, int64) (*product.Product, error) {
	return nil, errors.New("db down")
}

// --- Helpers ---

type env struct {
	store  *memory.Store
	router chi.Router
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	store := memory.New()
	h := New(
		order.NewService(store),
		promo.NewService(store),
		store,
		NewTokenVerifier(secret),
		opts...,
	)
	r := chi.NewRouter()
	h.Routes(r)
	return &env{store: store, router: r}
}

func (e *env) product(t *testing.T, price string, stock int, status product.Status) int64 {
	t.Helper()
	p, err := e.store.AddProduct(context.Background(), product.Product{
		SellerID: seller.UserID,
		Name:     "item",
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		Category: "electronics",
		Status:   status,
	})
	require.NoError(t, err)
	return p.ID
}

func token(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := SignToken(secret, id, time.Hour, time.Now())
	require.NoError(t, err)
	return tok
}

type response struct {
	Status int
	Header http.Header
	Body   map[string]any
}

func (e *env) do(t *testing.T, method, path string, id *auth.Identity, body string) response {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if id != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *id))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	res := response{Status: rec.Code, Header: rec.Header()}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res.Body), rec.Body.String())
	return res
}

func requireCode(t *testing.T, res response, status int, code string) {
	t.Helper()
	require.Equal(t, status, res.Status, res.Body)
	assert.Equal(t, code, res.Body["code"])
}

// --- Tests ---

func TestListProducts(t *testing.T) {
	e := newEnv(t)
	e.product(t, "10.00", 5, product.StatusActive)
	e.product(t, "20.50", 0, product.StatusArchived)

	res := e.do(t, http.MethodGet, "/api/products", nil, "")
	require.Equal(t, http.StatusOK, res.Status)
	items := res.Body["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "10.00", items[0].(map[string]any)["price"])
	assert.Equal(t, "20.50", items[1].(map[string]any)["price"])

	res = e.do(t, http.MethodGet, "/api/products?status=ARCHIVED", nil, "")
	require.Equal(t, http.StatusOK, res.Status)
	assert.EqualValues(t, 1, res.Body["total"])

	res = e.do(t, http.MethodGet, "/api/products?status=SOLD", nil, "")
	requireCode(t, res, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestListProducts_Error(t *testing.T) {
	h := New(nil, nil, failingProducts{}, NewTokenVerifier(secret))
	r := chi.NewRouter()
	h.Routes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"code":"INTERNAL_ERROR","message":"internal server error"}`, rec.Body.String())
}

func TestGetProduct(t *testing.T) {
	e := newEnv(t)
	id := e.product(t, "999.99", 3, product.StatusActive)

	res := e.do(t, http.MethodGet, "/api/products/1", nil, "")
	require.Equal(t, http.StatusOK, res.Status)
	assert.EqualValues(t, id, res.Body["id"])
	assert.EqualValues(t, 3, res.Body["stock"])

	requireCode(t, e.do(t, http.MethodGet, "/api/products/42", nil, ""), http.StatusNotFound, "PRODUCT_NOT_FOUND")
	requireCode(t, e.do(t, http.MethodGet, "/api/products/abc", nil, ""), http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestAuthentication(t *testing.T) {
	e := newEnv(t)

	expired, err := SignToken(secret, buyer, time.Hour, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	foreign, err := SignToken([]byte("other-secret"), buyer, time.Hour, time.Now())
	require.NoError(t, err)
	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}).SignedString(secret)
	require.NoError(t, err)
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             string(auth.RoleUser),
		Type:             "refresh",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}).SignedString(secret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing", "", "TOKEN_INVALID"},
		{"wrong scheme", "Basic abc", "TOKEN_INVALID"},
		{"garbage", "Bearer not-a-token", "TOKEN_INVALID"},
		{"expired", "Bearer " + expired, "TOKEN_EXPIRED"},
		{"wrong secret", "Bearer " + foreign, "TOKEN_INVALID"},
		{"no role", "Bearer " + noRole, "TOKEN_INVALID"},
		{"refresh token", "Bearer " + refresh, "TOKEN_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/orders/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestOrderLifecycle(t *testing.T) {
	e := newEnv(t)
	p1 := e.product(t, "100.00", 10, product.StatusActive)
	p2 := e.product(t, "50.00", 10, product.StatusActive)

	res := e.do(t, http.MethodPost, "/api/promo-codes", &seller, `{
		"code": "save10",
		"discount_type": "PERCENTAGE",
		"value": 10,
		"min_order_amount": "100",
		"max_uses": 5,
		"valid_from": "`+time.Now().Add(-time.Hour).Format(time.RFC3339)+`",
		"valid_until": "`+time.Now().Add(24*time.Hour).Format(time.RFC3339)+`"
	}`)
	require.Equal(t, http.StatusCreated, res.Status, res.Body)
	assert.Equal(t, "SAVE10", res.Body["code"])

	res = e.do(t, http.MethodPost, "/api/orders", &buyer,
		`{"items":[{"product_id":1,"quantity":2},{"product_id":2,"quantity":1}],"promo_code":"save10"}`)
	require.Equal(t, http.StatusCreated, res.Status, res.Body)
	orderID := res.Body["id"].(string)
	assert.Equal(t, "CREATED", res.Body["status"])
	assert.Equal(t, "250.00", res.Body["subtotal"])
	assert.Equal(t, "25.00", res.Body["discount"])
	assert.Equal(t, "225.00", res.Body["total"])
	assert.Equal(t, "SAVE10", res.Body["promo_code"])

	res = e.do(t, http.MethodGet, "/api/orders/"+orderID, &buyer, "")
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "225.00", res.Body["total"])

	requireCode(t, e.do(t, http.MethodGet, "/api/orders/"+orderID, &other, ""), http.StatusForbidden, "ACCESS_DENIED")

	res = e.do(t, http.MethodPut, "/api/orders/"+orderID, &buyer, `{"items":[{"product_id":2,"quantity":4}]}`)
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, "UPDATED", res.Body["status"])
	assert.Equal(t, "180.00", res.Body["total"])

	p, err := e.store.GetByID(context.Background(), p1)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)
	p, err = e.store.GetByID(context.Background(), p2)
	require.NoError(t, err)
	assert.Equal(t, 6, p.Stock)

	res = e.do(t, http.MethodPost, "/api/orders/"+orderID+"/cancel", &buyer, "")
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "CANCELLED", res.Body["status"])

	res = e.do(t, http.MethodPost, "/api/orders/"+orderID+"/cancel", &buyer, "")
	requireCode(t, res, http.StatusConflict, "ORDER_NOT_MUTABLE")
	assert.Equal(t, map[string]any{"status": "CANCELLED"}, res.Body["details"])
}

func TestCreateOrder_Errors(t *testing.T) {
	e := newEnv(t)
	e.product(t, "10.00", 1, product.StatusActive)
	e.product(t, "10.00", 5, product.StatusInactive)

	tests := []struct {
		name   string
		id     auth.Identity
		body   string
		status int
		code   string
	}{
		{"malformed", buyer, `{"items":`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"wrong type", buyer, `{"items":[{"product_id":"one","quantity":1}]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"empty", buyer, `{"items":[]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"zero quantity", buyer, `{"items":[{"product_id":1,"quantity":0}]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"seller", seller, `{"items":[{"product_id":1,"quantity":1}]}`, http.StatusForbidden, "ACCESS_DENIED"},
		{"unknown product", buyer, `{"items":[{"product_id":99,"quantity":1}]}`, http.StatusNotFound, "PRODUCT_NOT_FOUND"},
		{"inactive product", buyer, `{"items":[{"product_id":2,"quantity":1}]}`, http.StatusConflict, "PRODUCT_INACTIVE"},
		{"unknown promo", buyer, `{"items":[{"product_id":1,"quantity":1}],"promo_code":"NOPE"}`, http.StatusUnprocessableEntity, "PROMO_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireCode(t, e.do(t, http.MethodPost, "/api/orders", &tt.id, tt.body), tt.status, tt.code)
		})
	}
	assert.Empty(t, e.store.Orders())
}

func TestCreateOrder_InsufficientStockDetails(t *testing.T) {
	e := newEnv(t)
	e.product(t, "10.00", 1, product.StatusActive)
	e.product(t, "10.00", 2, product.StatusActive)

	res := e.do(t, http.MethodPost, "/api/orders", &buyer,
		`{"items":[{"product_id":1,"quantity":3},{"product_id":2,"quantity":5}]}`)
	requireCode(t, res, http.StatusConflict, "INSUFFICIENT_STOCK")

	details := res.Body["details"].(map[string]any)
	assert.Equal(t, []any{
		map[string]any{"product_id": 1.0, "requested": 3.0, "available": 1.0},
		map[string]any{"product_id": 2.0, "requested": 5.0, "available": 2.0},
	}, details["items"])
}

func TestCreateOrder_SecondActive(t *testing.T) {
	e := newEnv(t)
	e.product(t, "10.00", 10, product.StatusActive)
	body := `{"items":[{"product_id":1,"quantity":1}]}`

	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/orders", &buyer, body).Status)
	requireCode(t, e.do(t, http.MethodPost, "/api/orders", &buyer, body), http.StatusConflict, "ORDER_HAS_ACTIVE")
}

func TestCompleteOrder(t *testing.T) {
	e := newEnv(t)
	e.product(t, "10.00", 10, product.StatusActive)
	res := e.do(t, http.MethodPost, "/api/orders", &buyer, `{"items":[{"product_id":1,"quantity":1}]}`)
	require.Equal(t, http.StatusCreated, res.Status)
	orderID := res.Body["id"].(string)

	requireCode(t, e.do(t, http.MethodPost, "/api/orders/"+orderID+"/complete", &buyer, ""),
		http.StatusForbidden, "ACCESS_DENIED")

	res = e.do(t, http.MethodPost, "/api/orders/"+orderID+"/complete", &admin, "")
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "COMPLETED", res.Body["status"])

	requireCode(t, e.do(t, http.MethodGet, "/api/orders/missing", &buyer, ""), http.StatusNotFound, "ORDER_NOT_FOUND")
}

func TestCreatePromo_Errors(t *testing.T) {
	e := newEnv(t)
	valid := func(code string) string {
		return `{"code":"` + code + `","discount_type":"FIXED","value":"5.00","max_uses":1,` +
			`"valid_from":"2025-01-01T00:00:00Z","valid_until":"2030-01-01T00:00:00Z"}`
	}
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/promo-codes", &admin, valid("DUP")).Status)

	requireCode(t, e.do(t, http.MethodPost, "/api/promo-codes", &admin, valid("dup")), http.StatusConflict, "PROMO_CODE_CONFLICT")
	requireCode(t, e.do(t, http.MethodPost, "/api/promo-codes", &buyer, valid("NEW")), http.StatusForbidden, "ACCESS_DENIED")
	requireCode(t, e.do(t, http.MethodPost, "/api/promo-codes", &admin,
		`{"code":"BAD","discount_type":"FIXED","value":"x"}`), http.StatusBadRequest, "VALIDATION_ERROR")
	requireCode(t, e.do(t, http.MethodPost, "/api/promo-codes", &admin,
		`{"code":"BAD","discount_type":"FIXED","value":1,"max_uses":1,"valid_from":"yesterday"}`),
		http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestProductManagement(t *testing.T) {
	e := newEnv(t)

	res := e.do(t, http.MethodPost, "/api/products", &seller,
		`{"name":"Desk lamp","price":"24.90","stock":3,"category":"home","seller_id":"someone-else"}`)
	require.Equal(t, http.StatusCreated, res.Status, res.Body)
	assert.Equal(t, seller.UserID, res.Body["seller_id"])
	assert.Equal(t, "ACTIVE", res.Body["status"])
	path := "/api/products/" + strconv.FormatInt(int64(res.Body["id"].(float64)), 10)

	res = e.do(t, http.MethodPost, "/api/orders", &buyer, `{"items":[{"product_id":1,"quantity":1}]}`)
	require.Equal(t, http.StatusCreated, res.Status, res.Body)
	orderID := res.Body["id"].(string)

	res = e.do(t, http.MethodPut, path, &seller, `{"price":"30.00","category":null}`)
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, "30.00", res.Body["price"])
	assert.Equal(t, "home", res.Body["category"])
	assert.EqualValues(t, 2, res.Body["stock"])

	// The placed order keeps the price it was created with.
	res = e.do(t, http.MethodGet, "/api/orders/"+orderID, &buyer, "")
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "24.90", res.Body["items"].([]any)[0].(map[string]any)["unit_price"])

	res = e.do(t, http.MethodDelete, path, &seller, "")
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, "ARCHIVED", res.Body["status"])

	requireCode(t, e.do(t, http.MethodPost, "/api/orders", &other, `{"items":[{"product_id":1,"quantity":1}]}`),
		http.StatusConflict, "PRODUCT_INACTIVE")

	res = e.do(t, http.MethodPut, path, &admin, `{"status":"ACTIVE"}`)
	require.Equal(t, http.StatusOK, res.Status, res.Body)
	assert.Equal(t, "ACTIVE", res.Body["status"])
}

func TestProductManagement_Errors(t *testing.T) {
	e := newEnv(t)
	e.product(t, "10.00", 5, product.StatusActive)
	rival := auth.Identity{UserID: "seller-2", Role: auth.RoleSeller}
	valid := `{"name":"Mug","price":"5.00","stock":1,"category":"kitchen"}`

	tests := []struct {
		name   string
		method string
		path   string
		id     auth.Identity
		body   string
		status int
		code   string
	}{
		{name: "buyer creates", method: http.MethodPost, path: "/api/products", id: buyer, body: valid, status: http.StatusForbidden, code: "ACCESS_DENIED"},
		{name: "sub-cent price", method: http.MethodPost, path: "/api/products", id: seller, body: `{"name":"Mug","price":"5.001","stock":1,"category":"kitchen"}`, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "negative stock", method: http.MethodPost, path: "/api/products", id: seller, body: `{"name":"Mug","price":"5.00","stock":-1,"category":"kitchen"}`, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "other seller updates", method: http.MethodPut, path: "/api/products/1", id: rival, body: `{"stock":0}`, status: http.StatusForbidden, code: "ACCESS_DENIED"},
		{name: "other seller archives", method: http.MethodDelete, path: "/api/products/1", id: rival, status: http.StatusForbidden, code: "ACCESS_DENIED"},
		{name: "buyer archives", method: http.MethodDelete, path: "/api/products/1", id: buyer, status: http.StatusForbidden, code: "ACCESS_DENIED"},
		{name: "unknown status", method: http.MethodPut, path: "/api/products/1", id: seller, body: `{"status":"GONE"}`, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "missing product", method: http.MethodDelete, path: "/api/products/42", id: seller, status: http.StatusNotFound, code: "PRODUCT_NOT_FOUND"},
		{name: "bad id", method: http.MethodPut, path: "/api/products/abc", id: seller, body: `{}`, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireCode(t, e.do(t, tt.method, tt.path, &tt.id, tt.body), tt.status, tt.code)
		})
	}

	p, err := e.store.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
	assert.Equal(t, product.StatusActive, p.Status)

	// Products routes other than reads need a token.
	requireCode(t, e.do(t, http.MethodPost, "/api/products", nil, valid), http.StatusUnauthorized, "TOKEN_INVALID")
}

func TestRateLimit(t *testing.T) {
	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: RateLimitKey,
	})
	e := newEnv(t, WithLimiter(limiter))
	e.product(t, "10.00", 10, product.StatusActive)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/products", nil, "").Status)
	requireCode(t, e.do(t, http.MethodGet, "/api/products", nil, ""), http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")

	// Authenticated callers have their own budget.
	res := e.do(t, http.MethodGet, "/api/orders/missing", &buyer, "")
	requireCode(t, res, http.StatusNotFound, "ORDER_NOT_FOUND")
	requireCode(t, e.do(t, http.MethodGet, "/api/orders/missing", &buyer, ""), http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")
	requireCode(t, e.do(t, http.MethodGet, "/api/orders/missing", &other, ""), http.StatusNotFound, "ORDER_NOT_FOUND")
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf("CONCURRENCY_TIMEOUT"))
	assert.Equal(t, http.StatusTooManyRequests, StatusOf("ORDER_LIMIT_EXCEEDED"))
	assert.Equal(t, http.StatusInternalServerError, StatusOf("SOMETHING_ELSE"))
}
