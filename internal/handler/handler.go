// Package handler is the HTTP transport of the marketplace API. Routes are
// served by chi and bodies are encoded with jx. Reading the catalog is public;
// every other route requires an HS256 bearer token.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/money"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/promo"
	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

// Handler serves the /api routes.
type Handler struct {
	orders   *order.Service
	promos   *promo.Service
	products product.Repository
	catalog  *product.Service
	verifier *TokenVerifier
	money    money.Policy
	limiter  *httpmiddleware.Limiter
}

// Option configures a Handler.
type Option func(*Handler)

// WithMoneyPolicy sets how amounts are formatted in responses.
func WithMoneyPolicy(p money.Policy) Option {
	return func(h *Handler) { h.money = p }
}

// WithLimiter enables per-client rate limiting. Authenticated requests are
// limited after the token check so they are keyed by user.
func WithLimiter(l *httpmiddleware.Limiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// New returns a Handler.
func New(
	orders *order.Service,
	promos *promo.Service,
	products product.Repository,
	verifier *TokenVerifier,
	opts ...Option,
) *Handler {
	h := &Handler{
		orders:   orders,
		promos:   promos,
		products: products,
		catalog:  product.NewService(products),
		verifier: verifier,
		money:    money.MustPolicy("RUB"),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes mounts the API under /api.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit())
			r.Get("/products", h.listProducts)
			r.Get("/products/{id}", h.getProduct)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.verifier.Middleware(), h.rateLimit())
			r.Post("/orders", h.createOrder)
			r.Get("/orders/{id}", h.getOrder)
			r.Put("/orders/{id}", h.updateOrder)
			r.Post("/orders/{id}/cancel", h.cancelOrder)
			r.Post("/orders/{id}/complete", h.completeOrder)
			r.Post("/products", h.createProduct)
			r.Put("/products/{id}", h.updateProduct)
			r.Delete("/products/{id}", h.archiveProduct)
			r.Post("/promo-codes", h.createPromo)
		})
	})
}

func (h *Handler) rateLimit() func(http.Handler) http.Handler {
	if h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.limiter.Middleware()
}

// RateLimitKey keys authenticated requests by user id and anonymous ones by
// client address.
func RateLimitKey(r *http.Request) string {
	if id, ok := auth.FromContext(r.Context()); ok {
		return "user:" + id.UserID
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}

// identity returns the caller set by the token middleware.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
