package product

import (
	"context"
	"math"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/auth"
)

const (
	// MaxStock matches the INTEGER stock column.
	MaxStock = math.MaxInt32

	maxNameLen     = 255
	maxCategoryLen = 100
)

// CreateRequest holds the input for listing a product. SellerID is only
// read for admins; sellers always list products under their own id.
type CreateRequest struct {
	SellerID string
	Name     string
	Price    decimal.Decimal
	Stock    int
	Category string
	Status   Status
}

// UpdateRequest holds a partial product edit. Nil fields are kept.
type UpdateRequest struct {
	Name     *string
	Price    *decimal.Decimal
	Stock    *int
	Category *string
	Status   *Status
}

// Service manages the catalog on behalf of sellers and admins.
type Service struct {
	repo Repository
}

// NewService returns a Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create lists a new product. It defaults to ACTIVE.
func (s *Service) Create(ctx context.Context, id auth.Identity, req CreateRequest) (*Product, error) {
	if err := id.Require(auth.RoleSeller, auth.RoleAdmin); err != nil {
		return nil, err
	}
	sellerID := strings.TrimSpace(req.SellerID)
	if !id.IsAdmin() || sellerID == "" {
		sellerID = id.UserID
	}
	status := req.Status
	if status == "" {
		status = StatusActive
	}
	p := Product{
		SellerID: sellerID,
		Name:     strings.TrimSpace(req.Name),
		Price:    req.Price,
		Stock:    req.Stock,
		Category: strings.TrimSpace(req.Category),
		Status:   status,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	added, err := s.repo.AddProduct(ctx, p)
	if err != nil {
		return nil, errors.Wrapf(err, "add product %q", p.Name)
	}
	return &added, nil
}

// Update edits a product owned by the caller. Admins may edit any product.
// Orders placed earlier keep their price snapshot.
func (s *Service) Update(ctx context.Context, id auth.Identity, productID int64, req UpdateRequest) (*Product, error) {
	if err := id.Require(auth.RoleSeller, auth.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.UpdateProduct(ctx, productID, func(p *Product) error {
		if err := owns(id, p); err != nil {
			return err
		}
		if req.Name != nil {
			p.Name = strings.TrimSpace(*req.Name)
		}
		if req.Price != nil {
			p.Price = *req.Price
		}
		if req.Stock != nil {
			p.Stock = *req.Stock
		}
		if req.Category != nil {
			p.Category = strings.TrimSpace(*req.Category)
		}
		if req.Status != nil {
			p.Status = *req.Status
		}
		return p.validate()
	})
}

// Archive soft-deletes a product. Archived products stay readable but can
// no longer be ordered.
func (s *Service) Archive(ctx context.Context, id auth.Identity, productID int64) (*Product, error) {
	archived := StatusArchived
	return s.Update(ctx, id, productID, UpdateRequest{Status: &archived})
}

func owns(id auth.Identity, p *Product) error {
	if id.IsAdmin() || p.SellerID == id.UserID {
		return nil
	}
	return apperr.New(apperr.AccessDenied, "product belongs to another seller").
		WithDetail("product_id", p.ID)
}

func (p *Product) validate() error {
	switch {
	case p.Name == "":
		return apperr.New(apperr.Validation, "name is required")
	case len(p.Name) > maxNameLen:
		return apperr.Errorf(apperr.Validation, "name must be at most %d characters", maxNameLen)
	case p.Category == "":
		return apperr.New(apperr.Validation, "category is required")
	case len(p.Category) > maxCategoryLen:
		return apperr.Errorf(apperr.Validation, "category must be at most %d characters", maxCategoryLen)
	case p.Price.IsNegative():
		return apperr.New(apperr.Validation, "price must not be negative")
	case p.Stock < 0 || p.Stock > MaxStock:
		return apperr.Errorf(apperr.Validation, "stock must be between 0 and %d", MaxStock)
	case !p.Status.Valid():
		return apperr.Errorf(apperr.Validation, "unknown product status %q", p.Status)
	}
	return nil
}
