package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/product"
)

// listProducts returns the catalog, optionally filtered by the category and
// status query parameters.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := product.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, r, apperr.Errorf(apperr.Validation, "unknown product status %q", status))
		return
	}
	category := q.Get("category")

	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list products"))
		return
	}
	products = lo.Filter(products, func(p product.Product, _ int) bool {
		return (status == "" || p.Status == status) && (category == "" || p.Category == category)
	})

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for i := range products {
				h.encodeProduct(e, &products[i])
			}
			e.ArrEnd()
		})
		e.Field("total", func(e *jx.Encoder) { e.Int(len(products)) })
		e.ObjEnd()
	})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeProduct(e, p) })
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req product.CreateRequest
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "seller_id":
			req.SellerID, err = decodeOptStr(d)
		case "name":
			req.Name, err = d.Str()
		case "price":
			req.Price, err = h.decodePrice(d)
		case "stock":
			req.Stock, err = d.Int()
		case "category":
			req.Category, err = d.Str()
		case "status":
			var s string
			s, err = decodeOptStr(d)
			req.Status = product.Status(s)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.catalog.Create(r.Context(), identity(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { h.encodeProduct(e, p) })
}

// updateProduct applies a partial edit. Absent and null fields are kept.
func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req product.UpdateRequest
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		switch key {
		case "name":
			s, err := d.Str()
			req.Name = &s
			return err
		case "price":
			v, err := h.decodePrice(d)
			req.Price = &v
			return err
		case "stock":
			n, err := d.Int()
			req.Stock = &n
			return err
		case "category":
			s, err := d.Str()
			req.Category = &s
			return err
		case "status":
			s, err := d.Str()
			status := product.Status(s)
			req.Status = &status
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.catalog.Update(r.Context(), identity(r), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeProduct(e, p) })
}

// archiveProduct soft-deletes a product and returns it.
func (h *Handler) archiveProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.catalog.Archive(r.Context(), identity(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeProduct(e, p) })
}

// decodePrice rejects prices finer than the currency's minor unit.
func (h *Handler) decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	v, err := decodeDecimal(d, "price")
	if err != nil {
		return v, err
	}
	if !v.Equal(h.money.Round(v)) {
		return v, apperr.Errorf(apperr.Validation, "price must have at most %d decimal places", h.money.Scale())
	}
	return v, nil
}

func productID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.Validation, "product id must be a positive integer")
	}
	return id, nil
}
