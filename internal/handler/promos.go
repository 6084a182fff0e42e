package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/marketplace/internal/domain/promo"
)

func (h *Handler) createPromo(w http.ResponseWriter, r *http.Request) {
	var req promo.CreateRequest
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			req.Code, err = d.Str()
		case "discount_type":
			var s string
			s, err = d.Str()
			req.DiscountType = promo.DiscountType(s)
		case "value":
			req.Value, err = decodeDecimal(d, key)
		case "min_order_amount":
			req.MinOrderAmount, err = decodeDecimal(d, key)
		case "max_uses":
			req.MaxUses, err = d.Int()
		case "valid_from":
			req.ValidFrom, err = decodeTime(d, key)
		case "valid_until":
			req.ValidUntil, err = decodeTime(d, key)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	rule, err := h.promos.Create(r.Context(), identity(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { h.encodePromo(e, rule) })
}
