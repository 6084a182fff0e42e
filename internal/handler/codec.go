package handler

import (
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/promo"
	"github.com/xenking/marketplace/internal/domain/stock"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// decodeBody reads a JSON object from the request body, calling field for
// every key. Unknown keys must be skipped by field.
func decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return apperr.New(apperr.Validation, "request body is too large or unreadable")
	}
	if err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	}); err != nil {
		if _, ok := apperr.As(err); ok {
			return err
		}
		return apperr.Errorf(apperr.Validation, "malformed request body: %s", err)
	}
	return nil
}

func decodeItems(d *jx.Decoder) ([]order.ItemInput, error) {
	items := []order.ItemInput{}
	err := d.Arr(func(d *jx.Decoder) error {
		var it order.ItemInput
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "product_id":
				it.ProductID, err = d.Int64()
			case "quantity":
				it.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

// decodeOptStr reads a string that may be null.
func decodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	default:
		return decimal.Zero, apperr.Errorf(apperr.Validation, "%s must be a number", field)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperr.Errorf(apperr.Validation, "%s: invalid decimal %q", field, raw)
	}
	return v, nil
}

func decodeTime(d *jx.Decoder, field string) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.Errorf(apperr.Validation, "%s must be an RFC 3339 timestamp", field)
	}
	return t, nil
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func (h *Handler) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
	e.Field("buyer_id", func(e *jx.Encoder) { e.Str(o.BuyerID) })
	e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
	e.Field("items", func(e *jx.Encoder) {
		e.ArrStart()
		for _, it := range o.Items {
			e.ObjStart()
			e.Field("product_id", func(e *jx.Encoder) { e.Int64(it.ProductID) })
			e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
			e.Field("unit_price", func(e *jx.Encoder) { e.Str(h.money.Format(it.UnitPrice)) })
			e.ObjEnd()
		}
		e.ArrEnd()
	})
	e.Field("promo_code", func(e *jx.Encoder) {
		if o.PromoCode == "" {
			e.Null()
			return
		}
		e.Str(o.PromoCode)
	})
	e.Field("subtotal", func(e *jx.Encoder) { e.Str(h.money.Format(o.Subtotal())) })
	e.Field("discount", func(e *jx.Encoder) { e.Str(h.money.Format(o.Discount)) })
	e.Field("total", func(e *jx.Encoder) { e.Str(h.money.Format(o.Total)) })
	e.Field("currency", func(e *jx.Encoder) { e.Str(h.money.Currency()) })
	e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
	e.Field("updated_at", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
	e.ObjEnd()
}

func (h *Handler) encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
	e.Field("seller_id", func(e *jx.Encoder) { e.Str(p.SellerID) })
	e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
	e.Field("price", func(e *jx.Encoder) { e.Str(h.money.Format(p.Price)) })
	e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
	e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
	e.Field("status", func(e *jx.Encoder) { e.Str(string(p.Status)) })
	e.ObjEnd()
}

func (h *Handler) encodePromo(e *jx.Encoder, r *promo.Rule) {
	e.ObjStart()
	e.Field("code", func(e *jx.Encoder) { e.Str(r.Code) })
	e.Field("discount_type", func(e *jx.Encoder) { e.Str(string(r.DiscountType)) })
	e.Field("value", func(e *jx.Encoder) { e.Str(r.Value.String()) })
	e.Field("min_order_amount", func(e *jx.Encoder) { e.Str(h.money.Format(r.MinOrderAmount)) })
	e.Field("max_uses", func(e *jx.Encoder) { e.Int(r.MaxUses) })
	e.Field("current_uses", func(e *jx.Encoder) { e.Int(r.CurrentUses) })
	e.Field("valid_from", func(e *jx.Encoder) { encodeTime(e, r.ValidFrom) })
	e.Field("valid_until", func(e *jx.Encoder) { encodeTime(e, r.ValidUntil) })
	e.Field("active", func(e *jx.Encoder) { e.Bool(r.Active) })
	e.ObjEnd()
}

func encodeDetails(e *jx.Encoder, details map[string]any) {
	e.ObjStart()
	for _, k := range slices.Sorted(maps.Keys(details)) {
		e.Field(k, func(e *jx.Encoder) { encodeValue(e, details[k]) })
	}
	e.ObjEnd()
}

func encodeValue(e *jx.Encoder, v any) {
	switch v := v.(type) {
	case nil:
		e.Null()
	case string:
		e.Str(v)
	case int:
		e.Int(v)
	case int64:
		e.Int64(v)
	case bool:
		e.Bool(v)
	case decimal.Decimal:
		e.Str(v.String())
	case []stock.Shortage:
		e.ArrStart()
		for _, s := range v {
			e.ObjStart()
			e.Field("product_id", func(e *jx.Encoder) { e.Int64(s.ProductID) })
			e.Field("requested", func(e *jx.Encoder) { e.Int(s.Requested) })
			e.Field("available", func(e *jx.Encoder) { e.Int(s.Available) })
			e.ObjEnd()
		}
		e.ArrEnd()
	case fmt.Stringer:
		e.Str(v.String())
	default:
		e.Str(fmt.Sprint(v))
	}
}
