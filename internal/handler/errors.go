package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/apperr"
)

var statusByCode = map[apperr.Code]int{
	apperr.Validation:         http.StatusBadRequest,
	apperr.TokenInvalid:       http.StatusUnauthorized,
	apperr.TokenExpired:       http.StatusUnauthorized,
	apperr.AccessDenied:       http.StatusForbidden,
	apperr.ProductNotFound:    http.StatusNotFound,
	apperr.OrderNotFound:      http.StatusNotFound,
	apperr.ProductInactive:    http.StatusConflict,
	apperr.InsufficientStock:  http.StatusConflict,
	apperr.OrderHasActive:     http.StatusConflict,
	apperr.OrderNotMutable:    http.StatusConflict,
	apperr.PromoConflict:      http.StatusConflict,
	apperr.PromoNotFound:      http.StatusUnprocessableEntity,
	apperr.PromoExpired:       http.StatusUnprocessableEntity,
	apperr.PromoLimitReached:  http.StatusUnprocessableEntity,
	apperr.PromoMinOrder:      http.StatusUnprocessableEntity,
	apperr.OrderLimit:         http.StatusTooManyRequests,
	apperr.ConcurrencyTimeout: http.StatusServiceUnavailable,
}

// StatusOf returns the HTTP status for an error code.
func StatusOf(code apperr.Code) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"code", "message", "details"}. Errors outside
// the taxonomy are logged and reported as INTERNAL_ERROR without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	msg := string(code)
	var details map[string]any

	if code == apperr.Internal {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	} else if e, ok := apperr.As(err); ok {
		msg, details = e.Message, e.Details
	}

	writeJSON(w, StatusOf(code), func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("code", func(e *jx.Encoder) { e.Str(string(code)) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		if len(details) > 0 {
			e.Field("details", func(e *jx.Encoder) { encodeDetails(e, details) })
		}
		e.ObjEnd()
	})
}
