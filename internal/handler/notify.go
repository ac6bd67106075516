package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/paygate/internal/domain/payment"
)

// Notify receives gateway callbacks. Every structurally valid and
// authenticated notification is acknowledged with 200, including those
// for unknown or already settled orders, so gateways stop retrying.
// Rejections carry a generic message only.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(w, r, h.maxNotify)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	receipt, err := h.svc.Notify(ctx, chi.URLParam(r, "gateway"), payment.Notification{
		Body:   body,
		Header: r.Header.Clone(),
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("received", func(e *jx.Encoder) { e.Bool(true) })
			if receipt.Status != "" {
				e.Field("status", func(e *jx.Encoder) { e.Str(string(receipt.Status)) })
			}
		})
	})
}
