package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/paygate/internal/domain/order"
)

// CreateOrder prices a cart snapshot and stores it as a new order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	req, err := decodeCreateOrder(body)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	o, err := h.svc.CreateOrder(ctx, req)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Str(o.ID) })
			e.Field("amount", func(e *jx.Encoder) { encodeAmount(e, o.Amount) })
			e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		})
	})
}

// GetOrder is the status poll used by the storefront after a redirect.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { EncodeOrder(e, o, false) })
}

// ListOrders lists orders newest first, optionally for one customer email.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := order.ListFilter{Email: strings.TrimSpace(q.Get("email"))}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > order.DefaultListLimit {
			respondError(r.Context(), w, &order.InvalidInputError{
				Field:  "limit",
				Reason: "must be between 1 and " + strconv.Itoa(order.DefaultListLimit),
			})
			return
		}
		f.Limit = limit
	}

	orders, err := h.svc.List(r.Context(), f)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				EncodeOrder(e, &orders[i], true)
			}
		})
	})
}

// OrderEvents returns the audit trail of an order.
func (h *Handler) OrderEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "orderID")
	if _, err := h.svc.Get(ctx, id); err != nil {
		respondError(ctx, w, err)
		return
	}
	evs, err := h.svc.Events(ctx, id)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, ev := range evs {
				EncodeEvent(e, ev)
			}
		})
	})
}

// PreparePayment hands the order to the requested gateway and returns a
// redirect URL or a client secret.
func (h *Handler) PreparePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	gw, err := decodeField(r, body, "gateway")
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if gw = strings.TrimSpace(gw); gw == "" {
		respondError(ctx, w, &order.InvalidInputError{Field: "gateway", Reason: "required"})
		return
	}

	orderID := chi.URLParam(r, "orderID")
	prep, err := h.svc.Prepare(ctx, orderID, gw)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Str(orderID) })
			e.Field("gateway", func(e *jx.Encoder) { e.Str(strings.ToLower(gw)) })
			optStr(e, "redirectUrl", prep.RedirectURL)
			optStr(e, "clientSecret", prep.ClientSecret)
		})
	})
}

// Charge confirms a tokenized payment synchronously.
func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	token, err := decodeField(r, body, "token")
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	o, err := h.svc.Charge(ctx, chi.URLParam(r, "orderID"), token)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { EncodeOrder(e, o, false) })
}
