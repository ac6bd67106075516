// Package handler exposes the reconciliation engine over HTTP.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/domain/reconcile"
)

// Service is the reconciliation surface served by the API.
type Service interface {
	CreateOrder(ctx context.Context, req reconcile.CreateOrderRequest) (*order.Order, error)
	Prepare(ctx context.Context, orderID, gateway string) (*payment.Preparation, error)
	Charge(ctx context.Context, orderID, token string) (*order.Order, error)
	Notify(ctx context.Context, gateway string, n payment.Notification) (*reconcile.Receipt, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	List(ctx context.Context, f order.ListFilter) ([]order.Order, error)
	Events(ctx context.Context, orderID string) ([]order.Event, error)
}

var _ Service = (*reconcile.Engine)(nil)

// Default request body limits.
const (
	DefaultMaxBodyBytes   = 1 << 20
	DefaultMaxNotifyBytes = 64 << 10
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	MaxBodyBytes   int64
	MaxNotifyBytes int64
}

// Handler serves the /api routes.
type Handler struct {
	svc      Service
	security *SecurityHandler

	maxBody   int64
	maxNotify int64
}

// NewHandler constructs a Handler. Operator routes are guarded by security.
func NewHandler(cfg HandlerConfig, svc Service, security *SecurityHandler) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MaxNotifyBytes <= 0 {
		cfg.MaxNotifyBytes = DefaultMaxNotifyBytes
	}
	return &Handler{
		svc:       svc,
		security:  security,
		maxBody:   cfg.MaxBodyBytes,
		maxNotify: cfg.MaxNotifyBytes,
	}
}

// Mount registers the API under /api.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.With(h.security.RequireAPIKey).Get("/", h.ListOrders)

			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.With(h.security.RequireAPIKey).Get("/events", h.OrderEvents)
				r.Post("/payments", h.PreparePayment)
				r.Post("/charge", h.Charge)
			})
		})
		r.Post("/notify/{gateway}", h.Notify)
	})
}

// Router returns a chi router serving the API.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.Mount(r)
	return r
}

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errors.Wrap(err, "read body")
		}
		return nil, &order.InvalidInputError{Field: "body", Reason: "unreadable"}
	}
	return body, nil
}
