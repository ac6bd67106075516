package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/amount"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
)

// apiError is a response status with the message safe to show callers.
type apiError struct {
	status  int
	message string
}

// mapError converts domain errors to API errors. Gateway and signature
// details never leave the process: they are logged here and recorded in
// the audit trail by the engine.
func mapError(ctx context.Context, err error) apiError {
	var (
		invalid  *order.InvalidInputError
		state    *order.StateError
		gwErr    *payment.GatewayError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &invalid):
		return apiError{http.StatusBadRequest, invalid.Error()}
	case errors.As(err, &tooLarge):
		return apiError{http.StatusRequestEntityTooLarge, "request body too large"}
	case errors.Is(err, amount.ErrInvalidAmount):
		return apiError{http.StatusBadRequest, "order total must be positive"}
	case errors.Is(err, amount.ErrAmountExceedsLimit):
		return apiError{http.StatusUnprocessableEntity, "order total exceeds the allowed limit"}
	case errors.Is(err, amount.ErrAmountMismatch):
		zctx.From(ctx).Error("Order amount re-verification failed", zap.Error(err))
		return apiError{http.StatusUnprocessableEntity, "order amount does not match its items"}
	case errors.Is(err, order.ErrNotFound):
		return apiError{http.StatusNotFound, "order not found"}
	case errors.As(err, &state):
		return apiError{http.StatusConflict, state.Error()}
	case errors.Is(err, payment.ErrUnknownGateway):
		return apiError{http.StatusNotFound, "unknown gateway"}
	case errors.Is(err, payment.ErrChargeUnsupported):
		return apiError{http.StatusBadRequest, "gateway does not support direct charges"}
	case errors.Is(err, payment.ErrSignatureInvalid), errors.Is(err, payment.ErrMalformedNotification):
		return apiError{http.StatusBadRequest, "invalid notification"}
	case errors.Is(err, payment.ErrGatewayNotConfigured):
		zctx.From(ctx).Error("Gateway not configured", zap.Error(err))
		return apiError{http.StatusServiceUnavailable, "payment gateway unavailable"}
	case errors.Is(err, payment.ErrGatewayUnreachable):
		zctx.From(ctx).Warn("Gateway unreachable", zap.Error(err))
		return apiError{http.StatusGatewayTimeout, "payment gateway did not respond, try again"}
	case errors.As(err, &gwErr):
		zctx.From(ctx).Warn("Gateway error", zap.Error(err))
		return apiError{http.StatusBadGateway, "payment gateway rejected the request"}
	default:
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		return apiError{http.StatusInternalServerError, "internal error"}
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	e := mapError(ctx, err)
	writeError(w, e.status, e.message)
}
