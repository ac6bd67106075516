package payment

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
)

// Sentinel errors shared by all adapters.
var (
	ErrGatewayNotConfigured  = errors.New("gateway not configured")
	ErrSignatureInvalid      = errors.New("signature invalid")
	ErrMalformedNotification = errors.New("malformed notification")
	ErrGatewayUnreachable    = errors.New("gateway unreachable")
	ErrUnknownGateway        = errors.New("unknown gateway")
	ErrChargeUnsupported     = errors.New("gateway does not support direct charges")
)

// GatewayError is a non-success response from a gateway API.
type GatewayError struct {
	Gateway    string
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: gateway responded %d", e.Gateway, e.StatusCode)
	}
	return fmt.Sprintf("%s: gateway responded %d: %s", e.Gateway, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *GatewayError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether err leaves the order safe to prepare again.
func IsTransient(err error) bool {
	if errors.Is(err, ErrGatewayUnreachable) || errors.Is(err, ErrGatewayNotConfigured) {
		return true
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Temporary()
	}
	return true
}
