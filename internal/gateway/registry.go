package gateway

import (
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/paygate/internal/domain/payment"
)

// Registry resolves adapters by name.
type Registry struct {
	byName map[string]payment.Gateway
	names  []string
}

// NewRegistry registers gws under their own names. A later adapter with
// the same name replaces an earlier one.
func NewRegistry(gws ...payment.Gateway) *Registry {
	r := &Registry{byName: make(map[string]payment.Gateway, len(gws))}
	for _, gw := range gws {
		if _, ok := r.byName[gw.Name()]; !ok {
			r.names = append(r.names, gw.Name())
		}
		r.byName[gw.Name()] = gw
	}
	return r
}

// Gateway returns the adapter registered under name.
func (r *Registry) Gateway(name string) (payment.Gateway, bool) {
	gw, ok := r.byName[strings.ToLower(name)]
	return gw, ok
}

// Names lists registered adapters in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

const placeholderMarker = "REPLACE_WITH"

// IsPlaceholder reports whether a credential value is missing or still
// holds a template placeholder.
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.Contains(strings.ToUpper(v), placeholderMarker)
}

// RequireCredentials returns payment.ErrGatewayNotConfigured naming the
// first missing credential.
func RequireCredentials(gateway string, creds map[string]string) error {
	for _, name := range slices.Sorted(maps.Keys(creds)) {
		if IsPlaceholder(creds[name]) {
			return errors.Wrapf(payment.ErrGatewayNotConfigured, "%s: %s missing", gateway, name)
		}
	}
	return nil
}

// WithOrder appends the order id to a storefront return URL.
func WithOrder(rawURL, orderID string) string {
	u, err := url.Parse(rawURL)
	if err != nil || rawURL == "" {
		return rawURL
	}
	q := u.Query()
	q.Set("order", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

// NotifyURL is the callback endpoint a gateway posts notifications to.
func NotifyURL(baseURL, gateway string) string {
	return strings.TrimRight(baseURL, "/") + "/api/notify/" + gateway
}
