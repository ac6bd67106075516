// Package payfast implements the first hosted-redirect gateway. Payment
// requests are signed parameter sets carried in the redirect URL, and
// results arrive as form-encoded instant payment notifications.
package payfast

import (
	"context"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/paygate/internal/domain/amount"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/gateway"
	"github.com/xenking/paygate/internal/signature"
)

// Name identifies the adapter in routes and stored orders.
const Name = "payfast"

const (
	sandboxURL = "https://sandbox.payfast.co.za/eng/process"
	liveURL    = "https://www.payfast.co.za/eng/process"

	maxNameLen = 32
)

var _ payment.Gateway = (*Gateway)(nil)

// Config holds merchant credentials and callback URLs.
type Config struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	Mode        payment.Mode
	// ProcessURL overrides the mode-selected process endpoint.
	ProcessURL string
	ReturnURL  string
	CancelURL  string
	NotifyURL  string
}

// Gateway is the hosted-redirect adapter. It makes no outbound calls.
type Gateway struct {
	cfg Config
}

// New creates the adapter.
func New(cfg Config) *Gateway {
	if cfg.Mode == "" {
		cfg.Mode = payment.ModeTest
	}
	if cfg.ProcessURL == "" {
		cfg.ProcessURL = sandboxURL
		if cfg.Mode == payment.ModeLive {
			cfg.ProcessURL = liveURL
		}
	}
	return &Gateway{cfg: cfg}
}

func (g *Gateway) Name() string { return Name }

// Prepare signs the payment request over its alphabetically ordered
// fields and returns the redirect URL.
func (g *Gateway) Prepare(_ context.Context, o *order.Order) (*payment.Preparation, error) {
	if err := gateway.RequireCredentials(Name, map[string]string{
		"merchant_id":  g.cfg.MerchantID,
		"merchant_key": g.cfg.MerchantKey,
	}); err != nil {
		return nil, err
	}

	first, last := splitName(o.Customer.Name)
	params := url.Values{}
	params.Set("merchant_id", g.cfg.MerchantID)
	params.Set("merchant_key", g.cfg.MerchantKey)
	params.Set("return_url", gateway.WithOrder(g.cfg.ReturnURL, o.ID))
	params.Set("cancel_url", gateway.WithOrder(g.cfg.CancelURL, o.ID))
	params.Set("notify_url", g.cfg.NotifyURL)
	params.Set("name_first", first)
	params.Set("name_last", last)
	params.Set("email_address", o.Customer.Email)
	params.Set("cell_number", digits(o.Customer.Phone))
	params.Set("m_payment_id", o.ID)
	params.Set("amount", amount.Format(o.Amount))
	params.Set("item_name", "Order #"+o.ID)
	params.Set("item_description", describe(o))

	sig := signature.PayFast.Sign(params, g.cfg.Passphrase)

	// The query carries the same alphabetical order the signature covers.
	keys := slices.Sorted(maps.Keys(params))
	var q strings.Builder
	for _, k := range keys {
		v := params.Get(k)
		if v == "" {
			continue
		}
		if q.Len() > 0 {
			q.WriteByte('&')
		}
		q.WriteString(k + "=" + url.QueryEscape(v))
	}
	q.WriteString("&signature=" + sig)

	return &payment.Preparation{RedirectURL: g.cfg.ProcessURL + "?" + q.String()}, nil
}

// Notify authenticates an instant payment notification. The signature is
// recomputed over the fields in the order they were posted.
func (g *Gateway) Notify(_ context.Context, n payment.Notification) (*payment.Outcome, error) {
	form, err := n.Form()
	if err != nil {
		return nil, errors.Wrapf(payment.ErrMalformedNotification, "payfast: %s", err)
	}
	for _, field := range []string{"m_payment_id", "payment_status", "signature"} {
		if form.Get(field) == "" {
			return nil, errors.Wrapf(payment.ErrMalformedNotification, "payfast: %s missing", field)
		}
	}
	if gateway.IsPlaceholder(g.cfg.MerchantID) {
		return nil, errors.Wrap(payment.ErrGatewayNotConfigured, "payfast: merchant_id missing")
	}
	if form.Get("merchant_id") != g.cfg.MerchantID {
		return nil, errors.Wrap(payment.ErrSignatureInvalid, "payfast: merchant id mismatch")
	}

	scheme := signature.PayFast.WithOrder(signature.FormKeys(string(n.Body))...)
	if !scheme.VerifyParams(form, g.cfg.Passphrase) {
		return nil, errors.Wrap(payment.ErrSignatureInvalid, "payfast: signature mismatch")
	}

	out := &payment.Outcome{
		OrderID:        form.Get("m_payment_id"),
		TransactionID:  form.Get("pf_payment_id"),
		ProviderStatus: form.Get("payment_status"),
		Status:         mapStatus(form.Get("payment_status")),
	}
	if raw := form.Get("amount_gross"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrapf(payment.ErrMalformedNotification, "payfast: amount_gross %q", raw)
		}
		out.Amount, out.HasAmount = v, true
	}
	return out, nil
}

func mapStatus(s string) payment.OutcomeStatus {
	switch strings.ToUpper(s) {
	case "COMPLETE":
		return payment.OutcomeSucceeded
	case "PENDING":
		return payment.OutcomePending
	case "FAILED":
		return payment.OutcomeFailed
	case "CANCELLED":
		return payment.OutcomeCancelled
	default:
		return payment.OutcomeUnknown
	}
}

func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	first, last, _ = strings.Cut(full, " ")
	return truncate(first, maxNameLen), truncate(strings.TrimSpace(last), maxNameLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func describe(o *order.Order) string {
	names := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if it.Name != "" {
			names = append(names, it.Name)
		}
	}
	return truncate(strings.Join(names, ", "), 255)
}
