// Package ozow implements the second hosted-redirect gateway. A signed
// payment request is posted to the gateway API, which answers with the
// redirect URL; results arrive as signed form notifications.
package ozow

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // bank reference derivation only
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/paygate/internal/domain/amount"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/gateway"
	"github.com/xenking/paygate/internal/signature"
)

// Name identifies the adapter in routes and stored orders.
const Name = "ozow"

const (
	sandboxURL = "https://sandbox.ozow.com/pay/request"
	liveURL    = "https://www.ozow.com/pay/request"

	bankRefLen = 20
)

// requestScheme signs payment requests. The digest travels in HashCheck.
var requestScheme = func() signature.Scheme {
	s := signature.Ozow
	s.Field = "HashCheck"
	return s
}()

var _ payment.Gateway = (*Gateway)(nil)

// Config holds site credentials and callback URLs.
type Config struct {
	SiteCode   string
	APIKey     string
	PrivateKey string
	Mode       payment.Mode
	// APIURL overrides the mode-selected payment request endpoint.
	APIURL     string
	SuccessURL string
	CancelURL  string
	ErrorURL   string
	NotifyURL  string
}

// Gateway is the hosted-redirect adapter backed by the payment request API.
type Gateway struct {
	cfg    Config
	client *gateway.Client
}

// New creates the adapter. client performs the payment request call.
func New(cfg Config, client *gateway.Client) *Gateway {
	if cfg.Mode == "" {
		cfg.Mode = payment.ModeTest
	}
	if cfg.APIURL == "" {
		cfg.APIURL = sandboxURL
		if cfg.Mode == payment.ModeLive {
			cfg.APIURL = liveURL
		}
	}
	if cfg.ErrorURL == "" {
		cfg.ErrorURL = cfg.CancelURL
	}
	return &Gateway{cfg: cfg, client: client}
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) credentials() error {
	return gateway.RequireCredentials(Name, map[string]string{
		"site_code":   g.cfg.SiteCode,
		"api_key":     g.cfg.APIKey,
		"private_key": g.cfg.PrivateKey,
	})
}

// BankReference derives the short reference shown on bank statements.
func BankReference(orderID string) string {
	sum := md5.Sum([]byte(orderID)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:bankRefLen]
}

func (g *Gateway) requestParams(o *order.Order) url.Values {
	params := url.Values{}
	params.Set("SiteCode", g.cfg.SiteCode)
	params.Set("CountryCode", "ZA")
	params.Set("CurrencyCode", currency(o))
	params.Set("Amount", strconv.FormatInt(amount.MinorUnits(o.Amount), 10))
	params.Set("TransactionReference", o.ID)
	params.Set("BankReference", BankReference(o.ID))
	params.Set("SuccessUrl", gateway.WithOrder(g.cfg.SuccessURL, o.ID))
	params.Set("CancelUrl", gateway.WithOrder(g.cfg.CancelURL, o.ID))
	params.Set("ErrorUrl", gateway.WithOrder(g.cfg.ErrorURL, o.ID))
	params.Set("NotifyUrl", g.cfg.NotifyURL)
	params.Set("IsTest", strconv.FormatBool(g.cfg.Mode != payment.ModeLive))
	return params
}

// Prepare posts a signed payment request and returns the redirect URL.
func (g *Gateway) Prepare(ctx context.Context, o *order.Order) (*payment.Preparation, error) {
	if err := g.credentials(); err != nil {
		return nil, err
	}
	params := g.requestParams(o)
	params.Set(requestScheme.Field, requestScheme.Sign(params, g.cfg.PrivateKey))

	body := encodeRequest(params, o.Customer)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		var gwErr *payment.GatewayError
		if resp != nil && errors.As(err, &gwErr) {
			if r, decErr := decodeResponse(resp.Body); decErr == nil {
				gwErr.Message = r.Message
			}
		}
		return nil, errors.Wrap(err, "payment request")
	}

	r, err := decodeResponse(resp.Body)
	if err != nil {
		return nil, &payment.GatewayError{Gateway: Name, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	if r.RedirectURL == "" {
		msg := r.Message
		if msg == "" {
			msg = "missing redirect url"
		}
		return nil, &payment.GatewayError{Gateway: Name, StatusCode: http.StatusBadGateway, Message: msg}
	}
	return &payment.Preparation{RedirectURL: r.RedirectURL, Reference: r.PaymentRequestID}, nil
}

// Notify authenticates a form-encoded payment notification.
func (g *Gateway) Notify(_ context.Context, n payment.Notification) (*payment.Outcome, error) {
	form, err := n.Form()
	if err != nil {
		return nil, errors.Wrapf(payment.ErrMalformedNotification, "ozow: %s", err)
	}
	for _, field := range []string{"TransactionReference", "Status", "Hash"} {
		if form.Get(field) == "" {
			return nil, errors.Wrapf(payment.ErrMalformedNotification, "ozow: %s missing", field)
		}
	}
	if gateway.IsPlaceholder(g.cfg.PrivateKey) {
		return nil, errors.Wrap(payment.ErrGatewayNotConfigured, "ozow: private_key missing")
	}
	if !signature.Ozow.VerifyParams(form, g.cfg.PrivateKey) {
		return nil, errors.Wrap(payment.ErrSignatureInvalid, "ozow: hash mismatch")
	}
	if site := form.Get("SiteCode"); site != "" && site != g.cfg.SiteCode {
		return nil, errors.Wrap(payment.ErrSignatureInvalid, "ozow: site code mismatch")
	}

	out := &payment.Outcome{
		OrderID:        form.Get("TransactionReference"),
		TransactionID:  form.Get("TransactionId"),
		ProviderStatus: form.Get("Status"),
		Status:         mapStatus(form.Get("Status")),
	}
	if raw := form.Get("Amount"); raw != "" {
		minor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(payment.ErrMalformedNotification, "ozow: amount %q", raw)
		}
		out.Amount, out.HasAmount = amount.FromMinorUnits(minor), true
	}
	return out, nil
}

func mapStatus(s string) payment.OutcomeStatus {
	switch strings.ToLower(s) {
	case "complete":
		return payment.OutcomeSucceeded
	case "pending", "pendinginvestigation":
		return payment.OutcomePending
	case "cancelled":
		return payment.OutcomeCancelled
	case "error", "abandoned":
		return payment.OutcomeFailed
	default:
		return payment.OutcomeUnknown
	}
}

func currency(o *order.Order) string {
	if o.Currency == "" {
		return "ZAR"
	}
	return strings.ToUpper(o.Currency)
}

func splitName(full string) (first, last string) {
	first, last, _ = strings.Cut(strings.TrimSpace(full), " ")
	return first, strings.TrimSpace(last)
}

var requestFields = []string{
	"SiteCode", "CountryCode", "CurrencyCode", "Amount", "TransactionReference",
	"BankReference", "SuccessUrl", "CancelUrl", "ErrorUrl", "NotifyUrl", "HashCheck",
}

func encodeRequest(params url.Values, c order.Customer) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	first, last := splitName(c.Name)
	e.ObjStart()
	for _, k := range requestFields {
		e.FieldStart(k)
		if k == "Amount" {
			minor, _ := strconv.ParseInt(params.Get(k), 10, 64)
			e.Int64(minor)
			continue
		}
		e.Str(params.Get(k))
	}
	e.FieldStart("IsTest")
	e.Bool(params.Get("IsTest") == "true")
	e.FieldStart("Customer")
	e.ObjStart()
	e.FieldStart("FirstName")
	e.Str(first)
	e.FieldStart("LastName")
	e.Str(last)
	e.FieldStart("EmailAddress")
	e.Str(c.Email)
	e.FieldStart("Phone")
	e.Str(c.Phone)
	e.FieldStart("CountryCode")
	e.Str("ZA")
	e.ObjEnd()
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

type response struct {
	RedirectURL      string
	PaymentRequestID string
	Message          string
}

func decodeResponse(data []byte) (*response, error) {
	var r response
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		var err error
		switch strings.ToLower(key) {
		case "redirecturl", "url":
			r.RedirectURL, err = d.Str()
		case "paymentrequestid":
			r.PaymentRequestID, err = d.Str()
		case "message", "errormessage":
			r.Message, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode payment request response")
	}
	return &r, nil
}
