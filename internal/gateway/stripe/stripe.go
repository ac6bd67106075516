// Package stripe implements the tokenized-charge gateway: PaymentIntent
// creation for client-side confirmation, synchronous server-side charges
// and signed webhook events.
package stripe

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/amount"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/gateway"
	"github.com/xenking/paygate/internal/signature"
)

// Name identifies the adapter in routes and stored orders.
const Name = "stripe"

// SignatureHeader carries the webhook envelope.
const SignatureHeader = "Stripe-Signature"

const defaultAPIURL = "https://api.stripe.com"

var (
	_ payment.Gateway = (*Gateway)(nil)
	_ payment.Charger = (*Gateway)(nil)
)

// Config holds the adapter credentials and behaviour switches.
type Config struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	Mode          payment.Mode
	APIURL        string
	// AllowUnsigned accepts webhooks without a configured secret. Honoured
	// only in test mode.
	AllowUnsigned bool
	Tolerance     time.Duration
}

// Gateway is the tokenized-charge adapter.
type Gateway struct {
	cfg    Config
	client *gateway.Client
	now    func() time.Time
}

// New creates the adapter. client performs all API calls.
func New(cfg Config, client *gateway.Client) *Gateway {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Currency == "" {
		cfg.Currency = "zar"
	}
	cfg.Currency = strings.ToLower(cfg.Currency)
	if cfg.Mode == "" {
		cfg.Mode = payment.ModeTest
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = signature.DefaultTolerance
	}
	return &Gateway{cfg: cfg, client: client, now: time.Now}
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) checkKey() error {
	if err := gateway.RequireCredentials(Name, map[string]string{"secret_key": g.cfg.SecretKey}); err != nil {
		return err
	}
	switch {
	case g.cfg.Mode == payment.ModeLive && strings.HasPrefix(g.cfg.SecretKey, "sk_test_"):
		return errors.Wrap(payment.ErrGatewayNotConfigured, "stripe: test key in live mode")
	case g.cfg.Mode == payment.ModeTest && strings.HasPrefix(g.cfg.SecretKey, "sk_live_"):
		return errors.Wrap(payment.ErrGatewayNotConfigured, "stripe: live key in test mode")
	}
	return nil
}

func (g *Gateway) intentForm(o *order.Order) url.Values {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount.MinorUnits(o.Amount), 10))
	form.Set("currency", g.cfg.Currency)
	form.Set("description", "Order "+o.ID)
	form.Set("metadata[orderId]", o.ID)
	if o.Customer.Email != "" {
		form.Set("receipt_email", o.Customer.Email)
	}
	return form
}

// Prepare creates a PaymentIntent and returns its client secret.
func (g *Gateway) Prepare(ctx context.Context, o *order.Order) (*payment.Preparation, error) {
	if err := g.checkKey(); err != nil {
		return nil, err
	}
	form := g.intentForm(o)
	form.Set("automatic_payment_methods[enabled]", "true")

	pi, err := g.createIntent(ctx, form, "prepare-"+o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}
	if pi.ClientSecret == "" {
		return nil, &payment.GatewayError{Gateway: Name, StatusCode: http.StatusOK, Message: "missing client_secret"}
	}
	return &payment.Preparation{ClientSecret: pi.ClientSecret, Reference: pi.ID}, nil
}

// Charge confirms a PaymentIntent with a tokenized payment method. Card
// declines are reported as a failed outcome rather than an error.
func (g *Gateway) Charge(ctx context.Context, o *order.Order, token string) (*payment.Outcome, error) {
	if err := g.checkKey(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, &order.InvalidInputError{Field: "token", Reason: "required"}
	}
	form := g.intentForm(o)
	form.Set("payment_method", token)
	form.Set("confirm", "true")
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("automatic_payment_methods[allow_redirects]", "never")

	pi, err := g.createIntent(ctx, form, "charge-"+o.ID+"-"+token)
	if err != nil {
		var declined *cardError
		if errors.As(err, &declined) {
			zctx.From(ctx).Info("Card declined",
				zap.String("order_id", o.ID),
				zap.String("code", declined.Code),
			)
			out := &payment.Outcome{
				OrderID:        o.ID,
				Status:         payment.OutcomeFailed,
				ProviderStatus: declined.Code,
			}
			if declined.Intent != nil {
				out.TransactionID = declined.Intent.ID
			}
			return out, nil
		}
		return nil, errors.Wrap(err, "confirm payment intent")
	}

	out := pi.outcome()
	if out.OrderID == "" {
		out.OrderID = o.ID
	}
	return out, nil
}

func (g *Gateway) createIntent(ctx context.Context, form url.Values, idempotencyKey string) (*intent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		var gwErr *payment.GatewayError
		if resp != nil && errors.As(err, &gwErr) {
			apiErr, decErr := decodeAPIError(resp.Body)
			if decErr == nil {
				if resp.StatusCode == http.StatusPaymentRequired && apiErr.Type == "card_error" {
					return nil, apiErr
				}
				gwErr.Message = apiErr.Message
			}
		}
		return nil, err
	}

	pi, err := decodeIntent(resp.Body)
	if err != nil {
		return nil, &payment.GatewayError{Gateway: Name, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return pi, nil
}

// Notify verifies the webhook envelope and maps payment_intent events.
func (g *Gateway) Notify(ctx context.Context, n payment.Notification) (*payment.Outcome, error) {
	if err := g.verify(ctx, n); err != nil {
		return nil, err
	}

	ev, err := decodeEvent(n.Body)
	if err != nil {
		return nil, errors.Wrapf(payment.ErrMalformedNotification, "stripe: %s", err)
	}

	var status payment.OutcomeStatus
	switch ev.Type {
	case "payment_intent.succeeded":
		status = payment.OutcomeSucceeded
	case "payment_intent.processing", "payment_intent.requires_action":
		status = payment.OutcomePending
	case "payment_intent.payment_failed":
		status = payment.OutcomeFailed
	case "payment_intent.canceled":
		status = payment.OutcomeCancelled
	default:
		status = payment.OutcomeUnknown
	}

	out := &payment.Outcome{Status: status, ProviderStatus: ev.Type}
	if ev.Intent != nil {
		pi := ev.Intent.outcome()
		out.OrderID = pi.OrderID
		out.TransactionID = pi.TransactionID
		out.Amount = pi.Amount
		out.HasAmount = pi.HasAmount
	}
	return out, nil
}

func (g *Gateway) verify(ctx context.Context, n payment.Notification) error {
	if gateway.IsPlaceholder(g.cfg.WebhookSecret) {
		if g.cfg.AllowUnsigned && g.cfg.Mode == payment.ModeTest {
			zctx.From(ctx).Warn("Accepting unsigned webhook in test mode")
			return nil
		}
		return errors.Wrap(payment.ErrGatewayNotConfigured, "stripe: webhook secret missing")
	}

	header := n.Header.Get(SignatureHeader)
	if header == "" {
		return errors.Wrap(payment.ErrSignatureInvalid, "stripe: missing signature header")
	}
	if err := signature.VerifyEnvelope(header, n.Body, g.cfg.WebhookSecret, g.cfg.Tolerance, g.now()); err != nil {
		return errors.Wrapf(payment.ErrSignatureInvalid, "stripe: %s", err)
	}
	return nil
}
