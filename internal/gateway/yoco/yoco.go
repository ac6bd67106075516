// Package yoco implements the card-token gateway. The storefront tokenizes
// the card with the public key and the token is charged server-side in a
// single synchronous call.
package yoco

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/gateway"
	"github.com/xenking/paygate/internal/signature"
)

// Name identifies the adapter in routes and stored orders.
const Name = "yoco"

const defaultAPIURL = "https://online.yoco.com"

var (
	_ payment.Gateway = (*Gateway)(nil)
	_ payment.Charger = (*Gateway)(nil)
)

// Config holds the adapter credentials.
type Config struct {
	SecretKey     string
	PublicKey     string
	WebhookSecret string
	Currency      string
	Mode          payment.Mode
	APIURL        string
	Tolerance     time.Duration
}

// Gateway is the card-token adapter.
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
		cfg.Currency = "ZAR"
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)
	if cfg.Mode == "" {
		cfg.Mode = payment.ModeTest
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = signature.DefaultTolerance
	}
	return &Gateway{cfg: cfg, client: client, now: time.Now}
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) checkKey(creds map[string]string) error {
	if err := gateway.RequireCredentials(Name, creds); err != nil {
		return err
	}
	switch {
	case g.cfg.Mode == payment.ModeLive && strings.HasPrefix(g.cfg.SecretKey, "sk_test_"):
		return errors.Wrap(payment.ErrGatewayNotConfigured, "yoco: test key in live mode")
	case g.cfg.Mode == payment.ModeTest && strings.HasPrefix(g.cfg.SecretKey, "sk_live_"):
		return errors.Wrap(payment.ErrGatewayNotConfigured, "yoco: live key in test mode")
	}
	return nil
}

// Prepare hands the storefront the public key its card widget tokenizes
// with. No gateway call is made; payment happens in Charge.
func (g *Gateway) Prepare(_ context.Context, _ *order.Order) (*payment.Preparation, error) {
	if err := g.checkKey(map[string]string{
		"secret_key": g.cfg.SecretKey,
		"public_key": g.cfg.PublicKey,
	}); err != nil {
		return nil, err
	}
	return &payment.Preparation{ClientSecret: g.cfg.PublicKey}, nil
}

// Charge submits the card token. Declines are reported as a failed outcome
// rather than an error.
func (g *Gateway) Charge(ctx context.Context, o *order.Order, token string) (*payment.Outcome, error) {
	if err := g.checkKey(map[string]string{"secret_key": g.cfg.SecretKey}); err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, &order.InvalidInputError{Field: "token", Reason: "required"}
	}

	body := encodeCharge(o, g.cfg.Currency, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL+"/v1/charges/", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("X-Auth-Secret-Key", g.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "charge-"+o.ID+"-"+token)

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		var gwErr *payment.GatewayError
		if resp == nil || !errors.As(err, &gwErr) {
			return nil, errors.Wrap(err, "create charge")
		}
		apiErr, decErr := decodeAPIError(resp.Body)
		if decErr != nil {
			return nil, errors.Wrap(err, "create charge")
		}
		if apiErr.declined() {
			zctx.From(ctx).Info("Card declined",
				zap.String("order_id", o.ID),
				zap.String("code", apiErr.Code),
			)
			return &payment.Outcome{
				OrderID:        o.ID,
				Status:         payment.OutcomeFailed,
				ProviderStatus: apiErr.Code,
			}, nil
		}
		gwErr.Message = apiErr.message()
		return nil, errors.Wrap(err, "create charge")
	}

	c, err := decodeCharge(resp.Body)
	if err != nil {
		return nil, &payment.GatewayError{Gateway: Name, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	out := c.outcome()
	if out.OrderID == "" {
		out.OrderID = o.ID
	}
	return out, nil
}

// Notify verifies a signed webhook and maps payment events.
func (g *Gateway) Notify(_ context.Context, n payment.Notification) (*payment.Outcome, error) {
	if gateway.IsPlaceholder(g.cfg.WebhookSecret) {
		return nil, errors.Wrap(payment.ErrGatewayNotConfigured, "yoco: webhook secret missing")
	}
	if err := signature.VerifyWebhook(
		n.Header.Get(signature.WebhookIDHeader),
		n.Header.Get(signature.WebhookTimestampHeader),
		n.Header.Get(signature.WebhookSignatureHeader),
		n.Body, g.cfg.WebhookSecret, g.cfg.Tolerance, g.now(),
	); err != nil {
		return nil, errors.Wrapf(payment.ErrSignatureInvalid, "yoco: %s", err)
	}

	ev, err := decodeEvent(n.Body)
	if err != nil {
		return nil, errors.Wrapf(payment.ErrMalformedNotification, "yoco: %s", err)
	}

	out := ev.Payment.outcome()
	switch ev.Type {
	case "payment.succeeded":
		out.Status = payment.OutcomeSucceeded
	case "payment.failed":
		out.Status = payment.OutcomeFailed
	default:
		out.Status = payment.OutcomeUnknown
	}
	out.ProviderStatus = ev.Type
	return out, nil
}
