package app

import (
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/gateway"
	"github.com/xenking/paygate/internal/gateway/ozow"
	"github.com/xenking/paygate/internal/gateway/payfast"
	"github.com/xenking/paygate/internal/gateway/stripe"
	"github.com/xenking/paygate/internal/gateway/yoco"
)

// gateways builds the adapters and the outbound clients backing them.
func gateways(lg *zap.Logger, m *app.Telemetry, cfg *Config) (*gateway.Registry, []*gateway.Client) {
	newClient := func(name string) *gateway.Client {
		return gateway.NewClient(name,
			gateway.WithTimeout(cfg.Payments.GatewayTimeout),
			gateway.WithBreaker(gateway.BreakerConfig{
				ConsecutiveFailures: cfg.Payments.Breaker.ConsecutiveFailures,
				OpenTimeout:         cfg.Payments.Breaker.OpenTimeout,
				HalfOpenRequests:    cfg.Payments.Breaker.HalfOpenRequests,
			}),
			gateway.WithTracerProvider(m.TracerProvider()),
			gateway.WithMeterProvider(m.MeterProvider()),
			gateway.WithLogger(lg),
		)
	}
	stripeClient := newClient(stripe.Name)
	ozowClient := newClient(ozow.Name)
	yocoClient := newClient(yoco.Name)

	reg := gateway.NewRegistry(
		stripe.New(stripe.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Currency:      cfg.Payments.Currency,
			Mode:          payment.Mode(cfg.Stripe.Mode),
			APIURL:        cfg.Stripe.APIURL,
			AllowUnsigned: cfg.Stripe.AllowUnsigned,
			Tolerance:     cfg.Stripe.Tolerance,
		}, stripeClient),
		payfast.New(payfast.Config{
			MerchantID:  cfg.PayFast.MerchantID,
			MerchantKey: cfg.PayFast.MerchantKey,
			Passphrase:  cfg.PayFast.Passphrase,
			Mode:        payment.Mode(cfg.PayFast.Mode),
			ProcessURL:  cfg.PayFast.ProcessURL,
			ReturnURL:   cfg.returnURL("success"),
			CancelURL:   cfg.returnURL("cancelled"),
			NotifyURL:   gateway.NotifyURL(cfg.BaseURL, payfast.Name),
		}),
		ozow.New(ozow.Config{
			SiteCode:   cfg.Ozow.SiteCode,
			APIKey:     cfg.Ozow.APIKey,
			PrivateKey: cfg.Ozow.PrivateKey,
			Mode:       payment.Mode(cfg.Ozow.Mode),
			APIURL:     cfg.Ozow.APIURL,
			SuccessURL: cfg.returnURL("success"),
			CancelURL:  cfg.returnURL("cancelled"),
			ErrorURL:   cfg.returnURL("error"),
			NotifyURL:  gateway.NotifyURL(cfg.BaseURL, ozow.Name),
		}, ozowClient),
		yoco.New(yoco.Config{
			SecretKey:     cfg.Yoco.SecretKey,
			PublicKey:     cfg.Yoco.PublicKey,
			WebhookSecret: cfg.Yoco.WebhookSecret,
			Currency:      cfg.Payments.Currency,
			Mode:          payment.Mode(cfg.Yoco.Mode),
			APIURL:        cfg.Yoco.APIURL,
			Tolerance:     cfg.Yoco.Tolerance,
		}, yocoClient),
	)
	return reg, []*gateway.Client{stripeClient, ozowClient, yocoClient}
}
