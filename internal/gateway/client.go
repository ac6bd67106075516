// Package gateway holds infrastructure shared by the payment gateway
// adapters: an instrumented HTTP client guarded by a circuit breaker, the
// adapter registry and credential checks.
package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/payment"
)

// DefaultTimeout bounds every outbound gateway call.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 1 << 20

// Response is a fully read gateway response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// BreakerConfig tunes the per-gateway circuit breaker.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = 1
	}
	return c
}

type clientOptions struct {
	timeout   time.Duration
	transport http.RoundTripper
	breaker   BreakerConfig
	tracer    trace.TracerProvider
	meter     metric.MeterProvider
	logger    *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTransport sets the base round tripper.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(o *clientOptions) { o.transport = rt }
}

// WithBreaker tunes the circuit breaker.
func WithBreaker(cfg BreakerConfig) ClientOption {
	return func(o *clientOptions) { o.breaker = cfg }
}

// WithTracerProvider instruments outbound requests with tracing.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(o *clientOptions) { o.tracer = tp }
}

// WithMeterProvider instruments outbound requests with metrics.
func WithMeterProvider(mp metric.MeterProvider) ClientOption {
	return func(o *clientOptions) { o.meter = mp }
}

// WithLogger logs breaker state changes.
func WithLogger(lg *zap.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = lg }
}

// Client performs outbound calls for a single gateway.
type Client struct {
	name string
	http *http.Client
	cb   *gobreaker.CircuitBreaker[*Response]
}

// NewClient builds a Client for the named gateway.
func NewClient(name string, opts ...ClientOption) *Client {
	o := clientOptions{
		timeout:   DefaultTimeout,
		transport: http.DefaultTransport,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	bc := o.breaker.withDefaults()

	var otelOpts []otelhttp.Option
	if o.tracer != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(o.tracer))
	}
	if o.meter != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(o.meter))
	}

	lg := o.logger.Named(name)
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.HalfOpenRequests,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Gateway breaker state changed",
				zap.String("gateway", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	return &Client{
		name: name,
		http: &http.Client{
			Timeout:   o.timeout,
			Transport: otelhttp.NewTransport(o.transport, otelOpts...),
		},
		cb: cb,
	}
}

// Do sends req through the breaker. Transport failures, timeouts and an
// open breaker yield payment.ErrGatewayUnreachable; non-2xx responses
// yield *payment.GatewayError carrying the response status.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := c.cb.Execute(func() (*Response, error) {
		resp, err := c.roundTrip(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			// Counted as a breaker failure.
			return resp, &payment.GatewayError{Gateway: c.name, StatusCode: resp.StatusCode}
		}
		return resp, nil
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, errors.Wrapf(payment.ErrGatewayUnreachable, "%s: %s", c.name, err)
	case err != nil:
		return resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, &payment.GatewayError{Gateway: c.name, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(payment.ErrGatewayUnreachable, "%s: %s", c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrapf(payment.ErrGatewayUnreachable, "%s: read body: %s", c.name, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Name returns the gateway name the client was built for.
func (c *Client) Name() string {
	return c.name
}

// BreakerState reports the breaker's current state.
func (c *Client) BreakerState() gobreaker.State {
	return c.cb.State()
}

// Check fails while the breaker is open.
func (c *Client) Check(context.Context) error {
	if c.cb.State() == gobreaker.StateOpen {
		return errors.Errorf("%s circuit breaker open", c.name)
	}
	return nil
}
