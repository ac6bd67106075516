// Package reconcile drives orders through their payment lifecycle. It is
// the only component that changes order status: gateway adapters report
// outcomes, and the engine decides whether and how they apply.
package reconcile

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/amount"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/events"
)

// DefaultGatewayTimeout bounds every adapter call made by the engine.
const DefaultGatewayTimeout = 10 * time.Second

// DefaultCurrency is assigned to new orders when none is configured.
const DefaultCurrency = "ZAR"

// Gateways resolves adapters by name.
type Gateways interface {
	Gateway(name string) (payment.Gateway, bool)
}

// Engine applies order lifecycle operations on top of an order.Store.
type Engine struct {
	store     order.Store
	gateways  Gateways
	guard     amount.Guard
	currency  string
	timeout   time.Duration
	charger   string
	publisher events.Publisher
	now       func() time.Time
	newID     func() string

	tracer        trace.Tracer
	ordersCreated metric.Int64Counter
	notifications metric.Int64Counter
	transitions   metric.Int64Counter
}

type options struct {
	ceiling   decimal.Decimal
	currency  string
	timeout   time.Duration
	charger   string
	publisher events.Publisher
	now       func() time.Time
	newID     func() string
	tracer    trace.TracerProvider
	meter     metric.MeterProvider
}

// Option configures an Engine.
type Option func(*options)

// WithCeiling sets the largest accepted order total.
func WithCeiling(c decimal.Decimal) Option {
	return func(o *options) { o.ceiling = c }
}

// WithCurrency sets the currency of new orders.
func WithCurrency(c string) Option {
	return func(o *options) {
		if c != "" {
			o.currency = strings.ToUpper(c)
		}
	}
}

// WithGatewayTimeout overrides DefaultGatewayTimeout.
func WithGatewayTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithChargeGateway names the adapter used by Charge for orders that were
// never prepared.
func WithChargeGateway(name string) Option {
	return func(o *options) { o.charger = name }
}

// WithPublisher delivers status changes after they are persisted.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides random UUID order ids.
func WithIDGenerator(f func() string) Option {
	return func(o *options) { o.newID = f }
}

// WithTracerProvider enables engine spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithMeterProvider enables engine counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meter = mp }
}

// New creates an Engine.
func New(store order.Store, gateways Gateways, opts ...Option) (*Engine, error) {
	o := options{
		currency:  DefaultCurrency,
		timeout:   DefaultGatewayTimeout,
		publisher: events.Nop{},
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
		tracer:    tracenoop.NewTracerProvider(),
		meter:     noop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meter.Meter("github.com/xenking/paygate/reconcile")
	ordersCreated, err := meter.Int64Counter("paygate.orders.created",
		metric.WithDescription("Orders accepted"))
	if err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	notifications, err := meter.Int64Counter("paygate.notifications",
		metric.WithDescription("Gateway notifications by gateway and result"))
	if err != nil {
		return nil, errors.Wrap(err, "notifications counter")
	}
	transitions, err := meter.Int64Counter("paygate.transitions",
		metric.WithDescription("Order status transitions"))
	if err != nil {
		return nil, errors.Wrap(err, "transitions counter")
	}

	return &Engine{
		store:         store,
		gateways:      gateways,
		guard:         amount.NewGuard(o.ceiling),
		currency:      o.currency,
		timeout:       o.timeout,
		charger:       o.charger,
		publisher:     o.publisher,
		now:           o.now,
		newID:         o.newID,
		tracer:        o.tracer.Tracer("github.com/xenking/paygate/reconcile"),
		ordersCreated: ordersCreated,
		notifications: notifications,
		transitions:   transitions,
	}, nil
}

// CreateOrderRequest is a cart snapshot plus the buyer. Item prices and
// quantities are normalized before the total is computed.
type CreateOrderRequest struct {
	Items    []order.Item
	Customer order.Customer
}

func validateCustomer(c order.Customer) (order.Customer, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Address = strings.TrimSpace(c.Address)

	if c.Name == "" {
		return c, &order.InvalidInputError{Field: "customer.name", Reason: "required"}
	}
	if c.Email == "" {
		return c, &order.InvalidInputError{Field: "customer.email", Reason: "required"}
	}
	addr, err := mail.ParseAddress(c.Email)
	if err != nil || addr.Address != c.Email {
		return c, &order.InvalidInputError{Field: "customer.email", Reason: "not a valid address"}
	}
	return c, nil
}

// CreateOrder prices the cart and stores a new order in status created.
func (e *Engine) CreateOrder(ctx context.Context, req CreateOrderRequest) (*order.Order, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.CreateOrder")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, &order.InvalidInputError{Field: "items", Reason: order.ErrEmptyItems.Error()}
	}
	customer, err := validateCustomer(req.Customer)
	if err != nil {
		return nil, err
	}

	items := make([]order.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.Item{
			ProductID: strings.TrimSpace(it.ProductID),
			Name:      strings.TrimSpace(it.Name),
			UnitPrice: amount.NormalizePrice(it.UnitPrice),
			Quantity:  amount.NormalizeQuantity(it.Quantity),
		}
	}

	now := e.now().UTC()
	o := &order.Order{
		ID:        e.newID(),
		Items:     items,
		Currency:  e.currency,
		Customer:  customer,
		Status:    order.StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.Amount = amount.Total(o.Lines())
	if err := e.guard.Check(o.Amount); err != nil {
		return nil, err
	}

	if err := e.store.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "store order")
	}
	e.ordersCreated.Add(ctx, 1)
	e.audit(ctx, order.Event{OrderID: o.ID, Kind: order.EventCreated, ToStatus: order.StatusCreated, Detail: amount.Format(o.Amount)})

	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("amount", amount.Format(o.Amount)),
		zap.Int("items", len(o.Items)),
	)
	return o, nil
}

func (e *Engine) gateway(name string) (payment.Gateway, error) {
	gw, ok := e.gateways.Gateway(name)
	if !ok {
		return nil, errors.Wrapf(payment.ErrUnknownGateway, "%q", name)
	}
	return gw, nil
}

// Prepare hands the order to a gateway and returns what the customer needs
// to pay. Transient gateway failures leave the order untouched so the call
// can be retried; a definitive rejection fails the order.
func (e *Engine) Prepare(ctx context.Context, orderID, gatewayName string) (*payment.Preparation, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.Prepare", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("gateway", gatewayName),
	))
	defer span.End()

	gw, err := e.gateway(gatewayName)
	if err != nil {
		return nil, err
	}
	o, err := e.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !preparable(o.Status) {
		return nil, &order.StateError{OrderID: o.ID, Status: o.Status, Op: "prepare payment"}
	}
	if err := e.guard.Reverify(o.Amount, o.Lines()); err != nil {
		zctx.From(ctx).Error("Stored amount failed re-verification",
			zap.String("order_id", o.ID), zap.Error(err))
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	prep, err := gw.Prepare(callCtx, o)
	cancel()
	if err != nil {
		err = e.timeoutAsUnreachable(callCtx, gw.Name(), err)
		e.prepareFailed(ctx, o, gw.Name(), err)
		return nil, err
	}

	from := o.Status
	updated, err := e.store.Update(ctx, o.ID, func(cur *order.Order) error {
		if !preparable(cur.Status) {
			return &order.StateError{OrderID: cur.ID, Status: cur.Status, Op: "prepare payment"}
		}
		from = cur.Status
		cur.Status = order.StatusAwaitingGateway
		cur.Gateway = gw.Name()
		if prep.Reference != "" {
			cur.GatewayTransactionID = prep.Reference
		}
		cur.UpdatedAt = e.now().UTC()
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "record preparation")
	}

	e.audit(ctx, order.Event{
		OrderID: o.ID, Kind: order.EventPrepared, Gateway: gw.Name(),
		FromStatus: from, ToStatus: updated.Status, Detail: prep.Reference,
	})
	if from != updated.Status {
		e.changed(ctx, updated, from)
	}
	return prep, nil
}

func preparable(s order.Status) bool {
	return s == order.StatusCreated || s == order.StatusAwaitingGateway
}

func (e *Engine) timeoutAsUnreachable(callCtx context.Context, gw string, err error) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, payment.ErrGatewayUnreachable) {
		return errors.Wrapf(payment.ErrGatewayUnreachable, "%s: timed out after %s", gw, e.timeout)
	}
	return err
}

// prepareFailed records a failed prepare or charge call. Only a definitive
// gateway rejection moves the order to failed.
func (e *Engine) prepareFailed(ctx context.Context, o *order.Order, gw string, cause error) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("gateway", gw))
	e.audit(ctx, order.Event{
		OrderID: o.ID, Kind: order.EventPrepareFailed, Gateway: gw,
		FromStatus: o.Status, ToStatus: o.Status, Detail: cause.Error(),
	})
	if payment.IsTransient(cause) {
		lg.Warn("Gateway call failed, order left retryable", zap.Error(cause))
		return
	}

	lg.Error("Gateway rejected payment", zap.Error(cause))
	from := o.Status
	updated, err := e.store.Update(ctx, o.ID, func(cur *order.Order) error {
		if !order.CanTransition(cur.Status, order.StatusFailed) {
			return order.ErrNoChange
		}
		from = cur.Status
		cur.Status = order.StatusFailed
		cur.Gateway = gw
		cur.FailureReason = "gateway rejected payment"
		cur.UpdatedAt = e.now().UTC()
		return nil
	})
	if err != nil {
		lg.Error("Failed to mark order failed", zap.Error(err))
		return
	}
	if updated.Status != from {
		e.changed(ctx, updated, from)
	}
}

// Charge confirms a tokenized payment synchronously. Orders already in a
// terminal state are returned unchanged, so a repeated confirmation never
// charges twice.
func (e *Engine) Charge(ctx context.Context, orderID, token string) (*order.Order, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.Charge", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer span.End()

	if strings.TrimSpace(token) == "" {
		return nil, &order.InvalidInputError{Field: "token", Reason: "required"}
	}
	o, err := e.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.IsTerminal() {
		zctx.From(ctx).Info("Charge on settled order ignored",
			zap.String("order_id", o.ID), zap.Stringer("status", o.Status))
		return o, nil
	}

	name := o.Gateway
	if name == "" {
		name = e.charger
	}
	gw, err := e.gateway(name)
	if err != nil {
		return nil, err
	}
	charger, ok := gw.(payment.Charger)
	if !ok {
		return nil, errors.Wrapf(payment.ErrChargeUnsupported, "%q", gw.Name())
	}
	if err := e.guard.Reverify(o.Amount, o.Lines()); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	out, err := charger.Charge(callCtx, o, token)
	cancel()
	if err != nil {
		var inv *order.InvalidInputError
		if errors.As(err, &inv) {
			return nil, err
		}
		err = e.timeoutAsUnreachable(callCtx, gw.Name(), err)
		e.prepareFailed(ctx, o, gw.Name(), err)
		return nil, err
	}
	if out.OrderID == "" {
		out.OrderID = o.ID
	}

	res, err := e.apply(ctx, gw.Name(), out, order.EventCharge)
	if err != nil {
		return nil, err
	}
	return res.order, nil
}

// Get returns the order.
func (e *Engine) Get(ctx context.Context, id string) (*order.Order, error) {
	return e.store.Get(ctx, id)
}

// List returns orders newest first.
func (e *Engine) List(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	return e.store.List(ctx, f)
}

// Events returns the audit trail of an order.
func (e *Engine) Events(ctx context.Context, orderID string) ([]order.Event, error) {
	return e.store.Events(ctx, orderID)
}

// audit appends to the trail. Audit failures are logged and never fail
// the operation that produced them.
func (e *Engine) audit(ctx context.Context, ev order.Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = e.now().UTC()
	}
	if err := e.store.RecordEvent(ctx, ev); err != nil {
		zctx.From(ctx).Error("Failed to record order event",
			zap.String("order_id", ev.OrderID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
	}
}

// changed counts and publishes a persisted transition.
func (e *Engine) changed(ctx context.Context, o *order.Order, from order.Status) {
	e.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(o.Status)),
		attribute.String("gateway", o.Gateway),
	))
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.Stringer("from", from),
		zap.Stringer("to", o.Status),
		zap.String("gateway", o.Gateway),
	)
	if err := e.publisher.PublishStatusChanged(ctx, events.NewStatusChanged(o, from)); err != nil {
		zctx.From(ctx).Error("Failed to publish status change",
			zap.String("order_id", o.ID), zap.Error(err))
	}
}
