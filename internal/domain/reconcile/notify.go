package reconcile

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/amount"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
)

// ReasonAmountMismatch is stored on orders failed by a mismatched amount.
const ReasonAmountMismatch = "amount mismatch"

// Receipt describes how a notification was handled. Every receipt is
// acknowledged to the gateway.
type Receipt struct {
	OrderID string
	Status  order.Status
	// Orphan is set when the notification names no known order.
	Orphan bool
	// Duplicate is set when the order was already terminal.
	Duplicate bool
	// Mismatch is set when a success carried the wrong amount.
	Mismatch bool
	// Changed reports whether the order status changed.
	Changed bool
}

// Notify authenticates a gateway notification and applies its outcome.
// Authentication failures return payment.ErrSignatureInvalid and leave
// every order untouched. Unknown orders produce an orphan receipt.
func (e *Engine) Notify(ctx context.Context, gatewayName string, n payment.Notification) (*Receipt, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.Notify", trace.WithAttributes(
		attribute.String("gateway", gatewayName),
	))
	defer span.End()

	gw, err := e.gateway(gatewayName)
	if err != nil {
		return nil, err
	}
	lg := zctx.From(ctx).With(zap.String("gateway", gw.Name()))

	out, err := gw.Notify(ctx, n)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrSignatureInvalid):
			lg.Warn("Notification rejected", zap.Error(err))
			e.countNotification(ctx, gw.Name(), "rejected")
			e.audit(ctx, order.Event{Kind: order.EventSignatureRejected, Gateway: gw.Name(), Detail: err.Error()})
		case errors.Is(err, payment.ErrMalformedNotification):
			lg.Warn("Malformed notification", zap.Error(err))
			e.countNotification(ctx, gw.Name(), "malformed")
		default:
			lg.Error("Notification not processed", zap.Error(err))
			e.countNotification(ctx, gw.Name(), "error")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", out.OrderID))

	res, err := e.apply(ctx, gw.Name(), out, order.EventNotification)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return e.orphan(ctx, gw.Name(), out), nil
		}
		e.countNotification(ctx, gw.Name(), "error")
		return nil, err
	}

	result := "applied"
	switch {
	case res.receipt.Duplicate:
		result = "duplicate"
	case res.receipt.Mismatch:
		result = "mismatch"
	case !res.receipt.Changed:
		result = "ignored"
	}
	e.countNotification(ctx, gw.Name(), result)
	return &res.receipt, nil
}

func (e *Engine) orphan(ctx context.Context, gw string, out *payment.Outcome) *Receipt {
	zctx.From(ctx).Warn("Notification for unknown order",
		zap.String("gateway", gw),
		zap.String("order_id", out.OrderID),
		zap.String("transaction_id", out.TransactionID),
	)
	e.countNotification(ctx, gw, "orphan")
	e.audit(ctx, order.Event{
		OrderID: out.OrderID,
		Kind:    order.EventOrphan,
		Gateway: gw,
		Detail:  fmt.Sprintf("status=%s transaction=%s", out.ProviderStatus, out.TransactionID),
	})
	return &Receipt{OrderID: out.OrderID, Orphan: true}
}

func (e *Engine) countNotification(ctx context.Context, gw, result string) {
	e.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gateway", gw),
		attribute.String("result", result),
	))
}

type applied struct {
	order   *order.Order
	receipt Receipt
}

// apply moves the order named by out according to the outcome. The
// decision is made inside the store's exclusive update so concurrent
// outcomes for one order are serialized and the first terminal one wins.
func (e *Engine) apply(ctx context.Context, gw string, out *payment.Outcome, kind order.EventKind) (*applied, error) {
	if out.OrderID == "" {
		return nil, errors.Wrap(order.ErrNotFound, "outcome names no order")
	}

	var (
		from     order.Status
		dup      bool
		mismatch bool
	)
	updated, err := e.store.Update(ctx, out.OrderID, func(o *order.Order) error {
		from = o.Status
		dup, mismatch = false, false
		if o.Status.IsTerminal() {
			dup = true
			return order.ErrNoChange
		}

		var (
			target order.Status
			reason string
		)
		switch out.Status {
		case payment.OutcomeSucceeded:
			if !out.HasAmount || !amount.Matches(out.Amount, o.Amount) {
				mismatch = true
				target, reason = order.StatusFailed, ReasonAmountMismatch
			} else {
				target = order.StatusPaid
			}
		case payment.OutcomePending:
			target = order.StatusPending
		case payment.OutcomeFailed:
			target, reason = order.StatusFailed, failureReason(out)
		case payment.OutcomeCancelled:
			target, reason = order.StatusCancelled, "cancelled by customer"
		default:
			return order.ErrNoChange
		}
		if target == o.Status || !order.CanTransition(o.Status, target) {
			return order.ErrNoChange
		}

		now := e.now().UTC()
		o.Status = target
		o.Gateway = gw
		if out.TransactionID != "" {
			o.GatewayTransactionID = out.TransactionID
		}
		o.FailureReason = reason
		o.UpdatedAt = now
		if target == order.StatusPaid {
			o.PaidAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &applied{
		order: updated,
		receipt: Receipt{
			OrderID:   updated.ID,
			Status:    updated.Status,
			Duplicate: dup,
			Mismatch:  mismatch,
			Changed:   updated.Status != from,
		},
	}

	detail := fmt.Sprintf("status=%s transaction=%s", out.ProviderStatus, out.TransactionID)
	switch {
	case dup:
		zctx.From(ctx).Info("Outcome for settled order acknowledged",
			zap.String("order_id", updated.ID), zap.Stringer("status", updated.Status))
		e.audit(ctx, order.Event{OrderID: updated.ID, Kind: order.EventDuplicate, Gateway: gw,
			FromStatus: from, ToStatus: updated.Status, Detail: detail})
		return res, nil
	case mismatch:
		notified := "none"
		if out.HasAmount {
			notified = amount.Format(out.Amount)
		}
		zctx.From(ctx).Error("Payment amount mismatch",
			zap.String("order_id", updated.ID),
			zap.String("expected", amount.Format(updated.Amount)),
			zap.String("notified", notified),
		)
		e.audit(ctx, order.Event{OrderID: updated.ID, Kind: order.EventAmountMismatch, Gateway: gw,
			FromStatus: from, ToStatus: updated.Status,
			Detail: fmt.Sprintf("expected=%s notified=%s", amount.Format(updated.Amount), notified)})
	}

	e.audit(ctx, order.Event{OrderID: updated.ID, Kind: kind, Gateway: gw,
		FromStatus: from, ToStatus: updated.Status, Detail: detail})
	if res.receipt.Changed {
		e.changed(ctx, updated, from)
	}
	return res, nil
}

func failureReason(out *payment.Outcome) string {
	if out.ProviderStatus == "" {
		return "payment failed"
	}
	return "payment failed: " + out.ProviderStatus
}
