// Package events publishes order status changes to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/paygate/internal/domain/order"
)

// TypeStatusChanged is the event_type header of status change messages.
const TypeStatusChanged = "OrderStatusChanged"

// StatusChanged is emitted after an order transition is persisted.
type StatusChanged struct {
	OrderID       string
	From          order.Status
	To            order.Status
	Gateway       string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Reason        string
	At            time.Time
}

// NewStatusChanged describes the transition of o from the given status.
func NewStatusChanged(o *order.Order, from order.Status) StatusChanged {
	return StatusChanged{
		OrderID:       o.ID,
		From:          from,
		To:            o.Status,
		Gateway:       o.Gateway,
		TransactionID: o.GatewayTransactionID,
		Amount:        o.Amount,
		Currency:      o.Currency,
		Reason:        o.FailureReason,
		At:            o.UpdatedAt,
	}
}

// Encode writes the event as JSON.
func (e StatusChanged) Encode(enc *jx.Encoder) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(TypeStatusChanged) })
		enc.Field("order_id", func(enc *jx.Encoder) { enc.Str(e.OrderID) })
		enc.Field("from", func(enc *jx.Encoder) { enc.Str(string(e.From)) })
		enc.Field("to", func(enc *jx.Encoder) { enc.Str(string(e.To)) })
		if e.Gateway != "" {
			enc.Field("gateway", func(enc *jx.Encoder) { enc.Str(e.Gateway) })
		}
		if e.TransactionID != "" {
			enc.Field("transaction_id", func(enc *jx.Encoder) { enc.Str(e.TransactionID) })
		}
		enc.Field("amount", func(enc *jx.Encoder) { enc.Num(jx.Num(e.Amount.StringFixed(2))) })
		enc.Field("currency", func(enc *jx.Encoder) { enc.Str(e.Currency) })
		if e.Reason != "" {
			enc.Field("reason", func(enc *jx.Encoder) { enc.Str(e.Reason) })
		}
		enc.Field("at", func(enc *jx.Encoder) { enc.Str(e.At.UTC().Format(time.RFC3339Nano)) })
	})
}

// Publisher delivers status changes. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, e StatusChanged) error
}

// Nop discards every event.
type Nop struct{}

var _ Publisher = Nop{}

func (Nop) PublishStatusChanged(context.Context, StatusChanged) error { return nil }
