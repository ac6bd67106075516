package order

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/paygate/internal/domain/amount"
)

// Order is a single customer purchase attempt. Items, Amount and Customer
// are fixed at creation; only the payment fields change afterwards.
type Order struct {
	ID       string
	Items    []Item
	Amount   decimal.Decimal
	Currency string
	Customer Customer
	Status   Status

	// Gateway is the adapter the order was last prepared with, or the one
	// that reported its terminal outcome.
	Gateway              string
	GatewayTransactionID string
	FailureReason        string

	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}

// Item is a cart line snapshot.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// Customer identifies the buyer. Email is the natural key for order history.
type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Lines converts the order items into amount lines.
func (o *Order) Lines() []amount.Line {
	lines := make([]amount.Line, len(o.Items))
	for i, it := range o.Items {
		lines[i] = amount.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}
	return lines
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}

// Mutator changes an order inside Store.Update. Returning ErrNoChange
// leaves the stored order untouched without failing the update.
type Mutator func(o *Order) error

// ListFilter narrows List results.
type ListFilter struct {
	Email string
	Limit int
}

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

// Store persists orders. Update applies fn under a per-order exclusive
// section, so concurrent updates to the same order are serialized.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, id string, fn Mutator) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)

	RecordEvent(ctx context.Context, e Event) error
	Events(ctx context.Context, orderID string) ([]Event, error)
}
