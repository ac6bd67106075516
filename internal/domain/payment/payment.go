// Package payment defines the contract every payment gateway adapter
// satisfies. Adapters translate between orders and gateway wire formats and
// never change order state themselves.
package payment

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/xenking/paygate/internal/domain/order"
)

// Mode selects a gateway's sandbox or production environment.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// Preparation is what the storefront needs to hand the customer over to a
// gateway. Exactly one of RedirectURL and ClientSecret is set.
type Preparation struct {
	RedirectURL  string
	ClientSecret string
	// Reference is the gateway-side identifier of the payment attempt, if any.
	Reference string
}

// OutcomeStatus is a gateway result normalized across adapters.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomePending   OutcomeStatus = "pending"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCancelled OutcomeStatus = "cancelled"
	OutcomeUnknown   OutcomeStatus = "unknown"
)

// Outcome is the normalized result of a notification or synchronous charge.
type Outcome struct {
	OrderID       string
	Status        OutcomeStatus
	TransactionID string
	// Amount is in major units. HasAmount is false when the gateway did not
	// report one.
	Amount    decimal.Decimal
	HasAmount bool
	// ProviderStatus is the raw status string reported by the gateway.
	ProviderStatus string
}

// Notification is an inbound gateway callback as received over HTTP.
type Notification struct {
	Body   []byte
	Header http.Header
}

// Form parses the body as application/x-www-form-urlencoded.
func (n Notification) Form() (url.Values, error) {
	return url.ParseQuery(string(n.Body))
}

// Gateway is a payment provider adapter.
type Gateway interface {
	Name() string
	// Prepare builds what the customer needs to start paying for o.
	Prepare(ctx context.Context, o *order.Order) (*Preparation, error)
	// Notify authenticates and decodes an inbound notification.
	Notify(ctx context.Context, n Notification) (*Outcome, error)
}

// Charger is implemented by gateways that confirm a tokenized payment
// method synchronously.
type Charger interface {
	Charge(ctx context.Context, o *order.Order, token string) (*Outcome, error)
}
