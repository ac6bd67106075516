package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order persistence and validation.
var (
	ErrNotFound         = errors.New("order not found")
	ErrDuplicateOrderID = errors.New("duplicate order id")
	ErrEmptyItems       = errors.New("items required")
	ErrNoChange         = errors.New("no change")
)

// InvalidInputError reports a rejected request field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StateError reports an operation that the order's current status forbids.
type StateError struct {
	OrderID string
	Status  Status
	Op      string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("order %s is %s: cannot %s", e.OrderID, e.Status, e.Op)
}
