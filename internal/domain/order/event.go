package order

import "time"

// EventKind classifies audit trail entries.
type EventKind string

const (
	EventCreated           EventKind = "created"
	EventPrepared          EventKind = "prepared"
	EventPrepareFailed     EventKind = "prepare_failed"
	EventNotification      EventKind = "notification"
	EventCharge            EventKind = "charge"
	EventDuplicate         EventKind = "duplicate"
	EventOrphan            EventKind = "orphan_notification"
	EventSignatureRejected EventKind = "signature_rejected"
	EventAmountMismatch    EventKind = "amount_mismatch"
)

// Event is an append-only audit record. OrderID may reference an order
// that does not exist (orphan notifications).
type Event struct {
	ID         int64
	OrderID    string
	Kind       EventKind
	Gateway    string
	FromStatus Status
	ToStatus   Status
	Detail     string
	CreatedAt  time.Time
}
