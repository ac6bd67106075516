package order

// Status is the lifecycle state of an order.
type Status string

const (
	StatusCreated         Status = "created"
	StatusAwaitingGateway Status = "awaiting_gateway"
	StatusPending         Status = "pending"
	StatusPaid            Status = "paid"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusCreated: {
		StatusAwaitingGateway, StatusPending, StatusPaid, StatusFailed, StatusCancelled,
	},
	StatusAwaitingGateway: {
		StatusAwaitingGateway, StatusPending, StatusPaid, StatusFailed, StatusCancelled,
	},
	StatusPending: {
		StatusPaid, StatusFailed, StatusCancelled,
	},
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusAwaitingGateway, StatusPending, StatusPaid, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
