package order

import "github.com/rustyeddy/riskexec/broker"

type Status string

const (
	StatusPending         Status = "Pending"
	StatusSubmitted       Status = "Submitted"
	StatusConfirmed       Status = "Confirmed"
	StatusPartiallyFilled Status = "PartiallyFilled"
	StatusFilled          Status = "Filled"
	StatusCancelled       Status = "Cancelled"
	StatusRejected        Status = "Rejected"
	// StatusError means the broker-side outcome is unknown. It is not
	// terminal: the order must be reconciled.
	StatusError Status = "Error"
)

// Terminal statuses never change again.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

var transitions = map[Status][]Status{
	StatusPending:         {StatusSubmitted},
	StatusSubmitted:       {StatusConfirmed, StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected, StatusError},
	StatusConfirmed:       {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled},
	StatusError:           {StatusError, StatusConfirmed, StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected},
}

// CanTransition reports whether from -> to is a legal step. Staying in the
// same non-terminal status is always legal.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// fromBroker maps the broker's view onto the local status. An accepted
// order with fills reported is partially filled.
func fromBroker(st broker.OrderStatus) Status {
	switch st.State {
	case broker.StateFilled:
		return StatusFilled
	case broker.StateCancelled:
		return StatusCancelled
	case broker.StateRejected:
		return StatusRejected
	case broker.StatePartiallyFilled:
		return StatusPartiallyFilled
	}
	if st.FilledQuantity > 0 {
		return StatusPartiallyFilled
	}
	return StatusConfirmed
}
