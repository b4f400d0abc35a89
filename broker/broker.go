// Package broker defines the narrow contract between the execution core and a
// live or paper brokerage.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/riskexec/market"
	"github.com/shopspring/decimal"
)

// Gateway is everything the core needs from a broker. Implementations must be
// safe for concurrent use; every call honours ctx cancellation and deadlines.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (Ack, error)
	GetOrderStatus(ctx context.Context, brokerOrderID string) (OrderStatus, error)
	// LookupOrder finds an order by the client order ID it was submitted with.
	// It returns ErrNotFound when the broker never received the order.
	LookupOrder(ctx context.Context, clientOrderID string) (Ack, error)
	// CancelOrder is idempotent: it returns true even if the order is already
	// terminal.
	CancelOrder(ctx context.Context, brokerOrderID string) (bool, error)
	GetBuyingPower(ctx context.Context) (decimal.Decimal, error)
}

// Quoter is implemented by gateways that can also quote symbols. It is used to
// mark open positions.
type Quoter interface {
	market.TickSource
}

// Mode says whether orders go to a paper or a live account.
type Mode string

const (
	Paper Mode = "Paper"
	Live  Mode = "Live"
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "paper", "Paper", "PAPER":
		return Paper, nil
	case "live", "Live", "LIVE":
		return Live, nil
	}
	return "", fmt.Errorf("unknown execution mode %q", s)
}

// State is the broker's view of an order.
type State string

const (
	StateAccepted        State = "ACCEPTED"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateFilled          State = "FILLED"
	StateCancelled       State = "CANCELLED"
	StateRejected        State = "REJECTED"
)

// Terminal reports whether the broker will never change the order again.
func (s State) Terminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateRejected
}

type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          market.Side
	Quantity      int64
	// LimitPrice of zero asks for an immediately marketable order.
	LimitPrice decimal.Decimal
	Mode       Mode
}

type Ack struct {
	BrokerOrderID string
	State         State
}

type OrderStatus struct {
	BrokerOrderID  string
	State          State
	FilledQuantity int64
	AvgFillPrice   decimal.Decimal
	Reason         string
}

var (
	ErrRateLimited = errors.New("broker: rate limited")
	ErrAuthExpired = errors.New("broker: auth expired")
	ErrTimeout     = errors.New("broker: timeout")
	ErrNotFound    = errors.New("broker: order not found")
	ErrUnavailable = errors.New("broker: unavailable")
)

// RejectedError is an explicit refusal by the broker. It is never retried.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "broker: rejected: " + e.Reason
}

// Rejected is shorthand for &RejectedError{Reason: reason}.
func Rejected(reason string) error {
	return &RejectedError{Reason: reason}
}

// IsRejected reports whether err is, or wraps, a RejectedError.
func IsRejected(err error) bool {
	var r *RejectedError
	return errors.As(err, &r)
}
