// Package order owns the order and position state machine. It submits,
// cancels and reconciles orders against a broker.Gateway with at most one
// order-affecting operation per symbol in flight.
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskexec/audit"
	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/market"
)

// Intent says whether an order adds risk or takes it off.
type Intent string

const (
	IntentOpen  Intent = "open"
	IntentClose Intent = "close"
)

// Order is one broker order attempt. ID is assigned once and is sent to the
// broker as the client order ID, so retries and reconciliation always refer
// to the same order.
type Order struct {
	ID             string
	BrokerOrderID  string
	Symbol         string
	Side           market.Side
	Quantity       int64
	LimitPrice     decimal.Decimal
	Mode           broker.Mode
	Strategy       string
	Intent         Intent
	Status         Status
	SubmittedAt    time.Time
	UpdatedAt      time.Time
	RetryCount     int
	FilledQuantity int64
	AvgFillPrice   decimal.Decimal
	Reason         string
	LastError      string

	// StopLoss and Target are carried by opening orders onto the position.
	StopLoss decimal.Decimal
	Target   decimal.Decimal

	seq     uint64
	applied int64
}

// Seq is the number of audit entries written for the order.
func (o Order) Seq() uint64 { return o.seq }

func (o Order) request() broker.OrderRequest {
	return broker.OrderRequest{
		ClientOrderID: o.ID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Quantity:      o.Quantity,
		LimitPrice:    o.LimitPrice,
		Mode:          o.Mode,
	}
}

func (o Order) entry(action audit.Action) audit.Entry {
	e := audit.Entry{
		Action:         action,
		Seq:            o.seq,
		OrderID:        o.ID,
		BrokerOrderID:  o.BrokerOrderID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		LimitPrice:     audit.Dec(o.LimitPrice),
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		ExecutionMode:  string(o.Mode),
		Status:         string(o.Status),
		Strategy:       o.Strategy,
		RetryCount:     o.RetryCount,
		Error:          o.LastError,
		Details: map[string]string{
			"intent": string(o.Intent),
		},
	}
	if o.FilledQuantity > 0 {
		e.AvgFillPrice = audit.Dec(o.AvgFillPrice)
	}
	if o.Reason != "" {
		e.Details["reason"] = o.Reason
	}
	if !o.StopLoss.IsZero() {
		e.Details["stopLoss"] = o.StopLoss.String()
	}
	if !o.Target.IsZero() {
		e.Details["target"] = o.Target.String()
	}
	if !o.SubmittedAt.IsZero() {
		e.Details["submittedAt"] = o.SubmittedAt.UTC().Format(time.RFC3339Nano)
	}
	return e
}

// Position is the open exposure in one symbol. Quantity is signed: positive
// long, negative short.
type Position struct {
	Symbol     string
	Quantity   int64
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	Target     decimal.Decimal
	OpenedAt   time.Time
	Strategy   string
	Mode       broker.Mode
	// TradeID is the ID of the order that opened the position.
	TradeID string

	realized  decimal.Decimal
	closed    int64
	exitValue decimal.Decimal
}

func (p Position) Side() market.Side {
	if p.Quantity < 0 {
		return market.Sell
	}
	return market.Buy
}

// TradeRequest is a validated signal from upstream.
type TradeRequest struct {
	Symbol        string
	Side          market.Side
	EntryPrice    decimal.Decimal
	StopLossPrice decimal.Decimal
	TargetPrice   decimal.Decimal
	Strategy      string
}

// Decision is the result of an open or close request. Allowed is false when
// the request was refused before reaching the broker; Reason says why.
type Decision struct {
	Allowed bool
	Reason  string
	Order   *Order
}

func denied(reason string) Decision {
	return Decision{Reason: reason}
}
