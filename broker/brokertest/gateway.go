// Package brokertest provides a scriptable in-memory broker.Gateway for
// exercising retry and reconciliation paths.
package brokertest

import (
	"context"
	"strconv"
	"sync"

	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/market"
	"github.com/shopspring/decimal"
)

// Order is the fake broker's record of a submitted order.
type Order struct {
	Request broker.OrderRequest
	Status  broker.OrderStatus
}

// Gateway records every call. Errors queued in SubmitErrs, StatusErrs,
// LookupErrs and CancelErrs are returned one per call, in order, before the
// call is served normally.
type Gateway struct {
	mu sync.Mutex

	BuyingPower decimal.Decimal

	// AutoFill fills each accepted order in full at its limit price, or at
	// FillPrice for marketable orders.
	AutoFill  bool
	FillPrice decimal.Decimal

	SubmitErrs []error
	StatusErrs []error
	LookupErrs []error
	CancelErrs []error

	// LoseAcks makes the next n submissions reach the broker but report
	// ErrTimeout to the caller, as when a response is lost in transit.
	LoseAcks int

	SubmitCalls int
	StatusCalls int
	LookupCalls int
	CancelCalls int

	Ticks *market.TickStore

	orders   map[string]*Order
	byClient map[string]string
	next     int
}

func New(buyingPower decimal.Decimal) *Gateway {
	return &Gateway{
		BuyingPower: buyingPower,
		Ticks:       market.NewTickStore(),
		orders:      make(map[string]*Order),
		byClient:    make(map[string]string),
	}
}

func pop(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

func (g *Gateway) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Ack, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.SubmitCalls++
	if err := pop(&g.SubmitErrs); err != nil {
		return broker.Ack{}, err
	}
	if err := ctx.Err(); err != nil {
		return broker.Ack{}, broker.ErrTimeout
	}

	if id, ok := g.byClient[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		o := g.orders[id]
		return broker.Ack{BrokerOrderID: id, State: o.Status.State}, nil
	}

	g.next++
	id := "B" + strconv.Itoa(g.next)
	o := &Order{
		Request: req,
		Status:  broker.OrderStatus{BrokerOrderID: id, State: broker.StateAccepted},
	}
	if g.AutoFill {
		price := req.LimitPrice
		if price.IsZero() {
			price = g.FillPrice
		}
		o.Status.State = broker.StateFilled
		o.Status.FilledQuantity = req.Quantity
		o.Status.AvgFillPrice = price
	}
	g.orders[id] = o
	if req.ClientOrderID != "" {
		g.byClient[req.ClientOrderID] = id
	}

	if g.LoseAcks > 0 {
		g.LoseAcks--
		return broker.Ack{}, broker.ErrTimeout
	}
	return broker.Ack{BrokerOrderID: id, State: o.Status.State}, nil
}

func (g *Gateway) GetOrderStatus(ctx context.Context, brokerOrderID string) (broker.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.StatusCalls++
	if err := pop(&g.StatusErrs); err != nil {
		return broker.OrderStatus{}, err
	}
	o, ok := g.orders[brokerOrderID]
	if !ok {
		return broker.OrderStatus{}, broker.ErrNotFound
	}
	return o.Status, nil
}

func (g *Gateway) LookupOrder(ctx context.Context, clientOrderID string) (broker.Ack, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.LookupCalls++
	if err := pop(&g.LookupErrs); err != nil {
		return broker.Ack{}, err
	}
	id, ok := g.byClient[clientOrderID]
	if !ok {
		return broker.Ack{}, broker.ErrNotFound
	}
	return broker.Ack{BrokerOrderID: id, State: g.orders[id].Status.State}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.CancelCalls++
	if err := pop(&g.CancelErrs); err != nil {
		return false, err
	}
	o, ok := g.orders[brokerOrderID]
	if !ok {
		return false, broker.ErrNotFound
	}
	if !o.Status.State.Terminal() {
		o.Status.State = broker.StateCancelled
	}
	return true, nil
}

func (g *Gateway) GetBuyingPower(ctx context.Context) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.BuyingPower, nil
}

func (g *Gateway) GetTick(ctx context.Context, symbol string) (market.Tick, error) {
	return g.Ticks.Get(symbol)
}

// Fill applies a fill of qty shares at price to the order. A fill that
// reaches the requested quantity makes the order FILLED.
func (g *Gateway) Fill(brokerOrderID string, qty int64, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[brokerOrderID]
	if !ok {
		return
	}
	prev := decimal.NewFromInt(o.Status.FilledQuantity)
	sum := o.Status.AvgFillPrice.Mul(prev).Add(price.Mul(decimal.NewFromInt(qty)))
	o.Status.FilledQuantity += qty
	o.Status.AvgFillPrice = sum.Div(decimal.NewFromInt(o.Status.FilledQuantity))
	if o.Status.FilledQuantity >= o.Request.Quantity {
		o.Status.State = broker.StateFilled
	} else {
		o.Status.State = broker.StatePartiallyFilled
	}
}

// SetState overrides the order's broker state.
func (g *Gateway) SetState(brokerOrderID string, state broker.State, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if o, ok := g.orders[brokerOrderID]; ok {
		o.Status.State = state
		o.Status.Reason = reason
	}
}

// Order returns a copy of the order with the given broker ID.
func (g *Gateway) Order(brokerOrderID string) (Order, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[brokerOrderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// ByClientID returns the broker ID assigned to a client order ID.
func (g *Gateway) ByClientID(clientOrderID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.byClient[clientOrderID]
	return id, ok
}

// Orders returns the number of orders the broker has received.
func (g *Gateway) Orders() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

// Calls returns the submit and status call counts.
func (g *Gateway) Calls() (submit, status, lookup, cancel int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.SubmitCalls, g.StatusCalls, g.LookupCalls, g.CancelCalls
}
