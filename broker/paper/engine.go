// Package paper is an in-process broker that fills orders against a local
// tick store. It backs the Paper execution mode.
package paper

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/market"
	"github.com/shopspring/decimal"
)

var ErrUnknownSymbol = fmt.Errorf("paper: %w", market.ErrNoPrice)

type Engine struct {
	mu       sync.Mutex
	cash     decimal.Decimal
	ticks    *market.TickStore
	orders   map[string]*paperOrder
	byClient map[string]string
	holdings map[string]int64
	nextID   int
	now      func() time.Time
}

type paperOrder struct {
	id        string
	clientID  string
	symbol    string
	side      market.Side
	qty       int64
	limit     decimal.Decimal
	state     broker.State
	filled    int64
	avgPrice  decimal.Decimal
	reason    string
	createdAt time.Time
}

// NewEngine returns a cash account starting with the given balance.
func NewEngine(cash decimal.Decimal) *Engine {
	return &Engine{
		cash:     cash,
		ticks:    market.NewTickStore(),
		orders:   make(map[string]*paperOrder),
		byClient: make(map[string]string),
		holdings: make(map[string]int64),
		now:      time.Now,
	}
}

func (e *Engine) Prices() *market.TickStore {
	return e.ticks
}

func (e *Engine) GetTick(ctx context.Context, symbol string) (market.Tick, error) {
	t, err := e.ticks.Get(symbol)
	if err != nil {
		return market.Tick{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return t, nil
}

// GetBuyingPower reports account equity: cash plus holdings marked to market.
func (e *Engine) GetBuyingPower(ctx context.Context) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equityLocked(), nil
}

func (e *Engine) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Ack, error) {
	if err := ctx.Err(); err != nil {
		return broker.Ack{}, broker.ErrTimeout
	}
	if req.Quantity <= 0 {
		return broker.Ack{}, broker.Rejected("quantity must be positive")
	}
	if !req.Side.Valid() {
		return broker.Ack{}, broker.Rejected("invalid side")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// A resubmission with the same client ID is the same order.
	if req.ClientOrderID != "" {
		if id, ok := e.byClient[req.ClientOrderID]; ok {
			o := e.orders[id]
			return broker.Ack{BrokerOrderID: o.id, State: o.state}, nil
		}
	}

	tick, err := e.ticks.Get(req.Symbol)
	if err != nil {
		return broker.Ack{}, broker.Rejected("no market for " + req.Symbol)
	}

	e.nextID++
	o := &paperOrder{
		id:        "P" + strconv.Itoa(e.nextID),
		clientID:  req.ClientOrderID,
		symbol:    req.Symbol,
		side:      req.Side,
		qty:       req.Quantity,
		limit:     req.LimitPrice,
		state:     broker.StateAccepted,
		createdAt: e.now(),
	}

	if req.Side == market.Buy && e.holdings[req.Symbol] >= 0 {
		cost := tick.Ask.Mul(decimal.NewFromInt(req.Quantity))
		if cost.GreaterThan(e.cash) {
			o.state = broker.StateRejected
			o.reason = "insufficient buying power"
		}
	}

	e.orders[o.id] = o
	if o.clientID != "" {
		e.byClient[o.clientID] = o.id
	}
	if o.state == broker.StateRejected {
		return broker.Ack{}, broker.Rejected(o.reason)
	}

	e.tryFillLocked(o, tick)
	return broker.Ack{BrokerOrderID: o.id, State: o.state}, nil
}

func (e *Engine) GetOrderStatus(ctx context.Context, brokerOrderID string) (broker.OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[brokerOrderID]
	if !ok {
		return broker.OrderStatus{}, broker.ErrNotFound
	}
	return o.status(), nil
}

func (e *Engine) LookupOrder(ctx context.Context, clientOrderID string) (broker.Ack, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.byClient[clientOrderID]
	if !ok {
		return broker.Ack{}, broker.ErrNotFound
	}
	o := e.orders[id]
	return broker.Ack{BrokerOrderID: o.id, State: o.state}, nil
}

func (e *Engine) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[brokerOrderID]
	if !ok {
		return false, broker.ErrNotFound
	}
	if !o.state.Terminal() {
		o.state = broker.StateCancelled
		o.reason = "cancelled by client"
	}
	return true, nil
}

// UpdatePrice stores the tick and fills any resting order it makes marketable.
func (e *Engine) UpdatePrice(t market.Tick) {
	e.ticks.Set(t)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, o := range e.orders {
		if o.symbol != t.Symbol || o.state.Terminal() {
			continue
		}
		e.tryFillLocked(o, t)
	}
}

// Holding returns the signed share count held in symbol.
func (e *Engine) Holding(symbol string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holdings[symbol]
}

// tryFillLocked fills the whole remaining quantity when the order is
// marketable. Buys fill on the ask, sells on the bid.
func (e *Engine) tryFillLocked(o *paperOrder, t market.Tick) {
	price := t.Ask
	if o.side == market.Sell {
		price = t.Bid
	}
	if !o.limit.IsZero() {
		if o.side == market.Buy && price.GreaterThan(o.limit) {
			return
		}
		if o.side == market.Sell && price.LessThan(o.limit) {
			return
		}
	}

	remaining := o.qty - o.filled
	if remaining <= 0 {
		return
	}

	notional := price.Mul(decimal.NewFromInt(remaining))
	if o.side == market.Buy {
		e.cash = e.cash.Sub(notional)
	} else {
		e.cash = e.cash.Add(notional)
	}
	e.holdings[o.symbol] += o.side.Sign() * remaining

	o.avgPrice = weightedPrice(o.avgPrice, o.filled, price, remaining)
	o.filled = o.qty
	o.state = broker.StateFilled
}

func (e *Engine) equityLocked() decimal.Decimal {
	equity := e.cash
	for symbol, qty := range e.holdings {
		if qty == 0 {
			continue
		}
		t, err := e.ticks.Get(symbol)
		if err != nil {
			continue
		}
		equity = equity.Add(t.Mark(qty).Mul(decimal.NewFromInt(qty)))
	}
	return equity
}

func (o *paperOrder) status() broker.OrderStatus {
	return broker.OrderStatus{
		BrokerOrderID:  o.id,
		State:          o.state,
		FilledQuantity: o.filled,
		AvgFillPrice:   o.avgPrice,
		Reason:         o.reason,
	}
}

func weightedPrice(avg decimal.Decimal, qty int64, price decimal.Decimal, add int64) decimal.Decimal {
	total := qty + add
	if total == 0 {
		return decimal.Zero
	}
	sum := avg.Mul(decimal.NewFromInt(qty)).Add(price.Mul(decimal.NewFromInt(add)))
	return sum.Div(decimal.NewFromInt(total))
}
