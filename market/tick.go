package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNoPrice = errors.New("price not found")

type TickSource interface {
	GetTick(ctx context.Context, symbol string) (Tick, error)
}

type Tick struct {
	Symbol string
	Bid    Price
	Ask    Price
	Time   time.Time
}

func (t Tick) Mid() Price {
	return t.Bid.Add(t.Ask).Div(two)
}

func (t Tick) Spread() Price {
	return t.Ask.Sub(t.Bid)
}

// Mark is the price a position of the given sign would be closed at:
// longs close on the bid, shorts on the ask.
func (t Tick) Mark(qty int64) Price {
	if qty < 0 {
		return t.Ask
	}
	return t.Bid
}

type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ps *TickStore) Set(p Tick) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.ticks[p.Symbol] = p
}

func (ps *TickStore) Get(symbol string) (Tick, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.ticks[symbol]
	if !ok {
		return Tick{}, ErrNoPrice
	}
	return p, nil
}
