package paper

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, cash string) *Engine {
	t.Helper()
	e := NewEngine(market.MustPrice(cash))
	e.UpdatePrice(market.Tick{
		Symbol: "AAPL",
		Bid:    market.MustPrice("149.98"),
		Ask:    market.MustPrice("150.00"),
		Time:   time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC),
	})
	return e
}

func submit(t *testing.T, e *Engine, req broker.OrderRequest) broker.Ack {
	t.Helper()
	ack, err := e.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	return ack
}

func TestMarketableBuyFillsOnAsk(t *testing.T) {
	t.Parallel()
	e := newEngine(t, "10000")
	ctx := context.Background()

	ack := submit(t, e, broker.OrderRequest{
		ClientOrderID: "c1",
		Symbol:        "AAPL",
		Side:          market.Buy,
		Quantity:      10,
		LimitPrice:    market.MustPrice("150.00"),
	})
	assert.Equal(t, broker.StateFilled, ack.State)

	st, err := e.GetOrderStatus(ctx, ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.FilledQuantity)
	assert.True(t, st.AvgFillPrice.Equal(market.MustPrice("150.00")))
	assert.Equal(t, int64(10), e.Holding("AAPL"))

	// 10000 - 1500 cash + 10 * 149.98 marked at the bid
	bp, err := e.GetBuyingPower(ctx)
	require.NoError(t, err)
	assert.True(t, bp.Equal(market.MustPrice("9999.8")), "buying power = %s", bp)
}

func TestRestingOrderFillsOnPriceUpdate(t *testing.T) {
	t.Parallel()
	e := newEngine(t, "10000")
	ctx := context.Background()

	ack := submit(t, e, broker.OrderRequest{
		ClientOrderID: "c2",
		Symbol:        "AAPL",
		Side:          market.Buy,
		Quantity:      5,
		LimitPrice:    market.MustPrice("149.00"),
	})
	assert.Equal(t, broker.StateAccepted, ack.State)

	e.UpdatePrice(market.Tick{Symbol: "AAPL", Bid: market.MustPrice("148.90"), Ask: market.MustPrice("148.95")})

	st, err := e.GetOrderStatus(ctx, ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.StateFilled, st.State)
	assert.True(t, st.AvgFillPrice.Equal(market.MustPrice("148.95")))
}

func TestDuplicateClientIDIsIdempotent(t *testing.T) {
	t.Parallel()
	e := newEngine(t, "10000")

	req := broker.OrderRequest{ClientOrderID: "same", Symbol: "AAPL", Side: market.Buy, Quantity: 1}
	a := submit(t, e, req)
	b := submit(t, e, req)
	assert.Equal(t, a.BrokerOrderID, b.BrokerOrderID)
	assert.Equal(t, int64(1), e.Holding("AAPL"))

	found, err := e.LookupOrder(context.Background(), "same")
	require.NoError(t, err)
	assert.Equal(t, a.BrokerOrderID, found.BrokerOrderID)

	_, err = e.LookupOrder(context.Background(), "never-sent")
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestRejections(t *testing.T) {
	t.Parallel()
	e := newEngine(t, "100")
	ctx := context.Background()

	_, err := e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "AAPL", Side: market.Buy, Quantity: 10})
	assert.True(t, broker.IsRejected(err))

	_, err = e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "MSFT", Side: market.Buy, Quantity: 1})
	assert.True(t, broker.IsRejected(err))

	_, err = e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "AAPL", Side: market.Buy, Quantity: 0})
	assert.True(t, broker.IsRejected(err))
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	e := newEngine(t, "10000")
	ctx := context.Background()

	ack := submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: market.Buy, Quantity: 1, LimitPrice: market.MustPrice("100")})

	ok, err := e.CancelOrder(ctx, ack.BrokerOrderID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.CancelOrder(ctx, ack.BrokerOrderID)
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := e.GetOrderStatus(ctx, ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.StateCancelled, st.State)

	_, err = e.CancelOrder(ctx, "nope")
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestSellClosesLongAndRestoresCash(t *testing.T) {
	t.Parallel()
	e := newEngine(t, "10000")
	ctx := context.Background()

	submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: market.Buy, Quantity: 10})
	e.UpdatePrice(market.Tick{Symbol: "AAPL", Bid: market.MustPrice("151.00"), Ask: market.MustPrice("151.02")})
	submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: market.Sell, Quantity: 10})

	assert.Equal(t, int64(0), e.Holding("AAPL"))
	bp, err := e.GetBuyingPower(ctx)
	require.NoError(t, err)
	assert.True(t, bp.Equal(decimal.RequireFromString("10010")), "buying power = %s", bp)
}
