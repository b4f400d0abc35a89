package order

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskexec/audit"
	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/broker/brokertest"
	"github.com/rustyeddy/riskexec/errs"
	"github.com/rustyeddy/riskexec/journal"
	"github.com/rustyeddy/riskexec/market"
	"github.com/rustyeddy/riskexec/retry"
	"github.com/rustyeddy/riskexec/risk"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Add(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(dur)
}

type memJournal struct {
	mu     sync.Mutex
	trades []journal.TradeRecord
	equity []journal.EquitySnapshot
}

func (j *memJournal) RecordTrade(ctx context.Context, t journal.TradeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, t)
	return nil
}

func (j *memJournal) RecordEquity(ctx context.Context, e journal.EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.equity = append(j.equity, e)
	return nil
}

func (j *memJournal) Trades() []journal.TradeRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.TradeRecord(nil), j.trades...)
}

type harness struct {
	m       *Manager
	gw      *brokertest.Gateway
	// wrap, when set, decorates gw for managers built afterwards.
	wrap    func(broker.Gateway) broker.Gateway
	log     *audit.MemoryLog
	sup     *risk.Supervisor
	clock   *testClock
	journal *memJournal
}

type option func(*Config, *retry.Policy)

func attempts(n int) option {
	return func(_ *Config, p *retry.Policy) { p.MaxAttempts = n }
}

func cancelsOpen() option {
	return func(c *Config, _ *retry.Policy) { c.ReconcileCancelsOpen = true }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	h := &harness{
		gw:      brokertest.New(d("10000")),
		log:     audit.NewMemoryLog("test"),
		clock:   &testClock{t: time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)},
		journal: &memJournal{},
	}
	sup, err := risk.NewSupervisor(context.Background(), risk.SupervisorConfig{
		Policy: risk.DefaultPolicy(),
		Audit:  h.log,
		Equity: d("10000"),
		Now:    h.clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(sup.Close)
	h.sup = sup
	h.m = h.manager(t, opts...)
	return h
}

// manager builds a manager over the harness's broker, log and supervisor.
func (h *harness) manager(t *testing.T, opts ...option) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxPositionPct = d("2")
	p := retry.DefaultPolicy()
	p.CallTimeout = 0
	for _, opt := range opts {
		opt(&cfg, &p)
	}
	exec := retry.New(p, nil, retry.WithSleep(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}))
	var gw broker.Gateway = h.gw
	if h.wrap != nil {
		gw = h.wrap(gw)
	}
	m, err := NewManager(cfg, Deps{
		Gateway:  gw,
		Executor: exec,
		Risk:     h.sup,
		Audit:    h.log,
		Journal:  h.journal,
		Now:      h.clock.Now,
	})
	require.NoError(t, err)
	return m
}

func aapl() TradeRequest {
	return TradeRequest{
		Symbol:        "AAPL",
		Side:          market.Buy,
		EntryPrice:    d("150.00"),
		StopLossPrice: d("148.50"),
		TargetPrice:   d("155.00"),
		Strategy:      "breakout",
	}
}

func statuses(entries []audit.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Action) + ":" + e.Status
	}
	return out
}

func timeouts(n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = broker.ErrTimeout
	}
	return out
}

func TestOpenPosition_SizesSubmitsAndFills(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.AutoFill = true
	ctx := context.Background()

	dec, err := h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)
	require.True(t, dec.Allowed)
	require.NotNil(t, dec.Order)
	assert.Equal(t, int64(133), dec.Order.Quantity)
	assert.Equal(t, StatusFilled, dec.Order.Status)
	assert.Equal(t, "B1", dec.Order.BrokerOrderID)

	pos, ok := h.m.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(133), pos.Quantity)
	assert.True(t, pos.EntryPrice.Equal(d("150")))
	assert.True(t, pos.StopLoss.Equal(d("148.50")))
	assert.Equal(t, dec.Order.ID, pos.TradeID)

	entries := h.log.ForOrder(dec.Order.ID)
	assert.Equal(t, []string{"Submit:Submitted", "Submit:Confirmed", "StatusPoll:Filled"}, statuses(entries))
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.Equal(t, dec.Order.ID, e.OrderID)
		assert.Equal(t, "open", e.Details["intent"])
	}

	req, ok := h.gw.Order("B1")
	require.True(t, ok)
	assert.Equal(t, dec.Order.ID, req.Request.ClientOrderID)
}

func TestOpenPosition_MultiplierShrinksSize(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	for range 2 {
		_, err := h.sup.RecordClose(ctx, risk.TradeOutcome{Symbol: "X", PnL: d("-10")})
		require.NoError(t, err)
	}
	require.True(t, h.sup.Multiplier().Equal(d("0.25")))

	dec, err := h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)
	require.NotNil(t, dec.Order)
	assert.Equal(t, int64(33), dec.Order.Quantity)
}

func TestOpenPosition_BreakerDenies(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.m.TripBreaker(ctx, "manual halt"))

	dec, err := h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Nil(t, dec.Order)
	assert.True(t, strings.HasPrefix(dec.Reason, "circuit breaker tripped"), dec.Reason)

	submits, _, _, _ := h.gw.Calls()
	assert.Zero(t, submits)

	require.NoError(t, h.m.ResetBreaker(ctx, "ops"))
	dec, err = h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestOpenPosition_ValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mod  func(*TradeRequest)
	}{
		{"stop equals entry", func(r *TradeRequest) { r.StopLossPrice = r.EntryPrice }},
		{"stop on wrong side", func(r *TradeRequest) { r.StopLossPrice = d("151") }},
		{"missing symbol", func(r *TradeRequest) { r.Symbol = "" }},
		{"bad side", func(r *TradeRequest) { r.Side = "Hold" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			req := aapl()
			tt.mod(&req)

			dec, err := h.m.OpenPosition(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err), err)
			assert.False(t, dec.Allowed)
			submits, _, _, _ := h.gw.Calls()
			assert.Zero(t, submits)
			assert.Empty(t, h.m.Orders())
		})
	}
}

func TestOpenPosition_ZeroSizeIsValidationError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	req := aapl()
	req.EntryPrice = d("1000")
	req.StopLossPrice = d("700")
	req.TargetPrice = d("1100")

	_, err := h.m.OpenPosition(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Empty(t, h.m.Orders())
}

func TestOpenPosition_TimeoutsThenReconcileCancels(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.SubmitErrs = timeouts(3)
	ctx := context.Background()

	dec, err := h.m.OpenPosition(ctx, aapl())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrExhausted), err)
	require.NotNil(t, dec.Order)
	assert.Equal(t, StatusCancelled, dec.Order.Status)
	assert.Equal(t, "not found at broker", dec.Order.Reason)

	entries := h.log.ForOrder(dec.Order.ID)
	assert.Equal(t, []string{"Submit:Submitted", "Submit:Error", "Reconcile:Cancelled"}, statuses(entries))
	assert.Equal(t, 2, entries[1].RetryCount)
	assert.NotEmpty(t, entries[1].Error)

	submits, _, lookups, _ := h.gw.Calls()
	assert.Equal(t, 3, submits)
	assert.Equal(t, 1, lookups)

	// Resolved: the symbol trades again.
	dec, err = h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, dec.Order.Status)
}

func TestOpenPosition_UnknownStatusBlocksSymbol(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.SubmitErrs = timeouts(3)
	h.gw.LookupErrs = timeouts(3)
	ctx := context.Background()

	dec, err := h.m.OpenPosition(ctx, aapl())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrStatusUnknown), err)
	assert.Equal(t, "order status unknown, reconciling", dec.Reason)
	require.NotNil(t, dec.Order)
	assert.Equal(t, StatusError, dec.Order.Status)
	id := dec.Order.ID

	dec, err = h.m.OpenPosition(ctx, aapl())
	assert.True(t, errors.Is(err, errs.ErrStatusUnknown), err)
	assert.False(t, dec.Allowed)
	submits, _, _, _ := h.gw.Calls()
	assert.Equal(t, 3, submits)

	o, err := h.m.ReconcileOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	n := len(h.log.Entries())

	o, err = h.m.ReconcileOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Len(t, h.log.Entries(), n)

	dec, err = h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestOpenPosition_LostAckRetriedWithSameClientID(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.LoseAcks = 1

	dec, err := h.m.OpenPosition(context.Background(), aapl())
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, dec.Order.Status)
	assert.Equal(t, 1, dec.Order.RetryCount)
	assert.Equal(t, 1, h.gw.Orders())
}

func TestOpenPosition_LostAckAdoptedByReconcile(t *testing.T) {
	t.Parallel()
	h := newHarness(t, attempts(1))
	h.gw.LoseAcks = 1

	dec, err := h.m.OpenPosition(context.Background(), aapl())
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, dec.Order.Status)
	assert.Equal(t, "B1", dec.Order.BrokerOrderID)
	assert.Equal(t,
		[]string{"Submit:Submitted", "Submit:Error", "Reconcile:Confirmed"},
		statuses(h.log.ForOrder(dec.Order.ID)))
}

func TestOpenPosition_ReconcileCancelsOpenOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, attempts(1), cancelsOpen())
	h.gw.LoseAcks = 1

	dec, err := h.m.OpenPosition(context.Background(), aapl())
	require.Error(t, err)
	assert.Equal(t, StatusCancelled, dec.Order.Status)

	o, ok := h.gw.Order("B1")
	require.True(t, ok)
	assert.Equal(t, broker.StateCancelled, o.Status.State)
	assert.Equal(t,
		[]string{"Submit:Submitted", "Submit:Error", "Reconcile:Confirmed", "Cancel:Confirmed", "Cancel:Cancelled"},
		statuses(h.log.ForOrder(dec.Order.ID)))
}

func TestOpenPosition_BrokerRejection(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.SubmitErrs = []error{broker.Rejected("insufficient buying power")}

	dec, err := h.m.OpenPosition(context.Background(), aapl())
	require.Error(t, err)
	assert.True(t, errs.IsPermanent(err))
	assert.Equal(t, StatusRejected, dec.Order.Status)
	assert.Equal(t, "insufficient buying power", dec.Order.Reason)

	submits, _, _, _ := h.gw.Calls()
	assert.Equal(t, 1, submits)
	_, ok := h.m.Position("AAPL")
	assert.False(t, ok)
}

func TestOpenPosition_AuditFailureBlocksSubmit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.log.SetFail(errors.New("disk full"))

	_, err := h.m.OpenPosition(context.Background(), aapl())
	require.Error(t, err)
	submits, _, _, _ := h.gw.Calls()
	assert.Zero(t, submits)
	assert.Empty(t, h.m.Orders())
}

func TestOpenPosition_OneOrderPerSymbol(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	placed := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := h.m.OpenPosition(ctx, aapl())
			assert.NoError(t, err)
			if dec.Order != nil {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, placed)
	submits, _, _, _ := h.gw.Calls()
	assert.Equal(t, 1, submits)
}

func TestClosePosition_RecordsTradeAndOutcome(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.AutoFill = true
	h.gw.FillPrice = d("148")
	ctx := context.Background()

	open, err := h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)

	dec, err := h.m.ClosePosition(ctx, "AAPL", "manual")
	require.NoError(t, err)
	require.NotNil(t, dec.Order)
	assert.Equal(t, market.Sell, dec.Order.Side)
	assert.Equal(t, IntentClose, dec.Order.Intent)
	assert.Equal(t, StatusFilled, dec.Order.Status)
	assert.True(t, dec.Order.LimitPrice.IsZero())

	_, ok := h.m.Position("AAPL")
	assert.False(t, ok)

	trades := h.journal.Trades()
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, open.Order.ID, tr.TradeID)
	assert.Equal(t, int64(133), tr.Quantity)
	assert.True(t, tr.RealizedPnL.Equal(d("-266")), tr.RealizedPnL.String())
	assert.True(t, tr.ExitPrice.Equal(d("148")))
	assert.Equal(t, "manual", tr.Reason)

	snap := h.sup.Snapshot()
	assert.True(t, snap.Breaker.DailyRealizedPnL.Equal(d("-266")))
	assert.Equal(t, 1, snap.Breaker.ConsecutiveLosses)
}

// cancelOnFill cancels the armed context as soon as it reports a fill, the
// way a shutdown can land between the broker's answer and the bookkeeping.
type cancelOnFill struct {
	broker.Gateway

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (g *cancelOnFill) arm(cancel context.CancelFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancel = cancel
}

func (g *cancelOnFill) GetOrderStatus(ctx context.Context, id string) (broker.OrderStatus, error) {
	st, err := g.Gateway.GetOrderStatus(ctx, id)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil && st.State == broker.StateFilled && g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	return st, err
}

func TestClosePosition_OutcomeSurvivesCancel(t *testing.T) {
	t.Parallel()

	for i := 0; i < 10; i++ {
		h := newHarness(t)
		h.gw.AutoFill = true
		h.gw.FillPrice = d("148")
		wrapped := &cancelOnFill{}
		h.wrap = func(gw broker.Gateway) broker.Gateway {
			wrapped.Gateway = gw
			return wrapped
		}
		h.m = h.manager(t)

		_, err := h.m.OpenPosition(context.Background(), aapl())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		wrapped.arm(cancel)
		_, _ = h.m.ClosePosition(ctx, "AAPL", "manual")
		cancel()

		_, ok := h.m.Position("AAPL")
		require.False(t, ok)

		snap := h.sup.Snapshot()
		assert.Equal(t, 1, snap.Breaker.ConsecutiveLosses, "run %d", i)
		assert.True(t, snap.Breaker.DailyRealizedPnL.Equal(d("-266")), "run %d: %s", i, snap.Breaker.DailyRealizedPnL)
		assert.Len(t, h.journal.Trades(), 1, "run %d", i)
	}
}

func TestClosePosition_NotBlockedByBreaker(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.AutoFill = true
	h.gw.FillPrice = d("149")
	ctx := context.Background()

	_, err := h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)
	require.NoError(t, h.m.TripBreaker(ctx, "manual halt"))

	dec, err := h.m.ClosePosition(ctx, "AAPL", "flatten")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Empty(t, h.m.Positions())
}

func TestClosePosition_CancelsRestingEntryAndIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	open, err := h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)
	h.gw.Fill(open.Order.BrokerOrderID, 40, d("150"))
	require.NoError(t, h.m.PollOrders(ctx))

	dec, err := h.m.ClosePosition(ctx, "AAPL", "exit")
	require.NoError(t, err)
	require.NotNil(t, dec.Order)
	assert.Equal(t, int64(40), dec.Order.Quantity)

	entry, ok := h.m.Order(open.Order.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, entry.Status)

	again, err := h.m.ClosePosition(ctx, "AAPL", "exit")
	require.NoError(t, err)
	assert.Equal(t, dec.Order.ID, again.Order.ID)
	assert.Equal(t, "close already working", again.Reason)
}

func TestPollOrders_PartialFills(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	dec, err := h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)
	id, bid := dec.Order.ID, dec.Order.BrokerOrderID

	h.gw.Fill(bid, 50, d("150"))
	require.NoError(t, h.m.PollOrders(ctx))
	o, _ := h.m.Order(id)
	assert.Equal(t, StatusPartiallyFilled, o.Status)
	pos, ok := h.m.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(50), pos.Quantity)

	n := len(h.log.Entries())
	require.NoError(t, h.m.PollOrders(ctx))
	assert.Len(t, h.log.Entries(), n, "unchanged status writes nothing")

	h.gw.Fill(bid, 83, d("151"))
	require.NoError(t, h.m.PollOrders(ctx))
	o, _ = h.m.Order(id)
	assert.Equal(t, StatusFilled, o.Status)
	pos, _ = h.m.Position("AAPL")
	assert.Equal(t, int64(133), pos.Quantity)
	assert.InDelta(t, 150.624, pos.EntryPrice.InexactFloat64(), 1e-3)
}

func TestPollOrders_StaleReportIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	dec, err := h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)
	h.gw.Fill(dec.Order.BrokerOrderID, 50, d("150"))
	require.NoError(t, h.m.PollOrders(ctx))

	h.m.mu.RLock()
	o := h.m.orders[dec.Order.ID]
	h.m.mu.RUnlock()
	n := len(h.log.Entries())

	// An acknowledgement that arrives after the fill it predates.
	err = h.m.applyStatusLocked(ctx, o, broker.OrderStatus{
		BrokerOrderID: dec.Order.BrokerOrderID,
		State:         broker.StateAccepted,
	}, audit.ActionStatusPoll)
	require.NoError(t, err)

	got, _ := h.m.Order(dec.Order.ID)
	assert.Equal(t, StatusPartiallyFilled, got.Status)
	assert.Equal(t, int64(50), got.FilledQuantity)
	assert.Len(t, h.log.Entries(), n)
}

func TestPollOrders_StatusErrorIsAudited(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	dec, err := h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)
	h.gw.StatusErrs = timeouts(3)

	require.Error(t, h.m.PollOrders(ctx))
	errEntries := h.log.Filter(audit.ActionStatusError)
	require.Len(t, errEntries, 1)
	assert.Equal(t, dec.Order.ID, errEntries[0].OrderID)
	assert.Equal(t, "Confirmed", errEntries[0].Status)
}

func TestPollOrders_ReconcilesStuckSubmitted(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	// A Submitted order with no broker ID, as left behind by a crash.
	o := &Order{ID: "01STUCK", Symbol: "MSFT", Side: market.Buy, Quantity: 5,
		Mode: broker.Paper, Intent: IntentOpen, Status: StatusPending}
	next := *o
	next.Status = StatusSubmitted
	next.SubmittedAt = h.clock.Now()
	_, err := h.m.commit(o, next, audit.ActionSubmit)
	require.NoError(t, err)

	require.NoError(t, h.m.PollOrders(ctx))
	got, _ := h.m.Order("01STUCK")
	assert.Equal(t, StatusSubmitted, got.Status, "too young to reconcile")

	h.clock.Add(time.Minute)
	require.NoError(t, h.m.PollOrders(ctx))
	got, _ = h.m.Order("01STUCK")
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	dec, err := h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)

	o, err := h.m.CancelOrder(ctx, dec.Order.ID, "user request")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, "user request", o.Reason)

	_, err = h.m.CancelOrder(ctx, "nope", "x")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestEvaluateProtection_StopLoss(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.AutoFill = true
	h.gw.FillPrice = d("148.40")
	ctx := context.Background()

	_, err := h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)

	h.gw.Ticks.Set(market.Tick{Symbol: "AAPL", Bid: d("149.00"), Ask: d("149.02")})
	active, err := h.m.EvaluateProtection(ctx)
	require.NoError(t, err)
	assert.False(t, active)
	require.Len(t, h.m.Positions(), 1)

	h.gw.Ticks.Set(market.Tick{Symbol: "AAPL", Bid: d("148.40"), Ask: d("148.42")})
	_, err = h.m.EvaluateProtection(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.m.Positions())

	trades := h.journal.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "stop loss", trades[0].Reason)
}

func TestEvaluateProtection_ProfitLockClosesAll(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.AutoFill = true
	ctx := context.Background()

	req := aapl()
	req.TargetPrice = d("160")
	_, err := h.m.OpenPosition(ctx, req)
	require.NoError(t, err)

	h.gw.Ticks.Set(market.Tick{Symbol: "AAPL", Bid: d("152"), Ask: d("152.02")})
	active, err := h.m.EvaluateProtection(ctx)
	require.NoError(t, err)
	assert.False(t, active)
	assert.True(t, h.sup.ProtectionState().DailyPeakProfit.Equal(d("266")))

	h.gw.FillPrice = d("150.50")
	h.gw.Ticks.Set(market.Tick{Symbol: "AAPL", Bid: d("150.50"), Ask: d("150.52")})
	active, err = h.m.EvaluateProtection(ctx)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Empty(t, h.m.Positions())

	trades := h.journal.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "profit protection", trades[0].Reason)
	assert.True(t, trades[0].RealizedPnL.Equal(d("66.5")))

	msft := aapl()
	msft.Symbol = "MSFT"
	dec, err := h.m.OpenPosition(ctx, msft)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "profit protection")
}

func TestExitReason(t *testing.T) {
	t.Parallel()
	long := Position{Quantity: 10, StopLoss: d("95"), Target: d("110")}
	short := Position{Quantity: -10, StopLoss: d("105"), Target: d("90")}
	tick := func(bid, ask string) market.Tick { return market.Tick{Bid: d(bid), Ask: d(ask)} }

	tests := []struct {
		name string
		pos  Position
		tick market.Tick
		want string
	}{
		{"long inside", long, tick("100", "100.1"), ""},
		{"long stop on bid", long, tick("95", "95.1"), "stop loss"},
		{"long target", long, tick("110", "110.1"), "target"},
		{"short inside", short, tick("100", "100.1"), ""},
		{"short stop on ask", short, tick("104.9", "105"), "stop loss"},
		{"short target", short, tick("89.9", "90"), "target"},
		{"short bid below target only", short, tick("89", "90.5"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, exitReason(tt.pos, tt.tick))
		})
	}
}

func TestRecover_RebuildsOrdersAndPositions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.AutoFill = true
	ctx := context.Background()

	open, err := h.m.OpenPosition(ctx, aapl())
	require.NoError(t, err)

	h.gw.AutoFill = false
	h.gw.SubmitErrs = timeouts(3)
	h.gw.LookupErrs = timeouts(3)
	msft := aapl()
	msft.Symbol = "MSFT"
	stuck, err := h.m.OpenPosition(ctx, msft)
	require.ErrorIs(t, err, errs.ErrStatusUnknown)

	restarted := h.manager(t)
	working, err := restarted.Recover(h.log.Entries())
	require.NoError(t, err)
	assert.Equal(t, 1, working)

	pos, ok := restarted.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(133), pos.Quantity)
	assert.True(t, pos.EntryPrice.Equal(d("150")))
	assert.True(t, pos.Target.Equal(d("155")))
	assert.Equal(t, open.Order.ID, pos.TradeID)

	o, ok := restarted.Order(stuck.Order.ID)
	require.True(t, ok)
	assert.Equal(t, StatusError, o.Status)
	seq := o.Seq()

	require.NoError(t, restarted.ReconcileStale(ctx, 0))
	o, _ = restarted.Order(stuck.Order.ID)
	assert.Equal(t, StatusCancelled, o.Status)
	entries := h.log.ForOrder(stuck.Order.ID)
	assert.Equal(t, seq+1, entries[len(entries)-1].Seq)
}

func TestRollover_JournalsStartingEquity(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	rolled, err := h.m.Rollover(ctx)
	require.NoError(t, err)
	assert.False(t, rolled)

	h.clock.Add(24 * time.Hour)
	rolled, err = h.m.Rollover(ctx)
	require.NoError(t, err)
	assert.True(t, rolled)

	h.journal.mu.Lock()
	defer h.journal.mu.Unlock()
	require.Len(t, h.journal.equity, 1)
	assert.Equal(t, "2024-03-02", h.journal.equity[0].Day)
	assert.True(t, h.journal.equity[0].Equity.Equal(d("10000")))
}

func TestSubmitQueuesForWorkers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.AutoFill = true
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.m.Run(ctx) }()

	require.NoError(t, h.m.Submit(ctx, aapl()))
	require.Eventually(t, func() bool {
		_, ok := h.m.Position("AAPL")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
