package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskexec/audit"
	"github.com/rustyeddy/riskexec/journal"
	"github.com/rustyeddy/riskexec/risk"
)

// roundTrip is a position that went flat.
type roundTrip struct {
	pos       Position
	quantity  int64
	exitPrice decimal.Decimal
	pnl       decimal.Decimal
	closedAt  time.Time
	reason    string
}

// commit writes the audit entry for next and only then makes next the
// order's state. New fills are applied to the position in the same step.
// o must not be shared outside the manager; the caller holds the symbol
// lock.
func (m *Manager) commit(o *Order, next Order, action audit.Action) (*roundTrip, error) {
	if !CanTransition(o.Status, next.Status) {
		return nil, fmt.Errorf("order %s: illegal transition %s -> %s", o.ID, o.Status, next.Status)
	}

	next.seq = o.seq + 1
	next.UpdatedAt = m.now().UTC()
	if err := m.audit.Append(next.entry(action)); err != nil {
		m.logger.Error("audit_write_failed",
			zap.String("order_id", o.ID),
			zap.String("action", string(action)),
			zap.Error(err))
		return nil, fmt.Errorf("order %s: audit %s: %w", o.ID, action, err)
	}

	m.mu.Lock()
	prev := o.Status
	delta := next.FilledQuantity - o.applied
	var price decimal.Decimal
	if delta > 0 {
		price = fillPrice(o.AvgFillPrice, o.applied, next.AvgFillPrice, next.FilledQuantity)
	}
	next.applied = o.applied
	*o = next
	m.orders[o.ID] = o

	var rt *roundTrip
	if delta > 0 {
		rt = m.applyFillLocked(o, delta, price)
		o.applied = o.FilledQuantity
	}
	open := len(m.positions)
	m.mu.Unlock()

	if prev != next.Status {
		m.metrics.OrderTransition(string(next.Status))
		m.logger.Info("order_transition",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.String("from", string(prev)),
			zap.String("to", string(next.Status)),
			zap.String("action", string(action)),
			zap.Int64("filled", next.FilledQuantity))
	}
	m.metrics.OpenPositions(open)
	return rt, nil
}

// fillPrice is the price of the shares filled between two cumulative
// reports.
func fillPrice(oldAvg decimal.Decimal, oldQty int64, newAvg decimal.Decimal, newQty int64) decimal.Decimal {
	delta := newQty - oldQty
	if oldQty == 0 || delta <= 0 {
		return newAvg
	}
	num := newAvg.Mul(decimal.NewFromInt(newQty)).Sub(oldAvg.Mul(decimal.NewFromInt(oldQty)))
	return num.Div(decimal.NewFromInt(delta))
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int64) int64 {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// applyFillLocked moves the symbol's position by a fill of delta shares at
// price. It returns the round trip when the position goes flat or flips.
func (m *Manager) applyFillLocked(o *Order, delta int64, price decimal.Decimal) *roundTrip {
	signed := o.Side.Sign() * delta
	pos := m.positions[o.Symbol]

	if pos == nil {
		m.positions[o.Symbol] = m.newPosition(o, signed, price)
		return nil
	}

	if sign(pos.Quantity) == sign(signed) {
		held := decimal.NewFromInt(abs(pos.Quantity))
		add := decimal.NewFromInt(delta)
		pos.EntryPrice = pos.EntryPrice.Mul(held).Add(price.Mul(add)).Div(held.Add(add))
		pos.Quantity += signed
		return nil
	}

	closing := delta
	if abs(pos.Quantity) < closing {
		closing = abs(pos.Quantity)
	}
	pos.realized = pos.realized.Add(risk.PnL(sign(pos.Quantity)*closing, pos.EntryPrice, price))
	pos.closed += closing
	pos.exitValue = pos.exitValue.Add(price.Mul(decimal.NewFromInt(closing)))

	remaining := pos.Quantity + signed
	if sign(remaining) == sign(pos.Quantity) {
		pos.Quantity = remaining
		return nil
	}

	rt := &roundTrip{
		pos:       *pos,
		quantity:  pos.closed,
		exitPrice: pos.exitValue.Div(decimal.NewFromInt(pos.closed)),
		pnl:       pos.realized,
		closedAt:  m.now().UTC(),
		reason:    o.Reason,
	}
	delete(m.positions, o.Symbol)
	if remaining != 0 {
		m.positions[o.Symbol] = m.newPosition(o, remaining, price)
	}
	return rt
}

func (m *Manager) newPosition(o *Order, qty int64, price decimal.Decimal) *Position {
	return &Position{
		Symbol:     o.Symbol,
		Quantity:   qty,
		EntryPrice: price,
		StopLoss:   o.StopLoss,
		Target:     o.Target,
		OpenedAt:   m.now().UTC(),
		Strategy:   o.Strategy,
		Mode:       o.Mode,
		TradeID:    o.ID,
	}
}

// finishTrade reports a completed round trip to the risk supervisor and the
// journal.
// The fill is already committed, so the outcome must land even when the
// caller's context is done.
func (m *Manager) finishTrade(ctx context.Context, rt *roundTrip) {
	ctx = context.WithoutCancel(ctx)
	res, err := m.risk.RecordClose(ctx, risk.TradeOutcome{
		Symbol:     rt.pos.Symbol,
		PnL:        rt.pnl,
		Unrealized: m.unrealized(ctx),
	})
	if err != nil {
		m.logger.Error("risk_outcome_failed", zap.String("symbol", rt.pos.Symbol), zap.Error(err))
	}

	m.metrics.TradeClosed(rt.pos.Symbol, rt.pnl.InexactFloat64())
	m.logger.Info("trade_closed",
		zap.String("symbol", rt.pos.Symbol),
		zap.String("trade_id", rt.pos.TradeID),
		zap.Int64("quantity", rt.quantity),
		zap.String("entry", rt.pos.EntryPrice.String()),
		zap.String("exit", rt.exitPrice.String()),
		zap.String("pnl", rt.pnl.String()),
		zap.String("pnl_pct", res.PnLPct.StringFixed(4)),
		zap.Bool("breaker_tripped", res.Tripped),
		zap.Bool("protection", res.ProtectionTriggered))

	if m.journal == nil {
		return
	}
	err = m.journal.RecordTrade(ctx, journal.TradeRecord{
		TradeID:     rt.pos.TradeID,
		Symbol:      rt.pos.Symbol,
		Side:        string(rt.pos.Side()),
		Quantity:    rt.quantity,
		EntryPrice:  rt.pos.EntryPrice,
		ExitPrice:   rt.exitPrice,
		OpenTime:    rt.pos.OpenedAt,
		CloseTime:   rt.closedAt,
		RealizedPnL: rt.pnl,
		Strategy:    rt.pos.Strategy,
		Mode:        string(rt.pos.Mode),
		Reason:      rt.reason,
	})
	if err != nil {
		m.logger.Error("journal_trade_failed", zap.String("trade_id", rt.pos.TradeID), zap.Error(err))
	}
}
