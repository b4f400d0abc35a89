package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskexec/journal"
	"github.com/rustyeddy/riskexec/market"
	"github.com/rustyeddy/riskexec/retry"
	"github.com/rustyeddy/riskexec/risk"
)

var ErrNoQuoter = errors.New("order: no quote source")

// EvaluateProtection marks open positions, closes any whose stop or target
// has been crossed, and feeds the remaining open profit to profit
// protection. Once protection is active every position is closed.
func (m *Manager) EvaluateProtection(ctx context.Context) (bool, error) {
	var errList []error

	for _, p := range m.Positions() {
		t, err := m.mark(ctx, p.Symbol)
		if err != nil {
			errList = append(errList, err)
			continue
		}
		reason := exitReason(p, t)
		if reason == "" {
			continue
		}
		m.logger.Info("exit_triggered",
			zap.String("symbol", p.Symbol),
			zap.String("reason", reason),
			zap.String("bid", t.Bid.String()),
			zap.String("ask", t.Ask.String()))
		if _, err := m.ClosePosition(ctx, p.Symbol, reason); err != nil {
			errList = append(errList, fmt.Errorf("%s: %w", p.Symbol, err))
		}
	}

	if _, err := m.risk.EvaluateProtection(ctx, m.unrealized(ctx)); err != nil {
		errList = append(errList, err)
	}
	active := m.risk.ProtectionActive()
	if active && len(m.Positions()) > 0 {
		if err := m.CloseAll(ctx, "profit protection"); err != nil {
			errList = append(errList, err)
		}
	}
	return active, errors.Join(errList...)
}

// exitReason reports whether the tick crosses the position's stop or
// target. Longs are marked on the bid, shorts on the ask.
func exitReason(p Position, t market.Tick) string {
	px := t.Mark(p.Quantity)
	long := p.Quantity > 0
	switch {
	case p.StopLoss.IsPositive() && long && px.LessThanOrEqual(p.StopLoss):
		return "stop loss"
	case p.StopLoss.IsPositive() && !long && px.GreaterThanOrEqual(p.StopLoss):
		return "stop loss"
	case p.Target.IsPositive() && long && px.GreaterThanOrEqual(p.Target):
		return "target"
	case p.Target.IsPositive() && !long && px.LessThanOrEqual(p.Target):
		return "target"
	}
	return ""
}

func (m *Manager) mark(ctx context.Context, symbol string) (market.Tick, error) {
	if m.quoter == nil {
		return market.Tick{}, ErrNoQuoter
	}
	t, _, err := retry.Do(ctx, m.exec, "quote", func(ctx context.Context) (market.Tick, error) {
		return m.quoter.GetTick(ctx, symbol)
	})
	return t, err
}

// unrealized is the open profit across positions plus profit already
// taken on positions that are partly closed. Symbols that cannot be marked
// count as zero.
func (m *Manager) unrealized(ctx context.Context) decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.Positions() {
		total = total.Add(p.realized)
		t, err := m.mark(ctx, p.Symbol)
		if err != nil {
			m.logger.Warn("mark_failed", zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}
		total = total.Add(risk.Unrealized(p.Quantity, p.EntryPrice, t))
	}
	return total
}

type equityRecorder interface {
	RecordEquity(ctx context.Context, s journal.EquitySnapshot) error
}

// Rollover starts a new trading day when the calendar has moved on. The
// new day's starting equity comes from the broker and is journaled.
func (m *Manager) Rollover(ctx context.Context) (bool, error) {
	equity, err := m.equity(ctx)
	if err != nil {
		m.logger.Warn("rollover_equity_failed", zap.Error(err))
		equity = decimal.Zero
	}
	rolled, err := m.risk.RolloverIfNewDay(ctx, equity)
	if err != nil || !rolled {
		return rolled, err
	}

	if rec, ok := m.journal.(equityRecorder); ok {
		st := m.risk.Snapshot()
		err := rec.RecordEquity(ctx, journal.EquitySnapshot{
			Time:   m.now().UTC(),
			Day:    st.Day,
			Equity: st.DayStartEquity,
		})
		if err != nil {
			m.logger.Error("journal_equity_failed", zap.Error(err))
		}
	}
	return true, nil
}
