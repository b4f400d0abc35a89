package order

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskexec/audit"
	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/market"
)

// Recover rebuilds orders and positions from an audit trail, taking the
// last entry of each order as its state. Fills are replayed in order
// creation order; the round trips they complete were reported before the
// restart and are not reported again. It must run before any other call.
// It returns the number of orders left non-terminal, which Run reconciles.
func (m *Manager) Recover(entries []audit.Entry) (int, error) {
	groups := audit.ByOrder(entries)
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	m.mu.Lock()
	defer m.mu.Unlock()

	working := 0
	for _, id := range ids {
		es := groups[id]
		o, err := orderFromEntry(es[len(es)-1])
		if err != nil {
			return working, fmt.Errorf("recover order %s: %w", id, err)
		}
		if o.FilledQuantity > 0 {
			m.applyFillLocked(o, o.FilledQuantity, o.AvgFillPrice)
			o.applied = o.FilledQuantity
		}
		m.orders[id] = o
		if !o.Status.Terminal() {
			working++
		}
	}

	for _, p := range m.positions {
		if o, ok := m.orders[p.TradeID]; ok && !o.SubmittedAt.IsZero() {
			p.OpenedAt = o.SubmittedAt
		}
	}

	m.logger.Info("orders_recovered",
		zap.Int("orders", len(ids)),
		zap.Int("working", working),
		zap.Int("positions", len(m.positions)))
	return working, nil
}

func orderFromEntry(e audit.Entry) (*Order, error) {
	side, err := market.ParseSide(e.Side)
	if err != nil {
		return nil, err
	}
	mode, err := broker.ParseMode(e.ExecutionMode)
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:             e.OrderID,
		BrokerOrderID:  e.BrokerOrderID,
		Symbol:         e.Symbol,
		Side:           side,
		Quantity:       e.Quantity,
		Mode:           mode,
		Strategy:       e.Strategy,
		Intent:         Intent(e.Details["intent"]),
		Status:         Status(e.Status),
		UpdatedAt:      e.Timestamp,
		RetryCount:     e.RetryCount,
		FilledQuantity: e.FilledQuantity,
		Reason:         e.Details["reason"],
		LastError:      e.Error,
		seq:            e.Seq,
	}
	if o.Intent == "" {
		o.Intent = IntentOpen
	}
	if e.LimitPrice != nil {
		o.LimitPrice = *e.LimitPrice
	}
	if e.AvgFillPrice != nil {
		o.AvgFillPrice = *e.AvgFillPrice
	}
	if o.StopLoss, err = optDecimal(e.Details["stopLoss"]); err != nil {
		return nil, fmt.Errorf("stopLoss: %w", err)
	}
	if o.Target, err = optDecimal(e.Details["target"]); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	if s := e.Details["submittedAt"]; s != "" {
		if o.SubmittedAt, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return nil, fmt.Errorf("submittedAt: %w", err)
		}
	}
	if _, ok := transitions[o.Status]; !ok && !o.Status.Terminal() {
		return nil, fmt.Errorf("unknown status %q", e.Status)
	}
	return o, nil
}

func optDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
