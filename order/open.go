package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskexec/audit"
	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/errs"
	"github.com/rustyeddy/riskexec/pkg/id"
	"github.com/rustyeddy/riskexec/retry"
	"github.com/rustyeddy/riskexec/risk"
)

// OpenPosition sizes and submits an entry order for req. A risk denial is
// returned as a Decision with Allowed false and a nil error. Malformed
// requests and degenerate sizes are validation errors. When the broker
// cannot be reached the order is left in Error and the returned error wraps
// errs.ErrStatusUnknown.
func (m *Manager) OpenPosition(ctx context.Context, req TradeRequest) (Decision, error) {
	const op = "open position"

	if v := risk.CheckIntent(risk.TradeIntent{
		Symbol: req.Symbol,
		Side:   req.Side,
		Entry:  req.EntryPrice,
		Stop:   req.StopLossPrice,
		Target: req.TargetPrice,
	}); len(v) > 0 {
		msgs := make([]string, len(v))
		for i := range v {
			msgs[i] = v[i].Msg
		}
		reason := strings.Join(msgs, "; ")
		m.logger.Warn("trade_request_invalid", zap.String("symbol", req.Symbol), zap.String("reason", reason))
		return denied(reason), errs.Validation(op, "%s", reason)
	}

	if d := m.risk.Check(); !d.Allowed {
		return m.deny(req.Symbol, d), nil
	}

	unlock, err := m.locks.Lock(ctx, req.Symbol)
	if err != nil {
		return Decision{}, err
	}
	defer unlock()

	if d, busy, err := m.busy(req.Symbol); busy {
		return d, err
	}
	if _, ok := m.Position(req.Symbol); ok {
		return denied("position already open in " + req.Symbol), nil
	}
	// The breaker may have tripped while this request waited for the lock.
	if d := m.risk.Check(); !d.Allowed {
		return m.deny(req.Symbol, d), nil
	}

	equity, err := m.equity(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: buying power: %w", op, err)
	}
	sz, err := risk.Calculate(equity, req.EntryPrice, req.StopLossPrice, m.cfg.RiskPctPerTrade, m.cfg.MaxPositionPct)
	if err != nil {
		return denied(err.Error()), err
	}
	mult := m.risk.Multiplier()
	qty := risk.ApplyMultiplier(sz.Quantity, mult)
	if qty <= 0 {
		return denied("position size is zero"), errs.Validation(op,
			"position size is zero (equity %s, per-share risk %s, multiplier %s)",
			equity, sz.PerShareRisk, mult)
	}

	m.logger.Info("position_sized",
		zap.String("symbol", req.Symbol),
		zap.String("equity", equity.String()),
		zap.String("risk_amount", sz.RiskAmount.String()),
		zap.Int64("raw_qty", sz.RawQty),
		zap.Int64("max_qty", sz.MaxQty),
		zap.String("multiplier", mult.String()),
		zap.Int64("qty", qty))

	o := &Order{
		ID:         id.New(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   qty,
		LimitPrice: req.EntryPrice,
		Mode:       m.cfg.Mode,
		Strategy:   req.Strategy,
		Intent:     IntentOpen,
		Status:     StatusPending,
		StopLoss:   req.StopLossPrice,
		Target:     req.TargetPrice,
	}
	return m.submitLocked(ctx, o)
}

// ClosePosition flattens the symbol's position with a marketable order.
// It is never blocked by the circuit breaker. Resting entry orders for the
// symbol are cancelled first. Calling it while a close is already working
// returns that close.
func (m *Manager) ClosePosition(ctx context.Context, symbol, reason string) (Decision, error) {
	unlock, err := m.locks.Lock(ctx, symbol)
	if err != nil {
		return Decision{}, err
	}
	defer unlock()

	for _, o := range m.working(symbol) {
		if o.Status == StatusError {
			if err := m.reconcileLocked(ctx, o); err != nil || o.Status == StatusError {
				return denied(errs.ErrStatusUnknown.Error()), fmt.Errorf("order %s: %w", o.ID, errs.ErrStatusUnknown)
			}
			if o.Status.Terminal() {
				continue
			}
		}
		if o.Intent == IntentClose {
			cp := *o
			return Decision{Allowed: true, Reason: "close already working", Order: &cp}, nil
		}
		if err := m.cancelLocked(ctx, o, "superseded by close: "+reason); err != nil {
			return Decision{}, err
		}
	}

	pos, ok := m.Position(symbol)
	if !ok {
		return denied("no open position in " + symbol), nil
	}

	mode := pos.Mode
	if mode == "" {
		mode = m.cfg.Mode
	}
	o := &Order{
		ID:       id.New(),
		Symbol:   symbol,
		Side:     pos.Side().Opposite(),
		Quantity: abs(pos.Quantity),
		Mode:     mode,
		Strategy: pos.Strategy,
		Intent:   IntentClose,
		Status:   StatusPending,
		Reason:   reason,
	}
	m.logger.Info("position_closing",
		zap.String("symbol", symbol),
		zap.Int64("qty", pos.Quantity),
		zap.String("reason", reason))
	return m.submitLocked(ctx, o)
}

// CloseAll closes every open position.
func (m *Manager) CloseAll(ctx context.Context, reason string) error {
	var errList []error
	for _, p := range m.Positions() {
		if _, err := m.ClosePosition(ctx, p.Symbol, reason); err != nil {
			errList = append(errList, fmt.Errorf("%s: %w", p.Symbol, err))
		}
	}
	return errors.Join(errList...)
}

// busy reports whether the symbol already has an order in flight.
func (m *Manager) busy(symbol string) (Decision, bool, error) {
	for _, o := range m.working(symbol) {
		if o.Status == StatusError {
			return denied(errs.ErrStatusUnknown.Error()), true,
				fmt.Errorf("order %s: %w", o.ID, errs.ErrStatusUnknown)
		}
		return denied(fmt.Sprintf("order %s already working for %s", o.ID, symbol)), true, nil
	}
	return Decision{}, false, nil
}

func (m *Manager) deny(symbol string, d risk.Decision) Decision {
	code := ""
	if len(d.Violations) > 0 {
		code = d.Violations[0].Code
	}
	m.metrics.RiskDenied(code)
	m.logger.Info("risk_denied",
		zap.String("symbol", symbol),
		zap.String("code", code),
		zap.String("reason", d.Reason()))
	return denied(d.Reason())
}

func (m *Manager) equity(ctx context.Context) (decimal.Decimal, error) {
	if m.cfg.Equity.IsPositive() {
		return m.cfg.Equity, nil
	}
	bp, _, err := retry.Do(ctx, m.exec, "buying power", m.gw.GetBuyingPower)
	return bp, err
}

// submitLocked records o as Submitted, sends it and applies the broker's
// answer. The caller holds the symbol lock.
func (m *Manager) submitLocked(ctx context.Context, o *Order) (Decision, error) {
	next := *o
	next.Status = StatusSubmitted
	next.SubmittedAt = m.now().UTC()
	if _, err := m.commit(o, next, audit.ActionSubmit); err != nil {
		return Decision{}, err
	}
	m.metrics.OrderSubmitted(o.Symbol, string(o.Side), string(o.Mode))

	ack, attempts, err := retry.Do(ctx, m.exec, "submit order", func(ctx context.Context) (broker.Ack, error) {
		return m.gw.SubmitOrder(ctx, o.request())
	})

	next = *o
	next.RetryCount = attempts - 1
	switch {
	case err == nil:
		next.BrokerOrderID = ack.BrokerOrderID
		next.Status = StatusConfirmed
		if _, err := m.commit(o, next, audit.ActionSubmit); err != nil {
			return accepted(o), err
		}
		if ack.State != broker.StateAccepted {
			if err := m.refreshLocked(ctx, o, audit.ActionStatusPoll); err != nil {
				m.logger.Warn("order_refresh_failed", zap.String("order_id", o.ID), zap.Error(err))
			}
		}
		return accepted(o), nil

	case broker.IsRejected(err):
		var rej *broker.RejectedError
		errors.As(err, &rej)
		next.Status = StatusRejected
		next.Reason = rej.Reason
		next.LastError = err.Error()
		if _, cerr := m.commit(o, next, audit.ActionSubmit); cerr != nil {
			return Decision{}, errors.Join(err, cerr)
		}
		d := accepted(o)
		d.Reason = "rejected by broker: " + rej.Reason
		return d, err
	}

	next.Status = StatusError
	next.LastError = err.Error()
	if _, cerr := m.commit(o, next, audit.ActionSubmit); cerr != nil {
		return Decision{}, errors.Join(err, cerr)
	}

	// The broker may or may not hold the order. Ask before letting the
	// symbol trade again.
	if rerr := m.reconcileLocked(ctx, o); rerr != nil {
		m.logger.Warn("order_reconcile_failed", zap.String("order_id", o.ID), zap.Error(rerr))
	}
	d := accepted(o)
	switch o.Status {
	case StatusError:
		d.Reason = errs.ErrStatusUnknown.Error()
		return d, fmt.Errorf("order %s: %w: %w", o.ID, errs.ErrStatusUnknown, err)
	case StatusCancelled, StatusRejected:
		d.Reason = "order not placed: " + o.Reason
		return d, err
	}
	return d, nil
}

func accepted(o *Order) Decision {
	cp := *o
	return Decision{Allowed: true, Order: &cp}
}
