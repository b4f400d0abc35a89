package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/riskexec/audit"
	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/retry"
)

var ErrOrderNotFound = errors.New("order: not found")

// PollOrders refreshes every working order from the broker. Symbols are
// polled concurrently. Orders stuck in Submitted or Error for longer than
// ReconcileAfter are reconciled instead.
func (m *Manager) PollOrders(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(8)
	for _, sym := range m.workingSymbols() {
		g.Go(func() error {
			return m.pollSymbol(ctx, sym)
		})
	}
	return g.Wait()
}

func (m *Manager) pollSymbol(ctx context.Context, symbol string) error {
	unlock, err := m.locks.Lock(ctx, symbol)
	if err != nil {
		return err
	}
	defer unlock()

	var errList []error
	now := m.now()
	for _, o := range m.working(symbol) {
		var err error
		switch {
		case m.stale(o, now):
			err = m.reconcileLocked(ctx, o)
		case o.BrokerOrderID != "":
			err = m.refreshLocked(ctx, o, audit.ActionStatusPoll)
		}
		if err != nil {
			errList = append(errList, fmt.Errorf("order %s: %w", o.ID, err))
		}
	}
	return errors.Join(errList...)
}

func (m *Manager) stale(o *Order, now time.Time) bool {
	if o.Status != StatusSubmitted && o.Status != StatusError {
		return false
	}
	return now.Sub(o.SubmittedAt) >= m.cfg.ReconcileAfter
}

// ReconcileStale reconciles every order that has been in Submitted or Error
// for at least olderThan. Zero reconciles all of them.
func (m *Manager) ReconcileStale(ctx context.Context, olderThan time.Duration) error {
	now := m.now()
	var errList []error
	for _, o := range m.Orders() {
		if o.Status != StatusSubmitted && o.Status != StatusError {
			continue
		}
		if now.Sub(o.SubmittedAt) < olderThan {
			continue
		}
		if _, err := m.ReconcileOrder(ctx, o.ID); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// ReconcileOrder asks the broker for the truth about one order and adopts
// it. Calling it again without a broker-side change writes nothing.
func (m *Manager) ReconcileOrder(ctx context.Context, orderID string) (Order, error) {
	return m.withOrder(ctx, orderID, func(o *Order) error {
		return m.reconcileLocked(ctx, o)
	})
}

// CancelOrder asks the broker to cancel a working order and records the
// confirmed state.
func (m *Manager) CancelOrder(ctx context.Context, orderID, reason string) (Order, error) {
	return m.withOrder(ctx, orderID, func(o *Order) error {
		return m.cancelLocked(ctx, o, reason)
	})
}

func (m *Manager) withOrder(ctx context.Context, orderID string, fn func(o *Order) error) (Order, error) {
	m.mu.RLock()
	o, ok := m.orders[orderID]
	m.mu.RUnlock()
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	unlock, err := m.locks.Lock(ctx, o.Symbol)
	if err != nil {
		return Order{}, err
	}
	defer unlock()

	err = fn(o)
	return *o, err
}

// refreshLocked fetches the order's status and applies any change.
func (m *Manager) refreshLocked(ctx context.Context, o *Order, action audit.Action) error {
	st, _, err := retry.Do(ctx, m.exec, "order status", func(ctx context.Context) (broker.OrderStatus, error) {
		return m.gw.GetOrderStatus(ctx, o.BrokerOrderID)
	})
	if err != nil {
		m.statusError(o, err)
		return err
	}
	return m.applyStatusLocked(ctx, o, st, action)
}

// statusError records a failed broker query without changing the order's
// status.
func (m *Manager) statusError(o *Order, err error) {
	if o.Status.Terminal() {
		return
	}
	next := *o
	next.LastError = err.Error()
	if _, cerr := m.commit(o, next, audit.ActionStatusError); cerr != nil {
		m.logger.Error("status_error_not_recorded", zap.String("order_id", o.ID), zap.Error(cerr))
	}
}

// applyStatusLocked moves the order to the broker's view. Stale reports
// that would move fills backwards are ignored.
func (m *Manager) applyStatusLocked(ctx context.Context, o *Order, st broker.OrderStatus, action audit.Action) error {
	if o.Status.Terminal() {
		return nil
	}
	to := fromBroker(st)
	if st.FilledQuantity < o.FilledQuantity {
		m.logger.Warn("stale_order_status",
			zap.String("order_id", o.ID),
			zap.Int64("filled", o.FilledQuantity),
			zap.Int64("reported", st.FilledQuantity))
		return nil
	}
	if to == StatusConfirmed && o.Status == StatusPartiallyFilled {
		to = StatusPartiallyFilled
	}
	if to == o.Status && st.FilledQuantity == o.FilledQuantity && o.LastError == "" {
		return nil
	}
	if !CanTransition(o.Status, to) {
		m.logger.Warn("order_transition_ignored",
			zap.String("order_id", o.ID),
			zap.String("from", string(o.Status)),
			zap.String("to", string(to)))
		return nil
	}

	next := *o
	next.Status = to
	next.LastError = ""
	next.FilledQuantity = st.FilledQuantity
	if st.FilledQuantity > 0 {
		next.AvgFillPrice = st.AvgFillPrice
	}
	if st.Reason != "" {
		next.Reason = st.Reason
	}
	if next.BrokerOrderID == "" {
		next.BrokerOrderID = st.BrokerOrderID
	}

	rt, err := m.commit(o, next, action)
	if err != nil {
		return err
	}
	if rt != nil {
		m.finishTrade(ctx, rt)
	}
	return nil
}

// reconcileLocked resolves an order whose broker-side state may differ
// from ours. Orders that never got a broker ID are looked up by client
// order ID; an order the broker has never seen is cancelled locally.
func (m *Manager) reconcileLocked(ctx context.Context, o *Order) error {
	if o.Status.Terminal() {
		return nil
	}
	wasError := o.Status == StatusError

	brokerID := o.BrokerOrderID
	if brokerID == "" {
		ack, _, err := retry.Do(ctx, m.exec, "lookup order", func(ctx context.Context) (broker.Ack, error) {
			return m.gw.LookupOrder(ctx, o.ID)
		})
		if errors.Is(err, broker.ErrNotFound) {
			next := *o
			next.Status = StatusCancelled
			next.Reason = "not found at broker"
			next.LastError = ""
			_, err = m.commit(o, next, audit.ActionReconcile)
			return err
		}
		if err != nil {
			m.statusError(o, err)
			return err
		}
		brokerID = ack.BrokerOrderID
	}

	st, _, err := retry.Do(ctx, m.exec, "order status", func(ctx context.Context) (broker.OrderStatus, error) {
		return m.gw.GetOrderStatus(ctx, brokerID)
	})
	if err != nil {
		m.statusError(o, err)
		return err
	}
	if st.BrokerOrderID == "" {
		st.BrokerOrderID = brokerID
	}
	if err := m.applyStatusLocked(ctx, o, st, audit.ActionReconcile); err != nil {
		return err
	}

	if wasError && m.cfg.ReconcileCancelsOpen && !o.Status.Terminal() {
		return m.cancelLocked(ctx, o, "reconcile: cancel order of unknown status")
	}
	return nil
}

// cancelLocked requests a cancel and records whatever state the broker
// confirms afterwards.
func (m *Manager) cancelLocked(ctx context.Context, o *Order, reason string) error {
	if o.Status.Terminal() {
		return nil
	}
	if o.BrokerOrderID == "" {
		if err := m.reconcileLocked(ctx, o); err != nil {
			return err
		}
		if o.Status.Terminal() {
			return nil
		}
	}

	next := *o
	next.Reason = reason
	if _, err := m.commit(o, next, audit.ActionCancel); err != nil {
		return err
	}

	_, _, err := retry.Do(ctx, m.exec, "cancel order", func(ctx context.Context) (bool, error) {
		return m.gw.CancelOrder(ctx, o.BrokerOrderID)
	})
	if err != nil {
		m.statusError(o, err)
		return err
	}
	return m.refreshLocked(ctx, o, audit.ActionCancel)
}
