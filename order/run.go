package order

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/riskexec/errs"
)

// Submit queues req for the worker pool started by Run.
func (m *Manager) Submit(ctx context.Context, req TradeRequest) error {
	select {
	case m.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run reconciles orders left working by a previous process, then serves
// queued trade requests and polls orders and positions until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.ReconcileStale(ctx, 0); err != nil {
		m.logger.Warn("startup_reconcile_incomplete", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < m.cfg.Workers; i++ {
		g.Go(func() error { return m.worker(ctx, i) })
	}
	g.Go(func() error {
		return m.every(ctx, m.cfg.PollInterval, "poll_orders", m.PollOrders)
	})
	g.Go(func() error {
		return m.every(ctx, m.cfg.ProtectionInterval, "evaluate_protection", func(ctx context.Context) error {
			_, err := m.EvaluateProtection(ctx)
			return err
		})
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Manager) worker(ctx context.Context, n int) error {
	log := m.logger.With(zap.Int("worker", n))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-m.requests:
			d, err := m.OpenPosition(ctx, req)
			switch {
			case errs.IsValidation(err):
				log.Warn("trade_request_rejected", zap.String("symbol", req.Symbol), zap.Error(err))
			case err != nil:
				log.Error("trade_request_failed", zap.String("symbol", req.Symbol), zap.Error(err))
			case !d.Allowed:
				log.Info("trade_request_denied", zap.String("symbol", req.Symbol), zap.String("reason", d.Reason))
			default:
				log.Info("trade_request_placed",
					zap.String("symbol", req.Symbol),
					zap.String("order_id", d.Order.ID),
					zap.Int64("qty", d.Order.Quantity),
					zap.String("status", string(d.Order.Status)))
			}
		}
	}
}

func (m *Manager) every(ctx context.Context, d time.Duration, name string, fn func(context.Context) error) error {
	if d <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := fn(ctx); err != nil {
				m.logger.Warn(name+"_failed", zap.Error(err))
			}
		}
	}
}
