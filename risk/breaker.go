package risk

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskexec/audit"
)

// CircuitBreaker halts new risk for the rest of the day once the daily loss
// or the losing streak passes its limit. Only Reset or a new trading day
// clears a trip; winning trades never do.
type CircuitBreaker struct {
	mu    sync.RWMutex
	state BreakerState

	maxDailyLossPct decimal.Decimal
	maxConsecutive  int

	audit  audit.Log
	logger *zap.Logger
	now    func() time.Time
}

func NewCircuitBreaker(p Policy, st BreakerState, log audit.Log, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		state:           st,
		maxDailyLossPct: p.MaxDailyLossPct.Abs(),
		maxConsecutive:  p.MaxConsecutiveLosses,
		audit:           log,
		logger:          logger,
		now:             time.Now,
	}
}

// Check reports whether new positions may be opened.
func (cb *CircuitBreaker) Check() (bool, string) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.state.Tripped {
		return false, cb.state.TripReason
	}
	return true, ""
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// RecordTradeOutcome adds a closed trade to the day's totals and trips the
// breaker when a limit is crossed. pnlPct is in percent points of the
// day's starting equity.
func (cb *CircuitBreaker) RecordTradeOutcome(pnl, pnlPct decimal.Decimal) (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state.DailyRealizedPnL = cb.state.DailyRealizedPnL.Add(pnl)
	cb.state.DailyPnLPct = cb.state.DailyPnLPct.Add(pnlPct)
	// A breakeven trade neither extends nor ends a losing streak.
	switch pnl.Sign() {
	case -1:
		cb.state.ConsecutiveLosses++
	case 1:
		cb.state.ConsecutiveLosses = 0
	}

	if cb.state.Tripped {
		return false, nil
	}

	var reason string
	switch {
	case cb.state.DailyPnLPct.LessThanOrEqual(cb.maxDailyLossPct.Neg()):
		reason = fmt.Sprintf("daily loss limit exceeded: %s%% <= -%s%%",
			cb.state.DailyPnLPct.StringFixed(2), cb.maxDailyLossPct.StringFixed(2))
	case cb.maxConsecutive > 0 && cb.state.ConsecutiveLosses >= cb.maxConsecutive:
		reason = fmt.Sprintf("consecutive loss limit reached: %d >= %d",
			cb.state.ConsecutiveLosses, cb.maxConsecutive)
	default:
		return false, nil
	}
	return true, cb.tripLocked(reason)
}

// Trip halts new positions with the given reason. Tripping an already
// tripped breaker keeps the first reason and writes nothing.
func (cb *CircuitBreaker) Trip(reason string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state.Tripped {
		return nil
	}
	return cb.tripLocked(reason)
}

// tripLocked commits the trip even if the audit write fails; the caller gets
// the audit error.
func (cb *CircuitBreaker) tripLocked(reason string) error {
	err := cb.audit.Append(audit.Entry{
		Action:  audit.ActionRiskTrip,
		Details: cb.detailsLocked(reason),
	})

	cb.state.Tripped = true
	cb.state.TripReason = reason
	cb.state.TrippedAt = cb.now().UTC()

	cb.logger.Warn("breaker_tripped",
		zap.String("reason", reason),
		zap.String("daily_pnl", cb.state.DailyRealizedPnL.String()),
		zap.String("daily_pnl_pct", cb.state.DailyPnLPct.StringFixed(2)),
		zap.Int("consecutive_losses", cb.state.ConsecutiveLosses))

	if err != nil {
		return fmt.Errorf("audit breaker trip: %w", err)
	}
	return nil
}

// Reset clears a trip. The daily totals are kept, so a further loss can trip
// the breaker again. Nothing changes if the audit write fails.
func (cb *CircuitBreaker) Reset(by string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	d := cb.detailsLocked(cb.state.TripReason)
	d["wasTripped"] = strconv.FormatBool(cb.state.Tripped)
	if by != "" {
		d["by"] = by
	}
	if err := cb.audit.Append(audit.Entry{Action: audit.ActionRiskReset, Details: d}); err != nil {
		return fmt.Errorf("audit breaker reset: %w", err)
	}

	cb.state.Tripped = false
	cb.state.TripReason = ""
	cb.state.TrippedAt = time.Time{}
	cb.state.ConsecutiveLosses = 0

	cb.logger.Info("breaker_reset", zap.String("by", by))
	return nil
}

// rollover starts a new trading day. The caller audits it.
func (cb *CircuitBreaker) rollover() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerState{}
}

func (cb *CircuitBreaker) detailsLocked(reason string) map[string]string {
	return map[string]string{
		"reason":            reason,
		"dailyRealizedPnl":  cb.state.DailyRealizedPnL.String(),
		"dailyPnlPct":       cb.state.DailyPnLPct.StringFixed(4),
		"consecutiveLosses": strconv.Itoa(cb.state.ConsecutiveLosses),
		"maxDailyLossPct":   cb.maxDailyLossPct.String(),
		"maxConsecutive":    strconv.Itoa(cb.maxConsecutive),
	}
}
