package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskexec/audit"
)

// ProfitProtection trails the day's peak profit and activates once total
// profit gives back more than the lock allows. It stays active until the
// next trading day.
type ProfitProtection struct {
	mu    sync.RWMutex
	state ProtectionState

	audit  audit.Log
	logger *zap.Logger
	now    func() time.Time
}

func NewProfitProtection(p Policy, st ProtectionState, log audit.Log, logger *zap.Logger) *ProfitProtection {
	if logger == nil {
		logger = zap.NewNop()
	}
	st.LockPct = p.LockPct
	st.MinPeakProfit = p.MinPeakProfit
	return &ProfitProtection{
		state:  st,
		audit:  log,
		logger: logger,
		now:    time.Now,
	}
}

func (pp *ProfitProtection) State() ProtectionState {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	return pp.state
}

func (pp *ProfitProtection) Active() bool {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	return pp.state.Active
}

// Update feeds the current realized plus unrealized profit. It returns true
// while protection is active, which means every open position must be
// closed. Only the activating call writes an audit entry.
func (pp *ProfitProtection) Update(current decimal.Decimal) (bool, error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if current.GreaterThan(pp.state.DailyPeakProfit) {
		pp.state.DailyPeakProfit = current
	}
	if pp.state.Active {
		return true, nil
	}

	peak := pp.state.DailyPeakProfit
	if !peak.IsPositive() || !peak.GreaterThan(pp.state.MinPeakProfit) {
		return false, nil
	}
	lock := peak.Mul(pp.state.LockPct)
	if !current.LessThan(lock) {
		return false, nil
	}

	err := pp.audit.Append(audit.Entry{
		Action: audit.ActionProtectionTrigger,
		Details: map[string]string{
			"peak":    peak.String(),
			"current": current.String(),
			"lock":    lock.String(),
			"lockPct": pp.state.LockPct.String(),
		},
	})
	pp.state.Active = true
	pp.state.TriggeredAt = pp.now().UTC()

	pp.logger.Warn("profit_protection_triggered",
		zap.String("peak", peak.String()),
		zap.String("current", current.String()),
		zap.String("lock", lock.String()))

	if err != nil {
		return true, fmt.Errorf("audit protection trigger: %w", err)
	}
	return true, nil
}

func (pp *ProfitProtection) rollover() {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pp.state.DailyPeakProfit = decimal.Zero
	pp.state.Active = false
	pp.state.TriggeredAt = time.Time{}
}
