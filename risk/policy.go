package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Policy holds every risk limit the core enforces.
type Policy struct {
	// Sizing, as fractions of equity: 0.02 risks 2% per trade.
	RiskPctPerTrade decimal.Decimal
	MaxPositionPct  decimal.Decimal

	// MaxDailyLossPct is in percent points; 3 trips the breaker at -3%.
	// The sign is ignored.
	MaxDailyLossPct      decimal.Decimal
	MaxConsecutiveLosses int

	LossThreshold     int
	RestoreThreshold  int
	ReducedMultiplier decimal.Decimal

	// LockPct is the fraction of the day's peak profit that must be kept.
	LockPct decimal.Decimal
	// MinPeakProfit is the peak, in account currency, below which profit
	// protection never activates.
	MinPeakProfit decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		RiskPctPerTrade:      decimal.RequireFromString("0.02"),
		MaxPositionPct:       decimal.RequireFromString("0.25"),
		MaxDailyLossPct:      decimal.RequireFromString("3"),
		MaxConsecutiveLosses: 5,
		LossThreshold:        2,
		RestoreThreshold:     3,
		ReducedMultiplier:    decimal.RequireFromString("0.25"),
		LockPct:              decimal.RequireFromString("0.5"),
		MinPeakProfit:        decimal.NewFromInt(100),
	}
}

func (p Policy) Validate() error {
	switch {
	case !p.RiskPctPerTrade.IsPositive() || p.RiskPctPerTrade.GreaterThan(one):
		return fmt.Errorf("risk: riskPctPerTrade must be in (0, 1], got %s", p.RiskPctPerTrade)
	case !p.MaxPositionPct.IsPositive():
		// Above 1 the account sizes on margin.
		return fmt.Errorf("risk: maxPositionPct must be positive, got %s", p.MaxPositionPct)
	case p.MaxDailyLossPct.IsZero():
		return fmt.Errorf("risk: maxDailyLossPct must be non-zero")
	case p.MaxConsecutiveLosses < 1:
		return fmt.Errorf("risk: maxConsecutiveLosses must be >= 1")
	case p.LossThreshold < 1 || p.RestoreThreshold < 1:
		return fmt.Errorf("risk: emotional control thresholds must be >= 1")
	case !p.ReducedMultiplier.IsPositive() || p.ReducedMultiplier.GreaterThan(one):
		return fmt.Errorf("risk: reduced multiplier must be in (0, 1], got %s", p.ReducedMultiplier)
	case p.LockPct.IsNegative() || p.LockPct.GreaterThan(one):
		return fmt.Errorf("risk: profitProtectionLockPct must be in [0, 1], got %s", p.LockPct)
	case p.MinPeakProfit.IsNegative():
		return fmt.Errorf("risk: min peak profit must not be negative")
	}
	return nil
}
