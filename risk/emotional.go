package risk

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskexec/audit"
)

// EmotionalControl cuts position size after a losing streak and restores it
// after a streak of wins.
type EmotionalControl struct {
	mu    sync.RWMutex
	state EmotionalState

	lossThreshold    int
	restoreThreshold int
	reduced          decimal.Decimal

	audit  audit.Log
	logger *zap.Logger
}

func NewEmotionalControl(p Policy, st EmotionalState, log audit.Log, logger *zap.Logger) *EmotionalControl {
	if logger == nil {
		logger = zap.NewNop()
	}
	if st.SizeMultiplier.IsZero() {
		st.SizeMultiplier = one
	}
	return &EmotionalControl{
		state:            st,
		lossThreshold:    p.LossThreshold,
		restoreThreshold: p.RestoreThreshold,
		reduced:          p.ReducedMultiplier,
		audit:            log,
		logger:           logger,
	}
}

func (ec *EmotionalControl) CurrentMultiplier() decimal.Decimal {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.state.SizeMultiplier
}

func (ec *EmotionalControl) State() EmotionalState {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.state
}

func (ec *EmotionalControl) reducedLocked() bool {
	return ec.state.SizeMultiplier.LessThan(one)
}

// RecordTradeOutcome advances the streak counters and reports whether the
// multiplier changed. A reduction is kept even if its audit write fails; a
// restore is not.
func (ec *EmotionalControl) RecordTradeOutcome(isWin bool) (bool, error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	next := ec.state
	if isWin {
		next.LossStreak = 0
		if ec.reducedLocked() {
			next.WinStreak++
			next.WinsNeededToRestore = ec.restoreThreshold - next.WinStreak
		}
	} else {
		next.LossStreak++
		next.WinStreak = 0
		if ec.reducedLocked() {
			next.WinsNeededToRestore = ec.restoreThreshold
		}
	}

	switch {
	case !ec.reducedLocked() && next.LossStreak >= ec.lossThreshold:
		next.SizeMultiplier = ec.reduced
		next.WinStreak = 0
		next.WinsNeededToRestore = ec.restoreThreshold
		err := ec.auditChange(next.SizeMultiplier, "loss", next.LossStreak)
		ec.state = next
		return true, err

	case ec.reducedLocked() && next.WinStreak >= ec.restoreThreshold:
		next.SizeMultiplier = one
		streak := next.WinStreak
		next.LossStreak = 0
		next.WinStreak = 0
		next.WinsNeededToRestore = 0
		if err := ec.auditChange(next.SizeMultiplier, "win", streak); err != nil {
			return false, err
		}
		ec.state = next
		return true, nil
	}

	ec.state = next
	return false, nil
}

func (ec *EmotionalControl) auditChange(after decimal.Decimal, streakKind string, streak int) error {
	before := ec.state.SizeMultiplier
	err := ec.audit.Append(audit.Entry{
		Action: audit.ActionSizeAdjust,
		Details: map[string]string{
			"before":     before.String(),
			"after":      after.String(),
			"streakKind": streakKind,
			"streak":     strconv.Itoa(streak),
		},
	})
	ec.logger.Info("size_multiplier_changed",
		zap.String("before", before.String()),
		zap.String("after", after.String()),
		zap.String("streak_kind", streakKind),
		zap.Int("streak", streak))
	if err != nil {
		return fmt.Errorf("audit size adjust: %w", err)
	}
	return nil
}
