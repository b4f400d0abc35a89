package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/riskexec/risk"
)

// LoadState implements risk.StateStore.
func (j *SQLite) LoadState(ctx context.Context) (risk.State, bool, error) {
	var (
		s                     risk.State
		tripped, active       bool
		trippedAt, triggerdAt sql.NullTime
	)

	err := j.db.QueryRowContext(ctx, `
		SELECT day, day_start_equity, daily_realized_pnl, daily_pnl_pct, consecutive_losses,
		       tripped, trip_reason, tripped_at,
		       size_multiplier, loss_streak, win_streak, wins_needed,
		       peak_profit, lock_pct, min_peak_profit, protection_active, protection_triggered_at,
		       updated_at
		FROM risk_state WHERE id = 1`).Scan(
		&s.Day, &s.DayStartEquity, &s.Breaker.DailyRealizedPnL, &s.Breaker.DailyPnLPct, &s.Breaker.ConsecutiveLosses,
		&tripped, &s.Breaker.TripReason, &trippedAt,
		&s.Emotional.SizeMultiplier, &s.Emotional.LossStreak, &s.Emotional.WinStreak, &s.Emotional.WinsNeededToRestore,
		&s.Protection.DailyPeakProfit, &s.Protection.LockPct, &s.Protection.MinPeakProfit, &active, &triggerdAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return risk.State{}, false, nil
	}
	if err != nil {
		return risk.State{}, false, fmt.Errorf("journal: load risk state: %w", err)
	}

	s.Breaker.Tripped = tripped
	s.Protection.Active = active
	if trippedAt.Valid {
		s.Breaker.TrippedAt = trippedAt.Time
	}
	if triggerdAt.Valid {
		s.Protection.TriggeredAt = triggerdAt.Time
	}
	return s, true, nil
}

// SaveState implements risk.StateStore. There is exactly one row.
func (j *SQLite) SaveState(ctx context.Context, s risk.State) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO risk_state (
			id, day, day_start_equity, daily_realized_pnl, daily_pnl_pct, consecutive_losses,
			tripped, trip_reason, tripped_at,
			size_multiplier, loss_streak, win_streak, wins_needed,
			peak_profit, lock_pct, min_peak_profit, protection_active, protection_triggered_at,
			updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			day = excluded.day,
			day_start_equity = excluded.day_start_equity,
			daily_realized_pnl = excluded.daily_realized_pnl,
			daily_pnl_pct = excluded.daily_pnl_pct,
			consecutive_losses = excluded.consecutive_losses,
			tripped = excluded.tripped,
			trip_reason = excluded.trip_reason,
			tripped_at = excluded.tripped_at,
			size_multiplier = excluded.size_multiplier,
			loss_streak = excluded.loss_streak,
			win_streak = excluded.win_streak,
			wins_needed = excluded.wins_needed,
			peak_profit = excluded.peak_profit,
			lock_pct = excluded.lock_pct,
			min_peak_profit = excluded.min_peak_profit,
			protection_active = excluded.protection_active,
			protection_triggered_at = excluded.protection_triggered_at,
			updated_at = excluded.updated_at`,
		s.Day, s.DayStartEquity.String(), s.Breaker.DailyRealizedPnL.String(), s.Breaker.DailyPnLPct.String(),
		s.Breaker.ConsecutiveLosses, s.Breaker.Tripped, s.Breaker.TripReason, nullTime(s.Breaker.TrippedAt),
		s.Emotional.SizeMultiplier.String(), s.Emotional.LossStreak, s.Emotional.WinStreak, s.Emotional.WinsNeededToRestore,
		s.Protection.DailyPeakProfit.String(), s.Protection.LockPct.String(), s.Protection.MinPeakProfit.String(),
		s.Protection.Active, nullTime(s.Protection.TriggeredAt),
		s.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal: save risk state: %w", err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
