package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskexec/risk"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data", "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	return j, path
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["trades"])
	assert.True(t, found["equity"])
	assert.True(t, found["risk_state"])
}

func TestSQLiteRecordAndGetTrade(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })
	ctx := context.Background()

	rec := TradeRecord{
		TradeID:     "01HT",
		Symbol:      "AAPL",
		Side:        "Buy",
		Quantity:    133,
		EntryPrice:  d("150.0123"),
		ExitPrice:   d("148.5"),
		OpenTime:    time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC),
		CloseTime:   time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
		RealizedPnL: d("-201.1359"),
		Strategy:    "orb",
		Mode:        "Paper",
		Reason:      "stop loss",
	}
	require.NoError(t, j.RecordTrade(ctx, rec))

	got, err := j.GetTrade(ctx, "01HT")
	require.NoError(t, err)
	assert.Equal(t, rec.Symbol, got.Symbol)
	assert.Equal(t, rec.Quantity, got.Quantity)
	assert.True(t, got.EntryPrice.Equal(rec.EntryPrice))
	assert.True(t, got.RealizedPnL.Equal(rec.RealizedPnL))
	assert.True(t, got.OpenTime.Equal(rec.OpenTime))
	assert.Equal(t, "stop loss", got.Reason)

	_, err = j.GetTrade(ctx, "missing")
	assert.ErrorIs(t, err, ErrTradeNotFound)

	// trade ids are unique
	assert.Error(t, j.RecordTrade(ctx, rec))
}

func TestSQLiteRiskStateRoundTrip(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	ctx := context.Background()

	_, ok, err := j.LoadState(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	tripped := time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)
	s := risk.State{
		Day:            "2024-03-01",
		DayStartEquity: d("10000"),
		Breaker: risk.BreakerState{
			DailyRealizedPnL:  d("-320"),
			DailyPnLPct:       d("-3.2"),
			ConsecutiveLosses: 3,
			Tripped:           true,
			TripReason:        "daily loss limit exceeded: -3.20% <= -3.00%",
			TrippedAt:         tripped,
		},
		Emotional: risk.EmotionalState{
			SizeMultiplier:      d("0.25"),
			LossStreak:          3,
			WinsNeededToRestore: 3,
		},
		Protection: risk.ProtectionState{
			DailyPeakProfit: d("12.5"),
			LockPct:         d("0.5"),
			MinPeakProfit:   d("100"),
		},
		UpdatedAt: tripped,
	}
	require.NoError(t, j.SaveState(ctx, s))

	s.Breaker.ConsecutiveLosses = 4
	require.NoError(t, j.SaveState(ctx, s))
	require.NoError(t, j.Close())

	// reopen, as after a restart
	j2, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j2.Close() })

	got, ok, err := j2.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-03-01", got.Day)
	assert.True(t, got.Breaker.Tripped)
	assert.Equal(t, 4, got.Breaker.ConsecutiveLosses)
	assert.Equal(t, s.Breaker.TripReason, got.Breaker.TripReason)
	assert.True(t, got.Breaker.TrippedAt.Equal(tripped))
	assert.True(t, got.Breaker.DailyPnLPct.Equal(d("-3.2")))
	assert.True(t, got.Emotional.SizeMultiplier.Equal(d("0.25")))
	assert.False(t, got.Protection.Active)
	assert.True(t, got.Protection.TriggeredAt.IsZero())
}

func TestSQLiteImplementsStateStore(t *testing.T) {
	var _ risk.StateStore = (*SQLite)(nil)
	var _ Journal = (*SQLite)(nil)
}
