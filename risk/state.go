package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// BreakerState is the circuit breaker's view of the trading day.
type BreakerState struct {
	DailyRealizedPnL  decimal.Decimal
	DailyPnLPct       decimal.Decimal
	ConsecutiveLosses int
	Tripped           bool
	TripReason        string
	TrippedAt         time.Time
}

type EmotionalState struct {
	SizeMultiplier      decimal.Decimal
	LossStreak          int
	WinStreak           int
	WinsNeededToRestore int
}

type ProtectionState struct {
	DailyPeakProfit decimal.Decimal
	LockPct         decimal.Decimal
	MinPeakProfit   decimal.Decimal
	Active          bool
	TriggeredAt     time.Time
}

// State is everything that must survive a restart for the process to resume
// with the same safety posture.
type State struct {
	Day            string
	DayStartEquity decimal.Decimal
	Breaker        BreakerState
	Emotional      EmotionalState
	Protection     ProtectionState
	UpdatedAt      time.Time
}

// StateStore persists State. LoadState reports false when nothing was saved.
type StateStore interface {
	LoadState(ctx context.Context) (State, bool, error)
	SaveState(ctx context.Context, s State) error
}

// MemoryStore is a StateStore for tests and dry runs.
type MemoryStore struct {
	mu    sync.Mutex
	state State
	ok    bool
	saves int

	Fail error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) LoadState(ctx context.Context) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.ok, nil
}

func (m *MemoryStore) SaveState(ctx context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.state = s
	m.ok = true
	m.saves++
	return nil
}

// Saves returns how many times state was written.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
