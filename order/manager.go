package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskexec/audit"
	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/journal"
	"github.com/rustyeddy/riskexec/metrics"
	"github.com/rustyeddy/riskexec/retry"
	"github.com/rustyeddy/riskexec/risk"
)

// TradeJournal records completed round trips.
type TradeJournal interface {
	RecordTrade(ctx context.Context, t journal.TradeRecord) error
}

type Config struct {
	Mode            broker.Mode
	RiskPctPerTrade decimal.Decimal
	MaxPositionPct  decimal.Decimal
	// Equity, when positive, replaces the broker's buying power for sizing.
	Equity decimal.Decimal

	PollInterval       time.Duration
	ProtectionInterval time.Duration
	// ReconcileAfter is how long an order may sit in Submitted or Error
	// before it is reconciled against the broker.
	ReconcileAfter time.Duration
	// ReconcileCancelsOpen cancels an Error order that reconciliation finds
	// still working at the broker. When false the order is adopted and
	// tracked.
	ReconcileCancelsOpen bool

	Workers   int
	QueueSize int
}

func DefaultConfig() Config {
	p := risk.DefaultPolicy()
	return Config{
		Mode:               broker.Paper,
		RiskPctPerTrade:    p.RiskPctPerTrade,
		MaxPositionPct:     p.MaxPositionPct,
		PollInterval:       2 * time.Second,
		ProtectionInterval: 5 * time.Second,
		ReconcileAfter:     30 * time.Second,
		Workers:            2,
		QueueSize:          64,
	}
}

type Deps struct {
	Gateway broker.Gateway
	// Quoter marks positions. When nil the gateway is used if it quotes.
	Quoter   broker.Quoter
	Executor *retry.Executor
	Risk     *risk.Supervisor
	Audit    audit.Log
	Journal  TradeJournal
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

type Manager struct {
	cfg     Config
	gw      broker.Gateway
	quoter  broker.Quoter
	exec    *retry.Executor
	risk    *risk.Supervisor
	audit   audit.Log
	journal TradeJournal
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	locks *keyedMutex

	mu        sync.RWMutex
	orders    map[string]*Order
	positions map[string]*Position

	requests chan TradeRequest
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Gateway == nil {
		return nil, fmt.Errorf("order: gateway is required")
	}
	if deps.Risk == nil {
		return nil, fmt.Errorf("order: risk supervisor is required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("order: audit log is required")
	}
	if deps.Executor == nil {
		deps.Executor = retry.New(retry.DefaultPolicy(), deps.Logger)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Quoter == nil {
		if q, ok := deps.Gateway.(broker.Quoter); ok {
			deps.Quoter = q
		}
	}
	if cfg.Mode == "" {
		cfg.Mode = broker.Paper
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	return &Manager{
		cfg:       cfg,
		gw:        deps.Gateway,
		quoter:    deps.Quoter,
		exec:      deps.Executor,
		risk:      deps.Risk,
		audit:     deps.Audit,
		journal:   deps.Journal,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Now,
		locks:     newKeyedMutex(),
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
		requests:  make(chan TradeRequest, cfg.QueueSize),
	}, nil
}

// Snapshot is a read-only copy of everything the manager tracks.
type Snapshot struct {
	Time      time.Time
	Positions []Position
	Orders    []Order
	Risk      risk.State
}

func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		Time:      m.now().UTC(),
		Positions: m.Positions(),
		Orders:    m.Orders(),
		Risk:      m.risk.Snapshot(),
	}
}

// Positions returns copies of the open positions sorted by symbol.
func (m *Manager) Positions() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Orders returns copies of every known order in creation order.
func (m *Manager) Orders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) Order(id string) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

func (m *Manager) Position(symbol string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// working returns the symbol's non-terminal orders, oldest first.
func (m *Manager) working(symbol string) []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Order
	for _, o := range m.orders {
		if o.Symbol == symbol && !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// workingSymbols lists symbols with at least one non-terminal order.
func (m *Manager) workingSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, o := range m.orders {
		if !o.Status.Terminal() && !seen[o.Symbol] {
			seen[o.Symbol] = true
			out = append(out, o.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Manager) ResetBreaker(ctx context.Context, by string) error {
	return m.risk.Reset(ctx, by)
}

func (m *Manager) TripBreaker(ctx context.Context, reason string) error {
	return m.risk.Trip(ctx, reason)
}
