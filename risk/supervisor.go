package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskexec/audit"
)

var ErrSupervisorClosed = errors.New("risk: supervisor closed")

const dayLayout = "2006-01-02"

type SupervisorConfig struct {
	Policy Policy
	Store  StateStore
	Audit  audit.Log
	Logger *zap.Logger
	// Location decides where a trading day starts. Defaults to UTC.
	Location *time.Location
	// Equity seeds the day's starting equity when no state was saved or a
	// new day begins on load.
	Equity decimal.Decimal
	// Observer is called with a snapshot after every applied mutation.
	Observer func(State)
	Now      func() time.Time
}

// TradeOutcome describes one closed round trip.
type TradeOutcome struct {
	Symbol string
	PnL    decimal.Decimal
	// Unrealized is the open profit on the remaining positions at the time
	// of the close.
	Unrealized decimal.Decimal
}

type OutcomeResult struct {
	PnLPct              decimal.Decimal
	Tripped             bool
	MultiplierChanged   bool
	ProtectionTriggered bool
}

// Supervisor owns the process-wide risk state. Every mutation is applied by
// one goroutine in arrival order and persisted before the caller is
// released. Reads never wait for that goroutine.
type Supervisor struct {
	breaker    *CircuitBreaker
	emotional  *EmotionalControl
	protection *ProfitProtection

	store    StateStore
	audit    audit.Log
	logger   *zap.Logger
	loc      *time.Location
	now      func() time.Time
	observer func(State)

	mu             sync.RWMutex
	day            string
	dayStartEquity decimal.Decimal
	updatedAt      time.Time

	events chan event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

type event struct {
	ctx   context.Context
	apply func() error
	reply chan error
}

// NewSupervisor restores saved state, rolls it to today if the saved day is
// stale, and starts the writer goroutine.
func NewSupervisor(ctx context.Context, cfg SupervisorConfig) (*Supervisor, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Discard
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	st, found, err := cfg.Store.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk: load state: %w", err)
	}

	s := &Supervisor{
		breaker:    NewCircuitBreaker(cfg.Policy, st.Breaker, cfg.Audit, cfg.Logger),
		emotional:  NewEmotionalControl(cfg.Policy, st.Emotional, cfg.Audit, cfg.Logger),
		protection: NewProfitProtection(cfg.Policy, st.Protection, cfg.Audit, cfg.Logger),
		store:      cfg.Store,
		audit:      cfg.Audit,
		logger:     cfg.Logger,
		loc:        cfg.Location,
		now:        cfg.Now,
		observer:   cfg.Observer,
		day:        st.Day,
		events:     make(chan event),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.breaker.now = cfg.Now
	s.protection.now = cfg.Now
	s.dayStartEquity = st.DayStartEquity

	today := s.Today()
	switch {
	case !found:
		s.day = today
		s.dayStartEquity = cfg.Equity
		if err := s.persist(ctx); err != nil {
			return nil, err
		}
	case st.Day != today:
		s.logger.Info("risk_state_stale", zap.String("saved_day", st.Day), zap.String("today", today))
		if err := s.rollover(ctx, today, cfg.Equity); err != nil {
			return nil, err
		}
	default:
		s.logger.Info("risk_state_restored",
			zap.String("day", st.Day),
			zap.Bool("tripped", st.Breaker.Tripped),
			zap.String("multiplier", s.emotional.CurrentMultiplier().String()))
	}

	go s.loop()
	return s, nil
}

func (s *Supervisor) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case ev := <-s.events:
			ev.reply <- s.applyEvent(ev)
		}
	}
}

func (s *Supervisor) applyEvent(ev event) error {
	s.mu.Lock()
	err := ev.apply()
	if perr := s.persistLocked(ev.ctx); perr != nil {
		err = errors.Join(err, perr)
	}
	st := s.snapshotLocked()
	s.mu.Unlock()

	if s.observer != nil {
		s.observer(st)
	}
	return err
}

// post hands fn to the writer goroutine and waits for it to be applied.
func (s *Supervisor) post(ctx context.Context, fn func() error) error {
	ev := event{ctx: context.WithoutCancel(ctx), apply: fn, reply: make(chan error, 1)}
	select {
	case s.events <- ev:
	case <-s.quit:
		return ErrSupervisorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-ev.reply
}

// Close stops the writer goroutine. Pending posts fail with
// ErrSupervisorClosed.
func (s *Supervisor) Close() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

// Check is the gate for opening new positions.
func (s *Supervisor) Check() Decision {
	if ok, reason := s.breaker.Check(); !ok {
		return Deny(CodeCircuitBreaker, "circuit breaker tripped: "+reason)
	}
	if s.protection.Active() {
		st := s.protection.State()
		return Deny(CodeProfitProtection, fmt.Sprintf(
			"profit protection active: locking %s of peak %s", st.LockPct, st.DailyPeakProfit))
	}
	return Allow()
}

func (s *Supervisor) Multiplier() decimal.Decimal {
	return s.emotional.CurrentMultiplier()
}

// Breaker reports whether new positions are allowed and, if not, why.
func (s *Supervisor) Breaker() (bool, string) { return s.breaker.Check() }

func (s *Supervisor) BreakerState() BreakerState { return s.breaker.State() }

func (s *Supervisor) EmotionalState() EmotionalState { return s.emotional.State() }

func (s *Supervisor) ProtectionState() ProtectionState { return s.protection.State() }

func (s *Supervisor) ProtectionActive() bool { return s.protection.Active() }

// RecordClose feeds a closed trade to the breaker, emotional control and
// profit protection as one serialized step.
func (s *Supervisor) RecordClose(ctx context.Context, o TradeOutcome) (OutcomeResult, error) {
	var res OutcomeResult
	err := s.post(ctx, func() error {
		res.PnLPct = PnLPct(o.PnL, s.dayStartEquity)

		tripped, err1 := s.breaker.RecordTradeOutcome(o.PnL, res.PnLPct)
		var changed bool
		var err2 error
		if !o.PnL.IsZero() {
			changed, err2 = s.emotional.RecordTradeOutcome(o.PnL.IsPositive())
		}
		total := s.breaker.State().DailyRealizedPnL.Add(o.Unrealized)
		triggered, err3 := s.protection.Update(total)

		res.Tripped = tripped
		res.MultiplierChanged = changed
		res.ProtectionTriggered = triggered

		s.logger.Info("trade_outcome_recorded",
			zap.String("symbol", o.Symbol),
			zap.String("pnl", o.PnL.String()),
			zap.String("pnl_pct", res.PnLPct.StringFixed(4)),
			zap.Bool("tripped", tripped),
			zap.Bool("multiplier_changed", changed),
			zap.Bool("protection", triggered))
		return errors.Join(err1, err2, err3)
	})
	return res, err
}

// EvaluateProtection updates profit protection with the day's realized
// profit plus the given open profit.
func (s *Supervisor) EvaluateProtection(ctx context.Context, unrealized decimal.Decimal) (bool, error) {
	var triggered bool
	err := s.post(ctx, func() error {
		total := s.breaker.State().DailyRealizedPnL.Add(unrealized)
		var err error
		triggered, err = s.protection.Update(total)
		return err
	})
	return triggered, err
}

func (s *Supervisor) Trip(ctx context.Context, reason string) error {
	return s.post(ctx, func() error { return s.breaker.Trip(reason) })
}

func (s *Supervisor) Reset(ctx context.Context, by string) error {
	return s.post(ctx, func() error { return s.breaker.Reset(by) })
}

// Rollover starts the given trading day with equity as its base. The
// emotional streaks carry over; the daily totals, the breaker trip and the
// profit peak do not.
func (s *Supervisor) Rollover(ctx context.Context, day string, equity decimal.Decimal) error {
	return s.post(ctx, func() error { return s.rolloverLocked(day, equity) })
}

// RolloverIfNewDay rolls over when the clock has moved past the current
// trading day. It reports whether it did.
func (s *Supervisor) RolloverIfNewDay(ctx context.Context, equity decimal.Decimal) (bool, error) {
	var rolled bool
	err := s.post(ctx, func() error {
		today := s.Today()
		if today == s.day {
			return nil
		}
		rolled = true
		return s.rolloverLocked(today, equity)
	})
	return rolled, err
}

func (s *Supervisor) rollover(ctx context.Context, day string, equity decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rolloverLocked(day, equity); err != nil {
		return err
	}
	return s.persistLocked(ctx)
}

func (s *Supervisor) rolloverLocked(day string, equity decimal.Decimal) error {
	b := s.breaker.State()
	p := s.protection.State()
	err := s.audit.Append(audit.Entry{
		Action: audit.ActionDayRollover,
		Details: map[string]string{
			"fromDay":          s.day,
			"toDay":            day,
			"dailyRealizedPnl": b.DailyRealizedPnL.String(),
			"dailyPnlPct":      b.DailyPnLPct.StringFixed(4),
			"wasTripped":       fmt.Sprint(b.Tripped),
			"peakProfit":       p.DailyPeakProfit.String(),
			"dayStartEquity":   equity.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("audit day rollover: %w", err)
	}

	s.breaker.rollover()
	s.protection.rollover()
	prev := s.day
	s.day = day
	if equity.IsPositive() {
		s.dayStartEquity = equity
	}
	s.logger.Info("day_rollover", zap.String("from", prev), zap.String("to", day),
		zap.String("equity", s.dayStartEquity.String()))
	return nil
}

// Today is the current trading day in the configured location.
func (s *Supervisor) Today() string {
	return s.now().In(s.loc).Format(dayLayout)
}

func (s *Supervisor) Day() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.day
}

// Snapshot is a consistent copy of all risk state.
func (s *Supervisor) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Supervisor) snapshotLocked() State {
	return State{
		Day:            s.day,
		DayStartEquity: s.dayStartEquity,
		Breaker:        s.breaker.State(),
		Emotional:      s.emotional.State(),
		Protection:     s.protection.State(),
		UpdatedAt:      s.updatedAt,
	}
}

func (s *Supervisor) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

func (s *Supervisor) persistLocked(ctx context.Context) error {
	s.updatedAt = s.now().UTC()
	if err := s.store.SaveState(ctx, s.snapshotLocked()); err != nil {
		s.logger.Error("risk_state_save_failed", zap.Error(err))
		return fmt.Errorf("risk: save state: %w", err)
	}
	return nil
}
