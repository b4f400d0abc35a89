// Package config loads and validates the riskexec configuration file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/order"
	"github.com/rustyeddy/riskexec/retry"
	"github.com/rustyeddy/riskexec/risk"
)

// Config is everything riskexec reads at startup. Durations are Go duration
// strings ("2s", "500ms"); money and percentages are decimal strings.
type Config struct {
	Account          AccountConfig    `json:"account" yaml:"account"`
	Risk             RiskConfig       `json:"risk" yaml:"risk"`
	EmotionalControl EmotionalConfig  `json:"emotionalControl" yaml:"emotionalControl"`
	ProfitProtection ProtectionConfig `json:"profitProtection" yaml:"profitProtection"`
	Orders           OrdersConfig     `json:"orders" yaml:"orders"`
	Retry            RetryConfig      `json:"retry" yaml:"retry"`
	Audit            AuditConfig      `json:"audit" yaml:"audit"`
	Journal          JournalConfig    `json:"journal" yaml:"journal"`
	Log              LogConfig        `json:"log" yaml:"log"`
	Metrics          MetricsConfig    `json:"metrics" yaml:"metrics"`
	Schedule         ScheduleConfig   `json:"schedule" yaml:"schedule"`
	Broker           BrokerConfig     `json:"broker" yaml:"broker"`
}

type AccountConfig struct {
	ExecutionMode string `json:"executionMode" yaml:"executionMode"`
	// EquityOverride, when positive, sizes positions from this amount instead
	// of the broker's buying power.
	EquityOverride decimal.Decimal `json:"equityOverride" yaml:"equityOverride"`
	// Timezone decides where a trading day starts, e.g. "America/New_York".
	Timezone string `json:"timezone" yaml:"timezone"`
}

type RiskConfig struct {
	RiskPctPerTrade      decimal.Decimal `json:"riskPctPerTrade" yaml:"riskPctPerTrade"`
	MaxPositionPct       decimal.Decimal `json:"maxPositionPct" yaml:"maxPositionPct"`
	MaxDailyLossPct      decimal.Decimal `json:"maxDailyLossPct" yaml:"maxDailyLossPct"`
	MaxConsecutiveLosses int             `json:"maxConsecutiveLosses" yaml:"maxConsecutiveLosses"`
}

type EmotionalConfig struct {
	LossThreshold     int             `json:"lossThreshold" yaml:"lossThreshold"`
	RestoreThreshold  int             `json:"restoreThreshold" yaml:"restoreThreshold"`
	ReducedMultiplier decimal.Decimal `json:"reducedMultiplier" yaml:"reducedMultiplier"`
}

type ProtectionConfig struct {
	LockPct       decimal.Decimal `json:"lockPct" yaml:"lockPct"`
	MinPeakProfit decimal.Decimal `json:"minPeakProfit" yaml:"minPeakProfit"`
	Interval      string          `json:"interval" yaml:"interval"`
}

type OrdersConfig struct {
	PollInterval         string `json:"pollInterval" yaml:"pollInterval"`
	ReconcileAfter       string `json:"reconcileAfter" yaml:"reconcileAfter"`
	ReconcileCancelsOpen bool   `json:"reconcileCancelsOpen" yaml:"reconcileCancelsOpen"`
	Workers              int    `json:"workers" yaml:"workers"`
	QueueSize            int    `json:"queueSize" yaml:"queueSize"`
}

type RetryConfig struct {
	MaxAttempts int     `json:"maxAttempts" yaml:"maxAttempts"`
	BaseDelay   string  `json:"baseDelay" yaml:"baseDelay"`
	MaxDelay    string  `json:"maxDelay" yaml:"maxDelay"`
	Multiplier  float64 `json:"multiplier" yaml:"multiplier"`
	Jitter      bool    `json:"jitter" yaml:"jitter"`
	CallTimeout string  `json:"callTimeout" yaml:"callTimeout"`
}

type AuditConfig struct {
	Path string `json:"path" yaml:"path"`
	// Sync fsyncs after every entry.
	Sync bool `json:"sync" yaml:"sync"`
}

type JournalConfig struct {
	DBPath string `json:"dbPath" yaml:"dbPath"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"maxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays" yaml:"maxAgeDays"`
	Compress   bool   `json:"compress" yaml:"compress"`
	Stdout     bool   `json:"stdout" yaml:"stdout"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

type ScheduleConfig struct {
	// Rollover is a six-field cron spec (with seconds) in the account
	// timezone.
	Rollover string `json:"rollover" yaml:"rollover"`
}

type BrokerConfig struct {
	Type  string      `json:"type" yaml:"type"` // "paper" or "oanda"
	Oanda OandaConfig `json:"oanda" yaml:"oanda"`
	Paper PaperConfig `json:"paper" yaml:"paper"`
}

type OandaConfig struct {
	AccountID string `json:"accountId" yaml:"accountId"`
	Practice  bool   `json:"practice" yaml:"practice"`
	// TokenEnv names the environment variable holding the API token.
	TokenEnv string `json:"tokenEnv" yaml:"tokenEnv"`
}

type PaperConfig struct {
	Cash   decimal.Decimal `json:"cash" yaml:"cash"`
	Quotes []Quote         `json:"quotes,omitempty" yaml:"quotes,omitempty"`
}

type Quote struct {
	Symbol string          `json:"symbol" yaml:"symbol"`
	Bid    decimal.Decimal `json:"bid" yaml:"bid"`
	Ask    decimal.Decimal `json:"ask" yaml:"ask"`
}

// FlatOptions are the single-level option names accepted at the top of a
// config file. Each one, when present, overrides its field in the matching
// section.
type FlatOptions struct {
	MaxDailyLossPct                  *decimal.Decimal `json:"maxDailyLossPct,omitempty" yaml:"maxDailyLossPct,omitempty"`
	MaxConsecutiveLosses             *int             `json:"maxConsecutiveLosses,omitempty" yaml:"maxConsecutiveLosses,omitempty"`
	RiskPctPerTrade                  *decimal.Decimal `json:"riskPctPerTrade,omitempty" yaml:"riskPctPerTrade,omitempty"`
	MaxPositionPct                   *decimal.Decimal `json:"maxPositionPct,omitempty" yaml:"maxPositionPct,omitempty"`
	EmotionalControlLossThreshold    *int             `json:"emotionalControlLossThreshold,omitempty" yaml:"emotionalControlLossThreshold,omitempty"`
	EmotionalControlRestoreThreshold *int             `json:"emotionalControlRestoreThreshold,omitempty" yaml:"emotionalControlRestoreThreshold,omitempty"`
	ProfitProtectionLockPct          *decimal.Decimal `json:"profitProtectionLockPct,omitempty" yaml:"profitProtectionLockPct,omitempty"`
	OrderRetryMaxAttempts            *int             `json:"orderRetryMaxAttempts,omitempty" yaml:"orderRetryMaxAttempts,omitempty"`
	// OrderRetryBaseDelay is a duration string like the retry section's.
	OrderRetryBaseDelay          *string `json:"orderRetryBaseDelay,omitempty" yaml:"orderRetryBaseDelay,omitempty"`
	StatusPollIntervalSeconds    *int    `json:"statusPollIntervalSeconds,omitempty" yaml:"statusPollIntervalSeconds,omitempty"`
	ReconciliationTimeoutSeconds *int    `json:"reconciliationTimeoutSeconds,omitempty" yaml:"reconciliationTimeoutSeconds,omitempty"`
}

// fileConfig is the on-disk shape: the sectioned config plus flat options.
type fileConfig struct {
	Config      `yaml:",inline"`
	FlatOptions `yaml:",inline"`
}

func (o FlatOptions) apply(c *Config) error {
	setDec := func(dst *decimal.Decimal, v *decimal.Decimal) {
		if v != nil {
			*dst = *v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setSeconds := func(name string, dst *string, v *int) error {
		if v == nil {
			return nil
		}
		if *v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
		*dst = (time.Duration(*v) * time.Second).String()
		return nil
	}

	setDec(&c.Risk.MaxDailyLossPct, o.MaxDailyLossPct)
	setInt(&c.Risk.MaxConsecutiveLosses, o.MaxConsecutiveLosses)
	setDec(&c.Risk.RiskPctPerTrade, o.RiskPctPerTrade)
	setDec(&c.Risk.MaxPositionPct, o.MaxPositionPct)
	setInt(&c.EmotionalControl.LossThreshold, o.EmotionalControlLossThreshold)
	setInt(&c.EmotionalControl.RestoreThreshold, o.EmotionalControlRestoreThreshold)
	setDec(&c.ProfitProtection.LockPct, o.ProfitProtectionLockPct)
	setInt(&c.Retry.MaxAttempts, o.OrderRetryMaxAttempts)
	if o.OrderRetryBaseDelay != nil {
		c.Retry.BaseDelay = *o.OrderRetryBaseDelay
	}
	if err := setSeconds("statusPollIntervalSeconds", &c.Orders.PollInterval, o.StatusPollIntervalSeconds); err != nil {
		return err
	}
	return setSeconds("reconciliationTimeoutSeconds", &c.Orders.ReconcileAfter, o.ReconciliationTimeoutSeconds)
}

// LoadFromFile loads configuration from a YAML or JSON file and validates
// it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Try YAML first, fall back to JSON. Unknown keys are errors in both so
	// a misspelled limit never silently keeps its default.
	f := fileConfig{Config: *Default()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		f = fileConfig{Config: *Default()}
		jdec := json.NewDecoder(bytes.NewReader(data))
		jdec.DisallowUnknownFields()
		if jerr := jdec.Decode(&f); jerr != nil {
			return nil, fmt.Errorf("parse config: yaml: %v; json: %w", err, jerr)
		}
	}

	cfg := &f.Config
	if err := f.FlatOptions.apply(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks every section and reports the first problem.
func (c *Config) Validate() error {
	if _, err := broker.ParseMode(c.Account.ExecutionMode); err != nil {
		return fmt.Errorf("account.executionMode: %w", err)
	}
	if c.Account.EquityOverride.IsNegative() {
		return fmt.Errorf("account.equityOverride must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("account.timezone: %w", err)
	}
	if err := c.RiskPolicy().Validate(); err != nil {
		return err
	}

	durations := map[string]string{
		"profitProtection.interval": c.ProfitProtection.Interval,
		"orders.pollInterval":       c.Orders.PollInterval,
		"orders.reconcileAfter":     c.Orders.ReconcileAfter,
		"retry.baseDelay":           c.Retry.BaseDelay,
		"retry.maxDelay":            c.Retry.MaxDelay,
		"retry.callTimeout":         c.Retry.CallTimeout,
	}
	for name, s := range durations {
		if _, err := parseDuration(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Orders.Workers < 1 {
		return fmt.Errorf("orders.workers must be >= 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be >= 1")
	}

	if c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required")
	}
	if c.Journal.DBPath == "" {
		return fmt.Errorf("journal.dbPath is required")
	}
	if c.Schedule.Rollover != "" {
		if _, err := cron.NewParser(cronFields).Parse(c.Schedule.Rollover); err != nil {
			return fmt.Errorf("schedule.rollover: %w", err)
		}
	}

	switch c.Broker.Type {
	case "paper":
		if !c.Broker.Paper.Cash.IsPositive() {
			return fmt.Errorf("broker.paper.cash must be positive")
		}
		for _, q := range c.Broker.Paper.Quotes {
			if q.Symbol == "" || !q.Bid.IsPositive() || q.Ask.LessThan(q.Bid) {
				return fmt.Errorf("broker.paper.quotes: bad quote for %q", q.Symbol)
			}
		}
	case "oanda":
		if c.Broker.Oanda.AccountID == "" {
			return fmt.Errorf("broker.oanda.accountId is required")
		}
		if c.Broker.Oanda.TokenEnv == "" {
			return fmt.Errorf("broker.oanda.tokenEnv is required")
		}
	default:
		return fmt.Errorf("broker.type must be 'paper' or 'oanda'")
	}
	return nil
}

// cronFields matches the six-field specs used by the scheduler.
const cronFields = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func (c *Config) Location() (*time.Location, error) {
	if c.Account.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Account.Timezone)
}

func (c *Config) Mode() broker.Mode {
	m, _ := broker.ParseMode(c.Account.ExecutionMode)
	return m
}

func (c *Config) RiskPolicy() risk.Policy {
	return risk.Policy{
		RiskPctPerTrade:      c.Risk.RiskPctPerTrade,
		MaxPositionPct:       c.Risk.MaxPositionPct,
		MaxDailyLossPct:      c.Risk.MaxDailyLossPct,
		MaxConsecutiveLosses: c.Risk.MaxConsecutiveLosses,
		LossThreshold:        c.EmotionalControl.LossThreshold,
		RestoreThreshold:     c.EmotionalControl.RestoreThreshold,
		ReducedMultiplier:    c.EmotionalControl.ReducedMultiplier,
		LockPct:              c.ProfitProtection.LockPct,
		MinPeakProfit:        c.ProfitProtection.MinPeakProfit,
	}
}

// RetryPolicy assumes Validate has passed.
func (c *Config) RetryPolicy() retry.Policy {
	base, _ := parseDuration(c.Retry.BaseDelay)
	maxDelay, _ := parseDuration(c.Retry.MaxDelay)
	timeout, _ := parseDuration(c.Retry.CallTimeout)
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Multiplier:  c.Retry.Multiplier,
		Jitter:      c.Retry.Jitter,
		CallTimeout: timeout,
	}
}

// OrderConfig assumes Validate has passed.
func (c *Config) OrderConfig() order.Config {
	poll, _ := parseDuration(c.Orders.PollInterval)
	reconcile, _ := parseDuration(c.Orders.ReconcileAfter)
	protect, _ := parseDuration(c.ProfitProtection.Interval)
	return order.Config{
		Mode:                 c.Mode(),
		RiskPctPerTrade:      c.Risk.RiskPctPerTrade,
		MaxPositionPct:       c.Risk.MaxPositionPct,
		Equity:               c.Account.EquityOverride,
		PollInterval:         poll,
		ProtectionInterval:   protect,
		ReconcileAfter:       reconcile,
		ReconcileCancelsOpen: c.Orders.ReconcileCancelsOpen,
		Workers:              c.Orders.Workers,
		QueueSize:            c.Orders.QueueSize,
	}
}

// Default returns a paper-trading configuration with the standard limits.
func Default() *Config {
	p := risk.DefaultPolicy()
	r := retry.DefaultPolicy()
	return &Config{
		Account: AccountConfig{
			ExecutionMode: string(broker.Paper),
			Timezone:      "America/New_York",
		},
		Risk: RiskConfig{
			RiskPctPerTrade:      p.RiskPctPerTrade,
			MaxPositionPct:       p.MaxPositionPct,
			MaxDailyLossPct:      p.MaxDailyLossPct,
			MaxConsecutiveLosses: p.MaxConsecutiveLosses,
		},
		EmotionalControl: EmotionalConfig{
			LossThreshold:     p.LossThreshold,
			RestoreThreshold:  p.RestoreThreshold,
			ReducedMultiplier: p.ReducedMultiplier,
		},
		ProfitProtection: ProtectionConfig{
			LockPct:       p.LockPct,
			MinPeakProfit: p.MinPeakProfit,
			Interval:      "5s",
		},
		Orders: OrdersConfig{
			PollInterval:   "2s",
			ReconcileAfter: "30s",
			Workers:        2,
			QueueSize:      64,
		},
		Retry: RetryConfig{
			MaxAttempts: r.MaxAttempts,
			BaseDelay:   r.BaseDelay.String(),
			MaxDelay:    r.MaxDelay.String(),
			Multiplier:  r.Multiplier,
			Jitter:      r.Jitter,
			CallTimeout: r.CallTimeout.String(),
		},
		Audit:   AuditConfig{Path: "./data/audit.jsonl", Sync: true},
		Journal: JournalConfig{DBPath: "./data/riskexec.db"},
		Log: LogConfig{
			Level:      "info",
			File:       "./logs/riskexec.log",
			MaxSizeMB:  50,
			MaxBackups: 10,
			MaxAgeDays: 30,
			Compress:   true,
			Stdout:     true,
		},
		Schedule: ScheduleConfig{Rollover: "0 0 0 * * *"},
		Broker: BrokerConfig{
			Type: "paper",
			Oanda: OandaConfig{
				Practice: true,
				TokenEnv: "OANDA_TOKEN",
			},
			Paper: PaperConfig{Cash: decimal.NewFromInt(100000)},
		},
	}
}
