package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskexec/audit"
	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/broker/paper"
	"github.com/rustyeddy/riskexec/config"
	"github.com/rustyeddy/riskexec/journal"
	"github.com/rustyeddy/riskexec/logging"
	"github.com/rustyeddy/riskexec/market"
	"github.com/rustyeddy/riskexec/oanda"
	"github.com/rustyeddy/riskexec/risk"
)

func logOptions(c config.LogConfig) logging.Options {
	return logging.Options{
		Level:      c.Level,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
		Stdout:     c.Stdout,
	}
}

// newGateway builds the configured broker. The paper engine is also
// returned so feeds can push quotes into it.
func newGateway(cfg *config.Config) (broker.Gateway, *paper.Engine, error) {
	switch cfg.Broker.Type {
	case "paper":
		eng := paper.NewEngine(cfg.Broker.Paper.Cash)
		for _, q := range cfg.Broker.Paper.Quotes {
			eng.UpdatePrice(market.Tick{Symbol: q.Symbol, Bid: q.Bid, Ask: q.Ask})
		}
		return eng, eng, nil
	case "oanda":
		token := os.Getenv(cfg.Broker.Oanda.TokenEnv)
		if token == "" {
			return nil, nil, fmt.Errorf("%s is not set", cfg.Broker.Oanda.TokenEnv)
		}
		return oanda.NewClient(token, cfg.Broker.Oanda.AccountID, cfg.Broker.Oanda.Practice), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown broker type %q", cfg.Broker.Type)
}

// readAudit returns the existing audit trail, or nothing for a fresh file.
func readAudit(path string) ([]audit.Entry, error) {
	entries, err := audit.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}

// openSupervisor restores the risk state from the journal database.
func openSupervisor(ctx context.Context, cfg *config.Config, store risk.StateStore, log audit.Log,
	logger *zap.Logger, equity decimal.Decimal, observer func(risk.State)) (*risk.Supervisor, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return risk.NewSupervisor(ctx, risk.SupervisorConfig{
		Policy:   cfg.RiskPolicy(),
		Store:    store,
		Audit:    log,
		Logger:   logger,
		Location: loc,
		Equity:   equity,
		Observer: observer,
	})
}

func openJournal(cfg *config.Config) (*journal.SQLite, error) {
	j, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return j, nil
}
