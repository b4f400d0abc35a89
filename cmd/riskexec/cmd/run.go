package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/riskexec/audit"
	"github.com/rustyeddy/riskexec/broker/paper"
	"github.com/rustyeddy/riskexec/internal/feed"
	"github.com/rustyeddy/riskexec/logging"
	"github.com/rustyeddy/riskexec/metrics"
	"github.com/rustyeddy/riskexec/order"
	"github.com/rustyeddy/riskexec/pkg/id"
	"github.com/rustyeddy/riskexec/retry"
	"github.com/rustyeddy/riskexec/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the execution loop",
	Long: `Run restores risk state and working orders, then places orders from the
event feed until interrupted.

The feed is CSV with one event per row:
  time,quote,SYMBOL,bid,ask
  time,open,SYMBOL,side,entry,stop[,target[,strategy]]
  time,close,SYMBOL[,reason]

Quotes only apply to the paper broker. With --once the feed is replayed
synchronously and the command exits at its end.

Examples:
  riskexec run -c riskexec.yaml --feed signals.csv --once
  tail -f signals.csv | riskexec run -c riskexec.yaml --feed -`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runFeedPath string
	runOnce     bool
)

var errFeedDone = errors.New("feed done")

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFeedPath, "feed", "", "event feed CSV path, or - for stdin")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "replay the feed synchronously and exit at its end")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	session := id.Session()
	logger, logCloser, err := logging.Build(logOptions(cfg.Log))
	if err != nil {
		return err
	}
	defer logCloser.Close()
	defer logger.Sync() //nolint:errcheck
	logger = logger.With(zap.String("session", session))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	prior, err := readAudit(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	alog, err := audit.OpenFile(cfg.Audit.Path, session, audit.FileOptions{Sync: cfg.Audit.Sync})
	if err != nil {
		return err
	}
	defer alog.Close()

	gw, eng, err := newGateway(cfg)
	if err != nil {
		return err
	}
	met := metrics.New()
	exec := retry.New(cfg.RetryPolicy(), logger, retry.WithOnRetry(met.BrokerRetry))

	equity := cfg.Account.EquityOverride
	if !equity.IsPositive() {
		equity, _, err = retry.Do(ctx, exec, "buying power", gw.GetBuyingPower)
		if err != nil {
			return fmt.Errorf("read buying power: %w", err)
		}
	}

	sup, err := openSupervisor(ctx, cfg, j, alog, logger, equity, met.ObserveRisk)
	if err != nil {
		return fmt.Errorf("restore risk state: %w", err)
	}
	defer sup.Close()

	mgr, err := order.NewManager(cfg.OrderConfig(), order.Deps{
		Gateway:  gw,
		Executor: exec,
		Risk:     sup,
		Audit:    alog,
		Journal:  j,
		Metrics:  met,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if _, err := mgr.Recover(prior); err != nil {
		return fmt.Errorf("recover orders: %w", err)
	}

	logger.Info("riskexec_started",
		zap.String("mode", string(cfg.Mode())),
		zap.String("broker", cfg.Broker.Type),
		zap.String("day", sup.Day()),
		zap.String("equity", equity.String()),
		zap.String("audit", cfg.Audit.Path))

	if cfg.Schedule.Rollover != "" {
		loc, _ := cfg.Location()
		sched := scheduler.New(ctx, loc, logger)
		if _, err := sched.Add("rollover", cfg.Schedule.Rollover, func(ctx context.Context) error {
			_, err := mgr.Rollover(ctx)
			return err
		}); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", met.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics_server_failed", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if runOnce {
		if err := mgr.ReconcileStale(ctx, 0); err != nil {
			logger.Warn("reconcile_on_start_failed", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if !runOnce {
		g.Go(func() error { return mgr.Run(gctx) })
	}
	if runFeedPath != "" {
		g.Go(func() error {
			return replayFeed(gctx, runFeedPath, mgr, eng, runOnce, logger)
		})
	}
	err = g.Wait()
	if errors.Is(err, errFeedDone) || errors.Is(err, context.Canceled) {
		err = nil
	}

	printSnapshot(mgr.Snapshot())
	return err
}

// replayFeed applies feed events in order. In once mode opens are placed
// synchronously and orders are polled after every event; otherwise opens
// go through the manager's request queue.
func replayFeed(ctx context.Context, path string, mgr *order.Manager, eng *paper.Engine, once bool, logger *zap.Logger) error {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open feed: %w", err)
		}
		defer f.Close()
		in = f
	}

	r := feed.NewReader(in)
	for {
		ev, ok, err := r.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		switch ev.Kind {
		case feed.KindQuote:
			if eng == nil {
				logger.Debug("feed_quote_ignored", zap.String("symbol", ev.Symbol))
				continue
			}
			eng.UpdatePrice(ev.Quote)
		case feed.KindOpen:
			if !once {
				if err := mgr.Submit(ctx, ev.Open); err != nil {
					return err
				}
				continue
			}
			dec, err := mgr.OpenPosition(ctx, ev.Open)
			logDecision(logger, "open", ev.Symbol, dec, err)
		case feed.KindClose:
			dec, err := mgr.ClosePosition(ctx, ev.Symbol, ev.Reason)
			logDecision(logger, "close", ev.Symbol, dec, err)
		}

		if once {
			if err := mgr.PollOrders(ctx); err != nil {
				logger.Warn("poll_orders_failed", zap.Error(err))
			}
			if _, err := mgr.EvaluateProtection(ctx); err != nil {
				logger.Warn("evaluate_protection_failed", zap.Error(err))
			}
		}
	}

	logger.Info("feed_done", zap.String("path", path))
	if once {
		return errFeedDone
	}
	return nil
}

func logDecision(logger *zap.Logger, what, symbol string, dec order.Decision, err error) {
	fields := []zap.Field{
		zap.String("symbol", symbol),
		zap.Bool("allowed", dec.Allowed),
		zap.String("reason", dec.Reason),
	}
	if dec.Order != nil {
		fields = append(fields,
			zap.String("order_id", dec.Order.ID),
			zap.String("status", string(dec.Order.Status)),
			zap.Int64("qty", dec.Order.Quantity))
	}
	if err != nil {
		logger.Warn("feed_"+what+"_failed", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("feed_"+what, fields...)
}
