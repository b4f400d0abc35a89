package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskexec/audit"
	"github.com/rustyeddy/riskexec/logging"
	"github.com/rustyeddy/riskexec/pkg/id"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset a tripped circuit breaker",
	Long: `Reset clears a tripped circuit breaker in the persisted risk state and
records who did it in the audit log. Only run it while no run process is
active against the same journal.

Examples:
  riskexec reset -c riskexec.yaml --by alice`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

var resetBy string

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringVar(&resetBy, "by", os.Getenv("USER"), "operator recorded in the audit log")
}

func runReset(cmd *cobra.Command, args []string) error {
	if resetBy == "" {
		return fmt.Errorf("--by is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.Build(logOptions(cfg.Log))
	if err != nil {
		return err
	}
	defer logCloser.Close()
	defer logger.Sync() //nolint:errcheck

	session := id.Session()
	logger = logger.With(zap.String("session", session))

	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	alog, err := audit.OpenFile(cfg.Audit.Path, session, audit.FileOptions{Sync: cfg.Audit.Sync})
	if err != nil {
		return err
	}
	defer alog.Close()

	ctx := cmd.Context()
	st, ok, err := j.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !ok {
		return fmt.Errorf("no risk state saved in %s", cfg.Journal.DBPath)
	}

	sup, err := openSupervisor(ctx, cfg, j, alog, logger, st.DayStartEquity, nil)
	if err != nil {
		return err
	}
	defer sup.Close()

	if !sup.Snapshot().Breaker.Tripped {
		fmt.Println("circuit breaker is not tripped")
		return nil
	}
	if err := sup.Reset(ctx, resetBy); err != nil {
		return fmt.Errorf("reset breaker: %w", err)
	}
	printState(sup.Snapshot())
	return nil
}
