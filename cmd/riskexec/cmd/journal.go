package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskexec/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the trade journal",
	Long: `Query closed trades and equity snapshots from the SQLite journal.

Subcommands:
  trade  - Show one trade by ID
  today  - List trades closed today
  day    - List trades closed on a specific day

Days follow the configured account timezone.

Examples:
  riskexec journal trade <trade-id>
  riskexec journal today
  riskexec journal day 2026-03-02`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Show one trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetTrade(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	printTrades("Trade "+rec.TradeID, []journal.TradeRecord{rec})
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	return listDay(cmd, time.Now().In(loc).Format("2006-01-02"))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	return listDay(cmd, args[0])
}

func listDay(cmd *cobra.Command, day string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	start, end, err := dayBounds(loc, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := cmd.Context()
	recs, err := j.ListTradesClosedBetween(ctx, start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	printTrades("Trades "+day, recs)

	eq, err := j.ListEquityBetween(ctx, start, end)
	if err != nil {
		return fmt.Errorf("query equity: %w", err)
	}
	for _, e := range eq {
		fmt.Printf("equity %s %s %s\n", e.Day, ts(e.Time), e.Equity.StringFixed(2))
	}
	return nil
}

// dayBounds returns [start, end) of a calendar day in loc. The end is the
// next local midnight so DST days are 23 or 25 hours long.
func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
	return start, end, nil
}
