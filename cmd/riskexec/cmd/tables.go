package cmd

import (
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/rustyeddy/riskexec/audit"
	"github.com/rustyeddy/riskexec/journal"
	"github.com/rustyeddy/riskexec/order"
	"github.com/rustyeddy/riskexec/risk"
)

const tsLayout = "2006-01-02 15:04:05"

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}

func ts(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(tsLayout)
}

func printSnapshot(s order.Snapshot) {
	pt := newTable("Positions " + ts(s.Time))
	pt.AppendHeader(table.Row{"Symbol", "Side", "Qty", "Entry", "Stop", "Target", "Opened", "Strategy"})
	for _, p := range s.Positions {
		pt.AppendRow(table.Row{p.Symbol, p.Side(), p.Quantity, p.EntryPrice, p.StopLoss, p.Target, ts(p.OpenedAt), p.Strategy})
	}
	pt.Render()

	ot := newTable("Orders")
	ot.AppendHeader(table.Row{"ID", "Broker ID", "Symbol", "Side", "Qty", "Filled", "Avg", "Status", "Retries", "Reason"})
	for _, o := range s.Orders {
		ot.AppendRow(table.Row{o.ID, o.BrokerOrderID, o.Symbol, o.Side, o.Quantity, o.FilledQuantity, o.AvgFillPrice, o.Status, o.RetryCount, o.Reason})
	}
	ot.SetColumnConfigs([]table.ColumnConfig{
		{Number: 10, WidthMax: 40},
	})
	ot.Render()
}

func printState(s risk.State) {
	t := newTable("Risk state " + s.Day)
	t.AppendRows([]table.Row{
		{"Day start equity", s.DayStartEquity.StringFixed(2)},
		{"Daily realized PnL", s.Breaker.DailyRealizedPnL.StringFixed(2)},
		{"Daily PnL %", s.Breaker.DailyPnLPct.Shift(2).StringFixed(2)},
		{"Consecutive losses", s.Breaker.ConsecutiveLosses},
		{"Breaker tripped", s.Breaker.Tripped},
		{"Trip reason", s.Breaker.TripReason},
		{"Tripped at", ts(s.Breaker.TrippedAt)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Size multiplier", s.Emotional.SizeMultiplier.String()},
		{"Loss streak", s.Emotional.LossStreak},
		{"Win streak", s.Emotional.WinStreak},
		{"Wins to restore", s.Emotional.WinsNeededToRestore},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Peak profit", s.Protection.DailyPeakProfit.StringFixed(2)},
		{"Lock %", s.Protection.LockPct.Shift(2).StringFixed(0)},
		{"Protection active", s.Protection.Active},
		{"Triggered at", ts(s.Protection.TriggeredAt)},
		{"Updated", ts(s.UpdatedAt)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, Align: text.AlignRight},
	})
	t.Render()
}

func printTrades(title string, trades []journal.TradeRecord) {
	t := newTable(title)
	t.AppendHeader(table.Row{"Trade", "Symbol", "Side", "Qty", "Entry", "Exit", "PnL", "Opened", "Closed", "Reason"})
	for _, r := range trades {
		t.AppendRow(table.Row{r.TradeID, r.Symbol, r.Side, r.Quantity, r.EntryPrice, r.ExitPrice,
			r.RealizedPnL.StringFixed(2), ts(r.OpenTime), ts(r.CloseTime), r.Reason})
	}
	s := journal.Summarize(trades)
	t.AppendFooter(table.Row{
		"", "", "", "", "",
		"net", s.Net.StringFixed(2),
		"wins", s.Wins, "losses " + strconv.Itoa(s.Losses),
	})
	t.Render()
}

func printAudit(entries []audit.Entry) {
	t := newTable("Audit")
	t.AppendHeader(table.Row{"Time", "Action", "Seq", "Order", "Symbol", "Side", "Qty", "Filled", "Status", "Error"})
	for _, e := range entries {
		t.AppendRow(table.Row{ts(e.Timestamp), e.Action, e.Seq, e.OrderID, e.Symbol, e.Side, e.Quantity, e.FilledQuantity, e.Status, e.Error})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 10, WidthMax: 40},
	})
	t.Render()
}
