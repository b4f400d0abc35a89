package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var xlsxColumns = []string{
	"Timestamp", "Session", "Action", "Seq", "Order", "Broker Order",
	"Symbol", "Side", "Limit", "Qty", "Filled", "Avg Fill",
	"Mode", "Status", "Strategy", "Retries", "Details", "Error",
}

// WriteXLSX exports entries to a workbook with one "Audit" sheet.
func WriteXLSX(entries []Entry, path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const sheet = "Audit"
	if err := fx.SetSheetName(fx.GetSheetName(0), sheet); err != nil {
		return err
	}

	header, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	for i, name := range xlsxColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(sheet, cell, name); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(xlsxColumns), 1)
	if err := fx.SetCellStyle(sheet, "A1", last, header); err != nil {
		return err
	}

	for r, e := range entries {
		row := []any{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.SessionID,
			string(e.Action),
			e.Seq,
			e.OrderID,
			e.BrokerOrderID,
			e.Symbol,
			e.Side,
			decString(e.LimitPrice),
			e.Quantity,
			e.FilledQuantity,
			decString(e.AvgFillPrice),
			e.ExecutionMode,
			e.Status,
			e.Strategy,
			e.RetryCount,
			formatDetails(e.Details),
			e.Error,
		}
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := fx.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	return fx.SaveAs(path)
}

func formatDetails(d map[string]string) string {
	if len(d) == 0 {
		return ""
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + d[k]
	}
	return strings.Join(parts, " ")
}
