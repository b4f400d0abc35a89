package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskexec/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log",
	Long: `Read the append-only audit log written by run and reset.

Subcommands:
  tail    - Show the most recent entries
  export  - Write entries to an Excel workbook

Examples:
  riskexec audit tail -n 50
  riskexec audit tail --order 01J9Z...
  riskexec audit export --xlsx audit.xlsx`,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit entries",
	Args:  cobra.NoArgs,
	RunE:  runAuditTail,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit entries to xlsx",
	Args:  cobra.NoArgs,
	RunE:  runAuditExport,
}

var (
	auditPath  string
	auditTailN int
	auditOrder string
	auditXLSX  string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditExportCmd)

	auditCmd.PersistentFlags().StringVar(&auditPath, "file", "", "audit log path (defaults to the configured path)")
	auditCmd.PersistentFlags().StringVar(&auditOrder, "order", "", "only entries for this order ID")
	auditTailCmd.Flags().IntVarP(&auditTailN, "lines", "n", 20, "number of entries to show")
	auditExportCmd.Flags().StringVar(&auditXLSX, "xlsx", "audit.xlsx", "output workbook path")
}

func auditFile() (string, error) {
	if auditPath != "" {
		return auditPath, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Audit.Path, nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditFile()
	if err != nil {
		return err
	}

	var entries []audit.Entry
	if auditOrder == "" {
		entries, err = audit.Tail(path, auditTailN)
	} else {
		entries, err = audit.ReadFile(path)
		entries = audit.ByOrder(entries)[auditOrder]
		if len(entries) > auditTailN {
			entries = entries[len(entries)-auditTailN:]
		}
	}
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	printAudit(entries)
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	path, err := auditFile()
	if err != nil {
		return err
	}
	entries, err := audit.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	if auditOrder != "" {
		entries = audit.ByOrder(entries)[auditOrder]
	}
	if err := audit.WriteXLSX(entries, auditXLSX); err != nil {
		return err
	}
	fmt.Printf("wrote %d entries to %s\n", len(entries), auditXLSX)
	return nil
}
