package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the persisted risk state",
	Long: `State prints the breaker, size multiplier and profit protection state
saved in the journal database. It does not contact the broker.`,
	Args: cobra.NoArgs,
	RunE: runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	st, ok, err := j.LoadState(cmd.Context())
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !ok {
		fmt.Println("no risk state saved yet")
		return nil
	}
	printState(st)
	return nil
}
