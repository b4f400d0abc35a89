package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskexec/config"
)

var rootCmd = &cobra.Command{
	Use:   "riskexec",
	Short: "Risk-gated order execution for paper and live accounts",
	Long: `riskexec sizes, gates and places orders on behalf of an upstream
signal source. Every order passes the daily-loss circuit breaker, the
loss-streak size multiplier and profit protection before it reaches the
broker, and every state change is written to an append-only audit log.

Subcommands:
  run      - Start the execution loop
  config   - Generate or validate configuration files
  state    - Show the persisted risk state
  reset    - Reset a tripped circuit breaker
  audit    - Inspect or export the audit log
  journal  - Query closed trades
  version  - Print the version`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile)
	},
}

var (
	cfgFile string
	envFile string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults are used when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with broker credentials")
}

// loadEnvFile loads the dotenv file if it exists. Variables already set in
// the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
