package cmd

import (
	"github.com/rustyeddy/yieldloop/config"
	"github.com/rustyeddy/yieldloop/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "yieldloop",
	Short: "Leveraged staking position simulator with perp hedges and P&L attribution",
	Long: `yieldloop simulates a leveraged yield position built on a lending market
and hedged with short perpetual futures across several venues.

It provides tools for:
  - Building the position by recursive looping or a single flash loan
  - Accruing supply, borrow, staking and reward yield period by period
  - Attributing P&L into components and reconciling it against direct valuation
  - Deriving safe LTV and margin levels and classifying risk
  - Journaling periods and events to CSV or SQLite`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnv(envFile)
	},
}

var (
	envFile   string
	logLevel  string
	logFormat string
	logOutput string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with YIELDLOOP_* overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console or json); overrides config")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-file", "", "log file; default stderr")
}

// newLogger applies flag overrides on top of the config's log section.
func newLogger(cfg config.LogConfig) *zap.Logger {
	if logLevel != "" {
		cfg.Level = logLevel
	}
	if logFormat != "" {
		cfg.Format = logFormat
	}
	if logOutput != "" {
		cfg.Output = logOutput
	}
	return logging.New(logging.Config{Level: cfg.Level, Format: cfg.Format, Output: cfg.Output})
}
