package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rustyeddy/yieldloop/config"
	"github.com/rustyeddy/yieldloop/journal"
	"github.com/rustyeddy/yieldloop/market"
	"github.com/rustyeddy/yieldloop/pnl"
	"github.com/rustyeddy/yieldloop/risk"
	"github.com/rustyeddy/yieldloop/sim"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation from a config file and market data CSV",
	Long: `Run a simulation using settings from a configuration file and historical
market data from a long-format CSV (time,kind,name,value).

The config file specifies the assets, construction mode, lending and risk
parameters, hedge venues and journal.

Example:
  yieldloop run -f examples/atomic.yaml -d data/weeth-2024.csv --org report.org`,
	RunE: runRun,
}

var (
	runConfigPath  string
	runDataPath    string
	runMetricsFile string
	runOrgFile     string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.Flags().StringVarP(&runDataPath, "data", "d", "", "path to market data CSV (required)")
	runCmd.MarkFlagRequired("config")
	runCmd.MarkFlagRequired("data")
	addOutputFlags(runCmd)
}

func addOutputFlags(c *cobra.Command) {
	c.Flags().StringVar(&runMetricsFile, "metrics-file", "", "write prometheus textfile metrics on completion")
	c.Flags().StringVar(&runOrgFile, "org", "", "write an Org-mode run report")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()

	feed, err := market.LoadCSVFile(runDataPath)
	if err != nil {
		return fmt.Errorf("load market data: %w", err)
	}
	return execute(cmd.Context(), cfg, feed)
}

// execute runs cfg against feed, journals it and prints the summary.
func execute(ctx context.Context, cfg *config.Config, feed market.Feed) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger(cfg.Log)
	defer log.Sync()

	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer j.Close()

	engine, err := sim.New(cfg, feed, sim.WithLogger(log), sim.WithJournal(j))
	if err != nil {
		return err
	}

	fmt.Printf("Running %s simulation %s\n", cfg.Construction.Mode, engine.RunID())
	fmt.Printf("  Principal: %.4f %s -> %s on %s\n", cfg.Construction.Principal,
		cfg.Assets.BaseAsset, cfg.Assets.CollateralToken, cfg.Assets.LendingVenue)
	fmt.Printf("  Range: %s .. %s step %s\n\n", cfg.Run.Start.Format("2006-01-02 15:04"),
		cfg.Run.End.Format("2006-01-02 15:04"), cfg.Run.Step)

	runErr := engine.Run(ctx)
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	if runErr != nil {
		log.Warn("run interrupted; reporting completed periods", zap.Error(runErr))
	}

	summary, err := engine.Finalize()
	if err != nil {
		return err
	}
	printSummary(summary)

	if runMetricsFile != "" {
		if err := engine.Metrics().WriteTextfile(runMetricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		fmt.Printf("\nMetrics written to: %s\n", runMetricsFile)
	}
	if runOrgFile != "" {
		rep := journal.NewRunReport(engine.RunID(), summary)
		rep.Mode = cfg.Construction.Mode
		rep.BaseAsset = cfg.Assets.BaseAsset
		rep.Collateral = cfg.Assets.CollateralToken
		rep.Debt = cfg.Assets.DebtToken
		for _, l := range engine.Legs() {
			rep.Venues = append(rep.Venues, l.Name+" "+l.Pair)
		}
		rep.RiskLevels = map[string]int{}
		for _, a := range engine.Assessments() {
			rep.RiskLevels[a.Level.String()]++
			if a.Level == risk.Critical {
				for _, v := range a.Critical() {
					rep.Notes = append(rep.Notes, a.Time.Format("2006-01-02 15:04")+" "+v.Msg)
				}
			}
		}
		if err := rep.WriteOrg(runOrgFile); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("Report written to: %s\n", runOrgFile)
	}

	switch cfg.Journal.Type {
	case "csv":
		fmt.Printf("\nResults saved to:\n  - %s\n  - %s\n", cfg.Journal.PeriodsFile, cfg.Journal.EventsFile)
	case "sqlite":
		fmt.Printf("\nResults saved to: %s\n", cfg.Journal.DBPath)
	}
	return runErr
}

func printSummary(s pnl.Summary) {
	fmt.Printf("Final Results (%d periods):\n", s.Periods)
	fmt.Printf("  Initial value: $%s\n", s.InitialValue.StringFixed(2))
	fmt.Printf("  Final value:   $%s\n", s.FinalValue.StringFixed(2))
	fmt.Printf("  Net P&L:       $%s\n", s.NetPnL.StringFixed(2))
	for _, name := range pnl.ComponentNames {
		fmt.Printf("    %-20s $%s\n", name, s.Totals.Map()[name].StringFixed(2))
	}
	fmt.Printf("  APR: %.2f%%  APY: %.2f%%  Sharpe: %.2f  Max drawdown: %.2f%%\n",
		s.APR*100, s.APY*100, s.Sharpe, s.MaxDrawdown*100)
	fmt.Printf("  Reconciliation diff: $%s (%d failures)\n",
		s.ReconciliationDiff.StringFixed(6), s.ReconciliationFailures)
}
