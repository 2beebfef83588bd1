package cmd

import (
	"fmt"

	"github.com/rustyeddy/yieldloop/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the run journal",
	Long: `Query and display period and event records from a SQLite journal.

Subcommands:
  runs     - List recorded run IDs
  periods  - List the P&L periods of a run
  period   - Show one period of a run
  events   - List the audit events of a run, optionally of one kind

Examples:
  yieldloop journal runs
  yieldloop journal periods <run-id>
  yieldloop journal events <run-id> --kind liquidation_risk`,
}

var journalRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE:  runJournalRuns,
}

var journalPeriodsCmd = &cobra.Command{
	Use:   "periods <run-id>",
	Short: "List the periods of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalPeriods,
}

var journalPeriodCmd = &cobra.Command{
	Use:   "period <run-id> <index>",
	Short: "Show one period of a run",
	Args:  cobra.ExactArgs(2),
	RunE:  runJournalPeriod,
}

var journalEventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "List the events of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalEvents,
}

var (
	journalDBPath string
	journalKind   string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRunsCmd)
	journalCmd.AddCommand(journalPeriodsCmd)
	journalCmd.AddCommand(journalPeriodCmd)
	journalCmd.AddCommand(journalEventsCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./yieldloop.sqlite", "path to SQLite journal DB")
	journalEventsCmd.Flags().StringVarP(&journalKind, "kind", "k", "", "only events of this kind")
}

func openJournal() (*journal.SQLite, error) {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalRuns(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.ListRuns(cmd.Context())
	if err != nil {
		return fmt.Errorf("query runs: %w", err)
	}
	for _, r := range runs {
		fmt.Println(r)
	}
	return nil
}

func runJournalPeriods(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	rows, err := j.ListPeriods(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("query periods: %w", err)
	}
	fmt.Println(journal.FormatPeriodsOrg(rows))
	return nil
}

func runJournalPeriod(cmd *cobra.Command, args []string) error {
	var idx int
	if _, err := fmt.Sscanf(args[1], "%d", &idx); err != nil {
		return fmt.Errorf("period index %q: %w", args[1], err)
	}

	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	row, err := j.GetPeriod(cmd.Context(), args[0], idx)
	if err != nil {
		return fmt.Errorf("get period: %w", err)
	}
	fmt.Println(journal.FormatPeriodsOrg([]journal.PeriodRow{row}))
	return nil
}

func runJournalEvents(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	rows, err := j.ListEvents(cmd.Context(), args[0], journalKind)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	fmt.Println(journal.FormatEventsOrg(rows))
	return nil
}
