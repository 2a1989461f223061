package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxcrew/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the SQLite trade journal",
	Long: `Query the SQLite mirror of the trade log.

Subcommands:
  stats  - Outcome counts per action and per instrument
  trade  - Details of a single entry by ID
  day    - Entries recorded on a UTC day

Examples:
  fxcrew journal stats
  fxcrew journal trade 01J0Z8Q5X3K8M6T2V4N7R9W1YB
  fxcrew journal day 2025-03-10`,
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise outcomes",
	Args:  cobra.NoArgs,
	RunE:  runJournalStats,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <id>",
	Short: "Get details of a specific entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List entries recorded on a specific UTC day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalStatsCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalDayCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal (defaults to the configured one)")
}

func openJournal() (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		path = cfg.JournalPath()
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalStats(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	st, err := j.Stats()
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d entries\n\n", st.Total)

	byOutcome := table.NewWriter()
	byOutcome.SetOutputMirror(out)
	byOutcome.SetStyle(table.StyleLight)
	byOutcome.AppendHeader(table.Row{"Action", "Outcome", "Count"})
	for _, oc := range st.ByOutcome {
		byOutcome.AppendRow(table.Row{oc.ActionType, oc.Outcome, oc.Count})
	}
	byOutcome.Render()

	byInstrument := table.NewWriter()
	byInstrument.SetOutputMirror(out)
	byInstrument.SetStyle(table.StyleLight)
	byInstrument.AppendHeader(table.Row{"Instrument", "Actions", "Executed", "Failed", "Errors"})
	for _, is := range st.Instruments {
		byInstrument.AppendRow(table.Row{is.Instrument, is.Actions, is.Executed, is.Failed, is.Errors})
	}
	byInstrument.Render()
	return nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	e, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:          %s\n", e.ID)
	fmt.Fprintf(out, "Time:        %s\n", e.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Instrument:  %s\n", e.InstrumentKey())
	fmt.Fprintf(out, "Action:      %s %s\n", e.ActionType, e.Direction)
	fmt.Fprintf(out, "Units:       %g\n", e.Units)
	fmt.Fprintf(out, "Entry/Stop:  %g / %g\n", e.EntryPrice, e.StopLoss)
	fmt.Fprintf(out, "Outcome:     %s\n", e.Outcome)
	if e.DealID != "" {
		fmt.Fprintf(out, "Deal:        %s\n", e.DealID)
	}
	if e.Reason != "" {
		fmt.Fprintf(out, "Reason:      %s\n", e.Reason)
	}
	return nil
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	start, end, err := dayBounds(time.UTC, args[0])
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	entries, err := j.ListTradesBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	renderTrades(cmd.OutOrStdout(), entries)
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.Add(24 * time.Hour), nil
}
