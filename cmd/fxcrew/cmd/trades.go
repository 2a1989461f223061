package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxcrew/journal"
	"github.com/rustyeddy/fxcrew/memory"
)

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List recent trade-log entries",
	Long: `List the newest entries of the trade log, or export them as CSV.

Examples:
  fxcrew trades --limit 20
  fxcrew trades --limit 0 --csv trades.csv`,
	Args: cobra.NoArgs,
	RunE: runTrades,
}

var (
	tradesLimit int
	tradesCSV   string
)

func init() {
	rootCmd.AddCommand(tradesCmd)

	tradesCmd.Flags().IntVarP(&tradesLimit, "limit", "n", 20, "number of entries (0 for all)")
	tradesCmd.Flags().StringVar(&tradesCSV, "csv", "", "write CSV to this file ('-' for stdout)")
}

func runTrades(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := memory.Open(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("open memory: %w", err)
	}

	var entries []memory.TradeLogEntry
	if tradesLimit > 0 {
		entries, err = store.RecentTrades(tradesLimit)
	} else {
		entries, err = store.AllTrades()
	}
	if err != nil {
		return fmt.Errorf("read trade log: %w", err)
	}

	switch tradesCSV {
	case "":
		renderTrades(cmd.OutOrStdout(), entries)
		return nil
	case "-":
		return journal.WriteCSV(cmd.OutOrStdout(), entries)
	}

	f, err := os.Create(tradesCSV)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	if err := journal.WriteCSV(f, entries); err != nil {
		f.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %d entries to %s\n", len(entries), tradesCSV)
	return nil
}

func renderTrades(w io.Writer, entries []memory.TradeLogEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Time", "Instrument", "Action", "Direction", "Units", "Entry", "Stop", "Outcome", "Reason"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.Timestamp.UTC().Format("2006-01-02 15:04"),
			e.InstrumentKey(),
			e.ActionType,
			e.Direction,
			e.Units,
			e.EntryPrice,
			e.StopLoss,
			e.Outcome,
			e.Reason,
		})
	}
	t.Render()
}
