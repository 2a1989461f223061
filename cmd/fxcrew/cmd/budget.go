package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxcrew/budget"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show today's reasoning-service spend",
	Long: `Print today's (UTC) spend against the daily ceiling and every call
charged so far.`,
	Args: cobra.NoArgs,
	RunE: runBudget,
}

func init() {
	rootCmd.AddCommand(budgetCmd)
}

func runBudget(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctl := budget.Open(cfg.BudgetFile(), cfg.Budget.DailyCeiling)
	st := ctl.Status()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Budget for %s: $%.4f of $%.2f spent (%.1f%%), $%.4f remaining\n\n",
		st.Date, st.Spent, st.Ceiling, st.PercentUsed, st.Remaining)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Time", "Stage", "Tokens in", "Tokens out", "Cost"})
	for _, c := range ctl.Ledger().Calls {
		t.AppendRow(table.Row{c.Timestamp.UTC().Format("15:04:05"), c.Stage, c.TokensIn, c.TokensOut, "$" + c.Cost.StringFixed(4)})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", fmt.Sprintf("$%.4f", st.Spent)})
	t.Render()
	return nil
}
