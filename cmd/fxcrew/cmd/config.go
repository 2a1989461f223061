package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxcrew/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage fxcrew configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  fxcrew config init -o fxcrew.yaml
  fxcrew config validate -f fxcrew.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings. Secrets
(OANDA_API_TOKEN, LLM_API_KEY) are never written; keep them in the
environment or a .env file.

Example:
  fxcrew config init -o fxcrew.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check that a configuration file loads and passes validation with the
current environment applied.

Example:
  fxcrew config validate -f fxcrew.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", defaultConfigFile, "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (defaults to --config)")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nSet OANDA_API_TOKEN, OANDA_ACCOUNT_ID and LLM_API_KEY, then run:")
	fmt.Fprintf(out, "  fxcrew run --config %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configValidatePath
	if path == "" {
		path = cfgFile
	}
	if path == "" {
		path = defaultConfigFile
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", path)
	fmt.Fprintf(out, "  Broker: %s (practice: %t)\n", cfg.Broker.Type, cfg.Broker.Practice)
	fmt.Fprintf(out, "  LLM: %s, daily budget $%.2f\n", cfg.LLM.Provider, cfg.Budget.DailyCeiling)
	fmt.Fprintf(out, "  Risk: %.0f-%.0f%% per trade, %.0f%% portfolio, %.0f%% per currency\n",
		cfg.Risk.MinRiskPct, cfg.Risk.MaxRiskPct, cfg.Risk.MaxPortfolioRiskPct, cfg.Risk.MaxCurrencyRiskPct)
	fmt.Fprintf(out, "  Watchlist: %s\n", strings.Join(cfg.Market.Watchlist, ", "))
	return nil
}
