package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxcrew/config"
)

const defaultConfigFile = "fxcrew.yaml"

var rootCmd = &cobra.Command{
	Use:   "fxcrew",
	Short: "Budget-gated, risk-bounded FX decision pipeline",
	Long: `fxcrew runs a recurring decision cycle against an FX broker.

Each cycle snapshots the account and market, asks a reasoning service for
proposals, plans and decisions, checks every trade against the risk policy
and executes what passes. A daily spend ceiling gates every reasoning call.

Configuration is read from fxcrew.yaml (or --config) and the environment.
A .env file in the working directory is loaded first.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
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
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./"+defaultConfigFile+" when present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file loaded before the config")
}

// loadConfig reads --config, falling back to ./fxcrew.yaml and then to the
// built-in defaults, and validates the result. Environment overrides apply in
// every case.
func loadConfig() (*config.Config, error) {
	return loadConfigWith(nil)
}

// loadConfigWith lets adjust modify the configuration before validation.
func loadConfigWith(adjust func(*config.Config)) (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	var cfg *config.Config
	if path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return nil, err
		}
	}

	if adjust != nil {
		adjust(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
