// Package config loads the fxcrew configuration file and applies
// environment overrides on top of it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/fxcrew/agent"
	"github.com/rustyeddy/fxcrew/budget"
	"github.com/rustyeddy/fxcrew/cycle"
	"github.com/rustyeddy/fxcrew/logging"
	"github.com/rustyeddy/fxcrew/market"
	"github.com/rustyeddy/fxcrew/risk"
)

const (
	BrokerOANDA = "oanda"
	BrokerPaper = "paper"
)

// Config is the complete runtime configuration.
type Config struct {
	Broker   BrokerConfig   `json:"broker" yaml:"broker"`
	Paper    PaperConfig    `json:"paper" yaml:"paper"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Budget   BudgetConfig   `json:"budget" yaml:"budget"`
	Risk     risk.Policy    `json:"risk" yaml:"risk"`
	Schedule cycle.Schedule `json:"schedule" yaml:"schedule"`
	Market   MarketConfig   `json:"market" yaml:"market"`
	Data     DataConfig     `json:"data" yaml:"data"`
	Log      logging.Config `json:"log" yaml:"log"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// BrokerConfig selects the brokerage. The token is never written to disk.
type BrokerConfig struct {
	Type      string        `json:"type" yaml:"type"` // "oanda" or "paper"
	Practice  bool          `json:"practice" yaml:"practice"`
	AccountID string        `json:"account_id" yaml:"account_id"`
	Token     string        `json:"-" yaml:"-"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// PaperConfig seeds the in-memory broker. When OANDA credentials are present
// paper mode reads live prices instead of Prices.
type PaperConfig struct {
	Balance  float64       `json:"balance" yaml:"balance"`
	Currency string        `json:"currency" yaml:"currency"`
	Prices   []PriceConfig `json:"prices,omitempty" yaml:"prices,omitempty"`
}

type PriceConfig struct {
	Instrument string  `json:"instrument" yaml:"instrument"`
	Bid        float64 `json:"bid" yaml:"bid"`
	Ask        float64 `json:"ask" yaml:"ask"`
}

// LLMConfig is the reasoning-service client plus per-stage overrides keyed by
// stage name.
type LLMConfig struct {
	agent.ClientConfig `yaml:",inline"`
	Stages             map[string]agent.Stage `json:"stages,omitempty" yaml:"stages,omitempty"`
}

type BudgetConfig struct {
	DailyCeiling float64 `json:"daily_ceiling" yaml:"daily_ceiling"`
	// File defaults to budget_tracking.jsonl under the data directory.
	File string `json:"file,omitempty" yaml:"file,omitempty"`
}

type MarketConfig struct {
	Watchlist  []string          `json:"watchlist" yaml:"watchlist"`
	Timeframes []cycle.Timeframe `json:"timeframes" yaml:"timeframes"`
}

type DataConfig struct {
	Dir     string `json:"dir" yaml:"dir"`
	Journal string `json:"journal,omitempty" yaml:"journal,omitempty"`
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"` // empty disables the endpoint
}

// BudgetFile is the ledger path after defaults.
func (c *Config) BudgetFile() string {
	if c.Budget.File != "" {
		return c.Budget.File
	}
	return filepath.Join(c.Data.Dir, "budget_tracking.jsonl")
}

// JournalPath is the SQLite journal path after defaults.
func (c *Config) JournalPath() string {
	if c.Data.Journal != "" {
		return c.Data.Journal
	}
	return filepath.Join(c.Data.Dir, "journal.db")
}

// LoadFromFile loads configuration from a YAML or JSON file, applies
// environment overrides and validates the result.
func LoadFromFile(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Read is LoadFromFile without validation, for callers that adjust the
// result first. Fields missing from the file keep their defaults.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	str(&c.Broker.Token, "OANDA_API_TOKEN")
	str(&c.Broker.AccountID, "OANDA_ACCOUNT_ID")
	str(&c.LLM.APIKey, "LLM_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY")
	str(&c.Data.Dir, "FXCREW_DATA_DIR")

	if v, ok := lookup("LLM_PROVIDER"); ok && v != "" {
		c.LLM.Provider = agent.Provider(strings.ToLower(v))
	}
	if v, ok := lookup("OANDA_PRACTICE"); ok && v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			c.Broker.Practice = true
		case "false", "0", "no":
			c.Broker.Practice = false
		default:
			return fmt.Errorf("OANDA_PRACTICE: %q is not a boolean", v)
		}
	}
	if v, ok := lookup("DAILY_LLM_BUDGET"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("DAILY_LLM_BUDGET: %w", err)
		}
		c.Budget.DailyCeiling = f
	}
	for _, k := range []string{"LLM_REQUEST_TIMEOUT", "OPENAI_API_REQUEST_TIMEOUT"} {
		v, ok := lookup(k)
		if !ok || v == "" {
			continue
		}
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		c.LLM.Timeout = d
		break
	}
	return nil
}

// parseSeconds accepts a bare number of seconds or a Go duration.
func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the configuration and reports the first problem found.
func (c *Config) Validate() error {
	switch c.Broker.Type {
	case BrokerOANDA:
		if c.Broker.AccountID == "" {
			return errors.New("broker.account_id is required for oanda")
		}
		if c.Broker.Token == "" {
			return errors.New("broker token is required for oanda (set OANDA_API_TOKEN)")
		}
	case BrokerPaper:
		if c.Paper.Balance <= 0 {
			return errors.New("paper.balance must be positive")
		}
		if c.Paper.Currency == "" {
			return errors.New("paper.currency is required")
		}
		for _, p := range c.Paper.Prices {
			if _, ok := market.Lookup(p.Instrument); !ok {
				return fmt.Errorf("paper.prices: unknown instrument: %s", p.Instrument)
			}
			if p.Bid <= 0 || p.Ask <= p.Bid {
				return fmt.Errorf("paper.prices: %s ask must be greater than a positive bid", p.Instrument)
			}
		}
	default:
		return fmt.Errorf("broker.type must be '%s' or '%s'", BrokerOANDA, BrokerPaper)
	}

	switch c.LLM.Provider {
	case agent.ProviderClaude, agent.ProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider must be '%s' or '%s'", agent.ProviderClaude, agent.ProviderOpenAI)
	}
	if c.LLM.Timeout <= 0 {
		return errors.New("llm.timeout must be positive")
	}
	for name, st := range c.LLM.Stages {
		switch name {
		case agent.StageProposal, agent.StagePlan, agent.StageDecision, agent.StageReview:
		default:
			return fmt.Errorf("llm.stages: unknown stage: %s", name)
		}
		if st.CostEstimate < 0 {
			return fmt.Errorf("llm.stages.%s.cost_estimate must not be negative", name)
		}
	}

	if c.Budget.DailyCeiling <= 0 {
		return errors.New("budget.daily_ceiling must be positive")
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}

	s := c.Schedule
	if s.ActiveStartHour < 0 || s.ActiveEndHour > 23 || s.ActiveStartHour > s.ActiveEndHour {
		return errors.New("schedule active hours must satisfy 0 <= start <= end <= 23")
	}
	if s.ActiveInterval <= 0 || s.IdleInterval <= 0 || s.ErrorInterval <= 0 {
		return errors.New("schedule intervals must be positive")
	}

	if len(c.Market.Watchlist) == 0 {
		return errors.New("market.watchlist is required")
	}
	for _, inst := range c.Market.Watchlist {
		if _, ok := market.Lookup(inst); !ok {
			return fmt.Errorf("unknown instrument: %s", inst)
		}
	}
	for _, tf := range c.Market.Timeframes {
		if tf.Key == "" || tf.Granularity == "" || tf.Count <= 0 {
			return fmt.Errorf("market.timeframes: %q needs key, granularity and a positive count", tf.Key)
		}
	}

	if c.Data.Dir == "" {
		return errors.New("data.dir is required")
	}
	return nil
}

// Default returns a paper-trading configuration with the stock stage
// estimates and risk policy.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Type:     BrokerPaper,
			Practice: true,
			Timeout:  30 * time.Second,
		},
		Paper: PaperConfig{
			Balance:  10000,
			Currency: "USD",
			Prices: []PriceConfig{
				{Instrument: "EUR_USD", Bid: 1.0849, Ask: 1.0851},
				{Instrument: "USD_JPY", Bid: 149.98, Ask: 150.01},
			},
		},
		LLM:      LLMConfig{ClientConfig: agent.DefaultClientConfig()},
		Budget:   BudgetConfig{DailyCeiling: budget.DefaultCeiling},
		Risk:     risk.DefaultPolicy(),
		Schedule: cycle.DefaultSchedule(),
		Market: MarketConfig{
			Watchlist:  market.Watchlist(),
			Timeframes: cycle.DefaultTimeframes(),
		},
		Data:    DataConfig{Dir: "data"},
		Log:     logging.DefaultConfig(),
		Metrics: MetricsConfig{Addr: ":9100"},
	}
}
