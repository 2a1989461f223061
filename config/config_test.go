package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/fxcrew/agent"
)

// clearEnv blanks every variable ApplyEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	for _, k := range []string{
		"OANDA_API_TOKEN", "OANDA_ACCOUNT_ID", "OANDA_PRACTICE",
		"LLM_PROVIDER", "LLM_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"DAILY_LLM_BUDGET", "FXCREW_DATA_DIR", "LLM_REQUEST_TIMEOUT", "OPENAI_API_REQUEST_TIMEOUT",
	} {
		t.Setenv(k, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, BrokerPaper, cfg.Broker.Type)
	assert.Equal(t, 20.0, cfg.Budget.DailyCeiling)
	assert.Len(t, cfg.Market.Watchlist, 12)
	assert.Equal(t, 5*time.Minute, cfg.Schedule.ActiveInterval)
	assert.Equal(t, filepath.Join("data", "budget_tracking.jsonl"), cfg.BudgetFile())
	assert.Equal(t, filepath.Join("data", "journal.db"), cfg.JournalPath())
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:   "unknown broker",
			mutate: func(c *Config) { c.Broker.Type = "ig" },
			errMsg: "broker.type must be 'oanda' or 'paper'",
		},
		{
			name:   "oanda without account",
			mutate: func(c *Config) { c.Broker.Type = BrokerOANDA },
			errMsg: "broker.account_id is required for oanda",
		},
		{
			name: "oanda without token",
			mutate: func(c *Config) {
				c.Broker.Type = BrokerOANDA
				c.Broker.AccountID = "101-001-1"
			},
			errMsg: "broker token is required",
		},
		{
			name:   "negative paper balance",
			mutate: func(c *Config) { c.Paper.Balance = -1000 },
			errMsg: "paper.balance must be positive",
		},
		{
			name:   "ask <= bid",
			mutate: func(c *Config) { c.Paper.Prices[0].Ask = c.Paper.Prices[0].Bid },
			errMsg: "EUR_USD ask must be greater than a positive bid",
		},
		{
			name:   "unknown provider",
			mutate: func(c *Config) { c.LLM.Provider = "gemini" },
			errMsg: "llm.provider must be 'claude' or 'openai'",
		},
		{
			name:   "unknown stage",
			mutate: func(c *Config) { c.LLM.Stages = map[string]agent.Stage{"scout": {}} },
			errMsg: "llm.stages: unknown stage: scout",
		},
		{
			name:   "zero budget",
			mutate: func(c *Config) { c.Budget.DailyCeiling = 0 },
			errMsg: "budget.daily_ceiling must be positive",
		},
		{
			name:   "portfolio ceiling above 30",
			mutate: func(c *Config) { c.Risk.MaxPortfolioRiskPct = 40 },
			errMsg: "max_portfolio_risk_pct",
		},
		{
			name:   "inverted window",
			mutate: func(c *Config) { c.Schedule.ActiveStartHour = 17 },
			errMsg: "schedule active hours",
		},
		{
			name:   "unknown instrument",
			mutate: func(c *Config) { c.Market.Watchlist = []string{"INVALID"} },
			errMsg: "unknown instrument",
		},
		{
			name:   "bad timeframe",
			mutate: func(c *Config) { c.Market.Timeframes[0].Count = 0 },
			errMsg: "market.timeframes",
		},
		{
			name:   "missing data dir",
			mutate: func(c *Config) { c.Data.Dir = "" },
			errMsg: "data.dir is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		ext  string
	}{
		{"json format", ".json"},
		{"yaml format", ".yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Broker.Token = "secret"
			cfg.LLM.Stages = map[string]agent.Stage{agent.StagePlan: {Model: "gpt-4o", CostEstimate: 0.3}}
			path := filepath.Join(tmpDir, "test"+tt.ext)

			require.NoError(t, cfg.SaveToFile(path))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.NotContains(t, string(data), "secret")

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)

			assert.Equal(t, cfg.Paper, loaded.Paper)
			assert.Equal(t, cfg.Risk, loaded.Risk)
			assert.Equal(t, cfg.Schedule, loaded.Schedule)
			assert.Equal(t, cfg.Market, loaded.Market)
			assert.Equal(t, cfg.LLM.Timeout, loaded.LLM.Timeout)
			assert.Equal(t, "gpt-4o", loaded.LLM.Stages[agent.StagePlan].Model)
			assert.Empty(t, loaded.Broker.Token)
		})
	}
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker: [unclosed"), 0644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "fxcrew.yaml")
	require.NoError(t, os.WriteFile(path, []byte("budget:\n  daily_ceiling: 5\nschedule:\n  active_interval: 2m\n"), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Budget.DailyCeiling)
	assert.Equal(t, 2*time.Minute, cfg.Schedule.ActiveInterval)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.IdleInterval)
	assert.Equal(t, BrokerPaper, cfg.Broker.Type)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OANDA_API_TOKEN":     "tok",
		"OANDA_ACCOUNT_ID":    "101-001-1",
		"OANDA_PRACTICE":      "False",
		"LLM_PROVIDER":        "Claude",
		"OPENAI_API_KEY":      "sk-test",
		"DAILY_LLM_BUDGET":    "7.5",
		"FXCREW_DATA_DIR":     "/var/lib/fxcrew",
		"LLM_REQUEST_TIMEOUT": "90",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "tok", cfg.Broker.Token)
	assert.Equal(t, "101-001-1", cfg.Broker.AccountID)
	assert.False(t, cfg.Broker.Practice)
	assert.Equal(t, agent.ProviderClaude, cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 7.5, cfg.Budget.DailyCeiling)
	assert.Equal(t, "/var/lib/fxcrew", cfg.Data.Dir)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout)

	env["LLM_REQUEST_TIMEOUT"] = "2m30s"
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, 150*time.Second, cfg.LLM.Timeout)
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	tests := map[string]string{
		"OANDA_PRACTICE":      "maybe",
		"DAILY_LLM_BUDGET":    "lots",
		"LLM_REQUEST_TIMEOUT": "soon",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				if k == key {
					return val, true
				}
				return "", false
			}
			err := Default().ApplyEnv(lookup)
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}
