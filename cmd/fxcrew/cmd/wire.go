package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rustyeddy/fxcrew/agent"
	"github.com/rustyeddy/fxcrew/broker"
	"github.com/rustyeddy/fxcrew/broker/oanda"
	"github.com/rustyeddy/fxcrew/broker/sim"
	"github.com/rustyeddy/fxcrew/budget"
	"github.com/rustyeddy/fxcrew/config"
	"github.com/rustyeddy/fxcrew/cycle"
	"github.com/rustyeddy/fxcrew/execution"
	"github.com/rustyeddy/fxcrew/journal"
	"github.com/rustyeddy/fxcrew/memory"
	"github.com/rustyeddy/fxcrew/metrics"
	"github.com/rustyeddy/fxcrew/risk"
)

// app is the fully wired pipeline.
type app struct {
	orchestrator *cycle.Orchestrator
	metrics      *metrics.Metrics
	journal      *journal.SQLite
}

func (a *app) Close() error {
	return a.journal.Close()
}

// newApp builds every component from cfg. llm is normally nil and a client
// is created from cfg.LLM.
func newApp(cfg *config.Config, logger *zap.Logger, llm agent.LLM) (*app, error) {
	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if llm == nil {
		client := agent.NewClient(cfg.LLM.ClientConfig)
		if !client.IsConfigured() {
			return nil, errors.New("no reasoning-service API key: set LLM_API_KEY")
		}
		llm = client
	}

	m := metrics.New(prometheus.NewRegistry())

	j, err := journal.NewSQLite(cfg.JournalPath())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	store, err := memory.Open(cfg.Data.Dir,
		memory.WithLogger(logger.Named("memory")),
		memory.WithRecorder(j))
	if err != nil {
		j.Close()
		return nil, fmt.Errorf("open memory: %w", err)
	}
	ledger := budget.Open(cfg.BudgetFile(), cfg.Budget.DailyCeiling, budget.WithLogger(logger.Named("budget")))

	b, candles := newBroker(cfg)
	logger.Info("broker ready",
		zap.String("type", cfg.Broker.Type),
		zap.Bool("practice", cfg.Broker.Practice),
		zap.Bool("candles", candles != nil))

	runner := agent.NewRunner(llm, ledger,
		agent.WithLogger(logger.Named("agent")),
		agent.WithMetrics(m),
		agent.WithTimeout(cfg.LLM.Timeout))
	team := agent.NewTeam(runner, cfg.LLM.Stages)

	gw := execution.New(b, store,
		execution.WithLogger(logger.Named("execution")),
		execution.WithMetrics(m))

	orch := cycle.New(cycle.Deps{
		Broker:    b,
		Proposer:  team,
		Planner:   team,
		Decider:   team,
		Reviewer:  team,
		Validator: risk.NewValidator(cfg.Risk),
		Gateway:   gw,
		Memory:    store,
		Budget:    ledger,
	},
		cycle.WithLogger(logger.Named("cycle")),
		cycle.WithMetrics(m),
		cycle.WithEquity(j),
		cycle.WithCandles(candles),
		cycle.WithWatchlist(cfg.Market.Watchlist),
		cycle.WithTimeframes(cfg.Market.Timeframes),
		cycle.WithSchedule(cfg.Schedule),
	)
	return &app{orchestrator: orch, metrics: m, journal: j}, nil
}

// newBroker returns the configured broker and, when one is available, a
// candle source. Paper mode reads live OANDA prices if credentials are set
// and falls back to the static prices in the config.
func newBroker(cfg *config.Config) (broker.Broker, broker.CandleSource) {
	var live *oanda.Client
	if cfg.Broker.Token != "" && cfg.Broker.AccountID != "" {
		live = oanda.NewClient(cfg.Broker.Token, cfg.Broker.AccountID, cfg.Broker.Practice,
			oanda.WithTimeout(cfg.Broker.Timeout))
	}
	if cfg.Broker.Type == config.BrokerOANDA {
		return live, live
	}

	acct := broker.Account{ID: "paper", Balance: cfg.Paper.Balance, Currency: cfg.Paper.Currency}
	if live != nil {
		return sim.NewEngine(acct, sim.WithQuoteSource(live)), live
	}
	engine := sim.NewEngine(acct)
	for _, p := range cfg.Paper.Prices {
		engine.SetPrice(p.Instrument, p.Bid, p.Ask)
	}
	return engine, nil
}
