package cycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/fxcrew/agent"
	"github.com/rustyeddy/fxcrew/broker"
	"github.com/rustyeddy/fxcrew/indicators"
	"github.com/rustyeddy/fxcrew/journal"
)

const recentTradeCount = 20

// snapshot gathers account, positions and per-instrument market data. Only
// account and position failures are fatal; an instrument whose price cannot
// be read is left out.
func (o *Orchestrator) snapshot(ctx context.Context) (agent.Snapshot, error) {
	now := o.now().UTC()
	s := agent.Snapshot{Time: now, Market: map[string]agent.MarketData{}}

	acct, err := o.Broker.GetAccount(ctx)
	if err != nil {
		return s, fmt.Errorf("get account: %w", err)
	}
	s.Account = acct
	if s.Positions, err = o.Broker.GetPositions(ctx); err != nil {
		return s, fmt.Errorf("get positions: %w", err)
	}

	for _, inst := range o.watchlist {
		md, err := o.marketData(ctx, inst)
		if err != nil {
			o.log.Debug("skipping instrument", zap.String("instrument", inst), zap.Error(err))
			continue
		}
		s.Market[inst] = md
	}

	s.Memory = o.Memory.Memory()
	if s.RecentTrades, err = o.Memory.RecentTrades(recentTradeCount); err != nil {
		o.log.Warn("reading recent trades", zap.Error(err))
	}
	if s.Performance, err = o.Memory.PerformanceMetrics(); err != nil {
		o.log.Warn("computing performance", zap.Error(err))
	}
	s.Feedback = o.Memory.AllFeedback()
	s.History = o.Memory.AllAnalysis()
	s.Budget = o.Budget.Status()
	return s, nil
}

func (o *Orchestrator) marketData(ctx context.Context, inst string) (agent.MarketData, error) {
	q, err := o.Broker.GetPrice(ctx, inst)
	if err != nil {
		return agent.MarketData{}, err
	}
	md := agent.MarketData{Instrument: inst, Quote: q}
	if o.candles == nil {
		return md, nil
	}
	md.Candles = map[string][]broker.Candle{}
	md.Indicators = map[string]indicators.Summary{}
	for _, tf := range o.timeframes {
		cs, err := o.candles.Candles(ctx, inst, tf.Granularity, tf.Count)
		if err != nil {
			o.log.Debug("candles unavailable", zap.String("instrument", inst),
				zap.String("granularity", tf.Granularity), zap.Error(err))
			continue
		}
		md.Candles[tf.Key] = cs
		md.Indicators[tf.Key] = indicators.Summarize(cs)
	}
	return md, nil
}

// trackEquity records the account and refreshes daily_return as the
// percentage change from the first balance seen on the current UTC day.
func (o *Orchestrator) trackEquity(s agent.Snapshot) {
	acct := s.Account
	o.metrics.Account(acct.Balance, len(s.Positions))

	start := o.dayStartBalance(s.Time, acct.Balance)
	if o.equity != nil {
		err := o.equity.RecordEquity(journal.EquitySnapshot{
			Time:            s.Time,
			Balance:         acct.Balance,
			NAV:             acct.NAV,
			MarginUsed:      acct.MarginUsed,
			MarginAvailable: acct.MarginAvailable,
			UnrealizedPL:    acct.UnrealizedPL,
			OpenPositions:   len(s.Positions),
		})
		if err != nil {
			o.log.Warn("recording equity", zap.Error(err))
		}
	}
	if start <= 0 {
		return
	}
	ret := (acct.Balance - start) / start * 100
	if err := o.Memory.UpdateMemory("daily_return", ret); err != nil {
		o.log.Warn("updating daily return", zap.Error(err))
	}
}

func (o *Orchestrator) dayStartBalance(now time.Time, balance float64) float64 {
	key := now.UTC().Format("2006-01-02")
	if o.dayKey == key {
		return o.dayStart
	}
	o.dayKey, o.dayStart = key, balance
	if o.equity != nil {
		if b, ok, err := o.equity.FirstBalanceOn(now); err != nil {
			o.log.Warn("reading day start balance", zap.Error(err))
		} else if ok {
			o.dayStart = b
		}
	}
	return o.dayStart
}
