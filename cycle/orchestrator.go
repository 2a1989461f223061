// Package cycle runs the decision pipeline: snapshot the account and market,
// ask the Proposal, Plan and Decision stages, validate and execute what they
// decide, then let the Review stage reflect on the cycle.
package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/fxcrew/agent"
	"github.com/rustyeddy/fxcrew/broker"
	"github.com/rustyeddy/fxcrew/budget"
	"github.com/rustyeddy/fxcrew/execution"
	"github.com/rustyeddy/fxcrew/journal"
	"github.com/rustyeddy/fxcrew/market"
	"github.com/rustyeddy/fxcrew/memory"
	"github.com/rustyeddy/fxcrew/metrics"
	"github.com/rustyeddy/fxcrew/risk"
)

type State int

const (
	Idle State = iota
	Proposals
	Plans
	Decisions
	Executing
	Review
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Proposals:
		return "PROPOSALS"
	case Plans:
		return "PLANS"
	case Decisions:
		return "DECISIONS"
	case Executing:
		return "EXECUTING"
	case Review:
		return "REVIEW"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Proposer interface {
	Propose(ctx context.Context, s agent.Snapshot) (agent.ProposalOutput, error)
}

type Planner interface {
	Plan(ctx context.Context, opps []agent.Opportunity, s agent.Snapshot) (agent.PlanOutput, error)
}

type Decider interface {
	Decide(ctx context.Context, plans []agent.PlanResult, s agent.Snapshot) (agent.DecisionOutput, error)
}

type Reviewer interface {
	Review(ctx context.Context, d agent.Digest, s agent.Snapshot) (agent.ReviewOutput, error)
}

type Validator interface {
	Validate(p risk.Proposal, acct broker.Account, positions []broker.Position) (risk.ValidatedTrade, risk.Decision)
}

type Gateway interface {
	Open(ctx context.Context, t risk.ValidatedTrade, acct broker.Account) execution.Result
	Close(ctx context.Context, a execution.PositionAction, positions []broker.Position) execution.Result
	UpdateStop(ctx context.Context, a execution.PositionAction) execution.Result
}

// Memory is the part of the memory store the cycle reads and writes.
type Memory interface {
	Memory() memory.SystemMemory
	RecentTrades(n int) ([]memory.TradeLogEntry, error)
	AllFeedback() map[string]memory.Feedback
	AllAnalysis() map[string][]memory.Analysis
	PerformanceMetrics() (memory.Metrics, error)
	UpdateFeedback(stage string, content json.RawMessage) error
	UpdateAnalysisHistory(instrument string, a memory.Analysis) error
	UpdateMemory(key string, value any) error
	RecordOperatorRequests(requests json.RawMessage) error
	ArchiveStageResult(stage string, result any) error
}

type Budget interface {
	Status() budget.Status
}

// Equity stores account snapshots and answers the first balance of a day.
type Equity interface {
	RecordEquity(e journal.EquitySnapshot) error
	FirstBalanceOn(day time.Time) (float64, bool, error)
}

// Deps are the collaborators every orchestrator needs.
type Deps struct {
	Broker    broker.Broker
	Proposer  Proposer
	Planner   Planner
	Decider   Decider
	Reviewer  Reviewer
	Validator Validator
	Gateway   Gateway
	Memory    Memory
	Budget    Budget
}

type Orchestrator struct {
	Deps

	candles    broker.CandleSource
	equity     Equity
	log        *zap.Logger
	metrics    *metrics.Metrics
	watchlist  []string
	timeframes []Timeframe
	schedule   Schedule
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	state    State
	dayKey   string
	dayStart float64
}

type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithEquity records an equity snapshot every cycle and uses it to recover
// the day's opening balance after a restart.
func WithEquity(e Equity) Option { return func(o *Orchestrator) { o.equity = e } }

func WithCandles(c broker.CandleSource) Option { return func(o *Orchestrator) { o.candles = c } }

func WithWatchlist(w []string) Option { return func(o *Orchestrator) { o.watchlist = w } }

func WithTimeframes(tf []Timeframe) Option { return func(o *Orchestrator) { o.timeframes = tf } }

func WithSchedule(s Schedule) Option { return func(o *Orchestrator) { o.schedule = s } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithSleep replaces the pause between cycles.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = f }
}

// New builds an orchestrator. Candles are fetched when the broker can serve
// them unless WithCandles says otherwise.
func New(d Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		Deps:       d,
		log:        zap.NewNop(),
		watchlist:  market.Watchlist(),
		timeframes: DefaultTimeframes(),
		schedule:   DefaultSchedule(),
		now:        time.Now,
		sleep:      sleepCtx,
	}
	if cs, ok := d.Broker.(broker.CandleSource); ok {
		o.candles = cs
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() State { return o.state }

// Run cycles until ctx is cancelled. A failed or panicking cycle is logged
// and followed by a shorter pause.
func (o *Orchestrator) Run(ctx context.Context) error {
	st := o.Budget.Status()
	o.log.Info("starting decision loop",
		zap.Float64("daily_budget", st.Ceiling),
		zap.Float64("available", st.Remaining),
		zap.Strings("watchlist", o.watchlist))

	for {
		_, err := o.SafeCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := o.schedule.Next(o.now(), err != nil)
		o.log.Info("cycle complete, sleeping", zap.Duration("sleep", wait))
		if err := o.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// SafeCycle is RunCycle with panics turned into errors.
func (o *Orchestrator) SafeCycle(ctx context.Context) (rep Report, err error) {
	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			o.log.Error("cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			o.state = Idle
			o.metrics.Cycle("panic", o.now().Sub(start).Seconds())
		}
	}()
	rep, err = o.RunCycle(ctx)
	if err != nil {
		o.log.Error("cycle failed", zap.String("cycle", rep.ID), zap.Error(err))
	}
	return rep, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// stageFailed logs why a stage produced nothing and notes budget denials.
func (o *Orchestrator) stageFailed(rep *Report, stage string, err error) {
	if errors.Is(err, agent.ErrAdmissionDenied) {
		rep.Denied = append(rep.Denied, stage)
		o.log.Warn("stage skipped, budget exhausted", zap.String("stage", stage))
		return
	}
	o.log.Warn("stage produced no output", zap.String("stage", stage), zap.Error(err))
}
