package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rustyeddy/fxcrew/agent"
	"github.com/rustyeddy/fxcrew/broker"
	"github.com/rustyeddy/fxcrew/broker/sim"
	"github.com/rustyeddy/fxcrew/budget"
	"github.com/rustyeddy/fxcrew/execution"
	"github.com/rustyeddy/fxcrew/journal"
	"github.com/rustyeddy/fxcrew/memory"
	"github.com/rustyeddy/fxcrew/metrics"
	"github.com/rustyeddy/fxcrew/risk"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// stages scripts all four reasoning stages.
type stages struct {
	proposal    string
	proposalErr error
	plan        string
	decision    string
	review      string
	panicOn     string

	calls    []string
	planned  []agent.Opportunity
	proposed agent.Snapshot
	digest   agent.Digest
	reviewed agent.Snapshot
}

func (s *stages) Propose(_ context.Context, snap agent.Snapshot) (agent.ProposalOutput, error) {
	s.calls = append(s.calls, agent.StageProposal)
	if s.panicOn == agent.StageProposal {
		panic("boom")
	}
	s.proposed = snap
	if s.proposalErr != nil {
		return agent.ProposalOutput{}, s.proposalErr
	}
	var out agent.ProposalOutput
	_ = json.Unmarshal([]byte(s.proposal), &out)
	out.Raw = json.RawMessage(s.proposal)
	return out, nil
}

func (s *stages) Plan(_ context.Context, opps []agent.Opportunity, _ agent.Snapshot) (agent.PlanOutput, error) {
	s.calls = append(s.calls, agent.StagePlan)
	s.planned = opps
	var out agent.PlanOutput
	_ = json.Unmarshal([]byte(s.plan), &out)
	out.Raw = json.RawMessage(s.plan)
	return out, nil
}

func (s *stages) Decide(_ context.Context, _ []agent.PlanResult, _ agent.Snapshot) (agent.DecisionOutput, error) {
	s.calls = append(s.calls, agent.StageDecision)
	var out agent.DecisionOutput
	_ = json.Unmarshal([]byte(s.decision), &out)
	out.Raw = json.RawMessage(s.decision)
	return out, nil
}

func (s *stages) Review(_ context.Context, d agent.Digest, snap agent.Snapshot) (agent.ReviewOutput, error) {
	s.calls = append(s.calls, agent.StageReview)
	s.digest, s.reviewed = d, snap
	var out agent.ReviewOutput
	_ = json.Unmarshal([]byte(s.review), &out)
	out.Raw = json.RawMessage(s.review)
	return out, nil
}

const (
	oneOpportunity = `{"opportunities":[{"epic":"EUR/USD","direction":"BUY","conviction":8},{"epic":"XAU_USD","direction":"BUY"}],
		"self_improvement":{"suggestions":"watch yen"}}`
	onePlan      = `{"analysis_results":[{"epic":"EUR_USD","direction":"BUY","risk_reward":2}]}`
	openAndClose = `{"trade_actions":[
			{"action_type":"OPEN","epic":"EUR_USD","direction":"BUY","risk_percent":2,"entry_price":1.105,"initial_stop_loss":1.1,"take_profit_levels":[1.115],"pattern":"flag"},
			{"action_type":"OPEN","epic":"USD_JPY","direction":"SELL","risk_percent":"abc"}],
		"position_actions":[{"action_type":"CLOSE","epic":"EUR_USD","reason":"changed mind"},{"action_type":"TAKE_PARTIAL","epic":"EUR_USD"}]}`
	someReview = `{"agent_feedback":{"proposal":{"note":"more pairs"},"decision":null},"requests_for_human":["check news"]}`
)

type fixture struct {
	engine *sim.Engine
	store  *memory.Store
	budget *budget.Controller
	stages *stages
	core   zapcore.Core
	logs   *observer.ObservedLogs
	reg    *prometheus.Registry
	m      *metrics.Metrics
	dir    string
}

func newFixture(t *testing.T, st *stages) *fixture {
	t.Helper()
	clock := func() time.Time { return t0 }
	dir := t.TempDir()

	engine := sim.NewEngine(broker.Account{Balance: 10000}, sim.WithClock(clock))
	engine.SetPrice("EUR_USD", 1.10500, 1.10502)
	engine.SetPrice("USD_JPY", 150.00, 150.02)

	store, err := memory.Open(dir, memory.WithClock(clock))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	core, logs := observer.New(zapcore.DebugLevel)
	return &fixture{
		engine: engine,
		store:  store,
		budget: budget.Open(filepath.Join(dir, "budget.json"), 20, budget.WithClock(clock)),
		stages: st,
		core:   core,
		logs:   logs,
		reg:    reg,
		m:      metrics.New(reg),
		dir:    dir,
	}
}

func (f *fixture) orchestrator(b broker.Broker, opts ...Option) *Orchestrator {
	logger := zap.New(f.core)
	if b == nil {
		b = f.engine
	}
	gw := execution.New(b, f.store, execution.WithLogger(logger), execution.WithClock(func() time.Time { return t0 }))
	base := []Option{
		WithLogger(logger),
		WithMetrics(f.m),
		WithClock(func() time.Time { return t0 }),
		WithWatchlist([]string{"EUR_USD", "USD_JPY", "GBP_USD"}),
	}
	return New(Deps{
		Broker:    b,
		Proposer:  f.stages,
		Planner:   f.stages,
		Decider:   f.stages,
		Reviewer:  f.stages,
		Validator: risk.NewValidator(risk.DefaultPolicy()),
		Gateway:   gw,
		Memory:    f.store,
		Budget:    f.budget,
	}, append(base, opts...)...)
}

func TestCycleRunsEveryStage(t *testing.T) {
	st := &stages{proposal: oneOpportunity, plan: onePlan, decision: openAndClose, review: someReview}
	f := newFixture(t, st)
	o := f.orchestrator(nil)

	rep, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"proposal", "plan", "decision", "review"}, st.calls)
	assert.Equal(t, Review, rep.Reached)
	assert.True(t, rep.Reviewed)
	assert.Equal(t, Idle, o.State())

	// GBP_USD has no price and is left out of the snapshot.
	assert.Len(t, st.proposed.Market, 2)
	assert.Equal(t, 10000.0, st.proposed.Account.Balance)

	// Identifiers are normalised and unpriced instruments dropped.
	require.Len(t, st.planned, 1)
	assert.Equal(t, "EUR_USD", st.planned[0].Epic.String())
	assert.Equal(t, 1, rep.Opportunities)

	require.Len(t, rep.Rejected, 1)
	assert.Equal(t, "USD_JPY", rep.Rejected[0].Instrument)
	assert.Equal(t, []string{risk.MissingField}, rep.Rejected[0].Codes)

	// The close only finds its target because positions were re-read after
	// the open.
	require.Len(t, rep.Results, 2)
	assert.Equal(t, execution.Executed, rep.Results[0].Status)
	assert.Equal(t, 40000.0, rep.Results[0].Units)
	assert.Equal(t, execution.Executed, rep.Results[1].Status, rep.Results[1].Reason)
	assert.Empty(t, st.reviewed.Positions)

	require.Len(t, st.digest.Executions, 2)
	assert.Equal(t, memory.OutcomeExecuted, st.digest.Executions[0].Outcome)
	assert.Equal(t, memory.OutcomeClosed, st.digest.Executions[1].Outcome)
	assert.Len(t, st.digest.Rejections, 1)

	hist := f.store.AnalysisHistory("EUR_USD")
	require.Len(t, hist, 1)
	assert.Equal(t, "BUY", hist[0].Direction)
	assert.Equal(t, "flag", hist[0].Pattern)

	trades, err := f.store.AllTrades()
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	fb := f.store.AllFeedback()
	assert.JSONEq(t, `{"note":"more pairs"}`, string(fb["proposal"].Content))
	assert.NotContains(t, fb, "decision")
	_, err = os.Stat(filepath.Join(f.dir, memory.OperatorRequests))
	assert.NoError(t, err)

	assert.Equal(t, 1, f.logs.FilterMessage("skipping unsupported position action").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.Cycles.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.ValidationRejection.WithLabelValues(risk.MissingField)))
}

func TestCycleShortCircuits(t *testing.T) {
	tests := []struct {
		name    string
		stages  stages
		reached State
		calls   []string
		denied  []string
	}{
		{
			name:    "proposal denied by budget",
			stages:  stages{proposalErr: agent.ErrAdmissionDenied},
			reached: Proposals,
			calls:   []string{"proposal"},
			denied:  []string{"proposal"},
		},
		{
			name:    "proposal failed",
			stages:  stages{proposalErr: errors.New("unparseable")},
			reached: Proposals,
			calls:   []string{"proposal"},
		},
		{
			name:    "no opportunities",
			stages:  stages{proposal: `{"opportunities":[]}`},
			reached: Proposals,
			calls:   []string{"proposal"},
		},
		{
			name:    "no plans",
			stages:  stages{proposal: oneOpportunity, plan: `{"analysis_results":"none"}`},
			reached: Plans,
			calls:   []string{"proposal", "plan"},
		},
		{
			name:    "empty decision",
			stages:  stages{proposal: oneOpportunity, plan: onePlan, decision: `{"trade_actions":[],"position_actions":[]}`},
			reached: Decisions,
			calls:   []string{"proposal", "plan", "decision"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			st := tt.stages
			f := newFixture(t, &st)

			rep, err := f.orchestrator(nil).RunCycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.reached, rep.Reached)
			assert.Equal(t, tt.calls, st.calls)
			assert.Equal(t, tt.denied, rep.Denied)
			assert.False(t, rep.Reviewed)
			assert.Empty(t, f.engine.Trades())
			assert.Equal(t, 1.0, testutil.ToFloat64(f.m.Cycles.WithLabelValues("idle")))
		})
	}
}

func TestTransportErrorDoesNotStopCycle(t *testing.T) {
	st := &stages{proposal: oneOpportunity, plan: onePlan, review: someReview, decision: `{"trade_actions":[
		{"epic":"EUR_USD","direction":"BUY","risk_percent":2,"entry_price":1.105,"initial_stop_loss":1.1},
		{"epic":"USD_JPY","direction":"SELL","risk_percent":1,"entry_price":150.0,"initial_stop_loss":150.5}]}`}
	f := newFixture(t, st)
	f.engine.FailNext(errors.New("connection reset"))

	rep, err := f.orchestrator(nil).RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, rep.Results, 2)
	assert.Equal(t, execution.Error, rep.Results[0].Status)
	assert.Equal(t, execution.Executed, rep.Results[1].Status)
	assert.Equal(t, -200.0, rep.Results[1].Units)
	assert.True(t, rep.Reviewed)
	assert.Equal(t, memory.OutcomeError, st.digest.Executions[0].Outcome)

	// Only the successful open enters the analysis history.
	assert.Empty(t, f.store.AnalysisHistory("EUR_USD"))
	assert.Len(t, f.store.AnalysisHistory("USD_JPY"), 1)
}

type flakyBroker struct {
	*sim.Engine
	accountErr error
}

func (b *flakyBroker) GetAccount(ctx context.Context) (broker.Account, error) {
	if b.accountErr != nil {
		return broker.Account{}, b.accountErr
	}
	return b.Engine.GetAccount(ctx)
}

func TestSnapshotFailureIsAnError(t *testing.T) {
	st := &stages{}
	f := newFixture(t, st)
	b := &flakyBroker{Engine: f.engine, accountErr: broker.ErrTransport}

	rep, err := f.orchestrator(b).RunCycle(context.Background())
	require.ErrorIs(t, err, broker.ErrTransport)
	assert.Equal(t, Idle, rep.Reached)
	assert.Empty(t, st.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.Cycles.WithLabelValues("error")))
}

func TestSafeCycleRecoversPanic(t *testing.T) {
	st := &stages{panicOn: agent.StageProposal}
	f := newFixture(t, st)
	o := f.orchestrator(nil)

	_, err := o.SafeCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle panic: boom")
	assert.Equal(t, Idle, o.State())
	assert.Equal(t, 1, f.logs.FilterMessage("cycle panicked").Len())
}

func TestRunSurvivesFailuresUntilCancelled(t *testing.T) {
	st := &stages{panicOn: agent.StageProposal}
	f := newFixture(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		st.panicOn = ""
		st.proposalErr = agent.ErrAdmissionDenied
		if len(waits) == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	err := f.orchestrator(nil, WithSleep(sleep)).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{time.Minute, 5 * time.Minute}, waits)
	assert.Len(t, st.calls, 2)
}

type equityLog struct {
	start    float64
	found    bool
	recorded []journal.EquitySnapshot
}

func (e *equityLog) RecordEquity(s journal.EquitySnapshot) error {
	e.recorded = append(e.recorded, s)
	return nil
}

func (e *equityLog) FirstBalanceOn(time.Time) (float64, bool, error) {
	return e.start, e.found, nil
}

func TestDailyReturn(t *testing.T) {
	st := &stages{proposal: `{"opportunities":[]}`}
	f := newFixture(t, st)
	eq := &equityLog{start: 8000, found: true}

	_, err := f.orchestrator(nil, WithEquity(eq)).RunCycle(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 25.0, f.store.Memory().DailyReturn, 1e-9)
	require.Len(t, eq.recorded, 1)
	assert.Equal(t, 10000.0, eq.recorded[0].Balance)
	assert.Equal(t, t0, eq.recorded[0].Time)
	assert.Equal(t, 10000.0, testutil.ToFloat64(f.m.Balance))
}

func TestDailyReturnStartsAtFirstBalanceSeen(t *testing.T) {
	st := &stages{proposal: `{"opportunities":[]}`}
	f := newFixture(t, st)

	_, err := f.orchestrator(nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.store.Memory().DailyReturn)
}

type candleFeed struct{}

func (candleFeed) Candles(_ context.Context, _, _ string, count int) ([]broker.Candle, error) {
	out := make([]broker.Candle, count)
	for i := range out {
		p := 1.1 + float64(i)*0.001
		out[i] = broker.Candle{Time: t0.Add(time.Duration(i) * time.Hour), Open: p, High: p + 0.002, Low: p - 0.001, Close: p + 0.001}
	}
	return out, nil
}

func TestSnapshotCarriesCandlesAndIndicators(t *testing.T) {
	st := &stages{proposal: `{"opportunities":[]}`}
	f := newFixture(t, st)

	_, err := f.orchestrator(nil, WithCandles(candleFeed{})).RunCycle(context.Background())
	require.NoError(t, err)

	md := st.proposed.Market["EUR_USD"]
	assert.Len(t, md.Candles["m15"], 96)
	assert.Len(t, md.Candles["h1"], 48)
	assert.Len(t, md.Candles["h4"], 30)
	assert.Equal(t, "up", md.Indicators["m15"].Trend)
}
