package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/fxcrew/agent"
	"github.com/rustyeddy/fxcrew/budget"
	"github.com/rustyeddy/fxcrew/execution"
	"github.com/rustyeddy/fxcrew/id"
	"github.com/rustyeddy/fxcrew/market"
	"github.com/rustyeddy/fxcrew/memory"
	"github.com/rustyeddy/fxcrew/payload"
)

// Rejection is a trade action the risk validator refused.
type Rejection struct {
	Instrument string
	Codes      []string
	Reason     string
}

// Report describes one pass through the pipeline.
type Report struct {
	ID       string
	Started  time.Time
	Finished time.Time
	// Reached is the furthest state the cycle got to.
	Reached State

	Opportunities   int
	Plans           int
	TradeActions    int
	PositionActions int

	Rejected []Rejection
	Results  []execution.Result
	Reviewed bool
	// Denied lists stages the budget refused to admit.
	Denied []string
	Budget budget.Status
}

// RunCycle performs one pass. A returned error means the snapshot could not
// be taken; stage failures end the cycle early and are reported in Report.
func (o *Orchestrator) RunCycle(ctx context.Context) (Report, error) {
	rep := Report{ID: id.NewAt(o.now()), Started: o.now()}
	log := o.log.With(zap.String("cycle", rep.ID))
	defer func() { o.state = Idle }()

	snap, err := o.snapshot(ctx)
	if err != nil {
		o.finish(log, &rep, "error")
		return rep, err
	}
	o.trackEquity(snap)
	log.Info("snapshot taken",
		zap.Float64("balance", snap.Account.Balance),
		zap.Int("positions", len(snap.Positions)),
		zap.Int("instruments", len(snap.Market)))

	o.enter(&rep, Proposals)
	prop, err := o.Proposer.Propose(ctx, snap)
	if err != nil {
		o.stageFailed(&rep, agent.StageProposal, err)
		return o.finish(log, &rep, "idle"), nil
	}
	o.keep(agent.StageProposal, prop.SelfImprovement, prop.Raw)
	opps := o.tradable(prop.Opportunities, snap)
	rep.Opportunities = len(opps)
	if len(opps) == 0 {
		log.Info("no tradable opportunities", zap.Int("proposed", len(prop.Opportunities)))
		return o.finish(log, &rep, "idle"), nil
	}

	o.enter(&rep, Plans)
	plan, err := o.Planner.Plan(ctx, opps, snap)
	if err != nil {
		o.stageFailed(&rep, agent.StagePlan, err)
		return o.finish(log, &rep, "idle"), nil
	}
	o.keep(agent.StagePlan, plan.SelfImprovement, plan.Raw)
	rep.Plans = len(plan.AnalysisResults)
	if rep.Plans == 0 {
		log.Info("no plans produced")
		return o.finish(log, &rep, "idle"), nil
	}

	o.enter(&rep, Decisions)
	dec, err := o.Decider.Decide(ctx, plan.AnalysisResults, snap)
	if err != nil {
		o.stageFailed(&rep, agent.StageDecision, err)
		return o.finish(log, &rep, "idle"), nil
	}
	o.keep(agent.StageDecision, dec.SelfImprovement, dec.Raw)
	rep.TradeActions, rep.PositionActions = len(dec.TradeActions), len(dec.PositionActions)
	if dec.Empty() {
		log.Info("decision stage asked for no actions")
		return o.finish(log, &rep, "idle"), nil
	}

	o.enter(&rep, Executing)
	digest := agent.Digest{Proposal: prop, Plan: plan, Decision: dec}
	o.execute(ctx, log, dec, &snap, &rep, &digest)

	o.enter(&rep, Review)
	rev, err := o.Reviewer.Review(ctx, digest, snap)
	if err != nil {
		o.stageFailed(&rep, agent.StageReview, err)
		return o.finish(log, &rep, "complete"), nil
	}
	rep.Reviewed = true
	o.applyReview(rev)
	return o.finish(log, &rep, "complete"), nil
}

func (o *Orchestrator) enter(rep *Report, s State) {
	o.state = s
	rep.Reached = s
}

func (o *Orchestrator) finish(log *zap.Logger, rep *Report, result string) Report {
	rep.Finished = o.now()
	rep.Budget = o.Budget.Status()
	o.metrics.Budget(rep.Budget.Spent, rep.Budget.Remaining)
	o.metrics.Cycle(result, rep.Finished.Sub(rep.Started).Seconds())
	log.Info("budget status",
		zap.Float64("spent", rep.Budget.Spent),
		zap.Float64("remaining", rep.Budget.Remaining),
		zap.Float64("percent_used", rep.Budget.PercentUsed))
	log.Info("cycle finished",
		zap.String("result", result),
		zap.Stringer("reached", rep.Reached),
		zap.Int("executions", len(rep.Results)),
		zap.Int("rejections", len(rep.Rejected)))
	return *rep
}

// tradable normalises opportunity identifiers and drops those without
// market data in the snapshot.
func (o *Orchestrator) tradable(in []agent.Opportunity, snap agent.Snapshot) []agent.Opportunity {
	out := make([]agent.Opportunity, 0, len(in))
	for _, opp := range in {
		inst := market.Normalize(opp.Epic.String())
		if _, ok := snap.Market[inst]; !ok {
			o.log.Debug("dropping opportunity without market data", zap.String("epic", opp.Epic.String()))
			continue
		}
		opp.Epic = payload.Text(inst)
		out = append(out, opp)
	}
	return out
}

// keep persists a stage's self-improvement note and archives its output.
func (o *Orchestrator) keep(stage string, note, raw json.RawMessage) {
	if len(note) > 0 {
		if err := o.Memory.UpdateFeedback(stage, note); err != nil {
			o.log.Warn("saving feedback", zap.String("stage", stage), zap.Error(err))
		}
	}
	if len(raw) > 0 {
		if err := o.Memory.ArchiveStageResult(stage, raw); err != nil {
			o.log.Warn("archiving stage result", zap.String("stage", stage), zap.Error(err))
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, log *zap.Logger, dec agent.DecisionOutput, snap *agent.Snapshot, rep *Report, digest *agent.Digest) {
	for _, p := range dec.TradeActions {
		action := strings.ToUpper(strings.TrimSpace(p.ActionType.String()))
		if action != "" && action != memory.ActionOpen {
			log.Info("skipping unsupported trade action", zap.String("action", action), zap.String("epic", p.Epic.String()))
			continue
		}
		trade, d := o.Validator.Validate(p, snap.Account, snap.Positions)
		if !d.Allowed {
			rej := Rejection{Instrument: market.Normalize(p.Epic.String()), Reason: d.Reason()}
			for _, v := range d.Violations {
				rej.Codes = append(rej.Codes, v.Code)
				o.metrics.Rejected(v.Code)
			}
			rep.Rejected = append(rep.Rejected, rej)
			digest.Rejections = append(digest.Rejections, fmt.Sprintf("%s: %s", rej.Instrument, rej.Reason))
			log.Warn("trade rejected",
				zap.String("instrument", rej.Instrument),
				zap.Strings("codes", rej.Codes),
				zap.String("reason", rej.Reason),
				zap.Float64("portfolio_risk", d.PortfolioRisk),
				zap.Float64("currency_risk", d.CurrencyRisk))
			continue
		}
		if d.Clamped {
			log.Info("risk clamped",
				zap.String("instrument", trade.Instrument),
				zap.Float64("requested", d.RequestedRiskPct),
				zap.Float64("applied", trade.RiskPercent))
		}

		res := o.Gateway.Open(ctx, trade, snap.Account)
		o.record(rep, digest, memory.ActionOpen, trade.Instrument, res)
		if res.OK() {
			err := o.Memory.UpdateAnalysisHistory(trade.Instrument, memory.Analysis{
				Direction:  trade.Direction,
				EntryPrice: trade.EntryPrice,
				StopLoss:   trade.StopLoss,
				TakeProfit: trade.TakeProfit,
				RiskReward: trade.RiskReward,
				Pattern:    trade.Pattern,
				Reasoning:  trade.Reasoning,
				Timestamp:  o.now().UTC(),
			})
			if err != nil {
				log.Warn("recording analysis", zap.String("instrument", trade.Instrument), zap.Error(err))
			}
		}
		o.refresh(ctx, snap)
	}

	for _, a := range dec.PositionActions {
		var res execution.Result
		switch a.Kind() {
		case memory.ActionClose:
			res = o.Gateway.Close(ctx, a, snap.Positions)
		case memory.ActionUpdateStop:
			res = o.Gateway.UpdateStop(ctx, a)
		default:
			log.Info("skipping unsupported position action", zap.String("action", a.Kind()), zap.String("epic", a.Epic.String()))
			continue
		}
		o.record(rep, digest, a.Kind(), market.Normalize(a.Epic.String()), res)
		o.refresh(ctx, snap)
	}
}

func (o *Orchestrator) record(rep *Report, digest *agent.Digest, action, inst string, res execution.Result) {
	rep.Results = append(rep.Results, res)
	digest.Executions = append(digest.Executions, agent.ExecutionSummary{
		Action:     action,
		Instrument: inst,
		Outcome:    res.Entry.Outcome,
		Reason:     res.Reason,
	})
}

// refresh re-reads account and positions after a broker side effect. On
// failure the previous view is kept.
func (o *Orchestrator) refresh(ctx context.Context, snap *agent.Snapshot) {
	if pos, err := o.Broker.GetPositions(ctx); err != nil {
		o.log.Warn("refreshing positions", zap.Error(err))
	} else {
		snap.Positions = pos
	}
	if acct, err := o.Broker.GetAccount(ctx); err != nil {
		o.log.Warn("refreshing account", zap.Error(err))
	} else {
		snap.Account = acct
	}
}

func (o *Orchestrator) applyReview(rev agent.ReviewOutput) {
	for stage, note := range rev.Feedback() {
		if err := o.Memory.UpdateFeedback(stage, note); err != nil {
			o.log.Warn("saving review feedback", zap.String("stage", stage), zap.Error(err))
		}
	}
	if len(rev.RequestsForHuman) > 0 {
		if err := o.Memory.RecordOperatorRequests(rev.RequestsForHuman); err != nil {
			o.log.Warn("saving operator requests", zap.Error(err))
		}
	}
	o.keep(agent.StageReview, nil, rev.Raw)
}
