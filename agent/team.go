package agent

import (
	"context"
	"fmt"
)

// Team runs the four stages through one Runner.
type Team struct {
	runner *Runner
	stages map[string]Stage
}

// NewTeam uses stages for the stage table, falling back to DefaultStages for
// any stage not given. A stage without a system prompt gets the default one.
func NewTeam(runner *Runner, stages map[string]Stage) *Team {
	merged := DefaultStages()
	for name, st := range stages {
		def, ok := merged[name]
		if !ok {
			continue
		}
		st.Name = name
		if st.System == "" {
			st.System = def.System
		}
		if st.Model == "" {
			st.Model = def.Model
		}
		merged[name] = st
	}
	return &Team{runner: runner, stages: merged}
}

func (t *Team) Stage(name string) Stage { return t.stages[name] }

func (t *Team) Propose(ctx context.Context, s Snapshot) (ProposalOutput, error) {
	var out ProposalOutput
	raw, err := t.runner.Call(ctx, t.stages[StageProposal], buildProposalPrompt(s), &out)
	out.Raw = raw
	return out, err
}

func (t *Team) Plan(ctx context.Context, opps []Opportunity, s Snapshot) (PlanOutput, error) {
	if len(opps) == 0 {
		return PlanOutput{}, fmt.Errorf("plan stage: no opportunities")
	}
	var out PlanOutput
	raw, err := t.runner.Call(ctx, t.stages[StagePlan], buildPlanPrompt(opps, s), &out)
	out.Raw = raw
	return out, err
}

func (t *Team) Decide(ctx context.Context, plans []PlanResult, s Snapshot) (DecisionOutput, error) {
	if len(plans) == 0 {
		return DecisionOutput{}, fmt.Errorf("decision stage: no analysis results")
	}
	var out DecisionOutput
	raw, err := t.runner.Call(ctx, t.stages[StageDecision], buildDecisionPrompt(plans, s), &out)
	out.Raw = raw
	return out, err
}

func (t *Team) Review(ctx context.Context, d Digest, s Snapshot) (ReviewOutput, error) {
	var out ReviewOutput
	raw, err := t.runner.Call(ctx, t.stages[StageReview], buildReviewPrompt(d, s), &out)
	out.Raw = raw
	return out, err
}
