// Package agent holds the reasoning-service collaborators of the cycle: the
// LLM client, the budget-gated stage call and the Proposal, Plan, Decision
// and Review sources built on them.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rustyeddy/fxcrew/metrics"
	"github.com/rustyeddy/fxcrew/payload"
)

// ErrAdmissionDenied means the daily budget cannot cover the stage's
// estimate. The stage is skipped; the cycle carries on.
var ErrAdmissionDenied = errors.New("stage denied by daily budget")

// Pricing is the per-1K-token price of a model in USD.
type Pricing struct {
	InPer1K  float64 `yaml:"in_per_1k" json:"in_per_1k"`
	OutPer1K float64 `yaml:"out_per_1k" json:"out_per_1k"`
}

func (p Pricing) Cost(tokensIn, tokensOut int) float64 {
	return (float64(tokensIn)*p.InPer1K + float64(tokensOut)*p.OutPer1K) / 1000
}

// Stage describes one reasoning-service call site.
type Stage struct {
	Name         string  `yaml:"name" json:"name"`
	Model        string  `yaml:"model" json:"model"`
	CostEstimate float64 `yaml:"cost_estimate" json:"cost_estimate"`
	Pricing      Pricing `yaml:"pricing" json:"pricing"`
	System       string  `yaml:"-" json:"-"`
}

// Stage names; they double as the feedback and archive keys.
const (
	StageProposal = "proposal"
	StagePlan     = "plan"
	StageDecision = "decision"
	StageReview   = "review"
)

// DefaultStages returns the stage table with the default models, estimates
// and prices.
func DefaultStages() map[string]Stage {
	gpt4 := Pricing{InPer1K: 0.03, OutPer1K: 0.06}
	return map[string]Stage{
		StageProposal: {Name: StageProposal, Model: "gpt-3.5-turbo", CostEstimate: 0.15,
			Pricing: Pricing{InPer1K: 0.0015, OutPer1K: 0.002}, System: systemProposal},
		StagePlan:     {Name: StagePlan, Model: "gpt-4-turbo-preview", CostEstimate: 0.50, Pricing: gpt4, System: systemPlan},
		StageDecision: {Name: StageDecision, Model: "gpt-4-turbo-preview", CostEstimate: 0.60, Pricing: gpt4, System: systemDecision},
		StageReview:   {Name: StageReview, Model: "gpt-4-turbo-preview", CostEstimate: 0.40, Pricing: gpt4, System: systemReview},
	}
}

// Budget is the admission gate and usage sink for stage calls.
type Budget interface {
	CanSpend(estimated float64) bool
	LogUsage(stage string, tokensIn, tokensOut int, cost float64) (float64, error)
}

// Runner makes budget-gated, retry-once stage calls.
type Runner struct {
	llm        LLM
	budget     Budget
	log        *zap.Logger
	metrics    *metrics.Metrics
	timeout    time.Duration
	retryDelay time.Duration
}

type RunnerOption func(*Runner)

func WithLogger(l *zap.Logger) RunnerOption { return func(r *Runner) { r.log = l } }

func WithMetrics(m *metrics.Metrics) RunnerOption { return func(r *Runner) { r.metrics = m } }

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) RunnerOption { return func(r *Runner) { r.timeout = d } }

// WithRetryDelay sets the pause before the single retry.
func WithRetryDelay(d time.Duration) RunnerOption { return func(r *Runner) { r.retryDelay = d } }

func NewRunner(llm LLM, budget Budget, opts ...RunnerOption) *Runner {
	r := &Runner{
		llm:        llm,
		budget:     budget,
		log:        zap.NewNop(),
		timeout:    60 * time.Second,
		retryDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Call checks the budget, asks the service, records what it cost and
// decodes the JSON in the reply into out. It returns the extracted JSON so
// the caller can archive it.
func (r *Runner) Call(ctx context.Context, st Stage, prompt string, out any) (json.RawMessage, error) {
	log := r.log.With(zap.String("stage", st.Name), zap.String("model", st.Model))

	if !r.budget.CanSpend(st.CostEstimate) {
		log.Warn("insufficient budget for stage", zap.Float64("estimate", st.CostEstimate))
		r.metrics.StageCall(st.Name, "denied")
		return nil, ErrAdmissionDenied
	}

	attempt := 0
	op := func() (Completion, error) {
		attempt++
		actx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		c, err := r.llm.Complete(actx, Request{Model: st.Model, System: st.System, Prompt: prompt})
		if err != nil && !Transient(err) {
			return c, backoff.Permanent(err)
		}
		if err != nil {
			log.Warn("transient LLM failure", zap.Int("attempt", attempt), zap.Error(err))
		}
		return c, err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.retryDelay), 1), ctx)

	c, err := backoff.RetryWithData(op, policy)
	if c.TokensIn > 0 || c.TokensOut > 0 {
		cost := st.Pricing.Cost(c.TokensIn, c.TokensOut)
		if _, lerr := r.budget.LogUsage(st.Name, c.TokensIn, c.TokensOut, cost); lerr != nil {
			log.Error("budget usage not recorded", zap.Error(lerr))
		}
		log.Info("stage usage",
			zap.Int("tokens_in", c.TokensIn),
			zap.Int("tokens_out", c.TokensOut),
			zap.Float64("cost", cost))
	}
	if err != nil {
		r.metrics.StageCall(st.Name, "error")
		return nil, fmt.Errorf("%s stage: %w", st.Name, err)
	}

	raw, err := payload.ExtractJSON(c.Text)
	if err != nil {
		r.metrics.StageCall(st.Name, "unparseable")
		return nil, fmt.Errorf("%s stage: %w", st.Name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		r.metrics.StageCall(st.Name, "unparseable")
		return nil, fmt.Errorf("%s stage: decode reply: %w", st.Name, err)
	}
	r.metrics.StageCall(st.Name, "ok")
	return raw, nil
}
