// Package execution turns validated trades and position actions into broker
// calls. Each call is made once, classified as Executed, Failed or Error and
// written to the trade log whatever the result.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/fxcrew/broker"
	"github.com/rustyeddy/fxcrew/id"
	"github.com/rustyeddy/fxcrew/market"
	"github.com/rustyeddy/fxcrew/memory"
	"github.com/rustyeddy/fxcrew/metrics"
	"github.com/rustyeddy/fxcrew/payload"
	"github.com/rustyeddy/fxcrew/risk"
)

type Status int

const (
	// Executed means the broker accepted and carried out the action.
	Executed Status = iota
	// Failed means the broker answered and refused, or the target was gone.
	Failed
	// Error means the call itself did not complete.
	Error
)

func (s Status) String() string {
	switch s {
	case Executed:
		return "executed"
	case Failed:
		return "failed"
	default:
		return "error"
	}
}

type Result struct {
	Status    Status
	DealID    string
	FillPrice float64
	Units     float64
	Reason    string
	Entry     memory.TradeLogEntry
}

func (r Result) OK() bool { return r.Status == Executed }

// PositionAction is a close or stop adjustment as the decision stage
// emitted it.
type PositionAction struct {
	ActionType payload.Text  `json:"action_type"`
	Epic       payload.Text  `json:"epic"`
	DealID     payload.Text  `json:"dealId"`
	NewLevel   payload.Field `json:"new_level"`
	Percentage payload.Field `json:"percentage"`
	Reason     payload.Text  `json:"reason"`
}

// Kind is the upper-cased action type.
func (a PositionAction) Kind() string {
	return strings.ToUpper(strings.TrimSpace(a.ActionType.String()))
}

type Gateway struct {
	broker  broker.Broker
	trades  memory.Recorder
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option { return func(g *Gateway) { g.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(g *Gateway) { g.metrics = m } }

func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

// New returns a gateway that trades through b and writes every result to
// tradeLog.
func New(b broker.Broker, tradeLog memory.Recorder, opts ...Option) *Gateway {
	g := &Gateway{
		broker: b,
		trades: tradeLog,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Open sizes and submits a market order for t.
func (g *Gateway) Open(ctx context.Context, t risk.ValidatedTrade, acct broker.Account) Result {
	log := g.logger.With(zap.String("instrument", t.Instrument), zap.String("direction", t.Direction))

	var units float64
	if t.HasPrices() {
		sz := risk.Size(risk.Inputs{
			Instrument:  t.Instrument,
			Balance:     acct.Balance,
			RiskPercent: t.RiskPercent,
			EntryPrice:  t.EntryPrice,
			StopPrice:   t.StopLoss,
		})
		units = sz.Units
		log.Info("position sized",
			zap.Float64("balance", acct.Balance),
			zap.Float64("risk_pct", t.RiskPercent),
			zap.Float64("risk_amount", sz.RiskAmount),
			zap.Float64("stop_pips", sz.StopPips),
			zap.Float64("units", units))
	} else {
		units = risk.FallbackUnits(t.Size)
		log.Warn("no stop distance, sizing from requested size",
			zap.Float64("size", t.Size), zap.Float64("units", units))
	}
	units = risk.Signed(units, t.Direction)

	entry := memory.TradeLogEntry{
		ID:          id.NewAt(g.now()),
		Timestamp:   g.now().UTC(),
		Epic:        t.Instrument,
		Instrument:  t.Instrument,
		ActionType:  memory.ActionOpen,
		Direction:   t.Direction,
		Size:        t.Size,
		Units:       units,
		StopLoss:    t.StopLoss,
		TakeProfit:  t.TakeProfit,
		RiskPercent: t.RiskPercent,
		RiskReward:  t.RiskReward,
		Pattern:     t.Pattern,
	}

	req := broker.OrderRequest{
		Instrument: t.Instrument,
		Units:      units,
		ClientID:   entry.ID,
	}
	if t.StopLoss > 0 {
		sl := t.StopLoss
		req.StopLoss = &sl
	}
	if t.TakeProfit > 0 {
		tp := t.TakeProfit
		req.TakeProfit = &tp
	}

	res, err := g.broker.SubmitOrder(ctx, req)
	var out Result
	switch {
	case err != nil:
		out = Result{Status: Error, Units: units, Reason: actionableReason(err.Error(), t.Size, units)}
		entry.EntryPrice = t.EntryPrice
	case !res.Filled:
		out = Result{Status: Failed, Units: units,
			Reason: actionableReason(firstNonEmpty(res.RejectReason, "order not filled"), t.Size, units)}
		entry.EntryPrice = t.EntryPrice
	default:
		out = Result{Status: Executed, DealID: res.DealID, FillPrice: res.FillPrice, Units: res.Units}
		entry.EntryPrice = res.FillPrice
		entry.DealID = res.DealID
		if out.Units == 0 {
			out.Units = units
		}
	}
	entry.Outcome = outcome(out.Status, memory.OutcomeExecuted)
	entry.Reason = out.Reason
	return g.finish(log, entry, out)
}

// Close resolves the action's target among positions and closes it. A target
// that cannot be resolved, or that the broker no longer holds, is Failed.
func (g *Gateway) Close(ctx context.Context, a PositionAction, positions []broker.Position) Result {
	dealID := strings.TrimSpace(a.DealID.String())
	instrument := market.Normalize(a.Epic.String())
	log := g.logger.With(zap.String("instrument", instrument), zap.String("deal_id", dealID))

	entry := memory.TradeLogEntry{
		ID:         id.NewAt(g.now()),
		Timestamp:  g.now().UTC(),
		Epic:       a.Epic.String(),
		Instrument: instrument,
		ActionType: memory.ActionClose,
		Direction:  memory.ActionClose,
		DealID:     dealID,
	}

	pos, ok := resolve(positions, dealID, instrument)
	if !ok {
		out := Result{Status: Failed, Reason: broker.ErrNotFound.Error()}
		entry.Outcome = memory.OutcomeFailed
		entry.Reason = out.Reason
		return g.finish(log, entry, out)
	}
	entry.Instrument = pos.Instrument
	if entry.DealID == "" {
		entry.DealID = pos.DealID
	}

	res, err := g.broker.ClosePosition(ctx, pos.Instrument)
	var out Result
	switch {
	case errors.Is(err, broker.ErrNotFound):
		out = Result{Status: Failed, Reason: broker.ErrNotFound.Error()}
	case err != nil:
		out = Result{Status: Error, Reason: err.Error()}
	case !res.Closed:
		out = Result{Status: Failed, Reason: firstNonEmpty(res.Reason, "No position found to close")}
	default:
		out = Result{Status: Executed, DealID: entry.DealID, FillPrice: res.Price, Units: res.Units,
			Reason: a.Reason.String()}
		entry.EntryPrice = res.Price
		entry.Units = res.Units
	}
	entry.Outcome = outcome(out.Status, memory.OutcomeClosed)
	entry.Reason = out.Reason
	return g.finish(log, entry, out)
}

// UpdateStop moves the stop on every open trade of the action's instrument.
func (g *Gateway) UpdateStop(ctx context.Context, a PositionAction) Result {
	instrument := market.Normalize(a.Epic.String())
	log := g.logger.With(zap.String("instrument", instrument))

	entry := memory.TradeLogEntry{
		ID:         id.NewAt(g.now()),
		Timestamp:  g.now().UTC(),
		Epic:       a.Epic.String(),
		Instrument: instrument,
		ActionType: memory.ActionUpdateStop,
		DealID:     strings.TrimSpace(a.DealID.String()),
	}

	level, ok := a.NewLevel.Value()
	if !ok || level <= 0 || instrument == "" {
		out := Result{Status: Failed, Reason: fmt.Sprintf("invalid stop update: epic %q new_level %q",
			a.Epic.String(), a.NewLevel.Raw())}
		entry.Outcome = memory.OutcomeFailed
		entry.Reason = out.Reason
		return g.finish(log, entry, out)
	}
	entry.NewLevel = level

	res, err := g.broker.UpdateStop(ctx, instrument, level)
	var out Result
	switch {
	case errors.Is(err, broker.ErrNotFound):
		out = Result{Status: Failed, Reason: broker.ErrNotFound.Error()}
	case err != nil:
		out = Result{Status: Error, Reason: err.Error()}
	case !res.Updated:
		out = Result{Status: Failed, Reason: firstNonEmpty(res.Reason, "stop not updated")}
		if len(res.TradeIDs) > 0 {
			log.Warn("stop partially updated", zap.Strings("trade_ids", res.TradeIDs), zap.String("reason", res.Reason))
			if entry.DealID == "" {
				entry.DealID = res.TradeIDs[0]
			}
			out.DealID = entry.DealID
		}
	default:
		out = Result{Status: Executed, Reason: a.Reason.String()}
		if len(res.TradeIDs) > 0 && entry.DealID == "" {
			entry.DealID = res.TradeIDs[0]
		}
		out.DealID = entry.DealID
	}
	entry.Outcome = outcome(out.Status, memory.OutcomeUpdated)
	entry.Reason = out.Reason
	return g.finish(log, entry, out)
}

func (g *Gateway) finish(log *zap.Logger, entry memory.TradeLogEntry, out Result) Result {
	out.Entry = entry
	if err := g.trades.RecordTrade(entry); err != nil {
		log.Error("trade log write failed", zap.String("id", entry.ID), zap.Error(err))
	}
	g.metrics.Outcome(entry.ActionType, entry.Outcome)

	fields := []zap.Field{
		zap.String("action", entry.ActionType),
		zap.String("outcome", entry.Outcome),
		zap.Float64("units", out.Units),
	}
	switch out.Status {
	case Executed:
		log.Info("broker action executed", append(fields, zap.String("deal_id", out.DealID),
			zap.Float64("price", out.FillPrice))...)
	case Failed:
		log.Warn("broker action failed", append(fields, zap.String("reason", out.Reason))...)
	default:
		log.Error("broker action error", append(fields, zap.String("reason", out.Reason))...)
	}
	return out
}

func resolve(positions []broker.Position, dealID, instrument string) (broker.Position, bool) {
	if dealID != "" {
		for _, p := range positions {
			if p.DealID == dealID {
				return p, true
			}
		}
	}
	if instrument != "" {
		for _, p := range positions {
			if p.Instrument == instrument {
				return p, true
			}
		}
	}
	return broker.Position{}, false
}

// actionableReason rewrites the order failures an operator can act on.
func actionableReason(msg string, size, units float64) string {
	switch {
	case strings.Contains(msg, "UNITS_LIMIT_EXCEEDED"):
		return fmt.Sprintf("Position size too large for account. Tried %s units, reduce 'risk_percent' parameter.",
			payload.Format(units))
	case strings.Contains(msg, "INSUFFICIENT_FUNDS"):
		return fmt.Sprintf("Insufficient funds for trade size %s (units: %s).",
			payload.Format(size), payload.Format(units))
	}
	return msg
}

func outcome(s Status, success string) string {
	switch s {
	case Executed:
		return success
	case Failed:
		return memory.OutcomeFailed
	default:
		return memory.OutcomeError
	}
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
