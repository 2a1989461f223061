// Package sim is an in-memory broker for paper trading and tests. Orders
// fill immediately at the current quote: buys at the ask, sells at the bid.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/fxcrew/broker"
	"github.com/rustyeddy/fxcrew/id"
)

// QuoteSource supplies live prices, e.g. the OANDA client in paper mode.
type QuoteSource interface {
	GetPrice(ctx context.Context, instrument string) (broker.Quote, error)
}

type Engine struct {
	mu     sync.Mutex
	acct   broker.Account
	quotes map[string]broker.Quote
	trades map[string]*Trade
	source QuoteSource
	now    func() time.Time

	failNext   error
	rejectNext string
}

var _ broker.Broker = (*Engine)(nil)

type Option func(*Engine)

func WithQuoteSource(q QuoteSource) Option { return func(e *Engine) { e.source = q } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(acct broker.Account, opts ...Option) *Engine {
	if acct.Currency == "" {
		acct.Currency = "USD"
	}
	if acct.ID == "" {
		acct.ID = "paper"
	}
	e := &Engine{
		acct:   acct,
		quotes: make(map[string]broker.Quote),
		trades: make(map[string]*Trade),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FailNext makes the next order, close or stop update return err as if the
// call never reached the broker.
func (e *Engine) FailNext(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = err
}

// RejectNext makes the next order, close or stop update come back refused
// with reason.
func (e *Engine) RejectNext(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejectNext = reason
}

// takeInjected returns and clears any injected failure.
func (e *Engine) takeInjected() (string, error) {
	reason, err := e.rejectNext, e.failNext
	e.failNext, e.rejectNext = nil, ""
	if err != nil && !errors.Is(err, broker.ErrTransport) {
		err = fmt.Errorf("%w: %v", broker.ErrTransport, err)
	}
	return reason, err
}

// SetPrice updates a quote and closes any trade whose stop or target it
// crosses.
func (e *Engine) SetPrice(instrument string, bid, ask float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setQuoteLocked(broker.Quote{Instrument: instrument, Bid: bid, Ask: ask, Time: e.now()})
}

func (e *Engine) setQuoteLocked(q broker.Quote) {
	e.quotes[q.Instrument] = q
	for _, t := range e.openTradesLocked(q.Instrument) {
		// Longs exit on the bid, shorts on the ask.
		exit := q.Bid
		if t.Units < 0 {
			exit = q.Ask
		}
		switch {
		case t.triggerStopLoss(exit):
			e.closeTradeLocked(t, *t.StopLoss, q.Time, "STOPPED")
		case t.triggerTakeProfit(exit):
			e.closeTradeLocked(t, *t.TakeProfit, q.Time, "TAKE_PROFIT")
		}
	}
}

func (e *Engine) quoteLocked(ctx context.Context, instrument string) (broker.Quote, error) {
	if e.source != nil {
		q, err := e.source.GetPrice(ctx, instrument)
		if err != nil {
			return broker.Quote{}, err
		}
		if q.Time.IsZero() {
			q.Time = e.now()
		}
		q.Instrument = instrument
		e.setQuoteLocked(q)
		return q, nil
	}
	q, ok := e.quotes[instrument]
	if !ok {
		return broker.Quote{}, fmt.Errorf("no price for %s", instrument)
	}
	return q, nil
}

func (e *Engine) GetPrice(ctx context.Context, instrument string) (broker.Quote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quoteLocked(ctx, instrument)
}

func (e *Engine) GetAccount(ctx context.Context) (broker.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a := e.acct
	a.UnrealizedPL, a.MarginUsed, a.OpenPositionCount = 0, 0, 0
	seen := map[string]bool{}
	for _, t := range e.trades {
		if !t.Open {
			continue
		}
		q, ok := e.quotes[t.Instrument]
		if !ok {
			continue
		}
		mark := q.Bid
		if t.Units < 0 {
			mark = q.Ask
		}
		conv := quoteToAccount(t.Instrument, a.Currency, mark)
		a.UnrealizedPL += t.UnrealizedPL(mark, conv)
		a.MarginUsed += TradeMargin(t.Units, mark, t.Instrument, conv)
		if !seen[t.Instrument] {
			seen[t.Instrument] = true
			a.OpenPositionCount++
		}
	}
	a.NAV = a.Balance + a.UnrealizedPL
	a.MarginAvailable = a.NAV - a.MarginUsed
	return a, nil
}

// GetPositions aggregates open trades per instrument and side.
func (e *Engine) GetPositions(ctx context.Context) ([]broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	type key struct{ instrument, dir string }
	agg := map[key]*broker.Position{}
	var order []key

	for _, t := range e.sortedOpenLocked() {
		k := key{t.Instrument, broker.Long}
		if t.Units < 0 {
			k.dir = broker.Short
		}
		p, ok := agg[k]
		if !ok {
			p = &broker.Position{DealID: t.ID, Instrument: t.Instrument, Direction: k.dir}
			agg[k] = p
			order = append(order, k)
		}
		total := p.Units + t.Units
		p.AveragePrice = (p.AveragePrice*p.Units + t.EntryPrice*t.Units) / total
		p.Units = total
		if q, ok := e.quotes[t.Instrument]; ok {
			mark := q.Bid
			if t.Units < 0 {
				mark = q.Ask
			}
			p.UnrealizedPL += t.UnrealizedPL(mark, quoteToAccount(t.Instrument, e.acct.Currency, mark))
		}
	}

	out := make([]broker.Position, 0, len(order))
	for _, k := range order {
		out = append(out, *agg[k])
	}
	return out, nil
}

func (e *Engine) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reason, err := e.takeInjected()
	if err != nil {
		return broker.OrderResult{}, err
	}
	if reason != "" {
		return broker.OrderResult{RejectReason: reason}, nil
	}
	if req.Units == 0 {
		return broker.OrderResult{RejectReason: "UNITS_INVALID"}, nil
	}

	q, err := e.quoteLocked(ctx, req.Instrument)
	if err != nil {
		return broker.OrderResult{RejectReason: "MARKET_HALTED: " + err.Error()}, nil
	}
	fillPrice := q.Ask
	if req.Units < 0 {
		fillPrice = q.Bid
	}

	t := &Trade{
		ID:         id.New(),
		Instrument: req.Instrument,
		Units:      req.Units,
		EntryPrice: fillPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   e.now(),
		Open:       true,
	}
	e.trades[t.ID] = t

	return broker.OrderResult{
		Filled:    true,
		DealID:    t.ID,
		FillPrice: fillPrice,
		Units:     req.Units,
	}, nil
}

// ClosePosition closes every open trade on instrument at market.
func (e *Engine) ClosePosition(ctx context.Context, instrument string) (broker.CloseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reason, err := e.takeInjected()
	if err != nil {
		return broker.CloseResult{}, err
	}
	if reason != "" {
		return broker.CloseResult{Reason: reason}, nil
	}

	open := e.openTradesLocked(instrument)
	if len(open) == 0 {
		return broker.CloseResult{}, fmt.Errorf("close %s: %w", instrument, broker.ErrNotFound)
	}
	q, err := e.quoteLocked(ctx, instrument)
	if err != nil {
		return broker.CloseResult{Reason: err.Error()}, nil
	}

	res := broker.CloseResult{Closed: true, DealID: open[0].ID}
	for _, t := range open {
		exit := q.Bid
		if t.Units < 0 {
			exit = q.Ask
		}
		e.closeTradeLocked(t, exit, e.now(), "MARKET_ORDER_POSITION_CLOSEOUT")
		res.Units -= t.Units
		res.Price = exit
	}
	return res, nil
}

func (e *Engine) UpdateStop(ctx context.Context, instrument string, price float64) (broker.UpdateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reason, err := e.takeInjected()
	if err != nil {
		return broker.UpdateResult{}, err
	}
	if reason != "" {
		return broker.UpdateResult{Reason: reason}, nil
	}

	open := e.openTradesLocked(instrument)
	if len(open) == 0 {
		return broker.UpdateResult{}, fmt.Errorf("update stop %s: %w", instrument, broker.ErrNotFound)
	}
	res := broker.UpdateResult{Updated: true}
	for _, t := range open {
		p := price
		t.StopLoss = &p
		res.TradeIDs = append(res.TradeIDs, t.ID)
	}
	return res, nil
}

// Trades returns a snapshot of every trade, open and closed, oldest first.
func (e *Engine) Trades() []Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Trade, 0, len(e.trades))
	for _, t := range e.trades {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) closeTradeLocked(t *Trade, price float64, at time.Time, reason string) {
	conv := quoteToAccount(t.Instrument, e.acct.Currency, price)
	t.ClosePrice = price
	t.CloseTime = at
	t.RealizedPL = t.UnrealizedPL(price, conv)
	t.CloseReason = reason
	t.Open = false
	e.acct.Balance += t.RealizedPL
}

func (e *Engine) openTradesLocked(instrument string) []*Trade {
	var out []*Trade
	for _, t := range e.sortedOpenLocked() {
		if t.Instrument == instrument {
			out = append(out, t)
		}
	}
	return out
}

func (e *Engine) sortedOpenLocked() []*Trade {
	out := make([]*Trade, 0, len(e.trades))
	for _, t := range e.trades {
		if t.Open {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
