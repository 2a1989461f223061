package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/fxcrew/broker"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(broker.Account{Balance: 10000, Currency: "USD"})
	e.SetPrice("EUR_USD", 1.1000, 1.1002)
	e.SetPrice("USD_JPY", 150.00, 150.02)
	return e
}

func TestMarketOrderFillsAtAskOrBid(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	ctx := context.Background()

	buy, err := e.SubmitOrder(ctx, broker.OrderRequest{Instrument: "EUR_USD", Units: 1000})
	require.NoError(t, err)
	assert.True(t, buy.Filled)
	assert.Equal(t, 1.1002, buy.FillPrice)

	sell, err := e.SubmitOrder(ctx, broker.OrderRequest{Instrument: "USD_JPY", Units: -500})
	require.NoError(t, err)
	assert.Equal(t, 150.00, sell.FillPrice)

	ps, err := e.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, broker.Long, ps[0].Direction)
	assert.Equal(t, broker.Short, ps[1].Direction)
	assert.Equal(t, buy.DealID, ps[0].DealID)

	acct, err := e.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, acct.OpenPositionCount)
	assert.Greater(t, acct.MarginUsed, 0.0)
}

func TestPositionsAggregateTrades(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	ctx := context.Background()
	_, err := e.SubmitOrder(ctx, broker.OrderRequest{Instrument: "EUR_USD", Units: 1000})
	require.NoError(t, err)
	e.SetPrice("EUR_USD", 1.1010, 1.1012)
	_, err = e.SubmitOrder(ctx, broker.OrderRequest{Instrument: "EUR_USD", Units: 1000})
	require.NoError(t, err)

	ps, err := e.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, 2000.0, ps[0].Units)
	assert.InDelta(t, 1.1007, ps[0].AveragePrice, 1e-9)
}

func TestClosePositionRealizesPL(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	ctx := context.Background()
	_, err := e.SubmitOrder(ctx, broker.OrderRequest{Instrument: "EUR_USD", Units: 10000})
	require.NoError(t, err)

	e.SetPrice("EUR_USD", 1.1052, 1.1054)
	res, err := e.ClosePosition(ctx, "EUR_USD")
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, 1.1052, res.Price)

	acct, err := e.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10050.0, acct.Balance, 1e-6)
	assert.Equal(t, 0, acct.OpenPositionCount)

	_, err = e.ClosePosition(ctx, "EUR_USD")
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestStopLossTriggersOnPriceUpdate(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	ctx := context.Background()
	sl := 1.0950
	_, err := e.SubmitOrder(ctx, broker.OrderRequest{Instrument: "EUR_USD", Units: 1000, StopLoss: &sl})
	require.NoError(t, err)

	e.SetPrice("EUR_USD", 1.0949, 1.0951)

	trades := e.Trades()
	require.Len(t, trades, 1)
	assert.False(t, trades[0].Open)
	assert.Equal(t, "STOPPED", trades[0].CloseReason)
	assert.Equal(t, sl, trades[0].ClosePrice)
}

func TestUpdateStop(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	ctx := context.Background()
	_, err := e.UpdateStop(ctx, "EUR_USD", 1.09)
	assert.ErrorIs(t, err, broker.ErrNotFound)

	_, err = e.SubmitOrder(ctx, broker.OrderRequest{Instrument: "EUR_USD", Units: 1000})
	require.NoError(t, err)
	res, err := e.UpdateStop(ctx, "EUR_USD", 1.09)
	require.NoError(t, err)
	assert.True(t, res.Updated)
	require.NotNil(t, e.Trades()[0].StopLoss)
	assert.Equal(t, 1.09, *e.Trades()[0].StopLoss)
}

func TestInjectedFailures(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	ctx := context.Background()

	e.FailNext(errors.New("connection reset by peer"))
	_, err := e.SubmitOrder(ctx, broker.OrderRequest{Instrument: "EUR_USD", Units: 1})
	assert.ErrorIs(t, err, broker.ErrTransport)

	e.RejectNext("INSUFFICIENT_MARGIN")
	res, err := e.SubmitOrder(ctx, broker.OrderRequest{Instrument: "EUR_USD", Units: 1})
	require.NoError(t, err)
	assert.False(t, res.Filled)
	assert.Equal(t, "INSUFFICIENT_MARGIN", res.RejectReason)

	res, err = e.SubmitOrder(ctx, broker.OrderRequest{Instrument: "EUR_USD", Units: 1})
	require.NoError(t, err)
	assert.True(t, res.Filled, "injections are one-shot")
}

type staticQuotes map[string]broker.Quote

func (s staticQuotes) GetPrice(_ context.Context, instrument string) (broker.Quote, error) {
	q, ok := s[instrument]
	if !ok {
		return broker.Quote{}, errors.New("unknown instrument")
	}
	return q, nil
}

func TestQuoteSource(t *testing.T) {
	t.Parallel()

	e := NewEngine(broker.Account{Balance: 5000}, WithQuoteSource(staticQuotes{
		"GBP_USD": {Bid: 1.27, Ask: 1.2702},
	}))
	q, err := e.GetPrice(context.Background(), "GBP_USD")
	require.NoError(t, err)
	assert.Equal(t, "GBP_USD", q.Instrument)

	res, err := e.SubmitOrder(context.Background(), broker.OrderRequest{Instrument: "GBP_USD", Units: -10})
	require.NoError(t, err)
	assert.Equal(t, 1.27, res.FillPrice)

	_, err = e.GetPrice(context.Background(), "XAU_USD")
	assert.Error(t, err)
}

func TestTradeMargin(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1000*1.2345*0.02, TradeMargin(1000, 1.2345, "EUR_USD", 1), 1e-9)
	assert.InDelta(t, 2500*2.0*0.9*0.02, TradeMargin(-2500, 2.0, "EUR_USD", 0.9), 1e-9)
	assert.InDelta(t, 0.0, TradeMargin(0, 1.5, "EUR_USD", 1), 1e-12)
}
