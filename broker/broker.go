// Package broker defines the brokerage collaborator the pipeline trades
// through and the values it exchanges with it.
//
// A method returns an error only when the call itself failed (transport,
// auth, undecodable response). A broker that answered and said no is
// reported through the result value instead.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTransport wraps network-level failures and timeouts.
	ErrTransport = errors.New("broker transport failure")
	// ErrNotFound means the position or trade to act on does not exist.
	ErrNotFound = errors.New("position not found")
)

type Broker interface {
	GetAccount(ctx context.Context) (Account, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetPrice(ctx context.Context, instrument string) (Quote, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ClosePosition(ctx context.Context, instrument string) (CloseResult, error)
	UpdateStop(ctx context.Context, instrument string, price float64) (UpdateResult, error)
}

// CandleSource is implemented by brokers that can serve price history.
type CandleSource interface {
	Candles(ctx context.Context, instrument, granularity string, count int) ([]Candle, error)
}

type Account struct {
	ID                string  `json:"id"`
	Currency          string  `json:"currency"`
	Balance           float64 `json:"balance"`
	NAV               float64 `json:"nav"`
	UnrealizedPL      float64 `json:"unrealized_pl"`
	MarginUsed        float64 `json:"margin_used"`
	MarginAvailable   float64 `json:"margin_available"`
	OpenPositionCount int     `json:"open_position_count"`
}

const (
	Long  = "LONG"
	Short = "SHORT"
)

type Position struct {
	DealID       string  `json:"deal_id"`
	Instrument   string  `json:"instrument"`
	Direction    string  `json:"direction"`
	Units        float64 `json:"units"`
	AveragePrice float64 `json:"average_price"`
	UnrealizedPL float64 `json:"unrealized_pl"`
}

type Quote struct {
	Instrument string    `json:"instrument"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Time       time.Time `json:"time"`
}

func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

func (q Quote) Spread() float64 { return q.Ask - q.Bid }

type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"volume"`
}

// OrderRequest is a market order. Units are signed: positive buys, negative
// sells.
type OrderRequest struct {
	Instrument string
	Units      float64
	StopLoss   *float64
	TakeProfit *float64
	ClientID   string
}

type OrderResult struct {
	Filled       bool
	DealID       string
	FillPrice    float64
	Units        float64
	RejectReason string
}

type CloseResult struct {
	Closed bool
	DealID string
	Price  float64
	Units  float64
	Reason string
}

type UpdateResult struct {
	Updated  bool
	TradeIDs []string
	Reason   string
}
