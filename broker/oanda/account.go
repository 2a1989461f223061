package oanda

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rustyeddy/fxcrew/broker"
)

type accountSummary struct {
	Account struct {
		ID                string `json:"id"`
		Currency          string `json:"currency"`
		Balance           num    `json:"balance"`
		NAV               num    `json:"NAV"`
		UnrealizedPL      num    `json:"unrealizedPL"`
		MarginUsed        num    `json:"marginUsed"`
		MarginAvailable   num    `json:"marginAvailable"`
		OpenPositionCount int    `json:"openPositionCount"`
	} `json:"account"`
}

func (c *Client) GetAccount(ctx context.Context) (broker.Account, error) {
	var resp accountSummary
	if err := c.getJSON(ctx, c.accountPath("/summary"), &resp); err != nil {
		return broker.Account{}, fmt.Errorf("get account: %w", err)
	}
	a := resp.Account
	return broker.Account{
		ID:                a.ID,
		Currency:          a.Currency,
		Balance:           a.Balance.float(),
		NAV:               a.NAV.float(),
		UnrealizedPL:      a.UnrealizedPL.float(),
		MarginUsed:        a.MarginUsed.float(),
		MarginAvailable:   a.MarginAvailable.float(),
		OpenPositionCount: a.OpenPositionCount,
	}, nil
}

type positionSide struct {
	Units        num      `json:"units"`
	AveragePrice num      `json:"averagePrice"`
	UnrealizedPL num      `json:"unrealizedPL"`
	TradeIDs     []string `json:"tradeIDs"`
}

type apiPosition struct {
	Instrument string       `json:"instrument"`
	Long       positionSide `json:"long"`
	Short      positionSide `json:"short"`
}

// sides flattens an OANDA position into one broker.Position per open side.
func (p apiPosition) sides() []broker.Position {
	var out []broker.Position
	for _, s := range []struct {
		dir  string
		side positionSide
	}{{broker.Long, p.Long}, {broker.Short, p.Short}} {
		units := s.side.Units.float()
		if units == 0 {
			continue
		}
		dealID := p.Instrument
		if len(s.side.TradeIDs) > 0 {
			dealID = s.side.TradeIDs[0]
		}
		out = append(out, broker.Position{
			DealID:       dealID,
			Instrument:   p.Instrument,
			Direction:    s.dir,
			Units:        units,
			AveragePrice: s.side.AveragePrice.float(),
			UnrealizedPL: s.side.UnrealizedPL.float(),
		})
	}
	return out
}

func (c *Client) GetPositions(ctx context.Context) ([]broker.Position, error) {
	var resp struct {
		Positions []apiPosition `json:"positions"`
	}
	if err := c.getJSON(ctx, c.accountPath("/openPositions"), &resp); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	var out []broker.Position
	for _, p := range resp.Positions {
		out = append(out, p.sides()...)
	}
	return out, nil
}

type priceBucket struct {
	Price num `json:"price"`
}

func (c *Client) GetPrice(ctx context.Context, instrument string) (broker.Quote, error) {
	var resp struct {
		Prices []struct {
			Instrument string        `json:"instrument"`
			Time       string        `json:"time"`
			Bids       []priceBucket `json:"bids"`
			Asks       []priceBucket `json:"asks"`
		} `json:"prices"`
	}
	path := c.accountPath("/pricing?instruments=%s", url.QueryEscape(instrument))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return broker.Quote{}, fmt.Errorf("get price %s: %w", instrument, err)
	}
	if len(resp.Prices) == 0 || len(resp.Prices[0].Bids) == 0 || len(resp.Prices[0].Asks) == 0 {
		return broker.Quote{}, fmt.Errorf("get price %s: empty pricing response", instrument)
	}

	p := resp.Prices[0]
	q := broker.Quote{
		Instrument: p.Instrument,
		Bid:        p.Bids[0].Price.float(),
		Ask:        p.Asks[0].Price.float(),
	}
	if t, err := time.Parse(time.RFC3339Nano, p.Time); err == nil {
		q.Time = t
	}
	return q, nil
}
