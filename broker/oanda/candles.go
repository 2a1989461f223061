package oanda

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rustyeddy/fxcrew/broker"
)

// Granularity represents the time frame for candles
type Granularity string

const (
	M1  Granularity = "M1"
	M5  Granularity = "M5"
	M15 Granularity = "M15"
	M30 Granularity = "M30"
	H1  Granularity = "H1"
	H4  Granularity = "H4"
	D   Granularity = "D"
)

// candleData represents the OHLC data in the API response
type candleData struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type apiCandle struct {
	Complete bool       `json:"complete"`
	Volume   int        `json:"volume"`
	Time     string     `json:"time"`
	Mid      candleData `json:"mid"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

// Candles fetches the last count complete mid-price candles.
func (c *Client) Candles(ctx context.Context, instrument, granularity string, count int) ([]broker.Candle, error) {
	if instrument == "" {
		return nil, fmt.Errorf("instrument is required")
	}
	if granularity == "" {
		granularity = string(H1)
	}
	if count <= 0 || count > 5000 {
		return nil, fmt.Errorf("count must be in 1..5000, got %d", count)
	}

	params := url.Values{}
	params.Set("price", "M")
	params.Set("granularity", granularity)
	params.Set("count", fmt.Sprintf("%d", count))

	var resp candlesResponse
	path := fmt.Sprintf("/v3/instruments/%s/candles?%s", url.PathEscape(instrument), params.Encode())
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("get candles %s: %w", instrument, err)
	}

	candles := make([]broker.Candle, 0, len(resp.Candles))
	for _, ac := range resp.Candles {
		if !ac.Complete {
			continue
		}

		t, err := time.Parse(time.RFC3339, ac.Time)
		if err != nil {
			return nil, fmt.Errorf("parse time %s: %w", ac.Time, err)
		}

		var ohlc [4]float64
		for i, s := range []string{ac.Mid.O, ac.Mid.H, ac.Mid.L, ac.Mid.C} {
			if ohlc[i], err = parseFloat(s); err != nil {
				return nil, fmt.Errorf("parse candle %s: %w", ac.Time, err)
			}
		}

		candles = append(candles, broker.Candle{
			Time:   t,
			Open:   ohlc[0],
			High:   ohlc[1],
			Low:    ohlc[2],
			Close:  ohlc[3],
			Volume: float64(ac.Volume),
		})
	}

	return candles, nil
}
