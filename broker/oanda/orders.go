package oanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/rustyeddy/fxcrew/broker"
	"github.com/rustyeddy/fxcrew/market"
)

type priceDetails struct {
	Price       string `json:"price"`
	TimeInForce string `json:"timeInForce,omitempty"`
	TriggerMode string `json:"triggerMode,omitempty"`
}

type clientExtensions struct {
	ID string `json:"id"`
}

type marketOrder struct {
	Type             string            `json:"type"`
	Instrument       string            `json:"instrument"`
	Units            string            `json:"units"`
	TimeInForce      string            `json:"timeInForce"`
	PositionFill     string            `json:"positionFill"`
	StopLossOnFill   *priceDetails     `json:"stopLossOnFill,omitempty"`
	TakeProfitOnFill *priceDetails     `json:"takeProfitOnFill,omitempty"`
	ClientExtensions *clientExtensions `json:"clientExtensions,omitempty"`
}

type transaction struct {
	ID           string `json:"id"`
	Reason       string `json:"reason"`
	RejectReason string `json:"rejectReason"`
	Price        num    `json:"price"`
	Units        num    `json:"units"`
	TradeOpened  *struct {
		TradeID string `json:"tradeID"`
	} `json:"tradeOpened"`
}

type orderResponse struct {
	OrderCreateTransaction *transaction `json:"orderCreateTransaction"`
	OrderFillTransaction   *transaction `json:"orderFillTransaction"`
	OrderCancelTransaction *transaction `json:"orderCancelTransaction"`
	OrderRejectTransaction *transaction `json:"orderRejectTransaction"`
	ErrorCode              string       `json:"errorCode"`
	ErrorMessage           string       `json:"errorMessage"`
}

// formatPrice renders a price with one digit beyond the pip, the precision
// OANDA accepts for majors and yen crosses.
func formatPrice(instrument string, p float64) string {
	digits := 5
	if meta, ok := market.Lookup(instrument); ok {
		digits = -meta.PipLocation + 1
	}
	return strconv.FormatFloat(p, 'f', digits, 64)
}

func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	order := marketOrder{
		Type:             "MARKET",
		Instrument:       req.Instrument,
		Units:            strconv.FormatFloat(req.Units, 'f', 0, 64),
		TimeInForce:      "FOK",
		PositionFill:     "DEFAULT",
		ClientExtensions: &clientExtensions{ID: clientID},
	}
	if req.StopLoss != nil {
		order.StopLossOnFill = &priceDetails{
			Price:       formatPrice(req.Instrument, *req.StopLoss),
			TimeInForce: "GTC",
			TriggerMode: "TOP_OF_BOOK",
		}
	}
	if req.TakeProfit != nil {
		order.TakeProfitOnFill = &priceDetails{
			Price:       formatPrice(req.Instrument, *req.TakeProfit),
			TimeInForce: "GTC",
		}
	}

	status, data, err := c.send(ctx, http.MethodPost, c.accountPath("/orders"), map[string]any{"order": order})
	if err != nil {
		return broker.OrderResult{}, fmt.Errorf("submit order: %w", err)
	}
	if status >= http.StatusInternalServerError {
		return broker.OrderResult{}, &APIError{Status: status, Body: string(data)}
	}

	var resp orderResponse
	if jerr := json.Unmarshal(data, &resp); jerr != nil {
		if status >= 300 {
			return broker.OrderResult{}, &APIError{Status: status, Body: string(data)}
		}
		return broker.OrderResult{}, fmt.Errorf("decode order response: %w", jerr)
	}

	if fill := resp.OrderFillTransaction; resp.OrderCreateTransaction != nil && fill != nil {
		dealID := fill.ID
		if fill.TradeOpened != nil && fill.TradeOpened.TradeID != "" {
			dealID = fill.TradeOpened.TradeID
		}
		return broker.OrderResult{
			Filled:    true,
			DealID:    dealID,
			FillPrice: fill.Price.float(),
			Units:     fill.Units.float(),
		}, nil
	}

	switch {
	case resp.OrderRejectTransaction != nil:
		return broker.OrderResult{RejectReason: firstNonEmpty(resp.OrderRejectTransaction.RejectReason, resp.OrderRejectTransaction.Reason, resp.ErrorMessage)}, nil
	case resp.OrderCancelTransaction != nil:
		return broker.OrderResult{RejectReason: firstNonEmpty(resp.OrderCancelTransaction.Reason, resp.ErrorMessage)}, nil
	case status >= 300 && resp.ErrorMessage == "":
		return broker.OrderResult{}, &APIError{Status: status, Body: string(data)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return broker.OrderResult{}, &APIError{Status: status, Body: string(data)}
	}
	return broker.OrderResult{RejectReason: firstNonEmpty(resp.ErrorMessage, "order not filled")}, nil
}

type closeResponse struct {
	LongOrderCreateTransaction  *transaction `json:"longOrderCreateTransaction"`
	LongOrderFillTransaction    *transaction `json:"longOrderFillTransaction"`
	LongOrderRejectTransaction  *transaction `json:"longOrderRejectTransaction"`
	ShortOrderCreateTransaction *transaction `json:"shortOrderCreateTransaction"`
	ShortOrderFillTransaction   *transaction `json:"shortOrderFillTransaction"`
	ShortOrderRejectTransaction *transaction `json:"shortOrderRejectTransaction"`
	ErrorCode                   string       `json:"errorCode"`
	ErrorMessage                string       `json:"errorMessage"`
}

// ClosePosition closes every open unit of instrument, on whichever side is
// open.
func (c *Client) ClosePosition(ctx context.Context, instrument string) (broker.CloseResult, error) {
	var pos struct {
		Position apiPosition `json:"position"`
	}
	err := c.getJSON(ctx, c.accountPath("/positions/%s", url.PathEscape(instrument)), &pos)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return broker.CloseResult{}, fmt.Errorf("close %s: %w", instrument, broker.ErrNotFound)
	}
	if err != nil {
		return broker.CloseResult{}, fmt.Errorf("close %s: %w", instrument, err)
	}

	body := map[string]string{}
	if pos.Position.Long.Units.float() != 0 {
		body["longUnits"] = "ALL"
	}
	if pos.Position.Short.Units.float() != 0 {
		body["shortUnits"] = "ALL"
	}
	if len(body) == 0 {
		return broker.CloseResult{}, fmt.Errorf("close %s: %w", instrument, broker.ErrNotFound)
	}

	status, data, err := c.send(ctx, http.MethodPut, c.accountPath("/positions/%s/close", url.PathEscape(instrument)), body)
	if err != nil {
		return broker.CloseResult{}, fmt.Errorf("close %s: %w", instrument, err)
	}
	if status == http.StatusNotFound {
		return broker.CloseResult{}, fmt.Errorf("close %s: %w", instrument, broker.ErrNotFound)
	}
	if status >= http.StatusInternalServerError {
		return broker.CloseResult{}, &APIError{Status: status, Body: string(data)}
	}

	var resp closeResponse
	if jerr := json.Unmarshal(data, &resp); jerr != nil {
		if status >= 300 {
			return broker.CloseResult{}, &APIError{Status: status, Body: string(data)}
		}
		return broker.CloseResult{}, fmt.Errorf("decode close response: %w", jerr)
	}

	for _, pair := range [][2]*transaction{
		{resp.LongOrderCreateTransaction, resp.LongOrderFillTransaction},
		{resp.ShortOrderCreateTransaction, resp.ShortOrderFillTransaction},
	} {
		if pair[0] != nil && pair[1] != nil {
			return broker.CloseResult{
				Closed: true,
				DealID: pair[1].ID,
				Price:  pair[1].Price.float(),
				Units:  pair[1].Units.float(),
			}, nil
		}
	}

	reason := resp.ErrorMessage
	for _, rej := range []*transaction{resp.LongOrderRejectTransaction, resp.ShortOrderRejectTransaction} {
		if rej != nil {
			reason = firstNonEmpty(rej.RejectReason, rej.Reason, reason)
		}
	}
	if status >= 300 && reason == "" {
		return broker.CloseResult{}, &APIError{Status: status, Body: string(data)}
	}
	return broker.CloseResult{Reason: firstNonEmpty(reason, "No position found to close")}, nil
}

// UpdateStop moves the stop loss of every open trade on instrument.
func (c *Client) UpdateStop(ctx context.Context, instrument string, price float64) (broker.UpdateResult, error) {
	var open struct {
		Trades []struct {
			ID string `json:"id"`
		} `json:"trades"`
	}
	path := c.accountPath("/trades?instrument=%s&state=OPEN", url.QueryEscape(instrument))
	if err := c.getJSON(ctx, path, &open); err != nil {
		return broker.UpdateResult{}, fmt.Errorf("update stop %s: %w", instrument, err)
	}
	if len(open.Trades) == 0 {
		return broker.UpdateResult{}, fmt.Errorf("update stop %s: %w", instrument, broker.ErrNotFound)
	}

	body := map[string]any{
		"stopLoss": priceDetails{Price: formatPrice(instrument, price), TimeInForce: "GTC"},
	}

	var (
		res      broker.UpdateResult
		rejected []string
	)
	for _, t := range open.Trades {
		status, data, err := c.send(ctx, http.MethodPut, c.accountPath("/trades/%s/orders", t.ID), body)
		if err != nil {
			return res, fmt.Errorf("update stop %s trade %s: %w", instrument, t.ID, err)
		}
		if status == http.StatusOK {
			res.TradeIDs = append(res.TradeIDs, t.ID)
			continue
		}
		if status >= http.StatusInternalServerError {
			return res, &APIError{Status: status, Body: string(data)}
		}

		var resp struct {
			StopLossOrderRejectTransaction *transaction `json:"stopLossOrderRejectTransaction"`
			ErrorMessage                   string       `json:"errorMessage"`
		}
		if json.Unmarshal(data, &resp) != nil || (resp.ErrorMessage == "" && resp.StopLossOrderRejectTransaction == nil) {
			return res, &APIError{Status: status, Body: string(data)}
		}
		reason := resp.ErrorMessage
		if rej := resp.StopLossOrderRejectTransaction; rej != nil {
			reason = firstNonEmpty(rej.RejectReason, rej.Reason, reason)
		}
		rejected = append(rejected, fmt.Sprintf("trade %s: %s", t.ID, reason))
	}
	res.Updated = len(res.TradeIDs) > 0 && len(rejected) == 0
	if len(rejected) > 0 {
		res.Reason = strings.Join(rejected, "; ")
		if len(res.TradeIDs) > 0 {
			res.Reason = fmt.Sprintf("stop moved on trades %s only; %s", strings.Join(res.TradeIDs, ","), res.Reason)
		}
	}
	return res, nil
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
