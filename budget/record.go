package budget

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// record is the on-disk form. Money is written as a bare JSON number using
// the decimal's exact text.
type record struct {
	Date      string       `json:"date"`
	TotalCost json.Number  `json:"total_cost"`
	Calls     []callRecord `json:"calls"`
}

type callRecord struct {
	Stage     string      `json:"stage"`
	TokensIn  int         `json:"tokens_in"`
	TokensOut int         `json:"tokens_out"`
	Cost      json.Number `json:"cost"`
	Timestamp time.Time   `json:"timestamp"`
}

func newRecord(l Ledger) record {
	r := record{
		Date:      l.Date,
		TotalCost: json.Number(l.TotalCost.String()),
		Calls:     make([]callRecord, 0, len(l.Calls)),
	}
	for _, c := range l.Calls {
		r.Calls = append(r.Calls, callRecord{
			Stage:     c.Stage,
			TokensIn:  c.TokensIn,
			TokensOut: c.TokensOut,
			Cost:      json.Number(c.Cost.String()),
			Timestamp: c.Timestamp,
		})
	}
	return r
}

// ledger rebuilds a Ledger and recomputes the total from the calls, so a
// hand-edited total_cost cannot drift from the call list.
func (r record) ledger() (Ledger, error) {
	l := Ledger{Date: r.Date, TotalCost: decimal.Zero}
	for i, c := range r.Calls {
		cost, err := decimal.NewFromString(c.Cost.String())
		if err != nil {
			return Ledger{}, fmt.Errorf("call %d cost: %w", i, err)
		}
		l.Calls = append(l.Calls, Call{
			Stage:     c.Stage,
			TokensIn:  c.TokensIn,
			TokensOut: c.TokensOut,
			Cost:      cost,
			Timestamp: c.Timestamp,
		})
		l.TotalCost = l.TotalCost.Add(cost)
	}
	return l, nil
}
