package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rustyeddy/fxcrew/memory"
)

var csvHeader = []string{
	"id", "time", "instrument", "action_type", "direction", "units", "entry_price",
	"stop_loss", "take_profit", "risk_percent", "risk_reward", "outcome", "deal_id", "reason",
}

// WriteCSV writes entries with a header row.
func WriteCSV(w io.Writer, entries []memory.TradeLogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		err := cw.Write([]string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.InstrumentKey(),
			e.ActionType,
			e.Direction,
			f(e.Units),
			f(e.EntryPrice),
			f(e.StopLoss),
			f(e.TakeProfit),
			f(e.RiskPercent),
			f(e.RiskReward),
			e.Outcome,
			e.DealID,
			e.Reason,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
