package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/fxcrew/memory"
)

const tradeColumns = `id, time, instrument, action_type, direction, units, entry_price, stop_loss,
	take_profit, new_level, risk_percent, risk_reward, pattern, outcome, deal_id, reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (memory.TradeLogEntry, error) {
	var e memory.TradeLogEntry
	err := s.Scan(
		&e.ID, &e.Timestamp, &e.Instrument, &e.ActionType, &e.Direction, &e.Units,
		&e.EntryPrice, &e.StopLoss, &e.TakeProfit, &e.NewLevel, &e.RiskPercent,
		&e.RiskReward, &e.Pattern, &e.Outcome, &e.DealID, &e.Reason,
	)
	e.Epic = e.Instrument
	return e, err
}

// GetTrade returns a single entry by ID.
func (j *SQLite) GetTrade(id string) (memory.TradeLogEntry, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	e, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.TradeLogEntry{}, fmt.Errorf("trade %q not found", id)
	}
	return e, err
}

// ListTradesBetween returns entries with time in [start, end), oldest first.
func (j *SQLite) ListTradesBetween(start, end time.Time) ([]memory.TradeLogEntry, error) {
	rows, err := j.db.Query(`SELECT `+tradeColumns+` FROM trades
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.TradeLogEntry
	for rows.Next() {
		e, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FirstBalanceOn returns the earliest recorded balance on the UTC date of
// day. ok is false when nothing was recorded that day.
func (j *SQLite) FirstBalanceOn(day time.Time) (balance float64, ok bool, err error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	row := j.db.QueryRow(`SELECT balance FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC LIMIT 1`, start, start.AddDate(0, 0, 1))
	err = row.Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

type OutcomeCount struct {
	ActionType string
	Outcome    string
	Count      int
}

type InstrumentStats struct {
	Instrument string
	Actions    int
	Executed   int
	Failed     int
	Errors     int
}

type Stats struct {
	Total       int
	ByOutcome   []OutcomeCount
	Instruments []InstrumentStats
}

// Stats aggregates the whole journal.
func (j *SQLite) Stats() (Stats, error) {
	var st Stats
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM trades`).Scan(&st.Total); err != nil {
		return st, err
	}

	rows, err := j.db.Query(`SELECT action_type, outcome, COUNT(*) FROM trades
		GROUP BY action_type, outcome
		ORDER BY action_type, outcome`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var oc OutcomeCount
		if err := rows.Scan(&oc.ActionType, &oc.Outcome, &oc.Count); err != nil {
			rows.Close()
			return st, err
		}
		st.ByOutcome = append(st.ByOutcome, oc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	rows, err = j.db.Query(`SELECT instrument, COUNT(*),
		SUM(CASE WHEN outcome IN ('EXECUTED','CLOSED','UPDATED') THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'FAILED' THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'ERROR' THEN 1 ELSE 0 END)
		FROM trades
		GROUP BY instrument
		ORDER BY instrument`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var is InstrumentStats
		if err := rows.Scan(&is.Instrument, &is.Actions, &is.Executed, &is.Failed, &is.Errors); err != nil {
			return st, err
		}
		st.Instruments = append(st.Instruments, is)
	}
	return st, rows.Err()
}
