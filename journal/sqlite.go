package journal

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/fxcrew/memory"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// RecordTrade upserts by entry ID, so replaying the trade log is harmless.
func (j *SQLite) RecordTrade(e memory.TradeLogEntry) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO trades
		(id, time, instrument, action_type, direction, units, entry_price, stop_loss, take_profit,
		 new_level, risk_percent, risk_reward, pattern, outcome, deal_id, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC(), e.InstrumentKey(), e.ActionType, e.Direction, e.Units,
		e.EntryPrice, e.StopLoss, e.TakeProfit, e.NewLevel, e.RiskPercent, e.RiskReward,
		e.Pattern, strings.ToUpper(e.Outcome), e.DealID, e.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, balance, nav, margin_used, margin_available, unrealized_pl, open_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.Balance, e.NAV, e.MarginUsed, e.MarginAvailable, e.UnrealizedPL, e.OpenPositions,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
