// Package journal mirrors the trade log into SQLite so it can be queried,
// and records an account snapshot every cycle.
package journal

import (
	"time"

	"github.com/rustyeddy/fxcrew/memory"
)

type EquitySnapshot struct {
	Time            time.Time
	Balance         float64
	NAV             float64
	MarginUsed      float64
	MarginAvailable float64
	UnrealizedPL    float64
	OpenPositions   int
}

// Journal is satisfied by *SQLite. memory.Store accepts it as a Recorder.
type Journal interface {
	memory.Recorder
	RecordEquity(EquitySnapshot) error
	Close() error
}

var _ Journal = (*SQLite)(nil)
