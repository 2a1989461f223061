// Package budget enforces a daily spend ceiling on reasoning-service calls.
//
// The ledger is a JSONL file with one object per UTC date. Only today's line
// is ever rewritten; earlier days are carried over byte for byte.
package budget

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/fxcrew/internal/atomicfile"
)

const (
	DefaultCeiling = 20.0
	dateLayout     = "2006-01-02"
)

type Call struct {
	Stage     string
	TokensIn  int
	TokensOut int
	Cost      decimal.Decimal
	Timestamp time.Time
}

// Ledger is the spend record for one date. TotalCost always equals the sum
// of Calls[].Cost.
type Ledger struct {
	Date      string
	TotalCost decimal.Decimal
	Calls     []Call
}

type Status struct {
	Date        string  `json:"date"`
	Ceiling     float64 `json:"total_budget"`
	Spent       float64 `json:"spent"`
	Remaining   float64 `json:"remaining"`
	PercentUsed float64 `json:"percent_used"`
}

type Controller struct {
	path    string
	ceiling decimal.Decimal
	now     func() time.Time
	log     *zap.Logger
	ledger  Ledger
}

type Option func(*Controller)

// WithClock replaces time.Now; the controller always converts to UTC.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Open loads today's ledger from path. A missing or unreadable file yields
// an empty ledger; Open never fails.
func Open(path string, dailyCeiling float64, opts ...Option) *Controller {
	c := &Controller{
		path:    path,
		ceiling: decimal.NewFromFloat(dailyCeiling),
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("budget")
	c.load(c.today())
	return c
}

func (c *Controller) today() string {
	return c.now().UTC().Format(dateLayout)
}

// rollover starts a fresh ledger when the UTC date has changed since the
// last call.
func (c *Controller) rollover() {
	if today := c.today(); today != c.ledger.Date {
		c.log.Info("budget date rolled over", zap.String("from", c.ledger.Date), zap.String("to", today))
		c.load(today)
	}
}

func (c *Controller) load(date string) {
	c.ledger = Ledger{Date: date, TotalCost: decimal.Zero}

	lines, err := readLines(c.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("budget ledger unreadable, starting empty", zap.String("path", c.path), zap.Error(err))
		}
		return
	}
	for _, line := range lines {
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			c.log.Warn("skipping malformed ledger line", zap.Error(err))
			continue
		}
		if r.Date != date {
			continue
		}
		l, err := r.ledger()
		if err != nil {
			c.log.Warn("skipping malformed ledger entry", zap.String("date", r.Date), zap.Error(err))
			continue
		}
		c.ledger = l
	}
}

// CanSpend reports whether estimated can be spent without crossing the
// ceiling. It does not record anything.
func (c *Controller) CanSpend(estimated float64) bool {
	c.rollover()
	return c.ledger.TotalCost.Add(decimal.NewFromFloat(estimated)).LessThanOrEqual(c.ceiling)
}

// LogUsage records a completed call and rewrites the ledger file. It returns
// the cost it recorded.
func (c *Controller) LogUsage(stage string, tokensIn, tokensOut int, cost float64) (float64, error) {
	if cost < 0 {
		return 0, fmt.Errorf("budget: negative cost %v for stage %s", cost, stage)
	}
	c.rollover()

	d := decimal.NewFromFloat(cost)
	c.ledger.Calls = append(c.ledger.Calls, Call{
		Stage:     stage,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Cost:      d,
		Timestamp: c.now().UTC(),
	})
	c.ledger.TotalCost = c.ledger.TotalCost.Add(d)

	if err := c.persist(); err != nil {
		return cost, err
	}
	c.log.Debug("usage logged",
		zap.String("stage", stage),
		zap.Int("tokens_in", tokensIn),
		zap.Int("tokens_out", tokensOut),
		zap.String("cost", d.String()),
		zap.String("total", c.ledger.TotalCost.String()),
	)
	return cost, nil
}

func (c *Controller) Status() Status {
	c.rollover()
	spent := c.ledger.TotalCost
	s := Status{
		Date:      c.ledger.Date,
		Ceiling:   c.ceiling.InexactFloat64(),
		Spent:     spent.InexactFloat64(),
		Remaining: c.ceiling.Sub(spent).InexactFloat64(),
	}
	if c.ceiling.IsPositive() {
		s.PercentUsed = spent.Div(c.ceiling).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	return s
}

// Ledger returns a copy of today's ledger.
func (c *Controller) Ledger() Ledger {
	c.rollover()
	l := c.ledger
	l.Calls = append([]Call(nil), c.ledger.Calls...)
	return l
}

func (c *Controller) persist() error {
	var buf bytes.Buffer

	lines, err := readLines(c.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read ledger: %w", err)
	}
	for _, line := range lines {
		var r struct {
			Date string `json:"date"`
		}
		// Unreadable lines are copied through untouched.
		if json.Unmarshal(line, &r) == nil && r.Date == c.ledger.Date {
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	today, err := json.Marshal(newRecord(c.ledger))
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	buf.Write(today)
	buf.WriteByte('\n')

	if err := atomicfile.WriteFile(c.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	return lines, sc.Err()
}
