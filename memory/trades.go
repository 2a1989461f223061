package memory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/rustyeddy/fxcrew/id"
	"github.com/rustyeddy/fxcrew/internal/atomicfile"
)

// RecordTrade appends e to the trade log and updates the counters. A close
// also stamps its outcome on the newest analysis for the instrument.
func (s *Store) RecordTrade(e TradeLogEntry) error {
	now := s.now().UTC()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.ID == "" {
		e.ID = id.NewAt(e.Timestamp)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("memory: encode trade: %w", err)
	}
	if err := atomicfile.AppendLine(s.path(TradeLogFile), line); err != nil {
		return fmt.Errorf("memory: append trade log: %w", err)
	}

	s.memory.TradeCount++
	switch Classify(e.Outcome) {
	case Win:
		s.memory.WinCount++
	case Loss:
		s.memory.LossCount++
	}

	if e.IsClose() {
		if h := s.analysis.Pairs[e.InstrumentKey()]; len(h) > 0 {
			h[len(h)-1].Outcome = e.Outcome
			if err := s.saveAnalysis(); err != nil {
				return err
			}
		}
	}

	if err := s.saveMemory(); err != nil {
		return err
	}

	if s.recorder != nil {
		if err := s.recorder.RecordTrade(e); err != nil {
			s.log.Warn("trade mirror failed", zap.String("id", e.ID), zap.Error(err))
		}
	}
	return nil
}

// AllTrades returns the whole trade log, newest first. Lines that do not
// decode are skipped.
func (s *Store) AllTrades() ([]TradeLogEntry, error) {
	f, err := os.Open(s.path(TradeLogFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: open trade log: %w", err)
	}
	defer f.Close()

	var trades []TradeLogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	skipped := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e TradeLogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			skipped++
			continue
		}
		trades = append(trades, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("memory: read trade log: %w", err)
	}
	if skipped > 0 {
		s.log.Warn("skipped malformed trade log lines", zap.Int("count", skipped))
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.After(trades[j].Timestamp)
	})
	return trades, nil
}

// RecentTrades returns at most n trades, newest first.
func (s *Store) RecentTrades(n int) ([]TradeLogEntry, error) {
	trades, err := s.AllTrades()
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(trades) > n {
		trades = trades[:n]
	}
	return trades, nil
}

// PerformanceMetrics summarises trades whose outcome is a win or a loss.
func (s *Store) PerformanceMetrics() (Metrics, error) {
	trades, err := s.AllTrades()
	if err != nil {
		return Metrics{}, err
	}
	return computeMetrics(trades), nil
}

func computeMetrics(trades []TradeLogEntry) Metrics {
	var (
		m                   Metrics
		returns, risks, rrs []float64
		haveWin, haveLoss   bool
	)
	for _, t := range trades {
		result := Classify(t.Outcome)
		if result == Indeterminate {
			continue
		}
		m.CompletedTrades++

		if t.ReturnPercent != nil {
			r := *t.ReturnPercent
			returns = append(returns, r)
			switch {
			case result == Win && (!haveWin || r > m.LargestWin):
				m.LargestWin, haveWin = r, true
			case result == Loss && (!haveLoss || r < m.LargestLoss):
				m.LargestLoss, haveLoss = r, true
			}
		}
		if t.RiskPercent > 0 {
			risks = append(risks, t.RiskPercent)
		}
		if t.RiskReward > 0 {
			rrs = append(rrs, t.RiskReward)
		}
	}
	m.AvgReturnPerTrade = mean(returns)
	m.AvgRiskPerTrade = mean(risks)
	m.AvgRiskReward = mean(rrs)
	return m
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
