package memory

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type ticker struct{ t time.Time }

func (c *ticker) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func openStore(t *testing.T, dir string, opts ...Option) *Store {
	t.Helper()
	clk := &ticker{t: t0}
	s, err := Open(dir, append([]Option{WithClock(clk.now)}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestOpenWritesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openStore(t, dir)

	m := s.Memory()
	assert.Equal(t, 0, m.TradeCount)
	assert.Equal(t, 1.0, m.RiskMultiplier)
	assert.Equal(t, 1.0, m.BaseRisk)
	assert.Equal(t, 10.0, m.DailyReturnTarget)
	assert.NotNil(t, m.Context)

	for _, f := range []string{MemoryFile, FeedbackFile, AnalysisFile} {
		_, err := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, err, f)
	}
}

func TestCorruptFilesAreReinitialised(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, f := range []string{MemoryFile, FeedbackFile, AnalysisFile} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("{broken"), 0o644))
	}

	core, logs := observer.New(zap.WarnLevel)
	s := openStore(t, dir, WithLogger(zap.New(core)))

	assert.Equal(t, 1.0, s.Memory().RiskMultiplier)
	assert.Empty(t, s.AllFeedback())
	assert.Empty(t, s.AllAnalysis())
	assert.Equal(t, 3, logs.FilterMessage("state file corrupt, reinitialising").Len())

	raw, err := os.ReadFile(filepath.Join(dir, MemoryFile))
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))
}

func TestRecordTradeCounters(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())
	outcomes := []string{"WIN", "profit_taken", "loss", "STOPPED_OUT", "EXECUTED", "FAILED", "ERROR", ""}
	for _, o := range outcomes {
		require.NoError(t, s.RecordTrade(TradeLogEntry{Epic: "EUR_USD", Direction: "BUY", Outcome: o}))
	}

	m := s.Memory()
	assert.Equal(t, len(outcomes), m.TradeCount)
	assert.Equal(t, 2, m.WinCount)
	assert.Equal(t, 2, m.LossCount)

	indeterminate := 0
	for _, o := range outcomes {
		if Classify(o) == Indeterminate {
			indeterminate++
		}
	}
	assert.Equal(t, m.TradeCount, m.WinCount+m.LossCount+indeterminate)
}

func TestRecordTradeAssignsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())
	require.NoError(t, s.RecordTrade(TradeLogEntry{Epic: "EUR_USD", Outcome: OutcomeExecuted}))

	trades, err := s.AllTrades()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Len(t, trades[0].ID, 26)
	assert.False(t, trades[0].Timestamp.IsZero())
}

func TestCloseAnnotatesLatestAnalysis(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())
	require.NoError(t, s.UpdateAnalysisHistory("GBP_USD", Analysis{Direction: "BUY", Pattern: "flag"}))
	require.NoError(t, s.UpdateAnalysisHistory("GBP_USD", Analysis{Direction: "SELL", Pattern: "wedge"}))

	require.NoError(t, s.RecordTrade(TradeLogEntry{
		Epic: "GBP_USD", ActionType: ActionClose, Direction: ActionClose, Outcome: OutcomeClosed,
	}))

	h := s.AnalysisHistory("GBP_USD")
	require.Len(t, h, 2)
	assert.Empty(t, h[0].Outcome)
	assert.Equal(t, OutcomeClosed, h[1].Outcome)
}

func TestCloseWithoutHistoryIsFine(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())
	require.NoError(t, s.RecordTrade(TradeLogEntry{Epic: "USD_CHF", ActionType: ActionClose, Outcome: OutcomeFailed}))
	assert.Empty(t, s.AnalysisHistory("USD_CHF"))
}

func TestAnalysisHistoryKeepsNewestTen(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())
	for i := 0; i < 25; i++ {
		require.NoError(t, s.UpdateAnalysisHistory("EUR_USD", Analysis{Direction: "BUY", EntryPrice: float64(i)}))
		assert.LessOrEqual(t, len(s.AnalysisHistory("EUR_USD")), MaxAnalysesPerInstrument)
	}

	h := s.AnalysisHistory("EUR_USD")
	require.Len(t, h, MaxAnalysesPerInstrument)
	for i, a := range h {
		assert.Equal(t, float64(15+i), a.EntryPrice)
		if i > 0 {
			assert.True(t, a.Timestamp.After(h[i-1].Timestamp))
		}
	}
}

func TestFeedbackOverwrites(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())
	require.NoError(t, s.UpdateFeedback("plan", json.RawMessage(`"first"`)))
	require.NoError(t, s.UpdateFeedback("plan", json.RawMessage(`{"note":"second"}`)))
	require.NoError(t, s.UpdateFeedback("decision", json.RawMessage(`"tighter stops"`)))

	fb := s.AllFeedback()
	require.Len(t, fb, 2)
	assert.JSONEq(t, `{"note":"second"}`, string(fb["plan"].Content))
}

func TestUpdateMemory(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())
	require.NoError(t, s.UpdateMemory("risk_multiplier", 0.5))
	require.NoError(t, s.UpdateMemory("daily_return_target", 12))
	require.NoError(t, s.UpdateMemory("market_regime", "ranging"))

	err := s.UpdateMemory("base_risk", "lots")
	assert.Error(t, err)
	assert.Error(t, s.UpdateMemory("trade_count", 3))

	m := s.Memory()
	assert.Equal(t, 0.5, m.RiskMultiplier)
	assert.Equal(t, 12.0, m.DailyReturnTarget)
	assert.Equal(t, "ranging", m.Context["market_regime"])
}

func TestReloadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openStore(t, dir)
	require.NoError(t, s.UpdateMemory("daily_return", 1.25))
	require.NoError(t, s.UpdateMemory("note", "hello"))
	require.NoError(t, s.UpdateFeedback("proposal", json.RawMessage(`{"a":[1,2]}`)))
	require.NoError(t, s.UpdateAnalysisHistory("USD_JPY", Analysis{Direction: "SELL", EntryPrice: 151.2, StopLoss: 151.7, RiskReward: 2}))
	require.NoError(t, s.RecordTrade(TradeLogEntry{Epic: "USD_JPY", Direction: "SELL", Outcome: "WIN"}))

	r := openStore(t, dir)

	before, after := s.Memory(), r.Memory()
	assert.True(t, before.LastUpdated.Equal(after.LastUpdated))
	before.LastUpdated, after.LastUpdated = time.Time{}, time.Time{}
	assert.True(t, before.Created.Equal(after.Created))
	before.Created, after.Created = time.Time{}, time.Time{}
	assert.Equal(t, before, after)

	assert.Equal(t, s.AllAnalysis(), r.AllAnalysis())

	fb := r.AllFeedback()
	require.Contains(t, fb, "proposal")
	assert.JSONEq(t, `{"a":[1,2]}`, string(fb["proposal"].Content))
	assert.True(t, s.AllFeedback()["proposal"].Timestamp.Equal(fb["proposal"].Timestamp))
}

func TestTradesNewestFirstAndMalformedSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openStore(t, dir)
	for i, epic := range []string{"EUR_USD", "GBP_USD", "AUD_USD"} {
		require.NoError(t, s.RecordTrade(TradeLogEntry{
			Epic:      epic,
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Outcome:   OutcomeExecuted,
		}))
	}

	f, err := os.OpenFile(filepath.Join(dir, TradeLogFile), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	all, err := s.AllTrades()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "AUD_USD", all[0].Epic)
	assert.Equal(t, "EUR_USD", all[2].Epic)

	recent, err := s.RecentTrades(2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
	assert.Equal(t, "GBP_USD", recent[1].Epic)
}

func TestAllTradesEmpty(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())
	trades, err := s.AllTrades()
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestPerformanceMetrics(t *testing.T) {
	t.Parallel()

	ret := func(v float64) *float64 { return &v }
	s := openStore(t, t.TempDir())
	entries := []TradeLogEntry{
		{Epic: "EUR_USD", Outcome: "WIN", ReturnPercent: ret(3), RiskPercent: 1, RiskReward: 3},
		{Epic: "EUR_USD", Outcome: "PROFIT", ReturnPercent: ret(5), RiskPercent: 2, RiskReward: 2},
		{Epic: "GBP_USD", Outcome: "LOSS", ReturnPercent: ret(-1), RiskPercent: 1, RiskReward: 2},
		{Epic: "GBP_USD", Outcome: "STOPPED", ReturnPercent: ret(-2), RiskPercent: 2, RiskReward: 1},
		{Epic: "USD_JPY", Outcome: OutcomeExecuted, ReturnPercent: ret(100), RiskPercent: 5},
	}
	for _, e := range entries {
		require.NoError(t, s.RecordTrade(e))
	}

	m, err := s.PerformanceMetrics()
	require.NoError(t, err)
	assert.Equal(t, 4, m.CompletedTrades)
	assert.InDelta(t, 1.25, m.AvgReturnPerTrade, 1e-9)
	assert.InDelta(t, 1.5, m.AvgRiskPerTrade, 1e-9)
	assert.InDelta(t, 2.0, m.AvgRiskReward, 1e-9)
	assert.Equal(t, 5.0, m.LargestWin)
	assert.Equal(t, -2.0, m.LargestLoss)
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) RecordTrade(TradeLogEntry) error {
	f.calls++
	return errors.New("disk full")
}

func TestRecorderFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	rec := &failingRecorder{}
	s := openStore(t, t.TempDir(), WithRecorder(rec))
	require.NoError(t, s.RecordTrade(TradeLogEntry{Epic: "EUR_USD", Outcome: OutcomeExecuted}))
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 1, s.Memory().TradeCount)
}

func TestOperatorRequestsAndStageArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openStore(t, dir)
	require.NoError(t, s.RecordOperatorRequests(json.RawMessage(`["raise budget"]`)))
	require.NoError(t, s.RecordOperatorRequests(json.RawMessage(`[]`)))
	require.NoError(t, s.ArchiveStageResult("proposal", map[string]any{"opportunities": []string{"EUR_USD"}}))

	raw, err := os.ReadFile(filepath.Join(dir, OperatorRequests))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"requests":["raise budget"]`)

	raw, err = os.ReadFile(filepath.Join(dir, "proposal_results.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"opportunities":["EUR_USD"]`)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Win, Classify("win"))
	assert.Equal(t, Win, Classify("TAKE_PROFIT"))
	assert.Equal(t, Loss, Classify("Loss"))
	assert.Equal(t, Loss, Classify("stopped out"))
	assert.Equal(t, Indeterminate, Classify(OutcomeClosed))
	assert.Equal(t, Indeterminate, Classify(""))
}
