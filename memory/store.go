// Package memory is the durable context shared by every cycle: counters,
// per-stage feedback, a bounded analysis history per instrument and the
// append-only trade log.
//
// A Store has a single writer. Every mutation is flushed to disk before the
// method returns.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/fxcrew/internal/atomicfile"
)

const (
	MemoryFile         = "system_memory.json"
	FeedbackFile       = "agent_feedback.json"
	AnalysisFile       = "analysis_history.json"
	TradeLogFile       = "trade_log.jsonl"
	OperatorRequests   = "human_requests.jsonl"
	stageResultsSuffix = "_results.jsonl"
)

type Store struct {
	dir      string
	now      func() time.Time
	log      *zap.Logger
	recorder Recorder

	memory   SystemMemory
	feedback map[string]Feedback
	analysis analysisFile
}

type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// WithRecorder mirrors every recorded trade to r.
func WithRecorder(r Recorder) Option { return func(s *Store) { s.recorder = r } }

// Open loads the store from dir, creating it if needed. A file that cannot
// be decoded is replaced by a fresh default structure and a warning logged.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir: dir,
		now: time.Now,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("memory")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create %s: %w", dir, err)
	}

	now := s.now().UTC()

	s.memory = defaultMemory(now)
	if err := s.loadOrInit(MemoryFile, &s.memory, func() { s.memory = defaultMemory(now) }); err != nil {
		return nil, err
	}
	if s.memory.Context == nil {
		s.memory.Context = map[string]any{}
	}

	s.feedback = map[string]Feedback{}
	if err := s.loadOrInit(FeedbackFile, &s.feedback, func() { s.feedback = map[string]Feedback{} }); err != nil {
		return nil, err
	}
	if s.feedback == nil {
		s.feedback = map[string]Feedback{}
	}

	s.analysis = analysisFile{LastUpdated: now, Pairs: map[string][]Analysis{}}
	if err := s.loadOrInit(AnalysisFile, &s.analysis, func() {
		s.analysis = analysisFile{LastUpdated: now, Pairs: map[string][]Analysis{}}
	}); err != nil {
		return nil, err
	}
	if s.analysis.Pairs == nil {
		s.analysis.Pairs = map[string][]Analysis{}
	}

	return s, nil
}

// loadOrInit decodes name into v. When the file is missing or corrupt, reset
// restores the default value and it is written back.
func (s *Store) loadOrInit(name string, v any, reset func()) error {
	path := s.path(name)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s.writeJSON(name, v)
	case err != nil:
		s.log.Warn("state file unreadable, reinitialising", zap.String("file", name), zap.Error(err))
	default:
		if err = json.Unmarshal(data, v); err == nil {
			return nil
		}
		s.log.Warn("state file corrupt, reinitialising", zap.String("file", name), zap.Error(err))
	}
	reset()
	return s.writeJSON(name, v)
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: encode %s: %w", name, err)
	}
	if err := atomicfile.WriteFile(s.path(name), data, 0o644); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	return nil
}

func (s *Store) saveMemory() error {
	s.memory.LastUpdated = s.now().UTC()
	return s.writeJSON(MemoryFile, &s.memory)
}

func (s *Store) saveAnalysis() error {
	s.analysis.LastUpdated = s.now().UTC()
	return s.writeJSON(AnalysisFile, &s.analysis)
}

// UpdateAnalysisHistory appends a snapshot for instrument, keeping only the
// newest MaxAnalysesPerInstrument in insertion order.
func (s *Store) UpdateAnalysisHistory(instrument string, a Analysis) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now().UTC()
	}
	h := append(s.analysis.Pairs[instrument], a)
	if n := len(h); n > MaxAnalysesPerInstrument {
		h = append([]Analysis(nil), h[n-MaxAnalysesPerInstrument:]...)
	}
	s.analysis.Pairs[instrument] = h
	return s.saveAnalysis()
}

// UpdateFeedback replaces the stored note for stage.
func (s *Store) UpdateFeedback(stage string, content json.RawMessage) error {
	s.feedback[stage] = Feedback{
		Timestamp: s.now().UTC(),
		Content:   append(json.RawMessage(nil), content...),
	}
	return s.writeJSON(FeedbackFile, s.feedback)
}

// UpdateMemory sets one key. The tunable numeric fields are addressed by
// their JSON names; any other key is stored under Context.
func (s *Store) UpdateMemory(key string, value any) error {
	var target *float64
	switch key {
	case "risk_multiplier":
		target = &s.memory.RiskMultiplier
	case "base_risk":
		target = &s.memory.BaseRisk
	case "daily_return":
		target = &s.memory.DailyReturn
	case "daily_return_target":
		target = &s.memory.DailyReturnTarget
	case "trade_count", "win_count", "loss_count", "created", "last_updated":
		return fmt.Errorf("memory: %s is maintained by the store", key)
	}

	if target != nil {
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("memory: %s needs a number, got %T", key, value)
		}
		*target = f
	} else {
		s.memory.Context[key] = value
	}
	return s.saveMemory()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Memory returns a copy of the counter record.
func (s *Store) Memory() SystemMemory {
	m := s.memory
	m.Context = make(map[string]any, len(s.memory.Context))
	for k, v := range s.memory.Context {
		m.Context[k] = v
	}
	return m
}

func (s *Store) AllFeedback() map[string]Feedback {
	out := make(map[string]Feedback, len(s.feedback))
	for k, v := range s.feedback {
		out[k] = v
	}
	return out
}

// AnalysisHistory returns instrument's snapshots, oldest first.
func (s *Store) AnalysisHistory(instrument string) []Analysis {
	return append([]Analysis(nil), s.analysis.Pairs[instrument]...)
}

func (s *Store) AllAnalysis() map[string][]Analysis {
	out := make(map[string][]Analysis, len(s.analysis.Pairs))
	for k, v := range s.analysis.Pairs {
		out[k] = append([]Analysis(nil), v...)
	}
	return out
}
