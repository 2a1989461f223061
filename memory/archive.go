package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rustyeddy/fxcrew/internal/atomicfile"
)

type operatorRequest struct {
	Timestamp time.Time       `json:"timestamp"`
	Requests  json.RawMessage `json:"requests"`
}

// RecordOperatorRequests appends requests flagged for a human to the
// operator channel. Empty input is ignored.
func (s *Store) RecordOperatorRequests(requests json.RawMessage) error {
	if isEmptyJSON(requests) {
		return nil
	}
	line, err := json.Marshal(operatorRequest{Timestamp: s.now().UTC(), Requests: requests})
	if err != nil {
		return fmt.Errorf("memory: encode operator request: %w", err)
	}
	return atomicfile.AppendLine(s.path(OperatorRequests), line)
}

type stageResult struct {
	Timestamp time.Time `json:"timestamp"`
	Result    any       `json:"result"`
}

// ArchiveStageResult appends a stage's decoded output to <stage>_results.jsonl.
func (s *Store) ArchiveStageResult(stage string, result any) error {
	line, err := json.Marshal(stageResult{Timestamp: s.now().UTC(), Result: result})
	if err != nil {
		return fmt.Errorf("memory: encode %s result: %w", stage, err)
	}
	return atomicfile.AppendLine(s.path(stage+stageResultsSuffix), line)
}

func isEmptyJSON(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "null", "[]", "{}", `""`:
		return true
	}
	return false
}
