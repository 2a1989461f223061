// Package payload turns untrusted reasoning-service output into values the
// pipeline can do arithmetic on. Numeric fields decode into Field, which
// records what actually arrived instead of failing the whole document.
package payload

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// DefaultRiskReward is substituted when a risk/reward value cannot be read.
const DefaultRiskReward = 2.0

type Kind int

const (
	Missing Kind = iota
	Number
	Ratio
	Invalid
)

func (k Kind) String() string {
	switch k {
	case Missing:
		return "missing"
	case Number:
		return "number"
	case Ratio:
		return "ratio"
	default:
		return "invalid"
	}
}

// Field is a numeric value as the service sent it: a number, a "risk:reward"
// ratio string, something unreadable, or nothing at all.
type Field struct {
	kind  Kind
	value float64
	raw   string
}

// Num builds a Number field.
func Num(v float64) Field {
	return Field{kind: Number, value: v, raw: strconv.FormatFloat(v, 'f', -1, 64)}
}

// Parse classifies a string the same way a JSON string value would be.
func Parse(s string) Field {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return Field{kind: Missing, raw: raw}
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if !finite(v) {
			return Field{kind: Invalid, raw: raw}
		}
		return Field{kind: Number, value: v, raw: raw}
	}
	if strings.Contains(s, ":") {
		if v, ok := ParseRatio(s); ok {
			return Field{kind: Ratio, value: v, raw: raw}
		}
	}
	return Field{kind: Invalid, raw: raw}
}

// ParseRatio reads "risk:reward" as reward divided by risk, so "1:3" is 3.
func ParseRatio(s string) (float64, bool) {
	left, right, ok := strings.Cut(s, ":")
	if !ok || strings.Contains(right, ":") {
		return 0, false
	}
	risk, err := strconv.ParseFloat(strings.TrimSpace(left), 64)
	if err != nil || risk == 0 || !finite(risk) {
		return 0, false
	}
	reward, err := strconv.ParseFloat(strings.TrimSpace(right), 64)
	if err != nil || !finite(reward) {
		return 0, false
	}
	if v := reward / risk; finite(v) {
		return v, true
	}
	return 0, false
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func (f Field) Kind() Kind { return f.kind }

// Present reports whether the field holds a usable number.
func (f Field) Present() bool { return f.kind == Number || f.kind == Ratio }

// Value returns the number and whether it is usable.
func (f Field) Value() (float64, bool) { return f.value, f.Present() }

// Float returns the number, or def when the field is missing or unreadable.
func (f Field) Float(def float64) float64 {
	if f.Present() {
		return f.value
	}
	return def
}

// Raw is the original text, useful when logging a rejected value.
func (f Field) Raw() string { return f.raw }

// UnmarshalJSON never fails: bad input becomes an Invalid field.
func (f *Field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = Field{kind: Missing}
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*f = Field{kind: Invalid, raw: string(b)}
			return nil
		}
		*f = Parse(s)
	default:
		v, err := strconv.ParseFloat(string(b), 64)
		if err != nil || !finite(v) {
			*f = Field{kind: Invalid, raw: string(b)}
			return nil
		}
		*f = Field{kind: Number, value: v, raw: string(b)}
	}
	return nil
}

func (f Field) MarshalJSON() ([]byte, error) {
	switch f.kind {
	case Number, Ratio:
		return json.Marshal(f.value)
	case Invalid:
		return json.Marshal(f.raw)
	default:
		return []byte("null"), nil
	}
}

// RiskReward coerces a risk/reward field, falling back to DefaultRiskReward.
func RiskReward(f Field) float64 {
	return f.Float(DefaultRiskReward)
}
