package payload

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Text is a string field that tolerates whatever JSON value arrives: other
// scalars are rendered as text and objects or arrays are kept verbatim.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*t = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*t = Text(b)
			return nil
		}
		*t = Text(s)
	default:
		*t = Text(b)
	}
	return nil
}

func (t Text) String() string { return string(t) }

// Fields is a list of numeric fields. A single scalar is accepted as a
// one-element list; anything else decodes to an empty list.
type Fields []Field

func (fs *Fields) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*fs = nil
		return nil
	}
	if b[0] != '[' {
		var f Field
		_ = f.UnmarshalJSON(b)
		*fs = Fields{f}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		*fs = nil
		return nil
	}
	out := make(Fields, 0, len(raw))
	for _, r := range raw {
		var f Field
		_ = f.UnmarshalJSON(r)
		out = append(out, f)
	}
	*fs = out
	return nil
}

// First returns the first usable value.
func (fs Fields) First() (float64, bool) {
	for _, f := range fs {
		if v, ok := f.Value(); ok {
			return v, true
		}
	}
	return 0, false
}

// Format renders a float the way it is written to logs and trade entries.
func Format(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
