// Package record models store documents as typed field maps and declares
// which fields of each entity kind are sensitive.
package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the closed set of value types a field may hold.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindTime
)

// Value is one field value: a string, a timestamp or null. The closed
// union replaces the loose "anything JSON" shapes of the upstream store
// so field handling stays explicit and testable.
type Value struct {
	kind Kind
	str  string
	ts   time.Time
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Time(t time.Time) Value { return Value{kind: KindTime, ts: t} }

func Null() Value { return Value{kind: KindNull} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string content. Zero value for non-string kinds.
func (v Value) Str() string { return v.str }

// Timestamp returns the time content. Zero value for non-time kinds.
func (v Value) Timestamp() time.Time { return v.ts }

// timestampWrapper is the JSON form of a time value. A bare JSON string
// always decodes as KindString, so timestamps are wrapped to survive the
// round trip unambiguously.
type timestampWrapper struct {
	Timestamp string `json:"$timestamp"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindTime:
		return json.Marshal(timestampWrapper{Timestamp: v.ts.UTC().Format(time.RFC3339Nano)})
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Null()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = String(s)
		return nil
	}
	var w timestampWrapper
	if err := json.Unmarshal(data, &w); err == nil && w.Timestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return fmt.Errorf("parsing timestamp value: %w", err)
		}
		*v = Time(t)
		return nil
	}
	return fmt.Errorf("unsupported field value: %s", data)
}

// Record is one document's fields.
type Record map[string]Value

// Clone returns a shallow copy. Value is immutable, so a new map with the
// same values is a safe working copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
