package achievements

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Kind tags the two shapes an achievement entry arrives in.
type Kind uint8

const (
	KindID     Kind = iota + 1 // bare string or number
	KindRecord                 // object carrying an id and optional timestamps
)

// Record is one raw achievement entry. Records decode from any JSON value and
// re-encode to their original shape.
type Record struct {
	Kind    Kind
	ID      string
	At      time.Time // zero when absent or unparseable
	HasTime bool

	raw json.RawMessage
}

// ID builds a bare-id record.
func ID(id string) Record { return Record{Kind: KindID, ID: id} }

// Unlocked builds an object record with an unlock time.
func Unlocked(id string, at time.Time) Record {
	raw, _ := json.Marshal(map[string]any{"id": id, "unlockedAt": at.UTC().Format(time.RFC3339)})
	return Record{Kind: KindRecord, ID: id, At: at, HasTime: !at.IsZero(), raw: raw}
}

// Fields probed in order for the id of an object record.
var idFields = []string{"id", "key", "code", "name"}

// Fields probed in order for the timestamp of an object record.
var timeFields = []string{"unlockedAt", "addedAt", "when"}

// UnmarshalJSON never fails on well-formed JSON; unknown shapes stringify.
func (r *Record) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*r = Record{}
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		r.Kind, r.ID = KindID, s
	case 'n', 'f':
		// null and false carry no id and are dropped by Normalize.
		r.Kind = KindID
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		r.Kind = KindRecord
		r.raw = append(json.RawMessage(nil), b...)
		r.ID = objectID(obj, b)
		r.At, r.HasTime = objectTime(obj)
	default:
		if b[0] == '-' || (b[0] >= '0' && b[0] <= '9') {
			var n json.Number
			if err := json.Unmarshal(b, &n); err == nil {
				r.Kind, r.ID = KindID, n.String()
				return nil
			}
		}
		r.Kind = KindID
		r.raw = append(json.RawMessage(nil), b...)
		r.ID = compact(b)
	}
	return nil
}

// MarshalJSON writes the record back in the shape it arrived in.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}
	if r.Kind == KindRecord {
		m := map[string]any{"id": r.ID}
		if r.HasTime {
			m["unlockedAt"] = r.At.UTC().Format(time.RFC3339)
		}
		return json.Marshal(m)
	}
	return json.Marshal(r.ID)
}

func objectID(obj map[string]json.RawMessage, raw []byte) string {
	for _, f := range idFields {
		v, ok := obj[f]
		if !ok || string(bytes.TrimSpace(v)) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		return compact(v)
	}
	// Stable serialization: map keys are sorted on re-marshal.
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err == nil {
		if b, err := json.Marshal(generic); err == nil {
			return string(b)
		}
	}
	return compact(raw)
}

func objectTime(obj map[string]json.RawMessage) (time.Time, bool) {
	for _, f := range timeFields {
		v, ok := obj[f]
		if !ok {
			continue
		}
		if t, ok := parseTime(v); ok {
			return t, true
		}
		if !falsy(v) {
			// Present but unparseable: counts as epoch zero, stop probing.
			return time.Time{}, false
		}
	}
	return time.Time{}, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(v json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC(), true
		}
		return time.Time{}, false
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil && n > 0 {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	return time.Time{}, false
}

func falsy(v json.RawMessage) bool {
	switch strings.TrimSpace(string(v)) {
	case "", "null", "false", "0", `""`:
		return true
	}
	return false
}

func compact(b []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return string(b)
	}
	return buf.String()
}
