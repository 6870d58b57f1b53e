package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Records are open maps interpreted through their kind's schema. Unknown
// extra fields pass through storage untouched.

// WireTimeLayout is the persisted datetime profile: UTC, second
// precision, trailing Z, no offsets or fractional seconds.
const WireTimeLayout = "2006-01-02T15:04:05"

// NewID allocates a record id: a fresh UUID in hex form.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// EmptyCollection returns a fresh response collection.
func EmptyCollection() map[string]any {
	return map[string]any{"totalItems": 0, "items": []any{}}
}

// ApplyDefaults normalizes the id to a string, assigns a fresh id for
// activity kinds when absent, and initializes response collections.
// Reaction kinds drop response collections entirely.
func ApplyDefaults(k Kind, rec map[string]any) {
	if v, ok := rec["id"]; ok && v != nil {
		if _, isStr := v.(string); !isStr {
			rec["id"] = fmt.Sprint(v)
		}
	}
	switch k {
	case KindActivity:
		if id, _ := rec["id"].(string); id == "" {
			rec["id"] = NewID()
		}
		for _, f := range ResponseFields {
			if _, ok := rec[f]; !ok {
				rec[f] = EmptyCollection()
			}
		}
	case KindReply, KindLike:
		if id, _ := rec["id"].(string); id == "" {
			rec["id"] = NewID()
		}
		for _, f := range ResponseFields {
			delete(rec, f)
		}
	}
}

// Validate checks required fields, reserved-field misuse on unstored
// records, and recursively validates nested records under media, object
// and audience fields.
func Validate(k Kind, rec map[string]any, exists bool) error {
	s := SchemaOf(k)

	for _, f := range s.Required {
		if isEmpty(rec[f]) {
			return ValidationError{Reason: fmt.Sprintf("required field missing: %s", f)}
		}
	}

	for _, f := range s.Reserved {
		if !exists && rec[f] != nil {
			return ValidationError{Reason: fmt.Sprintf("reserved field name used: %s", f)}
		}
	}

	for _, f := range s.Media {
		if m, ok := rec[f].(map[string]any); ok {
			if err := Validate(KindMediaLink, m, false); err != nil {
				return err
			}
		}
	}

	for _, f := range s.Object {
		if s.isResponse(f) {
			continue
		}
		if m, ok := rec[f].(map[string]any); ok {
			if err := Validate(KindObject, m, false); err != nil {
				return err
			}
		}
	}

	for _, f := range s.Audience() {
		entries, ok := rec[f].([]any)
		if !ok {
			continue
		}
		for _, entry := range entries {
			if m, ok := entry.(map[string]any); ok {
				if err := Validate(KindObject, m, false); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// ToWire produces the storable form of a record: datetime fields are
// normalized to the wire profile, nested maps are normalized recursively,
// and response collections are dropped when their item list is empty.
// The input is not mutated.
func ToWire(k Kind, rec map[string]any) map[string]any {
	s := SchemaOf(k)
	out := make(map[string]any, len(rec))
	for key, v := range rec {
		out[key] = v
	}

	for _, f := range s.DateTime {
		if v, ok := out[f]; ok && v != nil {
			out[f] = WireTime(v)
		}
	}

	for _, f := range s.Object {
		if m, ok := out[f].(map[string]any); ok {
			out[f] = wireMap(m)
		}
	}

	for _, f := range s.Audience() {
		if entries, ok := out[f].([]any); ok {
			wired := make([]any, len(entries))
			for i, entry := range entries {
				if m, ok := entry.(map[string]any); ok {
					wired[i] = wireMap(m)
				} else {
					wired[i] = entry
				}
			}
			out[f] = wired
		}
	}

	for _, f := range s.Media {
		if m, ok := out[f].(map[string]any); ok {
			out[f] = wireMap(m)
		}
	}

	for key, v := range out {
		if m, ok := v.(map[string]any); ok && !s.isResponse(key) {
			out[key] = wireMap(m)
		}
	}

	for _, f := range s.Response {
		coll, ok := out[f].(map[string]any)
		if !ok {
			continue
		}
		rawItems, _ := coll["items"].([]any)
		if len(rawItems) == 0 {
			delete(out, f)
			continue
		}
		wiredColl := map[string]any{"totalItems": Int(coll["totalItems"])}
		wiredItems := make([]any, len(rawItems))
		for i, item := range rawItems {
			if m, ok := item.(map[string]any); ok {
				wiredItems[i] = wireMap(m)
			} else {
				wiredItems[i] = item
			}
		}
		wiredColl["items"] = wiredItems
		out[f] = wiredColl
	}

	return out
}

// wireMap normalizes a nested map the way the base record transform
// does: datetime fields to the wire profile, nested maps recursively.
func wireMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, f := range []string{"published", "updated"} {
		if v, ok := out[f]; ok && v != nil {
			out[f] = WireTime(v)
		}
	}
	for k, v := range out {
		switch t := v.(type) {
		case map[string]any:
			out[k] = wireMap(t)
		case []any:
			wired := make([]any, len(t))
			for i, entry := range t {
				if em, ok := entry.(map[string]any); ok {
					wired[i] = wireMap(em)
				} else {
					wired[i] = entry
				}
			}
			out[k] = wired
		}
	}
	return out
}

// WireTime coerces a datetime value to the wire profile. Accepts
// time.Time or a parseable string; anything else normalizes to now-UTC.
func WireTime(v any) string {
	var dt time.Time
	switch t := v.(type) {
	case time.Time:
		dt = t
	case string:
		parsed, err := parseTime(t)
		if err != nil {
			dt = time.Now().UTC()
		} else {
			dt = parsed
		}
	default:
		dt = time.Now().UTC()
	}
	return dt.UTC().Format(WireTimeLayout) + "Z"
}

func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		time.RFC3339Nano,
		WireTimeLayout,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		if dt, err := time.Parse(layout, s); err == nil {
			return dt, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// Timestamp returns the creation-order index value: microsecond UTC
// time, monotonic enough for tiebreaks at storage granularity.
func Timestamp(now time.Time) int64 {
	return now.UTC().UnixMicro()
}

// Int coerces JSON numerics (which decode as float64) and ints to int.
func Int(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case float32:
		return int(t)
	default:
		return 0
	}
}
