package types

import (
	"encoding/json"
	"strings"
	"time"
)

// naiveLayout matches ISO-8601 timestamps written without a zone offset.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// ParseTimestamp converts a stored or reported timestamp into a UTC time.
// Strings are parsed as ISO-8601 (a trailing "Z" or an explicit offset, or
// no offset meaning UTC); numbers are unix epoch seconds. It returns false
// for nil, empty strings and anything unparseable.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC(), true
		}
		if ts, err := time.ParseInLocation(naiveLayout, s, time.UTC); err == nil {
			return ts, true
		}
		return time.Time{}, false
	case float64:
		return epoch(t), true
	case int:
		return epoch(float64(t)), true
	case int64:
		return epoch(float64(t)), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return epoch(f), true
	default:
		return time.Time{}, false
	}
}

// FormatTimestamp renders t the way timestamps are persisted.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func epoch(sec float64) time.Time {
	whole := int64(sec)
	frac := int64((sec - float64(whole)) * float64(time.Second))
	return time.Unix(whole, frac).UTC()
}
