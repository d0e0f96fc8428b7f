package flatten

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"bibflat/internal/schema"
)

// CoercionError reports a single field value that does not match its
// declared scalar type. Depending on policy the field is nulled (with a
// diagnostic) or the whole record fails.
type CoercionError struct {
	Entity string
	Key    string
	Path   string
	Value  any
	Type   schema.ScalarType
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("coerce %s %s field %q: value %v does not fit %s",
		e.Entity, e.Key, e.Path, e.Value, e.Type)
}

// Timestamp layouts accepted from upstream, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerce converts a decoded JSON value to the Go representation of the
// declared scalar type: string, int64, float64, bool or time.Time.
func coerce(v any, t schema.ScalarType) (any, error) {
	switch t {
	case schema.TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64), nil
		case int64:
			return strconv.FormatInt(s, 10), nil
		case int:
			return strconv.Itoa(s), nil
		case bool:
			return strconv.FormatBool(s), nil
		}
	case schema.TypeInteger:
		switch n := v.(type) {
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i, nil
			}
		}
	case schema.TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f, nil
			}
		}
	case schema.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			if b == "true" || b == "false" {
				return b == "true", nil
			}
		}
	case schema.TypeTimestamp:
		if s, ok := v.(string); ok {
			for _, layout := range timestampLayouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts, nil
				}
			}
		}
	case schema.TypeDate:
		if s, ok := v.(string); ok {
			if d, err := time.Parse("2006-01-02", s); err == nil {
				return d, nil
			}
			// Dates sometimes arrive with a time component attached.
			// Keep the civil day as written, whatever the offset.
			for _, layout := range timestampLayouts {
				if d, err := time.Parse(layout, s); err == nil {
					y, m, day := d.Date()
					return time.Date(y, m, day, 0, 0, 0, 0, time.UTC), nil
				}
			}
		}
	}
	return nil, fmt.Errorf("value of type %T does not fit %s", v, t)
}
