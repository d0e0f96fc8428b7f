package flatten

import (
	"fmt"
	"strconv"
	"strings"
)

// ── Key generation ─────────────────────────────────────────
// Natural keys come from the record itself; synthetic keys are derived
// deterministically so that re-processing identical input yields
// identical keys. Keys are opaque strings, unique only within one
// table's key column.

const keySeparator = ":"

// NaturalKey returns the record's declared key field value, if present
// and non-empty.
func NaturalKey(keyField string, record map[string]any) (string, bool) {
	raw, ok := lookupPath(record, keyField)
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

// SyntheticKey derives a key for a list element or anonymous nested
// object from its parent key, field name and zero-based position.
func SyntheticKey(parentKey, fieldName string, position int) string {
	return fmt.Sprintf("%s%s%s%s%d", parentKey, keySeparator, fieldName, keySeparator, position)
}

// lookupPath walks a dot-separated path through nested maps. The empty
// path returns the value itself.
func lookupPath(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
