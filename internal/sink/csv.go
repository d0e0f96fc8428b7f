package sink

import (
	"strconv"
	"strings"
	"time"

	"bibflat/internal/schema"
)

// ── CSV encoding ───────────────────────────────────────────
// Output is consumed by `COPY ... FROM ... CSV HEADER`, so the writer
// follows the COPY CSV conventions exactly: NULL is an empty unquoted
// field, the empty string is a quoted "", and any value containing the
// delimiter, a quote or a line break is quoted with doubled quotes.
// encoding/csv cannot express the NULL vs empty-string distinction
// (it has no forced quoting), hence the explicit encoder here.

const fieldDelimiter = ','

// formatValue renders a coerced value in its canonical, locale
// independent textual form. The second return is true for NULL.
func formatValue(v any, t schema.ScalarType) (string, bool) {
	if v == nil {
		return "", true
	}
	switch x := v.(type) {
	case string:
		return x, false
	case bool:
		return strconv.FormatBool(x), false
	case int:
		return strconv.Itoa(x), false
	case int64:
		return strconv.FormatInt(x, 10), false
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), false
	case time.Time:
		if t == schema.TypeDate {
			return x.Format("2006-01-02"), false
		}
		return x.UTC().Format(time.RFC3339), false
	default:
		// Coercion only produces the types above.
		return "", true
	}
}

// encodeField applies the quoting rule to one rendered field.
func encodeField(s string, null bool) string {
	if null {
		return ""
	}
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, ",\"\n\r") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// encodeRow renders one row in the table's fixed column order.
func encodeRow(row []any, cols []schema.Column) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte(fieldDelimiter)
		}
		s, null := formatValue(v, cols[i].Type)
		b.WriteString(encodeField(s, null))
	}
	b.WriteByte('\n')
	return b.String()
}

// encodeHeader renders the single header line.
func encodeHeader(cols []schema.Column) string {
	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteByte(fieldDelimiter)
		}
		b.WriteString(encodeField(c.Name, false))
	}
	b.WriteByte('\n')
	return b.String()
}
