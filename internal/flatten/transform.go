package flatten

import (
	"encoding/json"
	"sort"
	"strings"
)

// ── Value transforms ───────────────────────────────────────
// Named transforms applied to a raw field value before type coercion.
// Schemas reference them by name, keeping field-level resolution rules
// (which are business policy, not flattening logic) pluggable.

// Transform rewrites a raw field value. Returning nil nulls the field.
type Transform func(any) any

var transforms = map[string]Transform{
	"json":            jsonTransform,
	"invert_abstract": invertAbstract,
}

// RegisterTransform adds a named transform. Call before building the
// Flattener; the transform table is read-only afterwards.
func RegisterTransform(name string, t Transform) {
	transforms[name] = t
}

// jsonTransform serializes a nested value (list, object) to a JSON
// string so it can be stored in a plain text column.
func jsonTransform(v any) any {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

// invertAbstract reconstructs an abstract from its inverted index
// (word -> list of positions), the form OpenAlex delivers abstracts in.
func invertAbstract(v any) any {
	index, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	type posWord struct {
		pos  int
		word string
	}
	var words []posWord
	for word, raw := range index {
		positions, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, p := range positions {
			if f, ok := p.(float64); ok {
				words = append(words, posWord{pos: int(f), word: word})
			}
		}
	}
	if len(words) == 0 {
		return nil
	}
	sort.Slice(words, func(i, j int) bool { return words[i].pos < words[j].pos })
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.word
	}
	return strings.Join(parts, " ")
}
