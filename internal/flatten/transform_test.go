package flatten_test

import (
	"testing"

	"bibflat/internal/flatten"
	"bibflat/internal/schema"
)

func transformRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	doc := []byte(`
entity: work
rootTable: works
keyField: id
fields:
  - {path: abstract_inverted_index, column: abstract, type: string, transform: invert_abstract}
  - {path: counts_by_year, column: counts_by_year, type: string, transform: json}
`)
	reg, err := schema.NewRegistry(doc)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func TestTransform_InvertAbstract(t *testing.T) {
	reg := transformRegistry(t)
	fl, err := flatten.New(reg)
	if err != nil {
		t.Fatalf("new flattener: %v", err)
	}

	events, err := fl.Flatten("work", map[string]any{
		"id": "W1",
		"abstract_inverted_index": map[string]any{
			"quick": []any{float64(1)},
			"The":   []any{float64(0)},
			"fox":   []any{float64(2), float64(4)},
			"the":   []any{float64(3)},
		},
	})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	got := events[0].Row[1]
	if got != "The quick fox the fox" {
		t.Errorf("reconstructed abstract = %q", got)
	}
}

func TestTransform_InvertAbstractEmptyIndex(t *testing.T) {
	reg := transformRegistry(t)
	fl, _ := flatten.New(reg)
	events, err := fl.Flatten("work", map[string]any{
		"id":                      "W1",
		"abstract_inverted_index": map[string]any{},
	})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if events[0].Row[1] != nil {
		t.Errorf("empty index should null the field, got %v", events[0].Row[1])
	}
}

func TestTransform_JSON(t *testing.T) {
	reg := transformRegistry(t)
	fl, _ := flatten.New(reg)
	events, err := fl.Flatten("work", map[string]any{
		"id":             "W1",
		"counts_by_year": []any{map[string]any{"year": float64(2024), "count": float64(3)}},
	})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	got, ok := events[0].Row[2].(string)
	if !ok || got != `[{"count":3,"year":2024}]` {
		t.Errorf("json transform = %v", events[0].Row[2])
	}
}

func TestRegisterTransform(t *testing.T) {
	flatten.RegisterTransform("upper_w", func(v any) any {
		if s, ok := v.(string); ok && s != "" {
			return "W" + s
		}
		return nil
	})
	doc := []byte(`
entity: thing
rootTable: custom_things
keyField: id
fields:
  - {path: code, column: code, type: string, transform: upper_w}
`)
	reg, err := schema.NewRegistry(doc)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	fl, err := flatten.New(reg)
	if err != nil {
		t.Fatalf("new flattener: %v", err)
	}
	events, err := fl.Flatten("thing", map[string]any{"id": "T1", "code": "99"})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if events[0].Row[1] != "W99" {
		t.Errorf("custom transform = %v", events[0].Row[1])
	}
}
