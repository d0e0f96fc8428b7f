package flatten

import (
	"errors"
	"fmt"

	"bibflat/internal/schema"
)

// ── Record Flattener ────────────────────────────────────────
// Applies an entity schema to one nested record and produces rows for
// every destination table the record touches. Traversal follows the
// record's tree shape with explicit parent-key threading, so row
// production cannot cycle regardless of input.

// Policy selects what happens when a field value fails coercion.
type Policy string

const (
	PolicyNull Policy = "null" // null the field, record a diagnostic, continue
	PolicyFail Policy = "fail" // fail the whole record
)

// ErrMissingKey marks a record whose declared key field is absent or
// empty. Such records cannot anchor child rows and are skipped.
var ErrMissingKey = errors.New("record has no natural key")

// RowEvent is one produced row, addressed to its destination table.
// The row's values are aligned to the table definition's column order.
type RowEvent struct {
	Table string
	Row   []any
}

// Option configures a Flattener.
type Option func(*Flattener)

// WithPolicy sets the coercion-failure policy (default PolicyNull).
func WithPolicy(p Policy) Option {
	return func(f *Flattener) { f.policy = p }
}

// WithDiagnostics installs a sink for skip/coercion diagnostics.
func WithDiagnostics(fn DiagnosticFunc) Option {
	return func(f *Flattener) { f.onDiag = fn }
}

// Flattener interprets entity schemas over nested records. Safe for
// concurrent use: all state is read-only after construction.
type Flattener struct {
	reg    *schema.Registry
	policy Policy
	onDiag DiagnosticFunc
}

// New builds a Flattener over a validated registry. Transform names
// referenced by the schemas are resolved here so that a typo fails at
// startup, not per record.
func New(reg *schema.Registry, opts ...Option) (*Flattener, error) {
	f := &Flattener{reg: reg, policy: PolicyNull}
	for _, o := range opts {
		o(f)
	}
	if f.onDiag == nil {
		f.onDiag = func(Diagnostic) {}
	}
	if err := checkTransforms(reg); err != nil {
		return nil, err
	}
	return f, nil
}

// Flatten produces the full set of rows for one record. Per-record
// problems (unknown entity, missing key, coercion failure under
// PolicyFail) return an error and no rows; the caller decides whether
// to skip or abort.
func (f *Flattener) Flatten(entity string, record map[string]any) ([]RowEvent, error) {
	s, err := f.reg.Lookup(entity)
	if err != nil {
		f.onDiag(Diagnostic{Entity: entity, Detail: "record skipped: no schema for entity type"})
		return nil, err
	}
	key, ok := NaturalKey(s.KeyField, record)
	if !ok {
		f.onDiag(Diagnostic{Entity: entity, FieldPath: s.KeyField, Detail: "record skipped: key field absent or empty"})
		return nil, fmt.Errorf("%w: %s record", ErrMissingKey, entity)
	}

	var events []RowEvent

	// Root row: natural key, scalar fields, inline object columns.
	root := []any{key}
	for _, fm := range s.Fields {
		v, err := f.fieldValue(entity, key, record, fm, "")
		if err != nil {
			return nil, err
		}
		root = append(root, v)
	}
	for _, o := range s.Objects {
		if o.Table != "" {
			continue
		}
		obj := objectValue(record, o.Path)
		for _, fm := range o.Columns {
			if obj == nil {
				root = append(root, nil)
				continue
			}
			v, err := f.fieldValue(entity, key, obj, fm, o.Path)
			if err != nil {
				return nil, err
			}
			root = append(root, v)
		}
	}
	events = append(events, RowEvent{Table: s.RootTable, Row: root})

	// Side tables: one row per present, non-empty object.
	for _, o := range s.Objects {
		if o.Table == "" {
			continue
		}
		obj := objectValue(record, o.Path)
		if obj == nil {
			continue
		}
		row := []any{key}
		for _, fm := range o.Columns {
			v, err := f.fieldValue(entity, key, obj, fm, o.Path)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		events = append(events, RowEvent{Table: o.Table, Row: row})
	}

	// Child tables: one row per list element, recursing into nested
	// lists with the element's synthetic key as the new parent key.
	for _, l := range s.Lists {
		if err := f.flattenList(entity, key, record, l, "", &events); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (f *Flattener) flattenList(entity, parentKey string, src map[string]any, l schema.ListMapping, prefix string, events *[]RowEvent) error {
	raw, ok := lookupPath(src, l.Path)
	if !ok || raw == nil {
		return nil
	}
	fullPath := joinPath(prefix, l.Path)
	items, ok := raw.([]any)
	if !ok {
		f.onDiag(Diagnostic{Entity: entity, Key: parentKey, FieldPath: fullPath,
			Detail: "field skipped: expected a list", Value: raw})
		return nil
	}
	materializeKey := len(l.Lists) > 0
	for i, item := range items {
		childKey := SyntheticKey(parentKey, l.Path, i)
		row := []any{parentKey, int64(i)}
		if materializeKey {
			row = append(row, childKey)
		}
		for _, fm := range l.Columns {
			v, err := f.fieldValue(entity, parentKey, item, fm, fullPath)
			if err != nil {
				return err
			}
			row = append(row, v)
		}
		*events = append(*events, RowEvent{Table: l.Table, Row: row})

		if elem, ok := item.(map[string]any); ok {
			for _, nested := range l.Lists {
				if err := f.flattenList(entity, childKey, elem, nested, fullPath, events); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// fieldValue resolves, transforms and coerces one mapped field.
// Missing values become NULL; coercion failures follow the policy.
func (f *Flattener) fieldValue(entity, key string, src any, fm schema.FieldMapping, prefix string) (any, error) {
	raw, ok := lookupPath(src, fm.Path)
	if !ok || raw == nil {
		return nil, nil
	}
	if fm.Transform != "" {
		raw = transforms[fm.Transform](raw)
		if raw == nil {
			return nil, nil
		}
	}
	v, err := coerce(raw, fm.Type)
	if err != nil {
		fullPath := joinPath(prefix, fm.Path)
		if f.policy == PolicyFail {
			return nil, &CoercionError{Entity: entity, Key: key, Path: fullPath, Value: raw, Type: fm.Type}
		}
		f.onDiag(Diagnostic{Entity: entity, Key: key, FieldPath: fullPath,
			Detail: "field nulled: " + err.Error(), Value: raw})
		return nil, nil
	}
	return v, nil
}

// objectValue resolves a ONE-cardinality object. A present but empty
// object is treated the same as an absent one.
func objectValue(src map[string]any, path string) map[string]any {
	raw, ok := lookupPath(src, path)
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	return m
}

func joinPath(prefix, path string) string {
	switch {
	case prefix == "":
		return path
	case path == "":
		return prefix
	default:
		return prefix + "." + path
	}
}

// checkTransforms verifies every transform named by a schema exists.
func checkTransforms(reg *schema.Registry) error {
	check := func(entity string, fields []schema.FieldMapping) error {
		for _, fm := range fields {
			if fm.Transform == "" {
				continue
			}
			if _, ok := transforms[fm.Transform]; !ok {
				return &schema.DefinitionError{Entity: entity,
					Detail: fmt.Sprintf("column %q references unknown transform %q", fm.Column, fm.Transform)}
			}
		}
		return nil
	}
	var checkLists func(entity string, lists []schema.ListMapping) error
	checkLists = func(entity string, lists []schema.ListMapping) error {
		for _, l := range lists {
			if err := check(entity, l.Columns); err != nil {
				return err
			}
			if err := checkLists(entity, l.Lists); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range reg.Entities() {
		s, err := reg.Lookup(name)
		if err != nil {
			return err
		}
		if err := check(name, s.Fields); err != nil {
			return err
		}
		for _, o := range s.Objects {
			if err := check(name, o.Columns); err != nil {
				return err
			}
		}
		if err := checkLists(name, s.Lists); err != nil {
			return err
		}
	}
	return nil
}
