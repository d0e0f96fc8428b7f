package schema_test

import (
	"errors"
	"testing"

	"bibflat/internal/schema"
)

func TestNewBuiltinRegistry_LoadsAllEntities(t *testing.T) {
	reg, err := schema.NewBuiltinRegistry("")
	if err != nil {
		t.Fatalf("load builtin schemas: %v", err)
	}

	want := []string{"author", "concept", "funder", "institution", "publisher", "source", "topic", "work"}
	got := reg.Entities()
	if len(got) != len(want) {
		t.Fatalf("expected %d entities, got %d: %v", len(want), len(got), got)
	}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("entity[%d] = %q, want %q", i, got[i], name)
		}
	}
}

func TestNewBuiltinRegistry_DerivedWorkTables(t *testing.T) {
	reg, err := schema.NewBuiltinRegistry("")
	if err != nil {
		t.Fatalf("load builtin schemas: %v", err)
	}

	works, ok := reg.Table("works")
	if !ok {
		t.Fatal("works table not derived")
	}
	if works.ParentTable != "" {
		t.Errorf("works should be a root table, parent = %q", works.ParentTable)
	}
	if works.KeyColumn != "id" {
		t.Errorf("works key column = %q, want id", works.KeyColumn)
	}
	if works.Columns[0].Name != "id" {
		t.Errorf("first works column = %q, want id", works.Columns[0].Name)
	}

	// Authorships nest institutions, so they carry a synthetic key.
	auth, ok := reg.Table("works_authorships")
	if !ok {
		t.Fatal("works_authorships table not derived")
	}
	if auth.ParentTable != "works" {
		t.Errorf("works_authorships parent = %q, want works", auth.ParentTable)
	}
	if !auth.HasPosition {
		t.Error("works_authorships should carry a position column")
	}
	if auth.KeyColumn != "element_key" {
		t.Errorf("works_authorships key column = %q, want element_key", auth.KeyColumn)
	}

	inst, ok := reg.Table("works_authorship_institutions")
	if !ok {
		t.Fatal("works_authorship_institutions table not derived")
	}
	if inst.ParentTable != "works_authorships" {
		t.Errorf("grandchild parent = %q, want works_authorships", inst.ParentTable)
	}

	// Leaf list tables have no key column of their own.
	concepts, ok := reg.Table("works_concepts")
	if !ok {
		t.Fatal("works_concepts table not derived")
	}
	if concepts.KeyColumn != "" {
		t.Errorf("leaf table key column = %q, want empty", concepts.KeyColumn)
	}
	names := concepts.ColumnNames()
	if names[0] != "work_id" || names[1] != "position" {
		t.Errorf("works_concepts columns start with %v, want [work_id position ...]", names[:2])
	}
}

func TestRegistry_LookupUnknownEntity(t *testing.T) {
	reg, err := schema.NewBuiltinRegistry("")
	if err != nil {
		t.Fatalf("load builtin schemas: %v", err)
	}
	_, err = reg.Lookup("preprint")
	if !errors.Is(err, schema.ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestNewRegistry_DuplicateTableRejected(t *testing.T) {
	doc := []byte(`
entity: a
rootTable: things
keyField: id
fields:
  - {path: name, column: name, type: string}
---
entity: b
rootTable: things
keyField: id
fields:
  - {path: name, column: name, type: string}
`)
	_, err := schema.NewRegistry(doc)
	var de *schema.DefinitionError
	if !errors.As(err, &de) {
		t.Fatalf("expected DefinitionError for duplicate table, got %v", err)
	}
}

func TestNewRegistry_DuplicateColumnRejected(t *testing.T) {
	doc := []byte(`
entity: a
rootTable: things
keyField: id
fields:
  - {path: name, column: name, type: string}
  - {path: other, column: name, type: string}
`)
	if _, err := schema.NewRegistry(doc); err == nil {
		t.Fatal("expected error for duplicate column")
	}
}

func TestNewRegistry_InvalidTypeRejected(t *testing.T) {
	doc := []byte(`
entity: a
rootTable: things
keyField: id
fields:
  - {path: name, column: name, type: varchar}
`)
	var de *schema.DefinitionError
	if _, err := schema.NewRegistry(doc); !errors.As(err, &de) {
		t.Fatalf("expected DefinitionError for invalid type, got %v", err)
	}
}

func TestNewRegistry_NestingDepthEnforced(t *testing.T) {
	doc := []byte(`
entity: a
rootTable: things
keyField: id
maxDepth: 1
fields:
  - {path: name, column: name, type: string}
lists:
  - path: xs
    table: thing_xs
    columns:
      - {path: v, column: v, type: string}
    lists:
      - path: ys
        table: thing_x_ys
        columns:
          - {path: v, column: v, type: string}
`)
	if _, err := schema.NewRegistry(doc); err == nil {
		t.Fatal("expected error for exceeded nesting depth")
	}
}

func TestNewRegistry_NoDocuments(t *testing.T) {
	if _, err := schema.NewRegistry([]byte("")); err == nil {
		t.Fatal("expected error for empty schema set")
	}
}

func TestNewRegistry_ParentKeyOverride(t *testing.T) {
	doc := []byte(`
entity: a
rootTable: things
keyField: id
fields:
  - {path: name, column: name, type: string}
lists:
  - path: xs
    table: thing_xs
    parentKey: thing_id
    columns:
      - {path: v, column: v, type: string}
`)
	reg, err := schema.NewRegistry(doc)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def, _ := reg.Table("thing_xs")
	if def.ParentKeyColumn != "thing_id" {
		t.Errorf("parent key column = %q, want thing_id", def.ParentKeyColumn)
	}
	if def.Columns[0].Name != "thing_id" {
		t.Errorf("first column = %q, want thing_id", def.Columns[0].Name)
	}
}
