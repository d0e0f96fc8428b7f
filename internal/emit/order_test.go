package emit_test

import (
	"errors"
	"strings"
	"testing"

	"bibflat/internal/emit"
	"bibflat/internal/schema"
	"bibflat/internal/sink"
)

func defs(pairs ...[2]string) []*schema.TableDefinition {
	out := make([]*schema.TableDefinition, len(pairs))
	for i, p := range pairs {
		out[i] = &schema.TableDefinition{Name: p[0], ParentTable: p[1]}
	}
	return out
}

func TestOrder_ParentsBeforeChildren(t *testing.T) {
	tables := defs(
		[2]string{"grandchild", "child"},
		[2]string{"child", "root"},
		[2]string{"root", ""},
	)
	order, err := emit.Order(tables)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	want := []string{"root", "child", "grandchild"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestOrder_PreservesInputOrderAmongSiblings(t *testing.T) {
	tables := defs(
		[2]string{"root", ""},
		[2]string{"b", "root"},
		[2]string{"a", "root"},
	)
	order, err := emit.Order(tables)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order[1] != "b" || order[2] != "a" {
		t.Errorf("sibling order not preserved: %v", order)
	}
}

func TestOrder_UnknownParentDoesNotBlock(t *testing.T) {
	tables := defs([2]string{"orphan", "elsewhere"})
	order, err := emit.Order(tables)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if len(order) != 1 || order[0] != "orphan" {
		t.Errorf("order = %v", order)
	}
}

func TestOrder_CycleDetected(t *testing.T) {
	tables := defs(
		[2]string{"t1", "t2"},
		[2]string{"t2", "t1"},
	)
	_, err := emit.Order(tables)
	var ce *emit.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(ce.Tables) != 2 {
		t.Errorf("cycle tables = %v", ce.Tables)
	}
}

func emitterRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	doc := []byte(`
entity: author
rootTable: authors
keyField: id
fields:
  - {path: display_name, column: display_name, type: string}
lists:
  - path: affiliations
    table: author_affiliations
    parentKey: author_id
    columns:
      - {path: institution.id, column: institution_id, type: string}
`)
	reg, err := schema.NewRegistry(doc)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func TestEmitter_LoadScriptOrderAndShape(t *testing.T) {
	reg := emitterRegistry(t)
	em := emit.New(reg)

	var outs []sink.TableOutput
	// Deliberately out of order.
	for _, name := range []string{"author_affiliations", "authors"} {
		def, _ := reg.Table(name)
		outs = append(outs, sink.TableOutput{
			Table:   name,
			Path:    "/data/out/" + name + ".csv",
			Columns: def.ColumnNames(),
		})
	}

	script, err := em.LoadScript(outs)
	if err != nil {
		t.Fatalf("load script: %v", err)
	}
	rootAt := strings.Index(script, "\\copy authors ")
	childAt := strings.Index(script, "\\copy author_affiliations ")
	if rootAt == -1 || childAt == -1 || rootAt > childAt {
		t.Errorf("script order wrong:\n%s", script)
	}
	if !strings.Contains(script, "\\copy authors (id, display_name) from '/data/out/authors.csv' with (format csv, header true)") {
		t.Errorf("copy line malformed:\n%s", script)
	}
}

func TestEmitter_ArrangeRejectsUnknownTable(t *testing.T) {
	reg := emitterRegistry(t)
	em := emit.New(reg)
	_, err := em.Arrange([]sink.TableOutput{{Table: "mystery"}})
	if err == nil {
		t.Fatal("expected error for unknown table output")
	}
}
