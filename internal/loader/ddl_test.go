package loader_test

import (
	"strings"
	"testing"

	"bibflat/internal/loader"
	"bibflat/internal/schema"
)

func ddlTables(t *testing.T) []*schema.TableDefinition {
	t.Helper()
	doc := []byte(`
entity: author
rootTable: authors
keyField: id
fields:
  - {path: display_name, column: display_name, type: string}
  - {path: works_count, column: works_count, type: integer}
  - {path: score, column: score, type: float}
  - {path: active, column: active, type: boolean}
  - {path: updated, column: updated, type: timestamp}
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
	return reg.Tables()
}

func TestDDL_Postgres(t *testing.T) {
	ddl, err := loader.DDL(ddlTables(t), "postgres")
	if err != nil {
		t.Fatalf("ddl: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS authors",
		"id TEXT NOT NULL",
		"works_count BIGINT",
		"score DOUBLE PRECISION",
		"active BOOLEAN",
		"updated TIMESTAMPTZ",
		"PRIMARY KEY (id)",
		"CREATE TABLE IF NOT EXISTS author_affiliations",
		"author_id TEXT NOT NULL",
		"position BIGINT NOT NULL",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("postgres ddl missing %q:\n%s", want, ddl)
		}
	}
	// Child tables get no primary key of their own.
	childDDL := ddl[strings.Index(ddl, "author_affiliations"):]
	if strings.Contains(childDDL, "PRIMARY KEY") {
		t.Errorf("child table should not declare a primary key:\n%s", childDDL)
	}
}

func TestDDL_MySQLKeyColumnsBounded(t *testing.T) {
	ddl, err := loader.DDL(ddlTables(t), "mysql")
	if err != nil {
		t.Fatalf("ddl: %v", err)
	}
	// Key and parent-key columns must be indexable in MySQL.
	if !strings.Contains(ddl, "id VARCHAR(500) NOT NULL") {
		t.Errorf("mysql key column not bounded:\n%s", ddl)
	}
	if !strings.Contains(ddl, "author_id VARCHAR(500) NOT NULL") {
		t.Errorf("mysql parent key column not bounded:\n%s", ddl)
	}
	if !strings.Contains(ddl, "active TINYINT(1)") {
		t.Errorf("mysql boolean mapping wrong:\n%s", ddl)
	}
}

func TestDDL_UnknownDialect(t *testing.T) {
	if _, err := loader.DDL(ddlTables(t), "oracle"); err == nil {
		t.Fatal("expected error for unknown dialect")
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	if _, err := loader.New("carrier_pigeon", "dsn"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
