package loader

import (
	"fmt"
	"strings"

	"bibflat/internal/schema"
)

// dialect maps destination column types to one SQL flavor. Key and
// parent-key columns get the dialect's key type so they can carry
// indexes and primary keys (MySQL cannot index an unbounded TEXT).
type dialect struct {
	name    string
	types   map[schema.ScalarType]string
	keyType string
}

var (
	postgresDialect = dialect{
		name: "postgres",
		types: map[schema.ScalarType]string{
			schema.TypeString:    "TEXT",
			schema.TypeInteger:   "BIGINT",
			schema.TypeFloat:     "DOUBLE PRECISION",
			schema.TypeBoolean:   "BOOLEAN",
			schema.TypeTimestamp: "TIMESTAMPTZ",
			schema.TypeDate:      "DATE",
		},
		keyType: "TEXT",
	}
	mysqlDialect = dialect{
		name: "mysql",
		types: map[schema.ScalarType]string{
			schema.TypeString:    "TEXT",
			schema.TypeInteger:   "BIGINT",
			schema.TypeFloat:     "DOUBLE",
			schema.TypeBoolean:   "TINYINT(1)",
			schema.TypeTimestamp: "DATETIME",
			schema.TypeDate:      "DATE",
		},
		keyType: "VARCHAR(500)",
	}
	sqliteDialect = dialect{
		name: "sqlite",
		types: map[schema.ScalarType]string{
			schema.TypeString:    "TEXT",
			schema.TypeInteger:   "INTEGER",
			schema.TypeFloat:     "REAL",
			schema.TypeBoolean:   "INTEGER",
			schema.TypeTimestamp: "TEXT",
			schema.TypeDate:      "TEXT",
		},
		keyType: "TEXT",
	}
)

// DDL renders the CREATE TABLE statements for every table in the
// given dialect, in the order supplied.
func DDL(tables []*schema.TableDefinition, dialectName string) (string, error) {
	var d dialect
	switch dialectName {
	case "postgres":
		d = postgresDialect
	case "mysql":
		d = mysqlDialect
	case "sqlite":
		d = sqliteDialect
	default:
		return "", fmt.Errorf("unknown dialect: %s", dialectName)
	}
	var b strings.Builder
	for _, def := range tables {
		b.WriteString(createTableSQL(def, d))
		b.WriteString(";\n\n")
	}
	return b.String(), nil
}

// createTableSQL renders CREATE TABLE IF NOT EXISTS for one table.
// Root tables get a primary key on their key column; child tables get
// NOT NULL on the parent key and position columns. Foreign keys are
// deliberately not declared so reloads can truncate and refill tables
// independently.
func createTableSQL(def *schema.TableDefinition, d dialect) string {
	var cols []string
	for _, c := range def.Columns {
		typ := d.types[c.Type]
		if c.Name == def.KeyColumn || c.Name == def.ParentKeyColumn {
			typ = d.keyType
		}
		line := fmt.Sprintf("  %s %s", c.Name, typ)
		if !c.Nullable {
			line += " NOT NULL"
		}
		cols = append(cols, line)
	}
	if def.ParentTable == "" && def.KeyColumn != "" {
		cols = append(cols, fmt.Sprintf("  PRIMARY KEY (%s)", def.KeyColumn))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", def.Name, strings.Join(cols, ",\n"))
}
