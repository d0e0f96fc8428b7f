package schema

// ── Schema model ───────────────────────────────────────────
// Declarative description of how one nested entity type maps onto a
// set of flat destination tables. Schemas are plain data (YAML
// documents); the flattener interprets them uniformly, so adding an
// entity type or a field is a data change, not new code.

// ScalarType is the destination type of a single column.
type ScalarType string

const (
	TypeString    ScalarType = "string"
	TypeInteger   ScalarType = "integer"
	TypeFloat     ScalarType = "float"
	TypeBoolean   ScalarType = "boolean"
	TypeTimestamp ScalarType = "timestamp"
	TypeDate      ScalarType = "date"
)

// scalarTypes is the closed set accepted at load time.
var scalarTypes = map[ScalarType]bool{
	TypeString:    true,
	TypeInteger:   true,
	TypeFloat:     true,
	TypeBoolean:   true,
	TypeTimestamp: true,
	TypeDate:      true,
}

// FieldMapping maps one source field path to one destination column.
// Path is dot-separated and relative to the enclosing object ("" means
// the element itself, used for lists of scalars).
type FieldMapping struct {
	Path   string     `yaml:"path"`
	Column string     `yaml:"column"`
	Type   ScalarType `yaml:"type"`
	// Transform names a registered value transform applied before type
	// coercion (e.g. "json", "invert_abstract"). Resolution rules like
	// these are business policy, so they stay pluggable per field.
	Transform string `yaml:"transform,omitempty"`
}

// ObjectMapping describes a nested object field with cardinality ONE.
// With Table empty, the object's sub-fields become extra columns on the
// parent row. With Table set, the object becomes a single side-table
// row keyed by the parent (one row per record, no position column).
type ObjectMapping struct {
	Path      string         `yaml:"path"`
	Table     string         `yaml:"table,omitempty"`
	ParentKey string         `yaml:"parentKey,omitempty"` // column name, default "parent_key"
	Columns   []FieldMapping `yaml:"columns"`
}

// ListMapping describes a nested list field with cardinality MANY.
// Each element becomes one row in Table, carrying the parent key and
// its zero-based position. Lists may nest further list mappings whose
// paths are relative to the element.
type ListMapping struct {
	Path      string         `yaml:"path"`
	Table     string         `yaml:"table"`
	ParentKey string         `yaml:"parentKey,omitempty"` // column name, default "parent_key"
	Columns   []FieldMapping `yaml:"columns"`
	Lists     []ListMapping  `yaml:"lists,omitempty"`
}

// EntitySchema is the full mapping for one entity type.
type EntitySchema struct {
	Entity    string          `yaml:"entity"`
	RootTable string          `yaml:"rootTable"`
	KeyField  string          `yaml:"keyField"`
	KeyColumn string          `yaml:"keyColumn,omitempty"` // default "id"
	MaxDepth  int             `yaml:"maxDepth,omitempty"`  // default maxListDepth
	Fields    []FieldMapping  `yaml:"fields"`
	Objects   []ObjectMapping `yaml:"objects,omitempty"`
	Lists     []ListMapping   `yaml:"lists,omitempty"`
}

// maxListDepth bounds list nesting unless a schema declares its own.
const maxListDepth = 4

// keyColumn returns the primary-key column name of the root table.
func (s *EntitySchema) keyColumn() string {
	if s.KeyColumn != "" {
		return s.KeyColumn
	}
	return "id"
}

// ── Derived table definitions ──────────────────────────────

// Column is one destination column: name, scalar type, nullability.
type Column struct {
	Name     string
	Type     ScalarType
	Nullable bool
}

// TableDefinition is the derived shape of one destination table. The
// column order is fixed at load time and never changes during a run.
// Child tables carry the name of their parent-key column and the table
// it references; root tables leave both empty.
type TableDefinition struct {
	Name            string
	Entity          string
	Columns         []Column
	ParentTable     string
	ParentKeyColumn string
	// HasPosition is set for MANY-cardinality child tables, which
	// carry the element's zero-based position.
	HasPosition bool
	// KeyColumn names the column holding this table's own key: the
	// natural key for root tables, the synthetic element key for list
	// tables that fan out further. Empty for leaf child tables.
	KeyColumn string
}

// ColumnNames returns the ordered column names.
func (t *TableDefinition) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Conventional column names for child tables.
const (
	parentKeyColumn  = "parent_key"
	positionColumn   = "position"
	elementKeyColumn = "element_key"
)
