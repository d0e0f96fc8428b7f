package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// ── Registry ───────────────────────────────────────────────
// Process-wide, read-only lookup of entity schemas and the table
// definitions derived from them. Built once at startup; a failed
// validation aborts before any record is processed. Concurrent readers
// need no synchronization because the registry is never mutated after
// load.

type Registry struct {
	entities   map[string]*EntitySchema
	tables     map[string]*TableDefinition
	tableOrder []string
}

// NewRegistry parses and validates a set of YAML schema documents.
// Each document may hold one entity schema or several separated by
// "---". Any structural problem returns a DefinitionError.
func NewRegistry(docs ...[]byte) (*Registry, error) {
	r := &Registry{
		entities: make(map[string]*EntitySchema),
		tables:   make(map[string]*TableDefinition),
	}
	for _, doc := range docs {
		dec := yaml.NewDecoder(bytes.NewReader(doc))
		for {
			var s EntitySchema
			err := dec.Decode(&s)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, definitionErr("", "parse yaml: %v", err)
			}
			if s.Entity == "" && s.RootTable == "" {
				continue // empty document
			}
			if err := r.add(&s); err != nil {
				return nil, err
			}
		}
	}
	if len(r.entities) == 0 {
		return nil, definitionErr("", "no entity schemas loaded")
	}
	if err := r.checkAcyclic(); err != nil {
		return nil, err
	}
	return r, nil
}

// ReadDir collects every .yaml/.yml document under dir, sorted by name
// so that registry construction is deterministic.
func ReadDir(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	docs := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read schema file %s: %w", name, err)
		}
		docs = append(docs, data)
	}
	return docs, nil
}

// Lookup returns the schema for an entity type, or ErrUnknownEntity.
func (r *Registry) Lookup(entity string) (*EntitySchema, error) {
	s, ok := r.entities[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	return s, nil
}

// Table returns the derived definition of a destination table.
func (r *Registry) Table(name string) (*TableDefinition, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns all table definitions in load order (root table first
// within each entity, then child tables in declaration order).
func (r *Registry) Tables() []*TableDefinition {
	out := make([]*TableDefinition, len(r.tableOrder))
	for i, name := range r.tableOrder {
		out[i] = r.tables[name]
	}
	return out
}

// EntityTables returns the table definitions belonging to one entity.
func (r *Registry) EntityTables(entity string) []*TableDefinition {
	var out []*TableDefinition
	for _, name := range r.tableOrder {
		if t := r.tables[name]; t.Entity == entity {
			out = append(out, t)
		}
	}
	return out
}

// Entities returns the loaded entity type names, sorted.
func (r *Registry) Entities() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ── Validation and table derivation ────────────────────────

func (r *Registry) add(s *EntitySchema) error {
	if s.Entity == "" {
		return definitionErr("", "entity name missing (rootTable %q)", s.RootTable)
	}
	if _, dup := r.entities[s.Entity]; dup {
		return definitionErr(s.Entity, "entity declared twice")
	}
	if s.RootTable == "" {
		return definitionErr(s.Entity, "rootTable missing")
	}
	if s.KeyField == "" {
		return definitionErr(s.Entity, "keyField missing")
	}
	maxDepth := s.MaxDepth
	if maxDepth <= 0 {
		maxDepth = maxListDepth
	}

	// Root table: natural key, scalar fields, then inline object
	// columns, in declaration order.
	root := &TableDefinition{
		Name:      s.RootTable,
		Entity:    s.Entity,
		KeyColumn: s.keyColumn(),
		Columns:   []Column{{Name: s.keyColumn(), Type: TypeString, Nullable: false}},
	}
	for _, f := range s.Fields {
		if err := checkField(s.Entity, s.RootTable, f, false); err != nil {
			return err
		}
		root.Columns = append(root.Columns, Column{Name: f.Column, Type: f.Type, Nullable: true})
	}
	for _, o := range s.Objects {
		if o.Table != "" {
			continue // side table, handled below
		}
		for _, f := range o.Columns {
			if err := checkField(s.Entity, s.RootTable, f, false); err != nil {
				return err
			}
			root.Columns = append(root.Columns, Column{Name: f.Column, Type: f.Type, Nullable: true})
		}
	}
	if err := r.register(s.Entity, root); err != nil {
		return err
	}

	// Side tables for ONE-cardinality objects mapped to their own table.
	for _, o := range s.Objects {
		if o.Table == "" {
			continue
		}
		if o.Path == "" {
			return definitionErr(s.Entity, "object mapping for table %q has no path", o.Table)
		}
		parentKey := o.ParentKey
		if parentKey == "" {
			parentKey = parentKeyColumn
		}
		t := &TableDefinition{
			Name:            o.Table,
			Entity:          s.Entity,
			ParentTable:     s.RootTable,
			ParentKeyColumn: parentKey,
			Columns:         []Column{{Name: parentKey, Type: TypeString, Nullable: false}},
		}
		for _, f := range o.Columns {
			if err := checkField(s.Entity, o.Table, f, false); err != nil {
				return err
			}
			t.Columns = append(t.Columns, Column{Name: f.Column, Type: f.Type, Nullable: true})
		}
		if err := r.register(s.Entity, t); err != nil {
			return err
		}
	}

	// Child tables for MANY-cardinality lists, recursively.
	for _, l := range s.Lists {
		if err := r.addListTable(s.Entity, s.RootTable, l, 1, maxDepth); err != nil {
			return err
		}
	}
	r.entities[s.Entity] = s
	return nil
}

func (r *Registry) addListTable(entity, parent string, l ListMapping, depth, maxDepth int) error {
	if depth > maxDepth {
		return definitionErr(entity, "list mapping %q exceeds declared nesting depth %d", l.Path, maxDepth)
	}
	if l.Table == "" {
		return definitionErr(entity, "list mapping %q has no table", l.Path)
	}
	if l.Path == "" {
		return definitionErr(entity, "list mapping for table %q has no path", l.Table)
	}
	if len(l.Columns) == 0 {
		return definitionErr(entity, "list mapping %q declares no columns", l.Path)
	}
	parentKey := l.ParentKey
	if parentKey == "" {
		parentKey = parentKeyColumn
	}
	t := &TableDefinition{
		Name:            l.Table,
		Entity:          entity,
		ParentTable:     parent,
		ParentKeyColumn: parentKey,
		HasPosition:     true,
		Columns: []Column{
			{Name: parentKey, Type: TypeString, Nullable: false},
			{Name: positionColumn, Type: TypeInteger, Nullable: false},
		},
	}
	// A list table that fans out further materializes its own synthetic
	// key so that descendant rows remain joinable.
	if len(l.Lists) > 0 {
		t.KeyColumn = elementKeyColumn
		t.Columns = append(t.Columns, Column{Name: elementKeyColumn, Type: TypeString, Nullable: false})
	}
	scalarElement := false
	for _, f := range l.Columns {
		if f.Path == "" {
			scalarElement = true
		}
		if err := checkField(entity, l.Table, f, true); err != nil {
			return err
		}
		t.Columns = append(t.Columns, Column{Name: f.Column, Type: f.Type, Nullable: true})
	}
	if scalarElement && len(l.Columns) > 1 {
		return definitionErr(entity, "list mapping %q mixes a scalar element with object columns", l.Path)
	}
	if err := r.register(entity, t); err != nil {
		return err
	}
	for _, nested := range l.Lists {
		if err := r.addListTable(entity, l.Table, nested, depth+1, maxDepth); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) register(entity string, t *TableDefinition) error {
	// No table may be populated by two independent mapping rules; a
	// duplicate would make the column order ambiguous.
	if prev, dup := r.tables[t.Name]; dup {
		return definitionErr(entity, "table %q already populated by entity %q", t.Name, prev.Entity)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if seen[c.Name] {
			return definitionErr(entity, "table %q declares column %q twice", t.Name, c.Name)
		}
		seen[c.Name] = true
	}
	r.tables[t.Name] = t
	r.tableOrder = append(r.tableOrder, t.Name)
	return nil
}

func checkField(entity, table string, f FieldMapping, allowEmptyPath bool) error {
	if f.Column == "" {
		return definitionErr(entity, "table %q: field mapping %q has no column", table, f.Path)
	}
	if f.Path == "" && !allowEmptyPath {
		return definitionErr(entity, "table %q: column %q has no source path", table, f.Column)
	}
	if strings.HasPrefix(f.Path, ".") || strings.HasSuffix(f.Path, ".") {
		return definitionErr(entity, "table %q: malformed path %q", table, f.Path)
	}
	if !scalarTypes[f.Type] {
		return definitionErr(entity, "table %q: column %q has invalid type %q", table, f.Column, f.Type)
	}
	return nil
}

// checkAcyclic verifies the declared parent relation has no cycles.
// Tree-shaped schemas cannot produce one, but the check is the load
// time guarantee the emitter relies on.
func (r *Registry) checkAcyclic() error {
	for name := range r.tables {
		cur := name
		seen := map[string]bool{}
		for cur != "" {
			if seen[cur] {
				return definitionErr(r.tables[name].Entity, "table %q participates in a parent cycle", name)
			}
			seen[cur] = true
			t, ok := r.tables[cur]
			if !ok {
				return definitionErr("", "table %q references unknown parent", cur)
			}
			cur = t.ParentTable
		}
	}
	return nil
}
