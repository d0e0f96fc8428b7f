package emit

import (
	"fmt"
	"strings"

	"bibflat/internal/schema"
)

// ── Dependency-ordered emission ────────────────────────────
// Orders destination tables so every child table comes after the table
// its parent key references. The registry rejects cyclic declarations
// at load time; the check here is the emitter's own defensive re-check
// since loading in the wrong order corrupts referential integrity.

// CycleError reports a cyclic parent relation between tables.
type CycleError struct {
	Tables []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic table dependency involving: %s", strings.Join(e.Tables, ", "))
}

// Order returns the table names in topological order over the
// parent-key relation, preserving the given order where the relation
// allows it.
func Order(tables []*schema.TableDefinition) ([]string, error) {
	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[t.Name] = true
	}
	emitted := make(map[string]bool, len(tables))
	ordered := make([]string, 0, len(tables))
	pending := tables

	for len(pending) > 0 {
		var next []*schema.TableDefinition
		progress := false
		for _, t := range pending {
			// A parent outside this table set cannot block emission.
			if t.ParentTable == "" || !known[t.ParentTable] || emitted[t.ParentTable] {
				emitted[t.Name] = true
				ordered = append(ordered, t.Name)
				progress = true
				continue
			}
			next = append(next, t)
		}
		if !progress {
			stuck := make([]string, len(next))
			for i, t := range next {
				stuck[i] = t.Name
			}
			return nil, &CycleError{Tables: stuck}
		}
		pending = next
	}
	return ordered, nil
}
