package schema

import (
	"errors"
	"fmt"
)

// ErrUnknownEntity is returned by Registry.Lookup for entity types with
// no loaded schema. Records carrying such a type are skipped, not fatal.
var ErrUnknownEntity = errors.New("unknown entity type")

// DefinitionError reports a structural problem in a schema document.
// It is raised at load time, before any record is processed.
type DefinitionError struct {
	Entity string
	Detail string
}

func (e *DefinitionError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("schema definition: %s", e.Detail)
	}
	return fmt.Sprintf("schema definition for %q: %s", e.Entity, e.Detail)
}

func definitionErr(entity, format string, args ...any) error {
	return &DefinitionError{Entity: entity, Detail: fmt.Sprintf(format, args...)}
}
