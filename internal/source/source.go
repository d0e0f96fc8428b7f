package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ── Source ──────────────────────────────────────────────────
// A Source streams decoded nested records from an external system:
// a JSONL dump, the OpenAlex API, or a raw-document cache. The
// flattening engine itself never performs I/O or parsing; it consumes
// whatever a Source emits.

// Config is an opaque configuration map parsed per source type.
type Config map[string]any

// Record is one decoded nested record tagged with its entity type.
type Record struct {
	Entity string         `json:"entity"`
	Data   map[string]any `json:"data"`
}

// ConfigField documents a single configuration input for a source.
type ConfigField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
	Help     string `json:"help,omitempty"`
}

// Spec describes a source type and its configuration surface.
type Spec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	ConfigFields []ConfigField `json:"configFields"`
}

// Source is the interface every record source must implement.
type Source interface {
	// Spec returns metadata about this source type.
	Spec() Spec

	// Read streams records into a channel, closed when all records
	// have been read or ctx is cancelled. Errors arrive on the error
	// channel (buffered size 1).
	Read(ctx context.Context, cfg Config) (<-chan Record, <-chan error)
}

// ── Source registry ────────────────────────────────────────
// Compile-time registration via init() in each source file.

var (
	registryMu sync.RWMutex
	registry   = map[string]Source{}
)

// Register registers a source by its spec type. Called from init() in
// each source implementation file.
func Register(s Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Spec().Type] = s
}

// Get returns a registered source by type.
func Get(typ string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
	return s, nil
}

// List returns the specs of all registered sources.
func List() []Spec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	specs := make([]Spec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}
