package loader

import (
	"context"
	"fmt"

	"bibflat/internal/schema"
)

// ── Relational loaders ─────────────────────────────────────
// Optional direct-load path: instead of handing the generated CSV
// files to psql, a loader creates the destination tables and bulk
// inserts the finalized outputs over a database/sql connection.
// Tables must be loaded in emission order so parent keys exist before
// the rows that reference them.

// Loader bulk-loads finalized per-table CSV outputs.
type Loader interface {
	// EnsureSchema creates the destination tables if they don't exist.
	EnsureSchema(ctx context.Context, tables []*schema.TableDefinition) error

	// Load reads one finalized CSV file and inserts its rows, returning
	// the number of rows loaded.
	Load(ctx context.Context, def *schema.TableDefinition, csvPath string) (int64, error)

	// Close releases the connection.
	Close() error
}

// New creates a Loader for the given driver and DSN.
func New(driver, dsn string) (Loader, error) {
	switch driver {
	case "postgres":
		return newPostgresLoader(dsn)
	case "mysql":
		return newMySQLLoader(dsn)
	case "sqlite":
		return newSQLiteLoader(dsn)
	default:
		return nil, fmt.Errorf("unsupported loader driver: %s", driver)
	}
}
