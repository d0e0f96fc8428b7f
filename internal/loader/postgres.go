package loader

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"bibflat/internal/schema"
)

// postgresLoader bulk-loads via the COPY protocol, one transaction per
// table so a failed table leaves nothing half loaded.
type postgresLoader struct {
	db *sql.DB
}

func newPostgresLoader(dsn string) (*postgresLoader, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &postgresLoader{db: db}, nil
}

func (l *postgresLoader) EnsureSchema(ctx context.Context, tables []*schema.TableDefinition) error {
	for _, def := range tables {
		if _, err := l.db.ExecContext(ctx, createTableSQL(def, postgresDialect)); err != nil {
			return fmt.Errorf("create table %s: %w", def.Name, err)
		}
	}
	return nil
}

func (l *postgresLoader) Load(ctx context.Context, def *schema.TableDefinition, csvPath string) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(def.Name, def.ColumnNames()...))
	if err != nil {
		return 0, fmt.Errorf("prepare copy for %s: %w", def.Name, err)
	}

	count, err := readRows(csvPath, def, func(vals []any) error {
		_, err := stmt.ExecContext(ctx, vals...)
		return err
	})
	if err != nil {
		stmt.Close()
		return 0, fmt.Errorf("copy into %s: %w", def.Name, err)
	}
	// Final Exec with no arguments flushes the COPY buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("flush copy for %s: %w", def.Name, err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("close copy for %s: %w", def.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", def.Name, err)
	}
	return count, nil
}

func (l *postgresLoader) Close() error { return l.db.Close() }
